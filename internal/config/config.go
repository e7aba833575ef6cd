// Package config содержит логику чтения конфигурации сервиса пожертвований.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Поддерживаемые хранилища.
const (
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

// Поддерживаемые способы проверки токенов.
const (
	AuthHMAC     = "hmac"
	AuthFirebase = "firebase"
)

var (
	ErrUnknownDriver       = errors.New("unknown store driver")
	ErrUnknownAuthProvider = errors.New("unknown auth provider")
	ErrMissingProjectID    = errors.New("firestore project id is required")
)

// Config содержит параметры конфигурации сервиса пожертвований.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	StoreDriver string `env:"STORE_DRIVER"`

	FirestoreProjectID string `env:"FIRESTORE_PROJECT_ID"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	CheckoutSuccessURL  string `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:3000/success"`
	CheckoutCancelURL   string `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:3000/cancel"`

	AuthProvider string `env:"AUTH_PROVIDER" envDefault:"hmac"`
	AuthSecret   string `env:"AUTH_SECRET"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	RetryInterval    time.Duration `env:"RETRY_INTERVAL" envDefault:"1m"`
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`

	// DefaultWalletBalance задаётся в копейках.
	DefaultWalletBalance int64 `env:"DEFAULT_WALLET_BALANCE" envDefault:"10000"`

	BootstrapAdminEmail string `env:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminName  string `env:"BOOTSTRAP_ADMIN_NAME" envDefault:"admin"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envStoreDriver := cfg.StoreDriver

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.StoreDriver, "s", "", "store driver: postgres, firestore or memory")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envStoreDriver != "" {
		cfg.StoreDriver = envStoreDriver
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverMemory
		if cfg.DatabaseURI != "" {
			cfg.StoreDriver = DriverPostgres
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	case DriverFirestore:
		if c.FirestoreProjectID == "" {
			return ErrMissingProjectID
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDriver, c.StoreDriver)
	}

	switch c.AuthProvider {
	case AuthHMAC:
	case AuthFirebase:
		if c.FirestoreProjectID == "" {
			return ErrMissingProjectID
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAuthProvider, c.AuthProvider)
	}

	return nil
}
