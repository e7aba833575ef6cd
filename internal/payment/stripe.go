// Package payment предоставляет клиент платёжного провайдера Stripe: создание клиентов,
// сессий оплаты подписки и проверку подписанных уведомлений.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/mmeshcher/donations-system/internal/model"
)

// ErrProvider оборачивает ошибки обращения к платёжному провайдеру.
var ErrProvider = errors.New("payment provider error")

// Ключи метаданных сессии оплаты.
const (
	MetadataFundID   = "fundId"
	MetadataInterval = "interval"
	MetadataUserID   = "userId"
	MetadataSource   = "source"
)

// Config содержит параметры клиента Stripe.
type Config struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
	Source     string
	// Backends переопределяет адрес API, используется в тестах.
	Backends *stripe.Backends
}

// Client инкапсулирует обращения к API Stripe.
type Client struct {
	api        *client.API
	successURL string
	cancelURL  string
	source     string
}

// NewClient создаёт клиент Stripe с собственным экземпляром API без глобального состояния.
func NewClient(cfg Config) *Client {
	api := &client.API{}
	api.Init(cfg.SecretKey, cfg.Backends)

	source := cfg.Source
	if source == "" {
		source = "donations-system"
	}

	return &Client{
		api:        api,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		source:     source,
	}
}

// CreateCustomer создаёт клиента у провайдера и возвращает его идентификатор.
func (c *Client) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata(MetadataSource, c.source)

	cus, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %w", ErrProvider, err)
	}
	return cus.ID, nil
}

// CreateCheckoutSession создаёт сессию оплаты подписки. Идентификатор сбора и периодичность
// сохраняются в метаданных сессии и подписки, откуда их читает обработчик уведомлений.
func (c *Client) CreateCheckoutSession(ctx context.Context, req model.CheckoutRequest) (*model.CheckoutSession, error) {
	metadata := map[string]string{
		MetadataFundID:   req.FundID,
		MetadataInterval: string(req.Interval),
		MetadataUserID:   req.UserID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:           stripe.String(req.CustomerRef),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %w", ErrProvider, err)
	}

	return &model.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// NewTestBackends направляет все запросы клиента на baseURL.
func NewTestBackends(baseURL string) *stripe.Backends {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(strings.TrimRight(baseURL, "/")),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
}
