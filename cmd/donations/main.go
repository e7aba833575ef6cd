// Package main запускает HTTP-сервер платформы пожертвований.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/donations-system/internal/config"
	"github.com/mmeshcher/donations-system/internal/handler"
	"github.com/mmeshcher/donations-system/internal/ledger"
	"github.com/mmeshcher/donations-system/internal/logger"
	"github.com/mmeshcher/donations-system/internal/middleware"
	"github.com/mmeshcher/donations-system/internal/model"
	"github.com/mmeshcher/donations-system/internal/payment"
	"github.com/mmeshcher/donations-system/internal/reconcile"
	"github.com/mmeshcher/donations-system/internal/repository"
	"github.com/mmeshcher/donations-system/internal/service"
	"github.com/mmeshcher/donations-system/internal/wallet"
	"github.com/mmeshcher/donations-system/internal/worker"
)

const retryJobName = "retry-failed-payment-events"

// printAdminToken выводит токен администратора в w, минуя журнал.
func printAdminToken(w io.Writer, issuer handler.TokenIssuer, admin *model.User) {
	token := issuer.Sign(middleware.Principal{UserID: admin.ID, Role: admin.Role})
	fmt.Fprintf(w, "bootstrap admin %s token: %s\n", admin.ID, token)
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	sugar := log.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		sugar.Fatalw("store initialization error", "driver", cfg.StoreDriver, "error", err.Error())
	}

	verifier, issuer, err := newTokenVerifier(ctx, cfg)
	if err != nil {
		sugar.Fatalw("auth initialization error", "provider", cfg.AuthProvider, "error", err.Error())
	}

	l := ledger.New(nil)
	w := wallet.New(nil)
	deps := service.Deps{
		Store:          store,
		Ledger:         l,
		Wallet:         w,
		Reconciler:     reconcile.New(store, l, w, log.Named("reconcile"), cfg.RetryMaxAttempts),
		Logger:         log.Named("service"),
		DefaultBalance: cfg.DefaultWalletBalance,
	}
	if cfg.StripeSecretKey != "" {
		deps.Payments = payment.NewClient(payment.Config{
			SecretKey:  cfg.StripeSecretKey,
			SuccessURL: cfg.CheckoutSuccessURL,
			CancelURL:  cfg.CheckoutCancelURL,
		})
	} else {
		sugar.Warn("STRIPE_SECRET_KEY is not set, checkout and customer creation are disabled")
	}
	if cfg.StripeWebhookSecret != "" {
		deps.Events = payment.NewVerifier(cfg.StripeWebhookSecret)
	} else {
		sugar.Warn("STRIPE_WEBHOOK_SECRET is not set, webhooks are rejected")
	}

	svc := service.NewService(deps)
	defer svc.Close()

	if cfg.BootstrapAdminEmail != "" {
		admin, err := svc.EnsureAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminName)
		if err != nil {
			sugar.Fatalw("bootstrap admin error", "error", err.Error())
		}
		sugar.Infow("bootstrap admin ready", "user_id", admin.ID)
		if issuer != nil {
			printAdminToken(os.Stderr, issuer, admin)
		}
	}

	jobs, err := worker.NewManager(log.Named("worker"))
	if err != nil {
		sugar.Fatalw("worker initialization error", "error", err.Error())
	}
	if err := jobs.Register(ctx, retryJobName, cfg.RetryInterval, svc.RetryFailedPayments); err != nil {
		sugar.Fatalw("worker initialization error", "error", err.Error())
	}

	var tokenIssuer handler.TokenIssuer
	if issuer != nil {
		tokenIssuer = issuer
	}
	h := handler.NewHandler(svc, log.Named("http"), middleware.NewAuthMiddleware(verifier), tokenIssuer)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая повторная сверка событий оплаты
	g.Go(func() error {
		jobs.Start()
		<-ctx.Done()
		return jobs.Stop()
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting donations server", "addr", cfg.RunAddress, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	case config.DriverFirestore:
		return repository.NewFirestoreStore(ctx, cfg.FirestoreProjectID)
	default:
		return repository.NewMemoryStore(), nil
	}
}

func newTokenVerifier(ctx context.Context, cfg *config.Config) (middleware.TokenVerifier, *middleware.HMACSigner, error) {
	if cfg.AuthProvider == config.AuthFirebase {
		v, err := middleware.NewFirebaseVerifier(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, err
		}
		return v, nil, nil
	}

	signer := middleware.NewHMACSigner(cfg.AuthSecret)
	return signer, signer, nil
}
