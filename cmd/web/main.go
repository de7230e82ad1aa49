package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/newrelic/go-agent/v3/newrelic"

	"rentbridge.com/app/internal/config"
	"rentbridge.com/app/internal/database"
	apphttp "rentbridge.com/app/internal/http"
	"rentbridge.com/app/internal/http/middleware"
	"rentbridge.com/app/internal/mailer"
	"rentbridge.com/app/internal/modules/escrow"
	"rentbridge.com/app/internal/modules/leases"
	"rentbridge.com/app/internal/modules/notify"
	"rentbridge.com/app/internal/modules/payments"
	"rentbridge.com/app/internal/modules/payments/providers"
	"rentbridge.com/app/internal/storage"
)

func main() {
	// Load .env file (ignore error if not found - prod uses real env vars)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := newProvider(cfg.Payments, cfg.BaseURL)
	if cfg.Payments.WebhookSecret == "" {
		logger.Warn("webhook signing secret not set, webhook endpoint will answer 500", "provider", provider.Name())
	}

	archive, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	var mail mailer.Service
	switch {
	case !cfg.Mail.Enabled:
	case cfg.Mail.Driver == "mailtrap":
		mail = mailer.NewMailtrap(mailer.MailtrapConfig{APIURL: cfg.Mail.MailtrapAPIURL, APIToken: cfg.Mail.MailtrapAPIToken})
	default:
		mail = mailer.NewSMTPMailer(cfg.SMTP)
	}
	notifier := notify.New(mail, notify.Options{
		From:     cfg.Mail.From,
		FromName: cfg.Mail.FromName,
		Archive:  archive,
		Logger:   logger,
	})

	leaseRepo := leases.NewRepo(db)
	paySvc := payments.NewService(db, leaseRepo, payments.Options{
		Hold:     cfg.Escrow.Hold,
		Logger:   logger,
		Notifier: notifier,
	})
	checkout := payments.NewCheckoutService(db, paySvc, provider, payments.CheckoutOptions{
		BaseURL:  cfg.BaseURL,
		Currency: cfg.Payments.Currency,
		Timeout:  cfg.Payments.ProviderTimeout,
		Logger:   logger,
	})
	webhooks := payments.NewWebhookService(db, paySvc)

	var locker database.Locker = database.NoopLocker{}
	if cfg.Escrow.DistributedLock && cfg.DBDriver == "mysql" {
		locker = database.NewMySQLLocker(db)
	}
	sched, err := escrow.New(paySvc, escrow.Options{
		Schedule: cfg.Escrow.SweepSchedule,
		Interval: cfg.Escrow.SweepInterval,
		Location: cfg.Escrow.Location,
		Locker:   locker,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	var nrApp *newrelic.Application
	if cfg.NewRelicLicense != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName("RentBridge API"),
			newrelic.ConfigLicense(cfg.NewRelicLicense),
			newrelic.ConfigDistributedTracerEnabled(true),
		)
		if err != nil {
			logger.Warn("new relic disabled", "err", err)
			nrApp = nil
		}
	}

	r := apphttp.NewRouter(apphttp.Deps{
		Logger:      logger,
		DB:          db,
		Payments:    paySvc,
		Checkout:    checkout,
		Webhooks:    webhooks,
		Provider:    provider,
		Leases:      leaseRepo,
		Sweeper:     sched,
		Session:     middleware.SessionCfg{DB: db},
		CORSOrigins: cfg.CORSOrigins,
		NewRelic:    nrApp,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Addr, "provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}
	return nil
}

func newProvider(cfg config.PaymentsConfig, baseURL string) payments.Provider {
	if cfg.Provider == "mock" {
		return providers.NewMock(providers.MockConfig{
			BaseURL:       baseURL,
			WebhookSecret: cfg.WebhookSecret,
			Tolerance:     cfg.SignatureTolerance,
		})
	}
	return providers.NewStripe(providers.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.WebhookSecret,
		Timeout:       cfg.ProviderTimeout,
		Tolerance:     cfg.SignatureTolerance,
	})
}
