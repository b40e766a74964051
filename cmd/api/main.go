package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	webhookcontrollers "github.com/angelmondragon/connect-reconciler/api/controllers/webhooks"
	"github.com/angelmondragon/connect-reconciler/api/routes"
	"github.com/angelmondragon/connect-reconciler/internal/bootstrap"
	"github.com/angelmondragon/connect-reconciler/internal/state"
	"github.com/angelmondragon/connect-reconciler/internal/webhooks"
	"github.com/angelmondragon/connect-reconciler/pkg/config"
	"github.com/angelmondragon/connect-reconciler/pkg/db"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	"github.com/angelmondragon/connect-reconciler/pkg/migrate"
	"github.com/angelmondragon/connect-reconciler/pkg/redis"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}

	provider, err := stripeclient.NewClient(ctx, cfg.App, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to create stripe client", err)
		os.Exit(1)
	}

	notifier, closeNotifier, err := bootstrap.Notifier(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to create notifier", err)
		os.Exit(1)
	}

	svcs, err := bootstrap.Build(bootstrap.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		State:    state.NewRedisKV(redisClient),
		Provider: provider,
		Notifier: notifier,
		Metrics:  prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}

	webhookParams := webhookcontrollers.StripeWebhookParams{
		Dispatcher:    svcs.Router,
		Verifier:      provider,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		MaxBodyBytes:  cfg.Webhook.MaxBodyBytes,
		Metrics:       svcs.WebhookMet,
		Logger:        logg,
	}
	if cfg.Webhook.Dedupe {
		guard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Webhook.DedupeTTL, "stripe-webhook")
		if err != nil {
			logg.Error(ctx, "failed to create webhook guard", err)
			os.Exit(1)
		}
		webhookParams.Guard = guard
	}

	handler := routes.NewRouter(cfg, logg, routes.Dependencies{
		DB:         dbClient,
		Redis:      redisClient,
		Gatherer:   prometheus.DefaultGatherer,
		Webhook:    webhookParams,
		Onboarding: svcs.Vendors,
		Payouts:    svcs.Payouts,
		Sweeper:    svcs.Vendors,
		RetryQueue: svcs.Queue,
		APIKeys:    svcs.APIKeys,
	})

	addr := ":" + cfg.App.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"stripe_mode": string(provider.Mode()),
	})
	logg.Info(logCtx, "starting api server")

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		logg.Info(logCtx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := multierr.Combine(
		server.Shutdown(shutdownCtx),
		closeNotifier(),
		redisClient.Close(),
		dbClient.Close(),
	)
	if closeErr != nil {
		logg.Error(logCtx, "error during shutdown", closeErr)
		os.Exit(1)
	}
	logg.Info(logCtx, "api server stopped")
}
