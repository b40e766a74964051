package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/connect-reconciler/internal/bootstrap"
	"github.com/angelmondragon/connect-reconciler/internal/cron"
	"github.com/angelmondragon/connect-reconciler/internal/state"
	"github.com/angelmondragon/connect-reconciler/pkg/config"
	"github.com/angelmondragon/connect-reconciler/pkg/db"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	"github.com/angelmondragon/connect-reconciler/pkg/metrics"
	"github.com/angelmondragon/connect-reconciler/pkg/migrate"
	"github.com/angelmondragon/connect-reconciler/pkg/redis"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	provider, err := stripeclient.NewClient(ctx, cfg.App, cfg.Stripe, logg)
	if err != nil {
		return fmt.Errorf("stripe client: %w", err)
	}

	notifier, closeNotifier, err := bootstrap.Notifier(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeNotifier()) }()

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
		return fmt.Errorf("wire services: %w", err)
	}

	sweepJob, err := cron.NewVendorSweepJob(svcs.Vendors, cfg.Sweep.Limit, logg)
	if err != nil {
		return err
	}
	drainJob, err := cron.NewRetryDrainJob(svcs.Queue, cfg.RetryQueue.DrainLimit, logg)
	if err != nil {
		return err
	}
	keyJob, err := cron.NewAPIKeyCheckJob(svcs.APIKeys, logg)
	if err != nil {
		return err
	}
	registry := cron.NewRegistry(
		sweepJob,
		drainJob,
		cron.Every(keyJob, cfg.Cron.APIKeyCheckEvery),
	)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockEnv(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	logg.Info(logg.WithField(ctx, "stripe_mode", string(provider.Mode())), "starting cron worker")
	return service.Run(ctx)
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
