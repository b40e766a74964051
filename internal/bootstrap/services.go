// Package bootstrap wires the reconciliation services shared by the API and
// the cron worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/connect-reconciler/internal/apikeys"
	"github.com/angelmondragon/connect-reconciler/internal/notifications"
	"github.com/angelmondragon/connect-reconciler/internal/orders"
	"github.com/angelmondragon/connect-reconciler/internal/payouts"
	"github.com/angelmondragon/connect-reconciler/internal/retryqueue"
	"github.com/angelmondragon/connect-reconciler/internal/state"
	"github.com/angelmondragon/connect-reconciler/internal/vendors"
	"github.com/angelmondragon/connect-reconciler/internal/webhooks"
	"github.com/angelmondragon/connect-reconciler/pkg/config"
	"github.com/angelmondragon/connect-reconciler/pkg/db"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	"github.com/angelmondragon/connect-reconciler/pkg/metrics"
	"github.com/angelmondragon/connect-reconciler/pkg/pubsub"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
)

// Params are the already-open resources services are built on.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	State    state.KV
	Provider stripeclient.Client
	Notifier notifications.Notifier
	Metrics  prometheus.Registerer
}

// Services is the fully wired service graph.
type Services struct {
	Provider   stripeclient.Client
	State      *state.Store
	Queue      *retryqueue.Queue
	Vendors    vendors.Service
	Payouts    payouts.Service
	Orders     orders.Service
	APIKeys    *apikeys.Verifier
	Router     *webhooks.Router
	Notifier   notifications.Notifier
	WebhookMet *metrics.WebhookMetrics
}

// Build constructs every service, registers retry handlers for each
// operation kind and binds the webhook handlers to a router.
func Build(p Params) (*Services, error) {
	if p.Config == nil || p.DB == nil || p.State == nil || p.Provider == nil {
		return nil, fmt.Errorf("config, db, state and provider are required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = notifications.NewLogNotifier(logg)
	}
	cfg := p.Config
	conn := p.DB.DB()
	store := state.NewStore(p.State)

	queue, err := retryqueue.New(retryqueue.Params{
		DB:                 conn,
		Logger:             logg,
		Metrics:            metrics.NewRetryQueueMetrics(p.Metrics),
		LeaseTTL:           cfg.RetryQueue.LeaseTTL,
		DefaultMaxAttempts: cfg.RetryQueue.DefaultMaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("retry queue: %w", err)
	}

	vendorSvc, err := vendors.NewService(vendors.ServiceParams{
		Repo:           vendors.NewRepository(conn),
		Provider:       p.Provider,
		State:          store,
		Retry:          queue,
		Notifier:       notifier,
		Logger:         logg,
		Metrics:        metrics.NewSweepMetrics(p.Metrics),
		Limiter:        sweepLimiter(cfg.Sweep),
		DefaultCountry: cfg.Stripe.DefaultCountry,
	})
	if err != nil {
		return nil, fmt.Errorf("vendors service: %w", err)
	}

	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:     payouts.NewRepository(conn),
		Vendors:  vendorSvc,
		Provider: p.Provider,
		Retry:    queue,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payouts service: %w", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       orders.NewRepository(conn),
		Tx:         p.DB,
		Vendors:    vendorSvc,
		Provider:   p.Provider,
		Retry:      queue,
		FeePercent: cfg.Stripe.FeePercent(),
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	verifier, err := apikeys.NewVerifier(apikeys.VerifierParams{
		Provider: p.Provider,
		Store:    store,
		Notifier: notifier,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("api key verifier: %w", err)
	}

	webhookMetrics := metrics.NewWebhookMetrics(p.Metrics)
	router := webhooks.NewRouter(logg, webhookMetrics)
	handlers, err := webhooks.NewHandlers(webhooks.HandlersParams{
		Orders:   orderSvc,
		Payouts:  payoutSvc,
		Vendors:  vendorSvc,
		Retry:    queue,
		Notifier: notifier,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook handlers: %w", err)
	}
	if err := handlers.Register(router); err != nil {
		return nil, fmt.Errorf("register webhook handlers: %w", err)
	}

	registry := queue.Registry()
	for kind, fn := range map[enums.RetryOperationKind]retryqueue.HandlerFunc{
		enums.RetryKindAccountVerification: vendors.RetryHandler(vendorSvc),
		enums.RetryKindPayout:              payouts.RetryHandler(payoutSvc),
		enums.RetryKindPayment:             orders.RetryHandler(orderSvc),
		enums.RetryKindWebhookEvent:        webhooks.ReplayHandler(router),
	} {
		if err := registry.Register(kind, fn); err != nil {
			return nil, fmt.Errorf("register retry handler %s: %w", kind, err)
		}
	}

	return &Services{
		Provider:   p.Provider,
		State:      store,
		Queue:      queue,
		Vendors:    vendorSvc,
		Payouts:    payoutSvc,
		Orders:     orderSvc,
		APIKeys:    verifier,
		Router:     router,
		Notifier:   notifier,
		WebhookMet: webhookMetrics,
	}, nil
}

// Notifier picks the notification side channel from config. The returned
// close func releases the Pub/Sub client when one was opened.
func Notifier(ctx context.Context, cfg *config.Config, logg *logger.Logger) (notifications.Notifier, func() error, error) {
	logNotifier := notifications.NewLogNotifier(logg)
	if !cfg.Notifications.UsesPubSub() {
		return logNotifier, func() error { return nil }, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.Notifications, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	ps, err := notifications.NewPubSubNotifier(client.NotificationPublisher())
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return notifications.Multi{logNotifier, ps}, client.Close, nil
}

func sweepLimiter(cfg config.SweepConfig) *rate.Limiter {
	if cfg.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
}
