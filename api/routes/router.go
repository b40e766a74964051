package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/connect-reconciler/api/controllers"
	webhookcontrollers "github.com/angelmondragon/connect-reconciler/api/controllers/webhooks"
	"github.com/angelmondragon/connect-reconciler/api/middleware"
	"github.com/angelmondragon/connect-reconciler/pkg/config"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
)

// Dependencies are the services the HTTP surface is built from.
// Health pingers and the Gatherer may be nil.
type Dependencies struct {
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Gatherer prometheus.Gatherer

	Webhook    webhookcontrollers.StripeWebhookParams
	Onboarding controllers.VendorOnboarding
	Payouts    controllers.PayoutAdmin
	Sweeper    controllers.VendorSweeper
	RetryQueue controllers.RetryQueueAdmin
	APIKeys    controllers.APIKeyStatusReader
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	webhook := webhookcontrollers.StripeWebhook(deps.Webhook)
	r.Post("/webhook", webhook)
	r.Post("/api/v1/webhooks/stripe", webhook)

	r.Route("/api/v1/vendors/{vendorID}/connect", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleVendor))
		r.Use(middleware.RequireVendorAccess("vendorID", logg))
		r.Post("/", controllers.VendorConnect(deps.Onboarding, logg))
		r.Post("/link", controllers.VendorOnboardingLink(deps.Onboarding, logg))
		r.Get("/complete", controllers.VendorOnboardingComplete(deps.Onboarding, logg))
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", controllers.AdminListPayouts(deps.Payouts, logg))
			r.Get("/summary", controllers.AdminPayoutSummary(deps.Payouts, logg))
		})
		r.Route("/vendors/{vendorID}", func(r chi.Router) {
			r.Post("/payouts", controllers.AdminCreatePayout(deps.Payouts, logg))
			r.Put("/payout-schedule", controllers.AdminUpdatePayoutSchedule(deps.Payouts, logg))
		})
		r.Get("/accounts/deleted", controllers.AdminDeletedAccounts(deps.Sweeper, logg))
		r.Get("/api-key/status", controllers.AdminAPIKeyStatus(deps.APIKeys, logg))
		r.Post("/sweeps/vendors", controllers.AdminSweepVendors(deps.Sweeper, cfg.Sweep.Limit, logg))
		r.Route("/retry-queue", func(r chi.Router) {
			r.Post("/drain", controllers.AdminDrainRetryQueue(deps.RetryQueue, cfg.RetryQueue.DrainLimit, logg))
			r.Get("/dropped", controllers.AdminDroppedRetries(deps.RetryQueue, logg))
		})
	})

	return r
}
