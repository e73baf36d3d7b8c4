package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amaruortiz/vendora-backend/api/controllers"
	webhookcontrollers "github.com/amaruortiz/vendora-backend/api/controllers/webhooks"
	"github.com/amaruortiz/vendora-backend/api/middleware"
	"github.com/amaruortiz/vendora-backend/internal/disputes"
	"github.com/amaruortiz/vendora-backend/internal/ledger"
	internalorders "github.com/amaruortiz/vendora-backend/internal/orders"
	"github.com/amaruortiz/vendora-backend/internal/payments"
	"github.com/amaruortiz/vendora-backend/internal/payouts"
	"github.com/amaruortiz/vendora-backend/internal/refunds"
	"github.com/amaruortiz/vendora-backend/internal/settlement"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/db"
	"github.com/amaruortiz/vendora-backend/pkg/gateway"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/metrics"
	pkgredis "github.com/amaruortiz/vendora-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs. Grouping them in a
// struct keeps the constructor signature stable as the surface grows.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    *pkgredis.Client
	Gateway  *gateway.Client
	Registry *prometheus.Registry
	Pipeline *metrics.PipelineMetrics

	Orders     internalorders.Service
	Payments   payments.Service
	Settlement settlement.Service
	Ledger     ledger.Service
	Payouts    payouts.Service
	Refunds    refunds.Service
	Disputes   disputes.Service
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	var store pkgredis.IdempotencyStore
	if d.Redis != nil {
		store = d.Redis
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.DB, d.Redis))
	})

	if d.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	// Unauthenticated gateway surfaces. The webhook authenticates with
	// its HMAC signature, the callback with the opaque payment reference.
	r.Post("/api/v1/webhooks/gateway", webhookcontrollers.GatewayWebhook(d.Payments, d.Gateway, d.Redis, d.Pipeline, logg))
	r.Get("/api/v1/payments/callback", controllers.PaymentCallback(d.Payments, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(store, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.PlaceOrder(d.Orders, logg))
			r.Get("/", controllers.OrderList(d.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(d.Orders, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(d.Orders, logg))
			r.Post("/{orderId}/pay", controllers.InitiatePayment(d.Payments, logg))
			r.Get("/{orderId}/refunds", controllers.RefundList(d.Refunds, logg))
			if cfg.Features.DisputesEnabled {
				r.Post("/{orderId}/disputes", controllers.OpenDispute(d.Disputes, logg))
				r.Get("/{orderId}/disputes", controllers.OrderDispute(d.Disputes, logg))
			}
		})

		if cfg.Features.DisputesEnabled {
			r.Post("/disputes/{disputeId}/cancel", controllers.CancelDispute(d.Disputes, logg))
		}

		r.Route("/vendor", func(r chi.Router) {
			r.Use(middleware.RequireRole("vendor", logg))
			r.Get("/balance", controllers.VendorBalance(d.Ledger, logg))
			r.Get("/ledger", controllers.VendorLedger(d.Ledger, logg))
			r.Post("/payouts", controllers.RequestPayout(d.Payouts, logg))
			r.Get("/payouts", controllers.PayoutList(d.Payouts, logg))
			r.Get("/payouts/{payoutId}", controllers.PayoutDetail(d.Payouts, logg))
			r.Get("/orders/{orderId}/earnings", controllers.VendorEarningsPreview(d.Orders, d.Settlement, logg))
			if cfg.Features.DisputesEnabled {
				r.Post("/disputes/{disputeId}/respond", controllers.VendorRespondDispute(d.Disputes, logg))
			}
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole("admin", logg))
		r.Use(middleware.Idempotency(store, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			if cfg.Features.CODEnabled {
				r.Post("/confirm-cod", controllers.AdminConfirmCOD(d.Payments, logg))
			}
			r.Post("/refund", controllers.AdminRefundOrder(d.Refunds, logg))
			r.Get("/refunds", controllers.RefundList(d.Refunds, logg))
		})

		r.Post("/payments/verify", controllers.AdminVerifyPayment(d.Payments, logg))

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", controllers.AdminPendingPayouts(d.Payouts, logg))
			r.Get("/{payoutId}", controllers.PayoutDetail(d.Payouts, logg))
			r.Post("/{payoutId}/complete", controllers.AdminCompletePayout(d.Payouts, logg))
			r.Post("/{payoutId}/fail", controllers.AdminFailPayout(d.Payouts, logg))
		})

		if cfg.Features.DisputesEnabled {
			r.Route("/disputes", func(r chi.Router) {
				r.Get("/", controllers.AdminOpenDisputes(d.Disputes, logg))
				r.Get("/{disputeId}", controllers.AdminDisputeDetail(d.Disputes, logg))
				r.Post("/{disputeId}/review", controllers.AdminStartDisputeReview(d.Disputes, logg))
				r.Post("/{disputeId}/resolve", controllers.AdminResolveDispute(d.Disputes, logg))
				r.Post("/{disputeId}/cancel", controllers.CancelDispute(d.Disputes, logg))
			})
		}
	})

	return r
}
