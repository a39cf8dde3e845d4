package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lokalbazaar/lokalbazaar-backend/api/controllers"
	"github.com/lokalbazaar/lokalbazaar-backend/api/middleware"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/checkout"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/orders"
	internalpayments "github.com/lokalbazaar/lokalbazaar-backend/internal/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/payouts"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/shipments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/config"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	pkgpayments "github.com/lokalbazaar/lokalbazaar-backend/pkg/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	paymentsClient *pkgpayments.Client,
	checkoutSvc checkout.Service,
	ordersSvc orders.Service,
	paySvc internalpayments.Service,
	shipSvc shipments.Service,
	payoutSvc payouts.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", controllers.PaymentWebhook(paySvc, paymentsClient, logg))
		r.Post("/tracking", controllers.TrackingWebhook(shipSvc, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.RequireCustomer(logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/", controllers.CreateOrder(checkoutSvc, ordersSvc, cfg.Orders.AbandonedReservation, logg))
		r.Get("/", controllers.ListOrders(ordersSvc, logg))
		r.Post("/verify-payment", controllers.VerifyPayment(paySvc, logg))
		r.Post("/{orderId}/cancel", controllers.CancelOrder(ordersSvc, paySvc, logg))
		r.Get("/{orderId}/tracking", controllers.OrderTracking(ordersSvc, shipSvc, logg))
	})

	r.Route("/api/v1/seller/orders", func(r chi.Router) {
		r.Use(middleware.RequireSeller(logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/", controllers.SellerListOrders(ordersSvc, logg))
		r.Post("/{orderId}/process", controllers.SellerProcessOrder(ordersSvc, logg))
		r.Post("/{orderId}/ship", controllers.SellerShipOrder(ordersSvc, shipSvc, logg))
		r.Post("/{orderId}/schedule-pickup", controllers.SellerSchedulePickup(ordersSvc, shipSvc, logg))
		r.Get("/{orderId}/label", controllers.SellerShipmentLabel(ordersSvc, shipSvc, logg))
	})

	r.Route("/api/admin/v1/payouts", func(r chi.Router) {
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/calculate", controllers.CalculatePayouts(payoutSvc, logg))
		r.Put("/{payoutId}/mark-paid", controllers.MarkPayoutPaid(payoutSvc, logg))
		r.Get("/", controllers.ListPayouts(payoutSvc, logg))
	})

	return r
}
