package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/digistore-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/digistore-backend/api/controllers/admin"
	webhookcontrollers "github.com/angelmondragon/digistore-backend/api/controllers/webhooks"
	"github.com/angelmondragon/digistore-backend/api/middleware"
	"github.com/angelmondragon/digistore-backend/internal/admin"
	"github.com/angelmondragon/digistore-backend/internal/payments/session"
	"github.com/angelmondragon/digistore-backend/internal/reconciler"
	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/db"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/digistore-backend/pkg/redis"
)

type rateCounter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// CacheStore is the redis surface the HTTP layer needs.
type CacheStore interface {
	pkgredis.IdempotencyStore
	rateCounter
	db.Pinger
}

type sessionService interface {
	CreateSession(ctx context.Context, orderID string, currency enums.Currency) (*session.Result, error)
}

type callbackService interface {
	HandleCallback(ctx context.Context, providerName string, payload []byte, headers http.Header) (*reconciler.Ack, error)
}

type replayGuard interface {
	Acquire(ctx context.Context, provider string, payload []byte) (string, bool, error)
	Release(ctx context.Context, key string) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache CacheStore,
	sessions sessionService,
	callbacks callbackService,
	guard replayGuard,
	adminService admin.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
	)

	// typed nils must not reach the middleware nil checks
	var (
		idemStore   pkgredis.IdempotencyStore
		rateStore   rateCounter
		cachePinger db.Pinger
	)
	if cache != nil {
		idemStore, rateStore, cachePinger = cache, cache, cache
	}

	sessionPolicy := middleware.NewRateLimitPolicy("payment-session", cfg.RateLimit.Window, cfg.RateLimit.SessionIPLimit)
	webhookPolicy := middleware.NewRateLimitPolicy("webhook", cfg.RateLimit.Window, cfg.RateLimit.WebhookIPLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cachePinger))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, rateStore, logg))
		r.Post("/{provider}", webhookcontrollers.PaymentCallback(callbacks, guard, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
		r.Use(middleware.RateLimit(sessionPolicy, rateStore, logg))
		r.Use(middleware.Idempotency(idemStore, cfg.Eventing.CheckoutIdemTTL, logg))
		r.Post("/{orderId}/payment-session", controllers.CreatePaymentSession(sessions, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin, enums.OperatorRoleSupport))
		r.Use(middleware.Idempotency(idemStore, cfg.Eventing.CheckoutIdemTTL, logg))
		r.Get("/v1/me", admincontrollers.Me())

		r.Route("/v1/orders", func(r chi.Router) {
			r.Get("/attention", admincontrollers.AttentionOrders(adminService, logg))
			r.Get("/{orderId}", admincontrollers.OrderDetail(adminService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin))
				r.Post("/{orderId}/deliver", admincontrollers.ManualDelivery(adminService, logg))
				r.Post("/{orderId}/redeliver", admincontrollers.Redeliver(adminService, logg))
				r.Post("/{orderId}/reject", admincontrollers.Reject(adminService, logg))
			})
		})
	})

	return r
}
