package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipmint/clipmint-backend/api/controllers"
	"github.com/clipmint/clipmint-backend/api/middleware"
	"github.com/clipmint/clipmint-backend/internal/entitlements"
	"github.com/clipmint/clipmint-backend/pkg/config"
	"github.com/clipmint/clipmint-backend/pkg/logger"
	"github.com/clipmint/clipmint-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	settlementService controllers.SettlementService,
	entitlementService entitlements.Service,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/payments", controllers.SettlePayment(settlementService, logg))
		r.Route("/entitlements", func(r chi.Router) {
			r.Get("/", controllers.EntitlementList(entitlementService, logg))
			r.Get("/status", controllers.EntitlementStatus(entitlementService, logg))
		})
	})

	return r
}
