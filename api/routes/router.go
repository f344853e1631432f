package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creditcore/creditcore-backend/api/controllers"
	"github.com/creditcore/creditcore-backend/api/middleware"
	"github.com/creditcore/creditcore-backend/internal/credits"
	"github.com/creditcore/creditcore-backend/pkg/config"
	"github.com/creditcore/creditcore-backend/pkg/logger"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Credits  credits.Service
	Limiter  middleware.RateLimiterStore
	Pingers  map[string]controllers.Pinger
	Registry prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	mutationPolicy := middleware.NewMutationRateLimitPolicy(
		"credits",
		cfg.RateLimit.MutationWindow,
		cfg.RateLimit.MutationUserLimit,
	)
	throttled := middleware.MutationRateLimit(mutationPolicy, params.Limiter, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Pingers))
	})

	r.Get("/api/public/ping", controllers.PublicPing())

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/credits/{userCode}", func(r chi.Router) {
		r.With(throttled).Post("/authorize", controllers.AuthorizeCredits(params.Credits, logg))
		r.With(throttled).Post("/capture", controllers.CaptureCredits(params.Credits, logg))
		r.With(throttled).Post("/void", controllers.VoidCredits(params.Credits, logg))
		r.With(throttled).Post("/grant", controllers.GrantCredits(params.Credits, logg))
		r.Get("/balance", controllers.GetCreditBalance(params.Credits, logg))
		r.Get("/entries", controllers.ListCreditEntries(params.Credits, logg))
	})

	return r
}
