package routes

import (
	"net/http"

	"geotrail/syncd/internal/api"
	"geotrail/syncd/internal/config"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"
	"geotrail/syncd/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RegisterRoutes builds the control API router
func RegisterRoutes(deps *api.Dependencies, metricsReg *metrics.MetricsRegistry, cfg config.HTTPConfig) http.Handler {

	// initialize Chi router
	r := chi.NewRouter()

	// global middleware
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.Logging)
	r.Use(middleware.MetricsMiddleware(metricsReg))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/healthCheck", api.HealthCheckHandler(deps))
	r.Method(http.MethodGet, "/metrics", metricsReg.Handler())

	limiter := middleware.NewClientRateLimiter(cfg.RequestsPerSecond, cfg.Burst, "127.0.0.1", "::1")
	RegisterAPIRoutes(r, api.NewHandlers(deps), limiter)

	logging.Info("Router initialized", "addr", cfg.Addr)
	return r
}
