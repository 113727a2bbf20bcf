package routes

import (
	"geotrail/syncd/internal/api"
	"geotrail/syncd/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterAPIRoutes registers all v1 control routes
func RegisterAPIRoutes(r chi.Router, handlers *api.Handlers, limiter *middleware.ClientRateLimiter) {
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(limiter.Middleware)

		v1.Get("/status", handlers.GetStatus())

		// Capture and queue control
		v1.Post("/samples", handlers.IngestSample())
		v1.Post("/flush", handlers.Flush())
		v1.Post("/queue/retry-failed", handlers.RetryFailed())

		// Timeline edits
		v1.Patch("/points/{serverId}", handlers.UpdatePoint())
		v1.Delete("/points/{serverId}", handlers.DeletePoint())
		v1.Get("/mutations/rejected", handlers.ListRejectedMutations())
		v1.Post("/mutations/{id}/ack", handlers.AcknowledgeMutation())

		// Runtime settings
		v1.Post("/connectivity", handlers.SetConnectivity())
		v1.Put("/thresholds", handlers.SetThresholds())
	})
}
