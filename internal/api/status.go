package api

import (
	"net/http"
	"time"

	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/models/dtos"
)

// DrainStatus describes one drain engine
type DrainStatus struct {
	Running             bool `json:"running"`
	ConsecutiveFailures int  `json:"consecutiveFailures"`
}

// StatusResponse is the daemon overview
type StatusResponse struct {
	Online     bool                     `json:"online"`
	Configured bool                     `json:"configured"`
	Queue      *repositories.QueueStats `json:"queue"`
	Samples    DrainStatus              `json:"samples"`
	Mutations  DrainStatus              `json:"mutations"`
	Thresholds dtos.ThresholdsResponse  `json:"thresholds"`
	CheckedAt  time.Time                `json:"checkedAt"`
}

// GetStatus handles GET /v1/status
func (h *Handlers) GetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		stats, err := h.deps.Services.Stats.Collect(r.Context(), now)
		if err != nil {
			respondWithServiceError(w, err)
			return
		}

		c := h.deps.Controls
		resp := &StatusResponse{
			Online:     c.Connectivity.Online(),
			Configured: c.Remote == nil || c.Remote.Configured(),
			Queue:      stats,
			Samples:    drainStatus(c.Samples),
			Mutations:  drainStatus(c.Mutations),
			Thresholds: *h.thresholds(),
			CheckedAt:  now,
		}
		respondWithSuccess(w, http.StatusOK, resp)
	}
}

func drainStatus(d DrainHandle) DrainStatus {
	var s DrainStatus
	if d.Scheduler != nil {
		s.Running = d.Scheduler.Running()
	}
	if d.Engine != nil {
		s.ConsecutiveFailures = d.Engine.ConsecutiveFailures()
	}
	return s
}
