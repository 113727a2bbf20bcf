package api

import (
	"net/http"
	"strconv"
	"time"

	"geotrail/syncd/internal/models/dtos"

	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	deps *Dependencies
}

// NewHandlers creates a new handlers instance with injected dependencies
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		deps: deps,
	}
}

// IngestSample handles POST /v1/samples
func (h *Handlers) IngestSample() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dtos.CaptureRequest
		if err := decodeBody(r, &req, false); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := h.deps.Services.Capture.Ingest(r.Context(), req)
		if err != nil {
			respondWithServiceError(w, err)
			return
		}

		status := http.StatusAccepted
		if res.Duplicate {
			status = http.StatusOK
		}
		respondWithSuccess(w, status, res)
	}
}

// Flush handles POST /v1/flush and starts drain loops for samples and mutations
func (h *Handlers) Flush() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := h.deps.Controls
		if c.Samples.Scheduler != nil {
			c.Samples.Scheduler.Kick()
		}
		if c.Mutations.Scheduler != nil {
			c.Mutations.Scheduler.Kick()
		}
		respondWithSuccess(w, http.StatusAccepted, &dtos.FlushResponse{Requested: true})
	}
}

// RetryFailed handles POST /v1/queue/retry-failed
func (h *Handlers) RetryFailed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := h.deps.Services.Queue.RetryFailed(r.Context())
		if err != nil {
			respondWithServiceError(w, err)
			return
		}
		if n > 0 && h.deps.Controls.Samples.Scheduler != nil {
			h.deps.Controls.Samples.Scheduler.Kick()
		}
		respondWithSuccess(w, http.StatusOK, &dtos.RetryFailedResponse{Requeued: n})
	}
}

// SetConnectivity handles POST /v1/connectivity
func (h *Handlers) SetConnectivity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dtos.ConnectivityRequest
		if err := decodeBody(r, &req, false); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		changed := h.deps.Controls.Connectivity.SetOnline(req.Online)
		respondWithSuccess(w, http.StatusOK, &dtos.ConnectivityResponse{
			Online:  h.deps.Controls.Connectivity.Online(),
			Changed: changed,
		})
	}
}

// SetThresholds handles PUT /v1/thresholds. Unset values keep their current setting.
func (h *Handlers) SetThresholds() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dtos.ThresholdsRequest
		if err := decodeBody(r, &req, false); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		if (req.TimeSeconds != nil && *req.TimeSeconds < 0) || (req.DistanceMeters != nil && *req.DistanceMeters < 0) {
			respondWithError(w, http.StatusBadRequest, "thresholds must not be negative")
			return
		}

		th := h.deps.Controls.Thresholds.Thresholds()
		if req.TimeSeconds != nil {
			th.MinInterval = time.Duration(*req.TimeSeconds * float64(time.Second))
		}
		if req.DistanceMeters != nil {
			th.MinDistanceMeters = *req.DistanceMeters
		}
		if req.AccuracyMeters != nil {
			th.MaxAccuracyMeters = *req.AccuracyMeters
		}
		h.deps.Controls.Thresholds.Set(th)

		respondWithSuccess(w, http.StatusOK, h.thresholds())
	}
}

func (h *Handlers) thresholds() *dtos.ThresholdsResponse {
	th := h.deps.Controls.Thresholds.Thresholds()
	return &dtos.ThresholdsResponse{
		TimeSeconds:    th.MinInterval.Seconds(),
		DistanceMeters: th.MinDistanceMeters,
		AccuracyMeters: th.MaxAccuracyMeters,
	}
}

func pathInt(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
