package api

import (
	"net/http"

	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/models/dtos"
)

// UpdatePoint handles PATCH /v1/points/{serverId}
func (h *Handlers) UpdatePoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID, ok := pathInt(r, "serverId")
		if !ok {
			respondWithError(w, http.StatusBadRequest, "Invalid server id")
			return
		}

		var fields dtos.PointFields
		if err := decodeBody(r, &fields, false); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := h.deps.Services.Mutations.UpdateEntity(r.Context(), serverID, fields)
		respondWithMutation(w, res, err)
	}
}

// DeletePoint handles DELETE /v1/points/{serverId}
func (h *Handlers) DeletePoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serverID, ok := pathInt(r, "serverId")
		if !ok {
			respondWithError(w, http.StatusBadRequest, "Invalid server id")
			return
		}

		res, err := h.deps.Services.Mutations.DeleteEntity(r.Context(), serverID)
		respondWithMutation(w, res, err)
	}
}

// ListRejectedMutations handles GET /v1/mutations/rejected
func (h *Handlers) ListRejectedMutations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := h.deps.Services.Mutations.ListRejected(r.Context())
		if err != nil {
			respondWithServiceError(w, err)
			return
		}

		out := make([]dtos.RejectedMutation, 0, len(rows))
		for _, m := range rows {
			out = append(out, dtos.RejectedMutation{
				ID:        m.ID,
				Operation: string(m.Operation),
				TargetID:  m.TargetID,
				Attempts:  m.Attempts,
				Reason:    m.RejectionReason,
				CreatedAt: m.CreatedAt,
			})
		}
		respondWithSuccess(w, http.StatusOK, &out)
	}
}

// AcknowledgeMutation handles POST /v1/mutations/{id}/ack
func (h *Handlers) AcknowledgeMutation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt(r, "id")
		if !ok {
			respondWithError(w, http.StatusBadRequest, "Invalid mutation id")
			return
		}

		if err := h.deps.Services.Mutations.Acknowledge(r.Context(), uint(id)); err != nil {
			respondWithServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// respondWithMutation reports a rejected edit as 422, a queued one as 202.
func respondWithMutation(w http.ResponseWriter, res *dtos.MutationResult, err error) {
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	status := http.StatusOK
	switch constants.MutationOutcome(res.Outcome) {
	case constants.MutationOutcomeQueued:
		status = http.StatusAccepted
	case constants.MutationOutcomeRejected:
		status = http.StatusUnprocessableEntity
	}
	respondWithSuccess(w, status, res)
}
