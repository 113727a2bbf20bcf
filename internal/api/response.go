package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"geotrail/syncd/internal/common"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/models/dtos/responses"
	"geotrail/syncd/internal/services"
)

const maxBodyBytes = 1 << 20

func respondWithSuccess[T any](w http.ResponseWriter, statusCode int, data *T) {
	resp := responses.APIResponse[T]{
		Status:    "success",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	resp := responses.APIResponse[any]{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(resp)
}

// respondWithServiceError maps domain errors to status codes; anything unknown is a 500.
func respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidCoordinates),
		errors.Is(err, services.ErrNoFields),
		errors.Is(err, services.ErrUnknownProvider):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repositories.ErrPointNotFound),
		errors.Is(err, repositories.ErrMutationNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrLockTimeout):
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logging.Error("Request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal error")
	}
}

// decodeBody reads a JSON body. An empty body leaves v untouched when allowEmpty is set.
func decodeBody(r *http.Request, v interface{}, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
