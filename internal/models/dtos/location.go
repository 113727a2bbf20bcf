package dtos

import "time"

// CheckInRequest is the body sent to the location log endpoint.
type CheckInRequest struct {
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Altitude      *float64  `json:"altitude,omitempty"`
	Speed         *float64  `json:"speed,omitempty"`
	Bearing       *float64  `json:"bearing,omitempty"`
	Accuracy      *float64  `json:"accuracy,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Provider      string    `json:"provider,omitempty"`
	IsUserInvoked bool      `json:"isUserInvoked"`
	Activity      *string   `json:"activityType,omitempty"`
	Notes         *string   `json:"notes,omitempty"`
}

// CheckInResponse is the server answer for a logged location.
type CheckInResponse struct {
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped"`
	LocationID *int64 `json:"locationId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// PointFields is a partial update of a timeline point; nil fields are left unchanged.
type PointFields struct {
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Activity  *string    `json:"activityType,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

// IsEmpty reports whether no field is set.
func (f PointFields) IsEmpty() bool {
	return f.Latitude == nil && f.Longitude == nil && f.Timestamp == nil && f.Activity == nil && f.Notes == nil
}

// Merge overlays the set fields of next onto f.
func (f PointFields) Merge(next PointFields) PointFields {
	if next.Latitude != nil {
		f.Latitude = next.Latitude
	}
	if next.Longitude != nil {
		f.Longitude = next.Longitude
	}
	if next.Timestamp != nil {
		f.Timestamp = next.Timestamp
	}
	if next.Activity != nil {
		f.Activity = next.Activity
	}
	if next.Notes != nil {
		f.Notes = next.Notes
	}
	return f
}

// ServerErrorResponse is the error body returned by the remote API.
type ServerErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// CaptureRequest is a locally captured sample handed to the daemon.
type CaptureRequest struct {
	CheckInRequest
	// IdempotencyKey is generated when empty. Resubmitting a key returns the existing sample.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// CaptureResponse describes the queued sample.
type CaptureResponse struct {
	ID             uint   `json:"id"`
	IdempotencyKey string `json:"idempotencyKey"`
	State          string `json:"state"`
	Duplicate      bool   `json:"duplicate"`
}

// MutationResult reports how an edit or delete was handled.
type MutationResult struct {
	Outcome    string `json:"outcome"`
	EntityID   int64  `json:"entityId"`
	MutationID uint   `json:"mutationId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
