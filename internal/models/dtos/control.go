package dtos

import "time"

// ConnectivityRequest overrides the observed online state.
type ConnectivityRequest struct {
	Online bool `json:"online"`
}

// ConnectivityResponse reports the state after the override.
type ConnectivityResponse struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

// ThresholdsRequest replaces the set threshold values; nil values are kept.
type ThresholdsRequest struct {
	TimeSeconds    *float64 `json:"timeSeconds,omitempty"`
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
	AccuracyMeters *float64 `json:"accuracyMeters,omitempty"`
}

// ThresholdsResponse is the live threshold configuration.
type ThresholdsResponse struct {
	TimeSeconds    float64 `json:"timeSeconds"`
	DistanceMeters float64 `json:"distanceMeters"`
	AccuracyMeters float64 `json:"accuracyMeters"`
}

// RetryFailedResponse counts samples moved back to Pending.
type RetryFailedResponse struct {
	Requeued int64 `json:"requeued"`
}

// FlushResponse acknowledges a drain request.
type FlushResponse struct {
	Requested bool `json:"requested"`
}

// RejectedMutation is a parked edit awaiting acknowledgment.
type RejectedMutation struct {
	ID        uint      `json:"id"`
	Operation string    `json:"operation"`
	TargetID  int64     `json:"targetId"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
