// Package filter decides whether a captured location is new enough to be kept.
//
// The gates are AND-combined and mirror the server-side check so that client and server
// agree on what counts as a new location.
package filter

import (
	"fmt"
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// RejectKind identifies which gate refused a candidate.
type RejectKind string

const (
	RejectNone       RejectKind = ""
	RejectAccuracy   RejectKind = "accuracy"
	RejectOutOfOrder RejectKind = "out_of_order"
	RejectTime       RejectKind = "time"
	RejectDistance   RejectKind = "distance"
)

// Point is a position at an instant.
type Point struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// Candidate is a sample being evaluated against a reference.
type Candidate struct {
	Point
	// Accuracy in meters; nil when the provider did not report one.
	Accuracy    *float64
	UserInvoked bool
}

// Thresholds configures the gates. A zero value disables the corresponding gate.
type Thresholds struct {
	MinInterval       time.Duration
	MinDistanceMeters float64
	MaxAccuracyMeters float64
}

// Decision is the result of Evaluate.
type Decision struct {
	Eligible bool
	Kind     RejectKind
	Reason   string
}

func accept() Decision { return Decision{Eligible: true} }

func reject(kind RejectKind, format string, args ...any) Decision {
	return Decision{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate applies the gates in order:
//  1. user-invoked samples are always eligible
//  2. accuracy worse than the threshold is rejected
//  3. no reference yet means the sample is the first one and is eligible
//  4. samples not newer than the reference are rejected as out of order
//  5. elapsed time AND distance must both reach their thresholds
func Evaluate(c Candidate, ref *Point, th Thresholds) Decision {
	if c.UserInvoked {
		return accept()
	}

	if th.MaxAccuracyMeters > 0 && c.Accuracy != nil && *c.Accuracy > th.MaxAccuracyMeters {
		return reject(RejectAccuracy, "accuracy %.0fm worse than %.0fm threshold", *c.Accuracy, th.MaxAccuracyMeters)
	}

	if ref == nil {
		return accept()
	}

	if !c.Timestamp.After(ref.Timestamp) {
		return reject(RejectOutOfOrder, "timestamp %s not after reference %s",
			c.Timestamp.UTC().Format(time.RFC3339), ref.Timestamp.UTC().Format(time.RFC3339))
	}

	elapsed := c.Timestamp.Sub(ref.Timestamp)
	if elapsed < th.MinInterval {
		return reject(RejectTime, "time threshold not met (%s < %s)",
			elapsed.Truncate(time.Second), th.MinInterval)
	}

	distance := Distance(ref.Latitude, ref.Longitude, c.Latitude, c.Longitude)
	if distance < th.MinDistanceMeters {
		return reject(RejectDistance, "distance threshold not met (%.0fm < %.0fm)", distance, th.MinDistanceMeters)
	}

	return accept()
}

// Eligible reports whether the candidate passes every gate.
func Eligible(c Candidate, ref *Point, th Thresholds) bool {
	return Evaluate(c, ref, th).Eligible
}

// Distance returns the haversine distance in meters between two coordinates.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := lat1*math.Pi/180, lat2*math.Pi/180
	dPhi, dLambda := (lat2-lat1)*math.Pi/180, (lon2-lon1)*math.Pi/180
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ThresholdSource supplies thresholds. Implementations must return the current values on
// every call so runtime changes take effect immediately.
type ThresholdSource interface {
	Thresholds() Thresholds
}

// StaticThresholds is a fixed ThresholdSource.
type StaticThresholds Thresholds

// Thresholds implements ThresholdSource.
func (s StaticThresholds) Thresholds() Thresholds { return Thresholds(s) }
