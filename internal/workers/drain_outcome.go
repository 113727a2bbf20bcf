package workers

import (
	"context"
	"time"
)

// DrainOutcome is the result of a single drain attempt
type DrainOutcome string

const (
	// Preconditions that abort an attempt without side effects
	OutcomeOffline      DrainOutcome = "offline"
	OutcomeUnconfigured DrainOutcome = "unconfigured"
	OutcomeBackoff      DrainOutcome = "backoff"
	OutcomeRateLimited  DrainOutcome = "rate_limited"
	OutcomeEmpty        DrainOutcome = "empty"
	OutcomeLockTimeout  DrainOutcome = "lock_timeout"

	// Work was claimed and resolved
	OutcomeSynced        DrainOutcome = "synced"
	OutcomeSkipped       DrainOutcome = "skipped"
	OutcomeServerSkipped DrainOutcome = "server_skipped"
	OutcomeRejected      DrainOutcome = "rejected"
	OutcomeTransient     DrainOutcome = "transient"
	OutcomeFailed        DrainOutcome = "failed"
	OutcomeStoreError    DrainOutcome = "store_error"
	OutcomePanic         DrainOutcome = "panic"
)

// Progressed reports whether the attempt resolved a work item
func (o DrainOutcome) Progressed() bool {
	switch o {
	case OutcomeSynced, OutcomeSkipped, OutcomeServerSkipped, OutcomeRejected:
		return true
	}
	return false
}

// IsFailure reports whether the attempt counts as a failed loop iteration
func (o DrainOutcome) IsFailure() bool {
	switch o {
	case OutcomeTransient, OutcomeFailed, OutcomeStoreError, OutcomeLockTimeout, OutcomePanic:
		return true
	}
	return false
}

// EndsLoop reports whether a drain loop should stop after this outcome
func (o DrainOutcome) EndsLoop() bool {
	switch o {
	case OutcomeEmpty, OutcomeOffline, OutcomeUnconfigured, OutcomeBackoff:
		return true
	}
	return false
}

// Drainer is a queue the DrainScheduler can drive
type Drainer interface {
	// TryOnce performs one attempt. It never panics and never returns an error;
	// failures are reflected in the outcome.
	TryOnce(ctx context.Context) DrainOutcome
	// ResetFailures clears the global backoff after connectivity returns
	ResetFailures()
	// RetryAfter returns how long until the rate limiter allows another request
	RetryAfter() time.Duration
	Name() string
}
