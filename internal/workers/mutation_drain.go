package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"geotrail/syncd/internal/connectivity"
	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"
	gormModels "geotrail/syncd/internal/models/gorm"
	"geotrail/syncd/internal/ratelimit"

	"go.uber.org/zap"
)

// MutationSyncer resolves queued mutations one at a time
type MutationSyncer interface {
	Configured() bool
	NextPending(ctx context.Context) (*gormModels.PendingMutation, error)
	SyncPending(ctx context.Context, m *gormModels.PendingMutation) (constants.MutationOutcome, error)
}

// MutationDrain retries queued timeline edits. It runs under its own DrainScheduler with
// a slower limiter than the sample drain.
type MutationDrain struct {
	syncer         MutationSyncer
	online         connectivity.Status
	limiter        *ratelimit.Limiter
	metrics        *metrics.MetricsRegistry
	failureCeiling int
	log            *zap.SugaredLogger

	failures atomic.Int32
}

// NewMutationDrain creates a new mutation drain
func NewMutationDrain(syncer MutationSyncer, online connectivity.Status, limiter *ratelimit.Limiter, m *metrics.MetricsRegistry, failureCeiling int) *MutationDrain {
	if failureCeiling < 1 {
		failureCeiling = 5
	}
	return &MutationDrain{
		syncer:         syncer,
		online:         online,
		limiter:        limiter,
		metrics:        m,
		failureCeiling: failureCeiling,
		log:            logging.Named("mutation-drain"),
	}
}

func (d *MutationDrain) Name() string { return "mutations" }

func (d *MutationDrain) ResetFailures() {
	d.failures.Store(0)
}

func (d *MutationDrain) RetryAfter() time.Duration {
	return d.limiter.RetryAfter()
}

// ConsecutiveFailures returns the current failure count
func (d *MutationDrain) ConsecutiveFailures() int {
	return int(d.failures.Load())
}

func (d *MutationDrain) TryOnce(ctx context.Context) (outcome DrainOutcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("Recovered panic while syncing mutation", "panic", fmt.Sprint(r))
			d.failures.Add(1)
			outcome = OutcomePanic
		}
		d.metrics.DrainAttempt(d.Name(), string(outcome))
	}()

	if !d.online.Online() {
		return OutcomeOffline
	}
	if !d.syncer.Configured() {
		return OutcomeUnconfigured
	}
	if int(d.failures.Load()) >= d.failureCeiling {
		return OutcomeBackoff
	}
	if !d.limiter.Allow() {
		return OutcomeRateLimited
	}

	m, err := d.syncer.NextPending(ctx)
	if err != nil {
		d.log.Errorw("Failed to read pending mutations", "error", err)
		return OutcomeStoreError
	}
	if m == nil {
		return OutcomeEmpty
	}

	d.limiter.Record()
	result, err := d.syncer.SyncPending(ctx, m)
	if err != nil {
		d.log.Errorw("Mutation sync failed", "mutation_id", m.ID, "error", err)
		d.failures.Add(1)
		return OutcomeStoreError
	}

	switch result {
	case constants.MutationOutcomeCompleted:
		d.failures.Store(0)
		return OutcomeSynced
	case constants.MutationOutcomeRejected:
		d.failures.Store(0)
		return OutcomeRejected
	case constants.MutationOutcomeSuperseded:
		return OutcomeSkipped
	default:
		n := d.failures.Add(1)
		if int(n) == d.failureCeiling {
			d.log.Warnw("Failure ceiling reached, pausing until connectivity is restored", "ceiling", n)
		}
		return OutcomeTransient
	}
}
