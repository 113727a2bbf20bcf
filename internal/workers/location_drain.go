package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"geotrail/syncd/internal/common"
	"geotrail/syncd/internal/connectivity"
	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/events"
	"geotrail/syncd/internal/filter"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"
	"geotrail/syncd/internal/models/dtos"
	gormModels "geotrail/syncd/internal/models/gorm"
	"geotrail/syncd/internal/providers"
	"geotrail/syncd/internal/ratelimit"

	"go.uber.org/zap"
)

// LocationDrainConfig tunes the sample drain
type LocationDrainConfig struct {
	BatchSize      int
	FailureCeiling int
	ClaimTimeout   time.Duration
	RequestTimeout time.Duration
}

// LocationDrain delivers queued samples to the server one at a time.
type LocationDrain struct {
	queue      *repositories.SampleQueueRepo
	client     providers.SyncClient
	online     connectivity.Status
	limiter    *ratelimit.Limiter
	reference  *filter.ReferenceStore
	thresholds filter.ThresholdSource
	lock       common.ClaimLock
	publisher  events.Publisher
	metrics    *metrics.MetricsRegistry
	cfg        LocationDrainConfig
	log        *zap.SugaredLogger

	failures atomic.Int32
}

// NewLocationDrain creates a new sample drain
func NewLocationDrain(
	queue *repositories.SampleQueueRepo,
	client providers.SyncClient,
	online connectivity.Status,
	limiter *ratelimit.Limiter,
	reference *filter.ReferenceStore,
	thresholds filter.ThresholdSource,
	lock common.ClaimLock,
	publisher events.Publisher,
	m *metrics.MetricsRegistry,
	cfg LocationDrainConfig,
) *LocationDrain {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 5
	}
	if cfg.FailureCeiling < 1 {
		cfg.FailureCeiling = 5
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 45 * time.Second
	}
	if lock == nil {
		lock = common.NewLocalClaimLock()
	}
	return &LocationDrain{
		queue:      queue,
		client:     client,
		online:     online,
		limiter:    limiter,
		reference:  reference,
		thresholds: thresholds,
		lock:       lock,
		publisher:  publisher,
		metrics:    m,
		cfg:        cfg,
		log:        logging.Named("location-drain"),
	}
}

func (d *LocationDrain) Name() string { return "samples" }

// ConsecutiveFailures returns the current global failure count
func (d *LocationDrain) ConsecutiveFailures() int {
	return int(d.failures.Load())
}

// ResetFailures clears the backoff. Called when connectivity is restored.
func (d *LocationDrain) ResetFailures() {
	if d.failures.Swap(0) != 0 {
		d.log.Infow("Consecutive failure counter reset")
	}
	d.metrics.SetConsecutiveFailures(0)
}

func (d *LocationDrain) RetryAfter() time.Duration {
	return d.limiter.RetryAfter()
}

// TryOnce performs a single drain attempt: precondition checks, claim, filter,
// rate-limit, send and classify.
func (d *LocationDrain) TryOnce(ctx context.Context) (outcome DrainOutcome) {
	defer func() { d.metrics.DrainAttempt(d.Name(), string(outcome)) }()

	if !d.online.Online() {
		return OutcomeOffline
	}
	if !d.client.Configured() {
		return OutcomeUnconfigured
	}
	if int(d.failures.Load()) >= d.cfg.FailureCeiling {
		return OutcomeBackoff
	}
	if !d.limiter.Allow() {
		return OutcomeRateLimited
	}

	sample, outcome := d.claim(ctx)
	if sample == nil {
		return outcome
	}
	return d.process(ctx, sample)
}

// claim holds the claim lock only for the read-modify-write of the queue head.
func (d *LocationDrain) claim(ctx context.Context) (*gormModels.QueuedSample, DrainOutcome) {
	lockCtx, cancel := context.WithTimeout(ctx, d.cfg.ClaimTimeout)
	defer cancel()

	release, err := d.lock.Acquire(lockCtx)
	if err != nil {
		if errors.Is(err, common.ErrLockTimeout) {
			d.log.Warnw("Claim lock not acquired", "error", err)
			return nil, OutcomeLockTimeout
		}
		d.log.Errorw("Claim lock failed", "error", err)
		return nil, OutcomeStoreError
	}
	defer release()

	sample, err := d.queue.ClaimNext(ctx, d.cfg.BatchSize)
	if err != nil {
		d.log.Errorw("Failed to claim sample", "error", err)
		return nil, OutcomeStoreError
	}
	if sample == nil {
		return nil, OutcomeEmpty
	}
	return sample, ""
}

func (d *LocationDrain) process(ctx context.Context, s *gormModels.QueuedSample) (outcome DrainOutcome) {
	// State writes must land even when ctx was cancelled by shutdown.
	writeCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			msg := logging.SanitizeMessage(fmt.Sprintf("panic: %v", r), constants.MaxErrorMessageLength)
			d.log.Errorw("Recovered panic while syncing sample", "sample_id", s.ID, "panic", msg)
			d.resetToPending(writeCtx, s, msg)
			d.recordFailure()
			outcome = OutcomePanic
		}
	}()

	decision := d.reference.Evaluate(SampleCandidate(s), d.thresholds.Thresholds())
	if !decision.Eligible {
		if !d.markRejected(writeCtx, s, decision.Reason) {
			return OutcomeStoreError
		}
		d.log.Debugw("Sample filtered", "sample_id", s.ID, "kind", decision.Kind, "reason", decision.Reason)
		d.publishSkipped(s, decision.Reason)
		return OutcomeSkipped
	}

	d.limiter.Record()

	res, err := d.checkIn(ctx, s)

	if err != nil {
		msg := logging.SanitizeError(err, constants.MaxErrorMessageLength)
		d.log.Errorw("Unexpected check-in error", "sample_id", s.ID, "error", msg)
		d.markFailed(writeCtx, s, msg)
		d.recordFailure()
		return OutcomeFailed
	}

	switch r := res.(type) {
	case providers.Success:
		return d.onSuccess(writeCtx, s, r)

	case providers.Skipped:
		d.resetFailureCount()
		if !d.markRejected(writeCtx, s, r.Reason) {
			return OutcomeStoreError
		}
		d.publishSkipped(s, r.Reason)
		return OutcomeServerSkipped

	case providers.ClientError:
		reason := logging.SanitizeMessage(r.String(), constants.MaxErrorMessageLength)
		d.log.Warnw("Sample rejected by server", "sample_id", s.ID, "status", r.StatusCode, "message", r.Message)
		d.resetFailureCount()
		if !d.markRejected(writeCtx, s, reason) {
			return OutcomeStoreError
		}
		d.publishSkipped(s, reason)
		return OutcomeRejected

	case providers.TransientError:
		msg := logging.SanitizeMessage(r.String(), constants.MaxErrorMessageLength)
		d.resetToPending(writeCtx, s, msg)
		n := d.recordFailure()
		d.log.Warnw("Transient check-in failure", "sample_id", s.ID, "error", msg, "consecutive_failures", n)
		return OutcomeTransient

	default:
		msg := fmt.Sprintf("unclassified result %T", res)
		d.markFailed(writeCtx, s, msg)
		d.recordFailure()
		return OutcomeFailed
	}
}

func (d *LocationDrain) checkIn(ctx context.Context, s *gormModels.QueuedSample) (providers.Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	defer func() { d.metrics.CheckInObserved(time.Since(start)) }()
	return d.client.CheckIn(reqCtx, CheckInRequest(s), s.IdempotencyKey)
}

func (d *LocationDrain) onSuccess(ctx context.Context, s *gormModels.QueuedSample, r providers.Success) DrainOutcome {
	// The remote id goes in before anything else so recovery sees the sample as done.
	if err := d.queue.MarkSynced(ctx, s.ID, r.RemoteID); err != nil {
		d.log.Errorw("Failed to record confirmed sample, it will be resent with the same idempotency key",
			"sample_id", s.ID, "remote_id", r.RemoteID, "error", err)
		d.resetToPending(ctx, s, logging.SanitizeError(err, constants.MaxErrorMessageLength))
		d.recordFailure()
		return OutcomeStoreError
	}

	if _, err := d.reference.Advance(ctx, SamplePoint(s)); err != nil {
		d.log.Errorw("Failed to advance sync reference", "sample_id", s.ID, "error", err)
	}
	d.resetFailureCount()

	d.publisher.Publish(events.Notification{
		Kind:      constants.EventSampleSynced,
		LocalID:   s.ID,
		RemoteID:  r.RemoteID,
		Timestamp: s.CapturedTime(),
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
	})
	d.log.Debugw("Sample synced", "sample_id", s.ID, "remote_id", r.RemoteID)
	return OutcomeSynced
}

// markRejected reports whether the terminal state was stored. On failure the
// sample goes back to pending so it is not stranded in syncing.
func (d *LocationDrain) markRejected(ctx context.Context, s *gormModels.QueuedSample, reason string) bool {
	if err := d.queue.MarkRejected(ctx, s.ID, reason); err != nil {
		d.log.Errorw("Failed to mark sample rejected", "sample_id", s.ID, "error", err)
		d.resetToPending(ctx, s, "")
		return false
	}
	return true
}

func (d *LocationDrain) markFailed(ctx context.Context, s *gormModels.QueuedSample, msg string) {
	if err := d.queue.MarkFailed(ctx, s.ID, msg); err != nil {
		d.log.Errorw("Failed to mark sample failed", "sample_id", s.ID, "error", err)
		d.resetToPending(ctx, s, msg)
	}
}

func (d *LocationDrain) resetToPending(ctx context.Context, s *gormModels.QueuedSample, msg string) {
	if err := d.queue.ResetToPending(ctx, s.ID, msg); err != nil {
		// Startup recovery resets it if this write is lost.
		d.log.Errorw("Failed to reset sample to pending", "sample_id", s.ID, "error", err)
	}
}

func (d *LocationDrain) publishSkipped(s *gormModels.QueuedSample, reason string) {
	d.publisher.Publish(events.Notification{
		Kind:      constants.EventSampleSkipped,
		LocalID:   s.ID,
		Timestamp: s.CapturedTime(),
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Reason:    reason,
	})
}

func (d *LocationDrain) recordFailure() int {
	n := int(d.failures.Add(1))
	d.metrics.SetConsecutiveFailures(n)
	if n == d.cfg.FailureCeiling {
		d.log.Warnw("Failure ceiling reached, pausing until connectivity is restored", "ceiling", n)
	}
	return n
}

// resetFailureCount clears the counter after a definitive server answer.
func (d *LocationDrain) resetFailureCount() {
	d.failures.Store(0)
	d.metrics.SetConsecutiveFailures(0)
}

// SamplePoint is the filter point of a queued sample, using its capture time.
func SamplePoint(s *gormModels.QueuedSample) filter.Point {
	return filter.Point{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Timestamp: s.CapturedTime(),
	}
}

// SampleCandidate is the filter candidate of a queued sample.
func SampleCandidate(s *gormModels.QueuedSample) filter.Candidate {
	return filter.Candidate{
		Point:       SamplePoint(s),
		Accuracy:    s.Accuracy,
		UserInvoked: s.IsUserInvoked,
	}
}

// CheckInRequest builds the wire request of a queued sample.
func CheckInRequest(s *gormModels.QueuedSample) dtos.CheckInRequest {
	return dtos.CheckInRequest{
		Latitude:      s.Latitude,
		Longitude:     s.Longitude,
		Altitude:      s.Altitude,
		Speed:         s.Speed,
		Bearing:       s.Bearing,
		Accuracy:      s.Accuracy,
		Timestamp:     s.CapturedTime(),
		Provider:      s.Provider,
		IsUserInvoked: s.IsUserInvoked,
		Activity:      s.Activity,
		Notes:         s.Notes,
	}
}
