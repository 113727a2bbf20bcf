package workers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"geotrail/syncd/internal/common"
	"geotrail/syncd/internal/connectivity"
	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/filter"
	"geotrail/syncd/internal/models/dtos"
	gormModels "geotrail/syncd/internal/models/gorm"
	"geotrail/syncd/internal/providers"
	"geotrail/syncd/internal/ratelimit"

	"gorm.io/gorm"
)

var testThresholds = filter.StaticThresholds{
	MinInterval:       5 * time.Minute,
	MinDistanceMeters: 100,
	MaxAccuracyMeters: 100,
}

type drainFixture struct {
	gdb       *gorm.DB
	drain     *LocationDrain
	queue     *repositories.SampleQueueRepo
	refRepo   *repositories.SyncReferenceRepo
	reference *filter.ReferenceStore
	limiter   *ratelimit.Limiter
	publisher *recordingPublisher
}

func newDrainFixture(t *testing.T, client *mockSyncClient, online connectivity.Status, limiter *ratelimit.Limiter) *drainFixture {
	gdb := setupTestDB(t)
	if limiter == nil {
		limiter = ratelimit.New(0, 0)
	}
	f := &drainFixture{
		gdb:       gdb,
		queue:     repositories.NewSampleQueueRepo(gdb),
		refRepo:   repositories.NewSyncReferenceRepo(gdb),
		limiter:   limiter,
		publisher: &recordingPublisher{},
	}
	f.reference = filter.NewReferenceStore(f.refRepo)
	f.drain = NewLocationDrain(
		f.queue, client, online, limiter, f.reference, testThresholds,
		common.NewLocalClaimLock(), f.publisher, nil,
		LocationDrainConfig{BatchSize: 5, FailureCeiling: 5, ClaimTimeout: time.Second, RequestTimeout: time.Second},
	)
	return f
}

func (f *drainFixture) enqueue(t *testing.T, s *gormModels.QueuedSample) *gormModels.QueuedSample {
	t.Helper()
	if err := f.queue.Enqueue(context.Background(), s); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	return s
}

func (f *drainFixture) reload(t *testing.T, id uint) *gormModels.QueuedSample {
	t.Helper()
	s, err := f.queue.GetByID(context.Background(), id)
	if err != nil || s == nil {
		t.Fatalf("Failed to reload sample %d: %v", id, err)
	}
	return s
}

func TestLocationDrain_TransientFailureLeavesSamplePending(t *testing.T) {
	client := &mockSyncClient{
		checkIn: func(_ dtos.CheckInRequest, _ string) (providers.Result, error) {
			return providers.TransientError{StatusCode: 503, Message: "unavailable"}, nil
		},
	}
	f := newDrainFixture(t, client, staticStatus(true), nil)
	s := f.enqueue(t, sampleAt(0, 0))

	if got := f.drain.TryOnce(context.Background()); got != OutcomeTransient {
		t.Fatalf("Expected %s, got %s", OutcomeTransient, got)
	}

	row := f.reload(t, s.ID)
	if row.State != constants.SampleStatePending {
		t.Errorf("Expected Pending, got %s", row.State)
	}
	if row.ServerID != nil {
		t.Errorf("Expected no server id, got %d", *row.ServerID)
	}
	if row.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", row.Attempts)
	}
	if row.LastError == "" {
		t.Error("Expected last error to be recorded")
	}
	if f.drain.ConsecutiveFailures() != 1 {
		t.Errorf("Expected 1 consecutive failure, got %d", f.drain.ConsecutiveFailures())
	}
	if f.reference.Get() != nil {
		t.Error("Expected reference to stay empty after a failed send")
	}
}

func TestLocationDrain_FailureCeilingPausesUntilReset(t *testing.T) {
	client := &mockSyncClient{
		checkIn: func(_ dtos.CheckInRequest, _ string) (providers.Result, error) {
			return providers.TransientError{StatusCode: 503}, nil
		},
	}
	f := newDrainFixture(t, client, staticStatus(true), nil)
	f.enqueue(t, sampleAt(0, 0))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if got := f.drain.TryOnce(ctx); got != OutcomeTransient {
			t.Fatalf("Attempt %d: expected %s, got %s", i+1, OutcomeTransient, got)
		}
	}

	for i := 0; i < 3; i++ {
		if got := f.drain.TryOnce(ctx); got != OutcomeBackoff {
			t.Fatalf("Expected %s after ceiling, got %s", OutcomeBackoff, got)
		}
	}
	if got := client.checkIns.Load(); got != 5 {
		t.Errorf("Expected 5 network calls, got %d", got)
	}

	f.drain.ResetFailures()
	if got := f.drain.TryOnce(ctx); got != OutcomeTransient {
		t.Errorf("Expected attempts to resume after reset, got %s", got)
	}
	if got := client.checkIns.Load(); got != 6 {
		t.Errorf("Expected 6 network calls, got %d", got)
	}
}

func TestLocationDrain_SuccessRecordsServerIDAndAdvancesReference(t *testing.T) {
	client := &mockSyncClient{}
	f := newDrainFixture(t, client, staticStatus(true), nil)
	first := f.enqueue(t, sampleAt(0, 0))
	second := f.enqueue(t, sampleAt(10, 0.01))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if got := f.drain.TryOnce(ctx); got != OutcomeSynced {
			t.Fatalf("Attempt %d: expected %s, got %s", i+1, OutcomeSynced, got)
		}
	}
	if got := f.drain.TryOnce(ctx); got != OutcomeEmpty {
		t.Errorf("Expected %s, got %s", OutcomeEmpty, got)
	}

	for i, s := range []*gormModels.QueuedSample{first, second} {
		row := f.reload(t, s.ID)
		if row.State != constants.SampleStateSynced {
			t.Errorf("Sample %d: expected Synced, got %s", i, row.State)
		}
		if row.ServerID == nil || *row.ServerID != int64(1001+i) {
			t.Errorf("Sample %d: unexpected server id %v", i, row.ServerID)
		}
		if row.SyncedAt == nil {
			t.Errorf("Sample %d: expected synced_at", i)
		}
	}

	ref := f.reference.Get()
	if ref == nil || !ref.Timestamp.Equal(second.CapturedTime()) {
		t.Fatalf("Expected reference at second sample, got %+v", ref)
	}
	persisted, err := f.refRepo.LoadReference(ctx)
	if err != nil || persisted == nil {
		t.Fatalf("Expected persisted reference, got %v (%v)", persisted, err)
	}
	if !persisted.Timestamp.Equal(second.CapturedTime()) {
		t.Errorf("Expected persisted reference at %v, got %v", second.CapturedTime(), persisted.Timestamp)
	}

	kinds := f.publisher.kinds()
	if len(kinds) != 2 || kinds[0] != constants.EventSampleSynced || kinds[1] != constants.EventSampleSynced {
		t.Errorf("Expected two synced notifications, got %v", kinds)
	}
	if f.drain.ConsecutiveFailures() != 0 {
		t.Errorf("Expected no failures, got %d", f.drain.ConsecutiveFailures())
	}
}

func TestLocationDrain_FilteredSampleConsumesNoQuota(t *testing.T) {
	client := &mockSyncClient{}
	limiter := ratelimit.New(time.Hour, 0)
	f := newDrainFixture(t, client, staticStatus(true), limiter)
	ctx := context.Background()

	if _, err := f.reference.Advance(ctx, SamplePoint(sampleAt(0, 0))); err != nil {
		t.Fatalf("Failed to seed reference: %v", err)
	}
	tooSoon := f.enqueue(t, sampleAt(1, 0))

	if got := f.drain.TryOnce(ctx); got != OutcomeSkipped {
		t.Fatalf("Expected %s, got %s", OutcomeSkipped, got)
	}
	if client.checkIns.Load() != 0 {
		t.Error("Expected no network call for a filtered sample")
	}
	if !limiter.Allow() {
		t.Error("Expected filtered sample to leave rate limit quota untouched")
	}
	if limiter.CountLastHour() != 0 {
		t.Errorf("Expected no recorded requests, got %d", limiter.CountLastHour())
	}

	row := f.reload(t, tooSoon.ID)
	if row.State != constants.SampleStateRejected || row.LastError == "" {
		t.Errorf("Expected Rejected with a reason, got %s %q", row.State, row.LastError)
	}
	if kinds := f.publisher.kinds(); len(kinds) != 1 || kinds[0] != constants.EventSampleSkipped {
		t.Errorf("Expected one skipped notification, got %v", kinds)
	}

	f.enqueue(t, sampleAt(10, 0.01))
	if got := f.drain.TryOnce(ctx); got != OutcomeSynced {
		t.Fatalf("Expected %s, got %s", OutcomeSynced, got)
	}
	if limiter.Allow() {
		t.Error("Expected a sent sample to consume the interval quota")
	}
	if got := f.drain.TryOnce(ctx); got != OutcomeRateLimited {
		t.Errorf("Expected %s, got %s", OutcomeRateLimited, got)
	}
}

func TestLocationDrain_UserInvokedBypassesFilter(t *testing.T) {
	client := &mockSyncClient{}
	f := newDrainFixture(t, client, staticStatus(true), nil)
	ctx := context.Background()

	if _, err := f.reference.Advance(ctx, SamplePoint(sampleAt(5, 0))); err != nil {
		t.Fatalf("Failed to seed reference: %v", err)
	}
	s := sampleAt(1, 0)
	s.IsUserInvoked = true
	f.enqueue(t, s)

	if got := f.drain.TryOnce(ctx); got != OutcomeSynced {
		t.Fatalf("Expected user-invoked sample to sync, got %s", got)
	}
	// An older sample never moves the reference backwards.
	if ref := f.reference.Get(); !ref.Timestamp.Equal(sampleAt(5, 0).CapturedTime()) {
		t.Errorf("Expected reference to stay at the newer point, got %v", ref.Timestamp)
	}
}

func TestLocationDrain_Preconditions(t *testing.T) {
	ctx := context.Background()

	offline := newDrainFixture(t, &mockSyncClient{}, staticStatus(false), nil)
	s := offline.enqueue(t, sampleAt(0, 0))
	if got := offline.drain.TryOnce(ctx); got != OutcomeOffline {
		t.Errorf("Expected %s, got %s", OutcomeOffline, got)
	}
	if row := offline.reload(t, s.ID); row.State != constants.SampleStatePending || row.Attempts != 0 {
		t.Errorf("Expected untouched Pending sample, got %s with %d attempts", row.State, row.Attempts)
	}

	unconfigured := newDrainFixture(t, &mockSyncClient{unconfigured: true}, staticStatus(true), nil)
	unconfigured.enqueue(t, sampleAt(0, 0))
	if got := unconfigured.drain.TryOnce(ctx); got != OutcomeUnconfigured {
		t.Errorf("Expected %s, got %s", OutcomeUnconfigured, got)
	}

	empty := newDrainFixture(t, &mockSyncClient{}, staticStatus(true), nil)
	if got := empty.drain.TryOnce(ctx); got != OutcomeEmpty {
		t.Errorf("Expected %s, got %s", OutcomeEmpty, got)
	}
}

func TestLocationDrain_ServerDecisions(t *testing.T) {
	tests := []struct {
		name    string
		result  providers.Result
		want    DrainOutcome
		wantMsg string
	}{
		{"server skipped", providers.Skipped{Reason: "too close"}, OutcomeServerSkipped, "too close"},
		{"client error", providers.ClientError{StatusCode: 400, Message: "bad coordinates"}, OutcomeRejected, "bad coordinates"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockSyncClient{
				checkIn: func(_ dtos.CheckInRequest, _ string) (providers.Result, error) { return tt.result, nil },
			}
			f := newDrainFixture(t, client, staticStatus(true), nil)
			s := f.enqueue(t, sampleAt(0, 0))

			if got := f.drain.TryOnce(context.Background()); got != tt.want {
				t.Fatalf("Expected %s, got %s", tt.want, got)
			}
			row := f.reload(t, s.ID)
			if row.State != constants.SampleStateRejected {
				t.Errorf("Expected Rejected, got %s", row.State)
			}
			if !strings.Contains(row.LastError, tt.wantMsg) {
				t.Errorf("Expected reason containing %q, got %q", tt.wantMsg, row.LastError)
			}
			if kinds := f.publisher.kinds(); len(kinds) != 1 || kinds[0] != constants.EventSampleSkipped {
				t.Errorf("Expected skipped notification, got %v", kinds)
			}
			if f.reference.Get() != nil {
				t.Error("Expected reference untouched by a rejected sample")
			}
		})
	}
}

// failTerminalWrites makes every update that moves a sample into one of the
// given states fail, leaving other writes alone.
func failTerminalWrites(t *testing.T, gdb *gorm.DB, states ...constants.SampleState) {
	t.Helper()
	err := gdb.Callback().Update().Before("gorm:update").Register("test:fail_terminal", func(tx *gorm.DB) {
		values, ok := tx.Statement.Dest.(map[string]interface{})
		if !ok {
			return
		}
		for _, st := range states {
			if values["state"] == st {
				tx.AddError(errors.New("disk I/O error"))
				return
			}
		}
	})
	if err != nil {
		t.Fatalf("Failed to register callback: %v", err)
	}
}

func TestLocationDrain_FailedTerminalWriteReturnsSampleToPending(t *testing.T) {
	tests := []struct {
		name    string
		result  providers.Result
		err     error
		wantOut DrainOutcome
	}{
		{"server skipped", providers.Skipped{Reason: "too close"}, nil, OutcomeStoreError},
		{"client error", providers.ClientError{StatusCode: 422, Message: "bad coordinates"}, nil, OutcomeStoreError},
		{"unexpected error", nil, errors.New("decoder exploded"), OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockSyncClient{
				checkIn: func(_ dtos.CheckInRequest, _ string) (providers.Result, error) { return tt.result, tt.err },
			}
			f := newDrainFixture(t, client, staticStatus(true), nil)
			s := f.enqueue(t, sampleAt(0, 0))
			failTerminalWrites(t, f.gdb, constants.SampleStateRejected, constants.SampleStateFailed)

			if got := f.drain.TryOnce(context.Background()); got != tt.wantOut {
				t.Fatalf("Expected %s, got %s", tt.wantOut, got)
			}
			row := f.reload(t, s.ID)
			if row.State != constants.SampleStatePending {
				t.Errorf("Expected Pending after a lost terminal write, got %s", row.State)
			}
			if kinds := f.publisher.kinds(); len(kinds) != 0 {
				t.Errorf("Expected no notification, got %v", kinds)
			}
		})
	}
}

func TestLocationDrain_PanicResetsSample(t *testing.T) {
	client := &mockSyncClient{
		checkIn: func(_ dtos.CheckInRequest, _ string) (providers.Result, error) { panic("boom") },
	}
	f := newDrainFixture(t, client, staticStatus(true), nil)
	s := f.enqueue(t, sampleAt(0, 0))

	if got := f.drain.TryOnce(context.Background()); got != OutcomePanic {
		t.Fatalf("Expected %s, got %s", OutcomePanic, got)
	}
	row := f.reload(t, s.ID)
	if row.State != constants.SampleStatePending {
		t.Errorf("Expected Pending after panic, got %s", row.State)
	}
	if !strings.Contains(row.LastError, "boom") {
		t.Errorf("Expected panic message recorded, got %q", row.LastError)
	}
	if f.drain.ConsecutiveFailures() != 1 {
		t.Errorf("Expected panic to count as a failure, got %d", f.drain.ConsecutiveFailures())
	}
}

func TestLocationDrain_ShutdownStillPersistsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &mockSyncClient{
		checkIn: func(_ dtos.CheckInRequest, _ string) (providers.Result, error) {
			cancel()
			return providers.TransientError{Message: "request cancelled", Err: context.Canceled}, nil
		},
	}
	f := newDrainFixture(t, client, staticStatus(true), nil)
	s := f.enqueue(t, sampleAt(0, 0))

	if got := f.drain.TryOnce(ctx); got != OutcomeTransient {
		t.Fatalf("Expected %s, got %s", OutcomeTransient, got)
	}
	if row := f.reload(t, s.ID); row.State != constants.SampleStatePending {
		t.Errorf("Expected Pending after cancelled send, got %s", row.State)
	}
}
