package workers

import (
	"context"
	"testing"

	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/events"
	gormModels "geotrail/syncd/internal/models/gorm"
)

type recorderFixture struct {
	recorder *TimelineRecorder
	queue    *repositories.SampleQueueRepo
	timeline *repositories.TimelineRepo
	bus      *events.Bus
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	gdb := setupTestDB(t)
	f := &recorderFixture{
		queue:    repositories.NewSampleQueueRepo(gdb),
		timeline: repositories.NewTimelineRepo(gdb),
		bus:      events.NewBus(),
	}
	f.recorder = NewTimelineRecorder(f.timeline, f.queue, f.bus, testThresholds, 16)
	t.Cleanup(f.recorder.Close)
	return f
}

func (f *recorderFixture) captured(t *testing.T, s *gormModels.QueuedSample) events.Notification {
	t.Helper()
	if err := f.queue.Enqueue(context.Background(), s); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	return events.Notification{
		Kind:      constants.EventSampleCaptured,
		LocalID:   s.ID,
		Timestamp: s.CapturedTime(),
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
	}
}

func (f *recorderFixture) find(t *testing.T, s *gormModels.QueuedSample) *gormModels.TimelinePoint {
	t.Helper()
	p, err := f.timeline.FindByMatch(context.Background(), s.CapturedAt, s.Latitude, s.Longitude)
	if err != nil {
		t.Fatalf("Failed to query timeline: %v", err)
	}
	return p
}

func TestTimelineRecorder_CapturedIsFiltered(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	first := sampleAt(0, 0)
	tooSoon := sampleAt(1, 0.01)
	later := sampleAt(10, 0.01)

	for _, s := range []*gormModels.QueuedSample{first, tooSoon, later} {
		if err := f.recorder.Handle(ctx, f.captured(t, s)); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	if f.find(t, first) == nil {
		t.Error("Expected first sample in the timeline")
	}
	if f.find(t, tooSoon) != nil {
		t.Error("Expected sample inside the time threshold to be filtered")
	}
	if f.find(t, later) == nil {
		t.Error("Expected later sample in the timeline")
	}
	if ref := f.recorder.Reference(); ref == nil || !ref.Timestamp.Equal(later.CapturedTime()) {
		t.Errorf("Expected reference at the last shown sample, got %+v", ref)
	}
}

func TestTimelineRecorder_SyncedLinksExistingPoint(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	s := sampleAt(0, 0)
	n := f.captured(t, s)
	if err := f.recorder.Handle(ctx, n); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	n.Kind = constants.EventSampleSynced
	n.RemoteID = 900
	if err := f.recorder.Handle(ctx, n); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	p := f.find(t, s)
	if p == nil || p.ServerID == nil || *p.ServerID != 900 {
		t.Fatalf("Expected point linked to 900, got %+v", p)
	}
}

func TestTimelineRecorder_SyncedInsertsFilteredPoint(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	first := sampleAt(0, 0)
	nearby := sampleAt(1, 0.0001)
	f.recorder.Handle(ctx, f.captured(t, first))
	n := f.captured(t, nearby)
	f.recorder.Handle(ctx, n)
	if f.find(t, nearby) != nil {
		t.Fatal("Expected nearby sample to be filtered on capture")
	}

	// The server accepted it anyway (user invoked on the drain side).
	n.Kind = constants.EventSampleSynced
	n.RemoteID = 901
	if err := f.recorder.Handle(ctx, n); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	p := f.find(t, nearby)
	if p == nil || p.ServerID == nil || *p.ServerID != 901 {
		t.Fatalf("Expected confirmed point inserted, got %+v", p)
	}
	if ref := f.recorder.Reference(); ref == nil || !ref.Timestamp.Equal(nearby.CapturedTime()) {
		t.Errorf("Expected reference folded forward, got %+v", ref)
	}
}

func TestTimelineRecorder_SkippedRemovesPoint(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	s := sampleAt(0, 0)
	n := f.captured(t, s)
	f.recorder.Handle(ctx, n)

	n.Kind = constants.EventSampleSkipped
	n.Reason = "duplicate"
	if err := f.recorder.Handle(ctx, n); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if f.find(t, s) != nil {
		t.Error("Expected skipped sample removed from the timeline")
	}
}

func TestTimelineRecorder_ServeAppliesBufferedNotifications(t *testing.T) {
	f := newRecorderFixture(t)
	f.recorder.Subscribe()

	// Published before Serve runs; the subscription buffers it.
	s := sampleAt(0, 0)
	f.bus.Publish(f.captured(t, s))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.recorder.Serve(ctx) }()

	waitFor(t, func() bool { return f.find(t, s) != nil })
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestTimelineRecorder_Prime(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	if err := f.recorder.Prime(ctx); err != nil {
		t.Fatalf("Expected no error on empty mirror, got %v", err)
	}
	if f.recorder.Reference() != nil {
		t.Fatal("Expected no reference on empty mirror")
	}

	s := sampleAt(5, 0)
	if _, _, err := f.timeline.InsertIfAbsent(ctx, MirrorPoint(s)); err != nil {
		t.Fatalf("Failed to seed timeline: %v", err)
	}
	if err := f.recorder.Prime(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ref := f.recorder.Reference(); ref == nil || !ref.Timestamp.Equal(s.CapturedTime()) {
		t.Errorf("Expected reference primed from the newest point, got %+v", ref)
	}
}
