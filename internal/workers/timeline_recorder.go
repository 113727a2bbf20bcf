package workers

import (
	"context"
	"sync"
	"time"

	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/events"
	"geotrail/syncd/internal/filter"
	"geotrail/syncd/internal/logging"
	gormModels "geotrail/syncd/internal/models/gorm"

	"go.uber.org/zap"
)

// TimelineRecorder maintains the local mirror from sample notifications.
//
// It filters captured samples with its own reference, independent of the drain's, so
// the mirror shows a point as soon as it is captured. Subscribe must be called before
// startup reconciliation runs so nothing published during recovery is missed.
type TimelineRecorder struct {
	timeline   *repositories.TimelineRepo
	queue      *repositories.SampleQueueRepo
	bus        *events.Bus
	thresholds filter.ThresholdSource
	reference  *filter.ReferenceStore
	buffer     int
	log        *zap.SugaredLogger

	mu          sync.Mutex
	ch          <-chan events.Notification
	unsubscribe func()
}

// NewTimelineRecorder creates a new recorder
func NewTimelineRecorder(
	timeline *repositories.TimelineRepo,
	queue *repositories.SampleQueueRepo,
	bus *events.Bus,
	thresholds filter.ThresholdSource,
	buffer int,
) *TimelineRecorder {
	if buffer < 1 {
		buffer = 256
	}
	return &TimelineRecorder{
		timeline:   timeline,
		queue:      queue,
		bus:        bus,
		thresholds: thresholds,
		reference:  filter.NewReferenceStore(nil),
		buffer:     buffer,
		log:        logging.Named("timeline-recorder"),
	}
}

// Subscribe starts buffering notifications. Calling it again is a no-op.
func (r *TimelineRecorder) Subscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		return
	}
	r.ch, r.unsubscribe = r.bus.Subscribe(r.buffer,
		constants.EventSampleCaptured,
		constants.EventSampleSynced,
		constants.EventSampleSkipped,
	)
}

// Prime seeds the recorder's reference from the newest mirror point.
func (r *TimelineRecorder) Prime(ctx context.Context) error {
	latest, err := r.timeline.Latest(ctx)
	if err != nil {
		return err
	}
	if latest != nil {
		_, err = r.reference.Advance(ctx, MirrorPointPosition(latest))
	}
	return err
}

// Reference returns the recorder's current reference, or nil
func (r *TimelineRecorder) Reference() *filter.Point {
	return r.reference.Get()
}

// FoldReference moves the recorder's reference forward to p. Older points are ignored.
func (r *TimelineRecorder) FoldReference(ctx context.Context, p filter.Point) {
	if moved, _ := r.reference.Advance(ctx, p); moved {
		r.log.Debugw("Reference folded forward", "timestamp", p.Timestamp)
	}
}

// Serve applies notifications until ctx is done.
func (r *TimelineRecorder) Serve(ctx context.Context) error {
	r.Subscribe()
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, n); err != nil {
				r.log.Errorw("Failed to apply notification to timeline", "kind", n.Kind, "local_id", n.LocalID, "error", err)
			}
		}
	}
}

// Close drops the subscription
func (r *TimelineRecorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

// Handle applies a single notification
func (r *TimelineRecorder) Handle(ctx context.Context, n events.Notification) error {
	switch n.Kind {
	case constants.EventSampleCaptured:
		return r.onCaptured(ctx, n)
	case constants.EventSampleSynced:
		return r.onSynced(ctx, n)
	case constants.EventSampleSkipped:
		removed, err := r.timeline.DeleteByMatch(ctx, n.Timestamp.UnixMilli(), n.Latitude, n.Longitude)
		if err == nil && removed > 0 {
			r.log.Debugw("Removed skipped sample from timeline", "local_id", n.LocalID, "reason", n.Reason)
		}
		return err
	}
	return nil
}

func (r *TimelineRecorder) onCaptured(ctx context.Context, n events.Notification) error {
	s, err := r.queue.GetByID(ctx, n.LocalID)
	if err != nil || s == nil {
		return err
	}

	decision := r.reference.Evaluate(SampleCandidate(s), r.thresholds.Thresholds())
	if !decision.Eligible {
		r.log.Debugw("Captured sample not shown", "local_id", s.ID, "reason", decision.Reason)
		return nil
	}

	if _, _, err := r.timeline.InsertIfAbsent(ctx, MirrorPoint(s)); err != nil {
		return err
	}
	_, err = r.reference.Advance(ctx, SamplePoint(s))
	return err
}

func (r *TimelineRecorder) onSynced(ctx context.Context, n events.Notification) error {
	ts := n.Timestamp.UnixMilli()
	existing, err := r.timeline.FindByMatch(ctx, ts, n.Latitude, n.Longitude)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.ServerID == nil {
			return r.timeline.LinkServerID(ctx, existing.ID, n.RemoteID)
		}
		return nil
	}

	// The server accepted a point the recorder had filtered out or never saw.
	var p *gormModels.TimelinePoint
	if s, err := r.queue.GetByID(ctx, n.LocalID); err == nil && s != nil {
		p = MirrorPoint(s)
	} else {
		p = &gormModels.TimelinePoint{Latitude: n.Latitude, Longitude: n.Longitude, Timestamp: ts}
	}
	remoteID := n.RemoteID
	p.ServerID = &remoteID
	if _, _, err := r.timeline.InsertIfAbsent(ctx, p); err != nil {
		return err
	}
	r.FoldReference(ctx, filter.Point{Latitude: n.Latitude, Longitude: n.Longitude, Timestamp: n.Timestamp})
	return nil
}

func (r *TimelineRecorder) String() string {
	return "timeline-recorder"
}

// MirrorPoint builds the unconfirmed mirror entry of a queued sample. The server id is
// copied when the sample is already confirmed.
func MirrorPoint(s *gormModels.QueuedSample) *gormModels.TimelinePoint {
	p := &gormModels.TimelinePoint{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Timestamp: s.CapturedAt,
		Altitude:  s.Altitude,
		Speed:     s.Speed,
		Bearing:   s.Bearing,
		Accuracy:  s.Accuracy,
		Provider:  s.Provider,
		Activity:  s.Activity,
		Notes:     s.Notes,
	}
	if s.ServerID != nil {
		id := *s.ServerID
		p.ServerID = &id
	}
	return p
}

// MirrorPointPosition is the filter point of a mirror entry
func MirrorPointPosition(p *gormModels.TimelinePoint) filter.Point {
	return filter.Point{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: time.UnixMilli(p.Timestamp).UTC(),
	}
}
