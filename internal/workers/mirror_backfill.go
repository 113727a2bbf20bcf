package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geotrail/syncd/internal/common"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/filter"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"
	gormModels "geotrail/syncd/internal/models/gorm"

	"go.uber.org/zap"
)

// ReconcileConfig bounds the startup repair
type ReconcileConfig struct {
	// Lookback limits server id matching and backfill to recent rows
	Lookback time.Duration
	// ReferenceMaxAge clears an older sync reference
	ReferenceMaxAge time.Duration
	// CacheTTL of match lookups
	CacheTTL time.Duration
}

// ReconcileReport summarizes one startup repair
type ReconcileReport struct {
	ResetSyncing     int64         `json:"resetSyncing"`
	ConfirmedSyncing int64         `json:"confirmedSyncing"`
	ReferenceCleared bool          `json:"referenceCleared"`
	Linked           int           `json:"linked"`
	Scanned          int           `json:"scanned"`
	Backfilled       int           `json:"backfilled"`
	Duration         time.Duration `json:"duration"`
}

// Reconciler repairs the queue and the local mirror after a crash or a missed
// notification. It runs once at startup, after the timeline recorder subscribed and
// before the drains start.
type Reconciler struct {
	queue     *repositories.SampleQueueRepo
	timeline  *repositories.TimelineRepo
	reference *filter.ReferenceStore
	recorder  *TimelineRecorder
	th        filter.ThresholdSource
	cache     common.CacheInterface
	metrics   *metrics.MetricsRegistry
	cfg       ReconcileConfig
	now       func() time.Time
	log       *zap.SugaredLogger
}

// NewReconciler creates a reconciler. reference is the drain's persisted reference;
// recorder may be nil.
func NewReconciler(
	queue *repositories.SampleQueueRepo,
	timeline *repositories.TimelineRepo,
	reference *filter.ReferenceStore,
	recorder *TimelineRecorder,
	th filter.ThresholdSource,
	cache common.CacheInterface,
	m *metrics.MetricsRegistry,
	cfg ReconcileConfig,
) *Reconciler {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 72 * time.Hour
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cache == nil {
		cache = common.NewCacheService(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return &Reconciler{
		queue:     queue,
		timeline:  timeline,
		reference: reference,
		recorder:  recorder,
		th:        th,
		cache:     cache,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
		log:       logging.Named("reconciler"),
	}
}

// RunStartup performs every repair step in order and stops at the first failure.
func (r *Reconciler) RunStartup(ctx context.Context) (*ReconcileReport, error) {
	start := r.now()
	report := &ReconcileReport{}

	reset, confirmed, err := r.queue.ResetOrphaned(ctx)
	if err != nil {
		return report, err
	}
	report.ResetSyncing, report.ConfirmedSyncing = reset, confirmed
	r.metrics.ReconcileRows("reset_syncing", int(reset))
	r.metrics.ReconcileRows("confirmed_syncing", int(confirmed))

	if report.ReferenceCleared, err = r.clearStaleReference(ctx); err != nil {
		return report, err
	}

	since := start.Add(-r.cfg.Lookback)
	if report.Linked, err = r.linkServerIDs(ctx, since); err != nil {
		return report, err
	}
	r.metrics.ReconcileRows("linked", report.Linked)

	if report.Scanned, report.Backfilled, err = r.backfill(ctx, since); err != nil {
		return report, err
	}
	r.metrics.ReconcileRows("backfilled", report.Backfilled)

	report.Duration = r.now().Sub(start)
	r.log.Infow("Startup reconciliation finished",
		"reset_syncing", report.ResetSyncing,
		"confirmed_syncing", report.ConfirmedSyncing,
		"reference_cleared", report.ReferenceCleared,
		"linked", report.Linked,
		"scanned", report.Scanned,
		"backfilled", report.Backfilled,
		"duration", report.Duration.String(),
	)
	return report, nil
}

func (r *Reconciler) clearStaleReference(ctx context.Context) (bool, error) {
	if err := r.reference.Load(ctx); err != nil {
		return false, err
	}
	ref := r.reference.Get()
	if ref == nil || r.cfg.ReferenceMaxAge <= 0 || r.now().Sub(ref.Timestamp) <= r.cfg.ReferenceMaxAge {
		return false, nil
	}
	if err := r.reference.Clear(ctx); err != nil {
		return false, err
	}
	r.log.Infow("Cleared stale sync reference", "reference_time", ref.Timestamp)
	return true, nil
}

// linkServerIDs copies confirmed remote ids from the queue onto mirror points that lost
// their Synced notification.
func (r *Reconciler) linkServerIDs(ctx context.Context, since time.Time) (int, error) {
	points, err := r.timeline.ListMissingServerID(ctx, since)
	if err != nil {
		return 0, err
	}

	r.cache.Flush()
	linked := 0
	for _, p := range points {
		s, err := r.confirmedMatch(ctx, p.Timestamp, p.Latitude, p.Longitude)
		if err != nil {
			return linked, err
		}
		if s == nil {
			continue
		}
		if err := r.timeline.LinkServerID(ctx, p.ID, *s.ServerID); err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

func (r *Reconciler) confirmedMatch(ctx context.Context, ts int64, lat, lon float64) (*gormModels.QueuedSample, error) {
	v, err := r.cache.GetOrSet(common.MatchKey(ts, lat, lon), r.cfg.CacheTTL, func() (any, error) {
		return r.queue.FindConfirmedByMatch(ctx, ts, lat, lon)
	})
	if err != nil {
		return nil, err
	}
	s, ok := v.(*gormModels.QueuedSample)
	if !ok {
		return nil, fmt.Errorf("unexpected cached match type %T", v)
	}
	return s, nil
}

// backfill replays queue rows missing from the mirror through a private reference, so
// live samples arriving meanwhile are filtered against the recorder's own state.
func (r *Reconciler) backfill(ctx context.Context, since time.Time) (scanned, inserted int, err error) {
	rows, err := r.queue.ListNotRejectedSince(ctx, since)
	if err != nil || len(rows) == 0 {
		return 0, 0, err
	}

	isolated := filter.NewReferenceStore(nil)
	prior, err := r.timeline.LatestBefore(ctx, rows[0].CapturedAt)
	if err != nil {
		return 0, 0, err
	}
	if prior != nil {
		isolated.Advance(ctx, MirrorPointPosition(prior))
	}

	var last *filter.Point
	th := r.th.Thresholds()
	for i := range rows {
		s := &rows[i]
		scanned++

		present, err := r.inMirror(ctx, s)
		if err != nil {
			return scanned, inserted, err
		}
		if present {
			isolated.Advance(ctx, SamplePoint(s))
			continue
		}

		if d := isolated.Evaluate(SampleCandidate(s), th); !d.Eligible {
			continue
		}
		if _, added, err := r.timeline.InsertIfAbsent(ctx, MirrorPoint(s)); err != nil {
			return scanned, inserted, err
		} else if added {
			inserted++
		}
		p := SamplePoint(s)
		isolated.Advance(ctx, p)
		last = &p
	}

	if last != nil && r.recorder != nil {
		r.recorder.FoldReference(ctx, *last)
	}
	return scanned, inserted, nil
}

// inMirror reports whether s already has a timeline point. Confirmed samples are looked
// up by server id since the user may have edited the point's position or time.
func (r *Reconciler) inMirror(ctx context.Context, s *gormModels.QueuedSample) (bool, error) {
	if s.ServerID != nil {
		_, err := r.timeline.GetByServerID(ctx, *s.ServerID)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, repositories.ErrPointNotFound) {
			return false, err
		}
	}
	existing, err := r.timeline.FindByMatch(ctx, s.CapturedAt, s.Latitude, s.Longitude)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}
