package jobs

import (
	"context"
	"time"

	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"

	"go.uber.org/zap"
)

// SyncedPurger deletes confirmed samples older than a cutoff
type SyncedPurger interface {
	PurgeSynced(ctx context.Context, before time.Time) (int64, error)
}

// RetentionJob removes confirmed samples once they are older than the retention window.
// The window must exceed the reconcile lookback so startup matching still finds them.
type RetentionJob struct {
	queue    SyncedPurger
	metrics  *metrics.MetricsRegistry
	keep     time.Duration
	interval time.Duration
	now      func() time.Time
	log      *zap.SugaredLogger
}

// NewRetentionJob creates a new retention job
func NewRetentionJob(queue SyncedPurger, m *metrics.MetricsRegistry, keep, interval time.Duration) *RetentionJob {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &RetentionJob{
		queue:    queue,
		metrics:  m,
		keep:     keep,
		interval: interval,
		now:      time.Now,
		log:      logging.Named("retention-job"),
	}
}

// Run purges once and returns the number of deleted samples
func (j *RetentionJob) Run(ctx context.Context) (int64, error) {
	if j.keep <= 0 {
		return 0, nil
	}
	start := j.now()
	defer func() { j.metrics.JobFinished("retention", time.Since(start)) }()

	cutoff := start.Add(-j.keep)
	n, err := j.queue.PurgeSynced(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	j.metrics.RetentionPurged(n)
	if n > 0 {
		j.log.Infow("Purged synced samples", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Serve runs the job on every tick until ctx is done. The first run happens after one
// interval so startup reconciliation sees the full window.
func (j *RetentionJob) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.log.Errorw("Error in scheduled retention run", "error", err)
			}
		case <-ctx.Done():
			j.log.Info("Shutting down retention job")
			return ctx.Err()
		}
	}
}

func (j *RetentionJob) String() string {
	return "retention-job"
}
