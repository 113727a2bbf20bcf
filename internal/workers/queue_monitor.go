package workers

import (
	"context"
	"sync"
	"time"

	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/logging"
	"geotrail/syncd/internal/metrics"

	"go.uber.org/zap"
)

// Kicker requests a drain loop
type Kicker interface {
	Kick()
}

// StatsCollector reads queue statistics
type StatsCollector interface {
	Collect(ctx context.Context, now time.Time) (*repositories.QueueStats, error)
}

// QueueMonitor periodically publishes queue depth gauges and wakes the drains when work
// is waiting. It is a safety net for kicks lost while offline or during a crash.
type QueueMonitor struct {
	stats     StatsCollector
	samples   Kicker
	mutations Kicker
	metrics   *metrics.MetricsRegistry
	interval  time.Duration
	now       func() time.Time
	log       *zap.SugaredLogger

	mu   sync.RWMutex
	last *repositories.QueueStats
}

// NewQueueMonitor creates a queue monitor. Either kicker may be nil.
func NewQueueMonitor(stats StatsCollector, samples, mutations Kicker, m *metrics.MetricsRegistry, interval time.Duration) *QueueMonitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &QueueMonitor{
		stats:     stats,
		samples:   samples,
		mutations: mutations,
		metrics:   m,
		interval:  interval,
		now:       time.Now,
		log:       logging.Named("queue-monitor"),
	}
}

// Serve checks the queue immediately and then on every tick until ctx is done.
func (m *QueueMonitor) Serve(ctx context.Context) error {
	m.log.Infow("Starting queue monitoring", "interval", m.interval.String())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check collects statistics once. It returns nil when collection failed.
func (m *QueueMonitor) Check(ctx context.Context) *repositories.QueueStats {
	stats, err := m.stats.Collect(ctx, m.now())
	if err != nil {
		m.log.Errorw("Failed to collect queue statistics", "error", err)
		return nil
	}

	for state, n := range stats.ByState {
		m.metrics.SetQueueDepth(string(state), n)
	}
	m.metrics.SetOldestPendingAge(stats.OldestPendingAge)

	m.mu.Lock()
	m.last = stats
	m.mu.Unlock()

	m.log.Debugw("Queue health check",
		"pending", stats.Pending(),
		"failed", stats.ByState[constants.SampleStateFailed],
		"rejected", stats.ByState[constants.SampleStateRejected],
		"oldest_pending_age", stats.OldestPendingAge.String(),
		"active_mutations", stats.ActiveMutations,
		"unlinked_points", stats.UnlinkedPoints,
	)

	if stats.Pending() > 0 && m.samples != nil {
		m.samples.Kick()
	}
	if stats.ActiveMutations > 0 && m.mutations != nil {
		m.mutations.Kick()
	}
	return stats
}

// Last returns the most recent successful collection, or nil
func (m *QueueMonitor) Last() *repositories.QueueStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *QueueMonitor) String() string {
	return "queue-monitor"
}
