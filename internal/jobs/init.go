package jobs

import (
	"geotrail/syncd/internal/config"
	"geotrail/syncd/internal/metrics"
)

// JobsContainer holds the periodic maintenance jobs
type JobsContainer struct {
	Retention *RetentionJob
}

// InitializeJobs builds the maintenance jobs. They are started by the supervisor.
func InitializeJobs(queue SyncedPurger, m *metrics.MetricsRegistry, cfg config.RetentionConfig) *JobsContainer {
	return &JobsContainer{
		Retention: NewRetentionJob(queue, m, cfg.SyncedAfter, cfg.Interval),
	}
}
