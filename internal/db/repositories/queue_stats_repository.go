package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"geotrail/syncd/internal/constants"

	"github.com/jmoiron/sqlx"
)

// QueueStats summarizes the work queue
type QueueStats struct {
	ByState           map[constants.SampleState]int64 `json:"byState"`
	OldestPendingAge  time.Duration                   `json:"-"`
	OldestPending     *time.Time                      `json:"oldestPending,omitempty"`
	ActiveMutations   int64                           `json:"activeMutations"`
	RejectedMutations int64                           `json:"rejectedMutations"`
	MirrorPoints      int64                           `json:"mirrorPoints"`
	UnlinkedPoints    int64                           `json:"unlinkedPoints"`
}

// Pending is a shorthand for ByState[Pending]
func (s *QueueStats) Pending() int64 {
	return s.ByState[constants.SampleStatePending]
}

// QueueStatsRepo runs raw statistics queries through sqlx
type QueueStatsRepo struct {
	db *sqlx.DB
}

// NewQueueStatsRepo creates a new stats repository
func NewQueueStatsRepo(db *sqlx.DB) *QueueStatsRepo {
	return &QueueStatsRepo{db: db}
}

const (
	queryCountByState = `SELECT state, COUNT(*) AS count FROM queued_samples GROUP BY state`

	queryOldestPending = `SELECT MIN(captured_at) FROM queued_samples WHERE state = ? AND server_id IS NULL`

	queryMutationCounts = `
		SELECT
			COALESCE(SUM(CASE WHEN rejected THEN 0 ELSE 1 END), 0) AS active,
			COALESCE(SUM(CASE WHEN rejected THEN 1 ELSE 0 END), 0) AS rejected
		FROM pending_mutations`

	queryMirrorCounts = `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN server_id IS NULL THEN 1 ELSE 0 END), 0) AS unlinked
		FROM timeline_points`
)

type stateCount struct {
	State string `db:"state"`
	Count int64  `db:"count"`
}

type mutationCounts struct {
	Active   int64 `db:"active"`
	Rejected int64 `db:"rejected"`
}

type mirrorCounts struct {
	Total    int64 `db:"total"`
	Unlinked int64 `db:"unlinked"`
}

// Collect gathers every statistic in one pass
func (r *QueueStatsRepo) Collect(ctx context.Context, now time.Time) (*QueueStats, error) {
	stats := &QueueStats{ByState: make(map[constants.SampleState]int64, len(constants.AllSampleStates))}
	for _, s := range constants.AllSampleStates {
		stats.ByState[s] = 0
	}

	var counts []stateCount
	if err := r.db.SelectContext(ctx, &counts, queryCountByState); err != nil {
		return nil, fmt.Errorf("failed to count samples by state: %w", err)
	}
	for _, c := range counts {
		stats.ByState[constants.SampleState(c.State)] = c.Count
	}

	var oldest sql.NullInt64
	if err := r.db.GetContext(ctx, &oldest, r.db.Rebind(queryOldestPending), string(constants.SampleStatePending)); err != nil {
		return nil, fmt.Errorf("failed to read oldest pending sample: %w", err)
	}
	if oldest.Valid {
		t := time.UnixMilli(oldest.Int64).UTC()
		stats.OldestPending = &t
		stats.OldestPendingAge = now.Sub(t)
	}

	var mc mutationCounts
	if err := r.db.GetContext(ctx, &mc, queryMutationCounts); err != nil {
		return nil, fmt.Errorf("failed to count mutations: %w", err)
	}
	stats.ActiveMutations = mc.Active
	stats.RejectedMutations = mc.Rejected

	var tc mirrorCounts
	if err := r.db.GetContext(ctx, &tc, queryMirrorCounts); err != nil {
		return nil, fmt.Errorf("failed to count timeline points: %w", err)
	}
	stats.MirrorPoints = tc.Total
	stats.UnlinkedPoints = tc.Unlinked

	return stats, nil
}
