package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db/repositories"
	"geotrail/syncd/internal/metrics"
)

type countingKicker struct{ kicks int }

func (k *countingKicker) Kick() { k.kicks++ }

type stubStats struct {
	stats *repositories.QueueStats
	err   error
}

func (s stubStats) Collect(context.Context, time.Time) (*repositories.QueueStats, error) {
	return s.stats, s.err
}

func TestQueueMonitor_KicksWhenWorkIsWaiting(t *testing.T) {
	stats := &repositories.QueueStats{
		ByState: map[constants.SampleState]int64{
			constants.SampleStatePending: 3,
			constants.SampleStateSynced:  10,
		},
		OldestPendingAge: 2 * time.Minute,
		ActiveMutations:  1,
	}
	samples, mutations := &countingKicker{}, &countingKicker{}
	m := NewQueueMonitor(stubStats{stats: stats}, samples, mutations, metrics.NewMetricsRegistry(), time.Minute)

	if got := m.Check(context.Background()); got != stats {
		t.Fatalf("Expected collected stats, got %+v", got)
	}
	if samples.kicks != 1 || mutations.kicks != 1 {
		t.Errorf("Expected both drains kicked once, got %d/%d", samples.kicks, mutations.kicks)
	}
	if m.Last() != stats {
		t.Error("Expected last stats to be kept")
	}
}

func TestQueueMonitor_IdleQueue(t *testing.T) {
	stats := &repositories.QueueStats{ByState: map[constants.SampleState]int64{constants.SampleStateSynced: 4}}
	samples, mutations := &countingKicker{}, &countingKicker{}
	m := NewQueueMonitor(stubStats{stats: stats}, samples, mutations, nil, time.Minute)

	m.Check(context.Background())
	if samples.kicks != 0 || mutations.kicks != 0 {
		t.Errorf("Expected no kicks, got %d/%d", samples.kicks, mutations.kicks)
	}
}

func TestQueueMonitor_CollectError(t *testing.T) {
	samples := &countingKicker{}
	m := NewQueueMonitor(stubStats{err: errors.New("database is locked")}, samples, nil, nil, time.Minute)

	if got := m.Check(context.Background()); got != nil {
		t.Errorf("Expected nil stats on error, got %+v", got)
	}
	if samples.kicks != 0 || m.Last() != nil {
		t.Error("Expected nothing recorded on error")
	}
}
