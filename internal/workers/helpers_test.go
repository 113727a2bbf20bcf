package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db"
	"geotrail/syncd/internal/events"
	"geotrail/syncd/internal/models/dtos"
	gormModels "geotrail/syncd/internal/models/gorm"
	"geotrail/syncd/internal/providers"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	gdb, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// sampleAt builds a sample captured `minutes` after baseTime, moved north by lat degrees.
func sampleAt(minutes int, lat float64) *gormModels.QueuedSample {
	return &gormModels.QueuedSample{
		Latitude:       40.0 + lat,
		Longitude:      -74.0,
		CapturedAt:     baseTime.Add(time.Duration(minutes) * time.Minute).UnixMilli(),
		Provider:       string(constants.ProviderGPS),
		IdempotencyKey: uuid.NewString(),
	}
}

type staticStatus bool

func (s staticStatus) Online() bool { return bool(s) }

type switchStatus struct{ v atomic.Bool }

func (s *switchStatus) Online() bool { return s.v.Load() }

// mockSyncClient answers with per-operation funcs. A nil func answers Success.
type mockSyncClient struct {
	unconfigured bool
	checkIn      func(req dtos.CheckInRequest, key string) (providers.Result, error)
	update       func(id int64, fields dtos.PointFields) (providers.Result, error)
	delete       func(id int64) (providers.Result, error)

	checkIns atomic.Int32
	updates  atomic.Int32
	deletes  atomic.Int32
}

func (m *mockSyncClient) Configured() bool { return !m.unconfigured }

func (m *mockSyncClient) CheckIn(_ context.Context, req dtos.CheckInRequest, key string) (providers.Result, error) {
	n := m.checkIns.Add(1)
	if m.checkIn != nil {
		return m.checkIn(req, key)
	}
	return providers.Success{RemoteID: 1000 + int64(n)}, nil
}

func (m *mockSyncClient) UpdateEntity(_ context.Context, id int64, fields dtos.PointFields) (providers.Result, error) {
	m.updates.Add(1)
	if m.update != nil {
		return m.update(id, fields)
	}
	return providers.Success{RemoteID: id}, nil
}

func (m *mockSyncClient) DeleteEntity(_ context.Context, id int64) (providers.Result, error) {
	m.deletes.Add(1)
	if m.delete != nil {
		return m.delete(id)
	}
	return providers.Success{RemoteID: id}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []events.Notification
}

func (p *recordingPublisher) Publish(n events.Notification) {
	p.mu.Lock()
	p.sent = append(p.sent, n)
	p.mu.Unlock()
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, n := range p.sent {
		out = append(out, n.Kind)
	}
	return out
}
