package repositories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"geotrail/syncd/internal/constants"
	"geotrail/syncd/internal/db"
	gormModels "geotrail/syncd/internal/models/gorm"

	"gorm.io/gorm"
)

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

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newSample(i int) *gormModels.QueuedSample {
	return &gormModels.QueuedSample{
		Latitude:       40.0 + float64(i)*0.01,
		Longitude:      -74.0,
		CapturedAt:     baseTime.Add(time.Duration(i) * time.Minute).UnixMilli(),
		Provider:       string(constants.ProviderGPS),
		IdempotencyKey: fmt.Sprintf("key-%d", i),
	}
}

func enqueueN(t *testing.T, repo *SampleQueueRepo, n int) []*gormModels.QueuedSample {
	t.Helper()
	out := make([]*gormModels.QueuedSample, 0, n)
	for i := 0; i < n; i++ {
		s := newSample(i)
		if err := repo.Enqueue(context.Background(), s); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func TestSampleQueueRepo_ClaimOldestFirst(t *testing.T) {
	repo := NewSampleQueueRepo(setupTestDB(t))
	samples := enqueueN(t, repo, 3)
	ctx := context.Background()

	claimed, err := repo.ClaimNext(ctx, 5)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if claimed == nil || claimed.ID != samples[0].ID {
		t.Fatalf("Expected oldest sample to be claimed, got %+v", claimed)
	}
	if claimed.State != constants.SampleStateSyncing || claimed.Attempts != 1 {
		t.Errorf("Expected Syncing with 1 attempt, got %s/%d", claimed.State, claimed.Attempts)
	}

	stored, _ := repo.GetByID(ctx, claimed.ID)
	if stored.State != constants.SampleStateSyncing {
		t.Errorf("Expected stored state Syncing, got %s", stored.State)
	}
}

func TestSampleQueueRepo_UserInvokedFirstWithinBatch(t *testing.T) {
	repo := NewSampleQueueRepo(setupTestDB(t))
	ctx := context.Background()

	enqueueN(t, repo, 3)
	manual := newSample(3)
	manual.IsUserInvoked = true
	if err := repo.Enqueue(ctx, manual); err != nil {
		t.Fatal(err)
	}

	claimed, err := repo.ClaimNext(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if claimed.ID != manual.ID {
		t.Errorf("Expected user-invoked sample %d first, got %d", manual.ID, claimed.ID)
	}

	// Outside the leading batch the user-invoked flag does not jump the queue.
	repo2 := NewSampleQueueRepo(setupTestDB(t))
	enqueueN(t, repo2, 3)
	late := newSample(10)
	late.IsUserInvoked = true
	repo2.Enqueue(ctx, late)

	claimed, _ = repo2.ClaimNext(ctx, 2)
	if claimed.ID == late.ID {
		t.Error("Expected user-invoked sample outside the batch to wait")
	}
}

func TestSampleQueueRepo_NoDoubleClaim(t *testing.T) {
	repo := NewSampleQueueRepo(setupTestDB(t))
	const total = 40
	enqueueN(t, repo, total)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		counts = make(map[uint]int)
		wg     sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				s, err := repo.ClaimNext(ctx, 5)
				if err != nil {
					t.Errorf("Claim failed: %v", err)
					return
				}
				if s == nil {
					more, err := repo.HasPending(ctx)
					if err != nil || !more {
						return
					}
					continue
				}
				mu.Lock()
				counts[s.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(counts) != total {
		t.Fatalf("Expected %d distinct claims, got %d", total, len(counts))
	}
	for id, n := range counts {
		if n != 1 {
			t.Errorf("Sample %d claimed %d times", id, n)
		}
	}
}

func TestSampleQueueRepo_CrashRecovery(t *testing.T) {
	repo := NewSampleQueueRepo(setupTestDB(t))
	ctx := context.Background()
	enqueueN(t, repo, 2)

	first, _ := repo.ClaimNext(ctx, 5)
	second, _ := repo.ClaimNext(ctx, 5)

	// The first one got its server id before the crash; the second did not.
	if err := repo.MarkSynced(ctx, first.ID, 501); err != nil {
		t.Fatal(err)
	}
	if err := repo.db.Model(&gormModels.QueuedSample{}).Where("id = ?", first.ID).
		Update("state", constants.SampleStateSyncing).Error; err != nil {
		t.Fatal(err)
	}

	reset, confirmed, err := repo.ResetOrphaned(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if reset != 1 || confirmed != 1 {
		t.Errorf("Expected 1 reset and 1 confirmed, got %d and %d", reset, confirmed)
	}

	got, _ := repo.GetByID(ctx, second.ID)
	if got.State != constants.SampleStatePending {
		t.Errorf("Expected orphan to be Pending, got %s", got.State)
	}
	got, _ = repo.GetByID(ctx, first.ID)
	if got.State != constants.SampleStateSynced || got.ServerID == nil || *got.ServerID != 501 {
		t.Errorf("Expected confirmed orphan to be Synced with id 501, got %s", got.State)
	}

	claimed, _ := repo.ClaimNext(ctx, 5)
	if claimed == nil || claimed.ID != second.ID {
		t.Fatalf("Expected only the unconfirmed sample to be claimable")
	}
	if claimed, _ := repo.ClaimNext(ctx, 5); claimed != nil {
		t.Errorf("Expected confirmed sample never to be claimed again, got %d", claimed.ID)
	}
}

func TestSampleQueueRepo_ResetToPendingKeepsConfirmed(t *testing.T) {
	repo := NewSampleQueueRepo(setupTestDB(t))
	ctx := context.Background()
	enqueueN(t, repo, 1)

	s, _ := repo.ClaimNext(ctx, 1)
	repo.MarkSynced(ctx, s.ID, 9)
	if err := repo.ResetToPending(ctx, s.ID, "late failure"); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetByID(ctx, s.ID)
	if got.State != constants.SampleStateSynced {
		t.Errorf("Expected Synced to be kept, got %s", got.State)
	}
}

func TestSampleQueueRepo_RetryFailedAndPurge(t *testing.T) {
	repo := NewSampleQueueRepo(setupTestDB(t))
	ctx := context.Background()
	enqueueN(t, repo, 2)

	a, _ := repo.ClaimNext(ctx, 1)
	repo.MarkFailed(ctx, a.ID, "boom")
	b, _ := repo.ClaimNext(ctx, 1)
	repo.MarkSynced(ctx, b.ID, 77)

	n, err := repo.RetryFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 retried row, got %d (%v)", n, err)
	}

	purged, err := repo.PurgeSynced(ctx, time.Now().Add(time.Minute))
	if err != nil || purged != 1 {
		t.Fatalf("Expected 1 purged row, got %d (%v)", purged, err)
	}
	if got, _ := repo.GetByID(ctx, b.ID); got != nil {
		t.Error("Expected synced row to be purged")
	}
	if got, _ := repo.GetByID(ctx, a.ID); got == nil || got.State != constants.SampleStatePending {
		t.Error("Expected failed row to be pending again")
	}
}

func TestSampleQueueRepo_FindConfirmedByMatch(t *testing.T) {
	repo := NewSampleQueueRepo(setupTestDB(t))
	ctx := context.Background()
	samples := enqueueN(t, repo, 1)

	s, _ := repo.ClaimNext(ctx, 1)
	repo.MarkSynced(ctx, s.ID, 12)

	got, err := repo.FindConfirmedByMatch(ctx, samples[0].CapturedAt, samples[0].Latitude+5e-8, samples[0].Longitude)
	if err != nil || got == nil || *got.ServerID != 12 {
		t.Fatalf("Expected match within tolerance, got %+v (%v)", got, err)
	}

	got, _ = repo.FindConfirmedByMatch(ctx, samples[0].CapturedAt+1, samples[0].Latitude, samples[0].Longitude)
	if got != nil {
		t.Error("Expected timestamps to match exactly")
	}
	got, _ = repo.FindConfirmedByMatch(ctx, samples[0].CapturedAt, samples[0].Latitude+1e-6, samples[0].Longitude)
	if got != nil {
		t.Error("Expected coordinates outside tolerance not to match")
	}
}
