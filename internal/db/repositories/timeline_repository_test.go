package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"geotrail/syncd/internal/filter"
	"geotrail/syncd/internal/models/dtos"
	gormModels "geotrail/syncd/internal/models/gorm"
)

func strPtr(s string) *string { return &s }

func TestTimelineRepo_InsertIfAbsent(t *testing.T) {
	repo := NewTimelineRepo(setupTestDB(t))
	ctx := context.Background()

	p := &gormModels.TimelinePoint{Latitude: 40, Longitude: -74, Timestamp: baseTime.UnixMilli()}
	_, inserted, err := repo.InsertIfAbsent(ctx, p)
	if err != nil || !inserted {
		t.Fatalf("Expected insert, got %v (%v)", inserted, err)
	}

	dup := &gormModels.TimelinePoint{Latitude: 40 + 5e-8, Longitude: -74, Timestamp: baseTime.UnixMilli()}
	stored, inserted, err := repo.InsertIfAbsent(ctx, dup)
	if err != nil || inserted {
		t.Fatalf("Expected duplicate to be ignored, got %v (%v)", inserted, err)
	}
	if stored.ID != p.ID {
		t.Errorf("Expected existing point %d, got %d", p.ID, stored.ID)
	}
}

func TestTimelineRepo_ApplyAndRevertFields(t *testing.T) {
	repo := NewTimelineRepo(setupTestDB(t))
	ctx := context.Background()

	serverID := int64(33)
	original := &gormModels.TimelinePoint{ServerID: &serverID, Latitude: 40, Longitude: -74, Timestamp: baseTime.UnixMilli()}
	if err := repo.Insert(ctx, original); err != nil {
		t.Fatal(err)
	}
	snapshot, _ := repo.GetByServerID(ctx, serverID)

	lat := 41.0
	fields := dtos.PointFields{Latitude: &lat, Notes: strPtr("edited")}
	if err := repo.ApplyFields(ctx, serverID, fields); err != nil {
		t.Fatal(err)
	}
	edited, _ := repo.GetByServerID(ctx, serverID)
	if edited.Latitude != 41 || edited.Notes == nil || *edited.Notes != "edited" {
		t.Fatalf("Expected edit to be applied, got %+v", edited)
	}

	if err := repo.RevertFields(ctx, serverID, *snapshot, fields); err != nil {
		t.Fatal(err)
	}
	reverted, _ := repo.GetByServerID(ctx, serverID)
	if reverted.Latitude != 40 || reverted.Notes != nil {
		t.Errorf("Expected original values including NULL notes, got lat=%v notes=%v", reverted.Latitude, reverted.Notes)
	}

	if err := repo.ApplyFields(ctx, 999, fields); !errors.Is(err, ErrPointNotFound) {
		t.Errorf("Expected ErrPointNotFound, got %v", err)
	}
}

func TestTimelineRepo_DeleteAndRestore(t *testing.T) {
	repo := NewTimelineRepo(setupTestDB(t))
	ctx := context.Background()

	serverID := int64(8)
	p := &gormModels.TimelinePoint{ServerID: &serverID, Latitude: 1, Longitude: 2, Timestamp: 3, Activity: strPtr("walk")}
	repo.Insert(ctx, p)
	snapshot, _ := repo.GetByServerID(ctx, serverID)

	if err := repo.DeleteByServerID(ctx, serverID); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetByServerID(ctx, serverID); !errors.Is(err, ErrPointNotFound) {
		t.Fatalf("Expected point to be deleted, got %v", err)
	}

	if err := repo.Restore(ctx, *snapshot); err != nil {
		t.Fatal(err)
	}
	restored, err := repo.GetByServerID(ctx, serverID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.ID != snapshot.ID || *restored.Activity != "walk" || restored.Timestamp != 3 {
		t.Errorf("Expected identical restore, got %+v", restored)
	}
}

func TestTimelineRepo_DeleteByMatchOnlyUnlinked(t *testing.T) {
	repo := NewTimelineRepo(setupTestDB(t))
	ctx := context.Background()

	linked := int64(5)
	repo.Insert(ctx, &gormModels.TimelinePoint{ServerID: &linked, Latitude: 1, Longitude: 1, Timestamp: 100})
	repo.Insert(ctx, &gormModels.TimelinePoint{Latitude: 2, Longitude: 2, Timestamp: 200})

	if n, _ := repo.DeleteByMatch(ctx, 100, 1, 1); n != 0 {
		t.Error("Expected linked point to be kept")
	}
	if n, _ := repo.DeleteByMatch(ctx, 200, 2, 2); n != 1 {
		t.Error("Expected unlinked point to be removed")
	}
}

func TestSyncReferenceRepo_RoundTrip(t *testing.T) {
	repo := NewSyncReferenceRepo(setupTestDB(t))
	ctx := context.Background()

	if p, err := repo.LoadReference(ctx); err != nil || p != nil {
		t.Fatalf("Expected empty reference, got %v (%v)", p, err)
	}

	first := filter.Point{Latitude: 40, Longitude: -74, Timestamp: baseTime}
	second := filter.Point{Latitude: 41, Longitude: -75, Timestamp: baseTime.Add(time.Hour)}
	if err := repo.SaveReference(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveReference(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := repo.LoadReference(ctx)
	if err != nil || got == nil {
		t.Fatalf("Expected stored reference, got %v", err)
	}
	if !got.Timestamp.Equal(second.Timestamp) || got.Latitude != 41 {
		t.Errorf("Expected the latest reference, got %+v", got)
	}

	if err := repo.ClearReference(ctx); err != nil {
		t.Fatal(err)
	}
	if p, _ := repo.LoadReference(ctx); p != nil {
		t.Error("Expected reference to be cleared")
	}
}
