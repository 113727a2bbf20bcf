package repositories

import (
	"context"
	"errors"
	"testing"

	"geotrail/syncd/internal/constants"
	gormModels "geotrail/syncd/internal/models/gorm"
)

func TestMutationRepo_Lifecycle(t *testing.T) {
	repo := NewMutationRepo(setupTestDB(t))
	ctx := context.Background()

	m := &gormModels.PendingMutation{
		Operation:    constants.MutationOpUpdate,
		TargetID:     10,
		NewValues:    `{"notes":"x"}`,
		RollbackData: `{"id":1}`,
	}
	if err := repo.Create(ctx, m); err != nil {
		t.Fatal(err)
	}

	active, err := repo.FindActiveByTarget(ctx, 10)
	if err != nil || active == nil || active.ID != m.ID {
		t.Fatalf("Expected active mutation, got %+v (%v)", active, err)
	}

	if err := repo.IncrementAttempts(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.Acknowledge(ctx, m.ID); !errors.Is(err, ErrMutationNotFound) {
		t.Errorf("Expected active mutation not to be acknowledgeable, got %v", err)
	}

	if err := repo.MarkRejected(ctx, m.ID, "422 invalid"); err != nil {
		t.Fatal(err)
	}
	if active, _ := repo.FindActiveByTarget(ctx, 10); active != nil {
		t.Error("Expected rejected mutation not to be active")
	}

	rejected, _ := repo.ListRejected(ctx)
	if len(rejected) != 1 || rejected[0].Attempts != 1 || rejected[0].RejectionReason != "422 invalid" {
		t.Fatalf("Expected one parked mutation, got %+v", rejected)
	}

	if err := repo.Acknowledge(ctx, m.ID); err != nil {
		t.Fatalf("Expected acknowledge to succeed, got %v", err)
	}
	if _, err := repo.GetByID(ctx, m.ID); !errors.Is(err, ErrMutationNotFound) {
		t.Errorf("Expected mutation to be gone, got %v", err)
	}
}
