package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	gormModels "geotrail/syncd/internal/models/gorm"

	"gorm.io/gorm"
)

// MutationRepo stores queued timeline edits and deletes
type MutationRepo struct {
	db *gorm.DB
}

// NewMutationRepo creates a new mutation repository
func NewMutationRepo(db *gorm.DB) *MutationRepo {
	return &MutationRepo{db: db}
}

// FindActiveByTarget returns the non-rejected mutation for a target, or nil
func (r *MutationRepo) FindActiveByTarget(ctx context.Context, targetID int64) (*gormModels.PendingMutation, error) {
	var m gormModels.PendingMutation
	err := r.db.WithContext(ctx).
		Where("target_id = ? AND rejected = ?", targetID, false).
		Order("id ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch mutation for target %d: %w", targetID, err)
	}
	return &m, nil
}

// GetByID returns a mutation or ErrMutationNotFound
func (r *MutationRepo) GetByID(ctx context.Context, id uint) (*gormModels.PendingMutation, error) {
	var m gormModels.PendingMutation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMutationNotFound
		}
		return nil, fmt.Errorf("failed to fetch mutation %d: %w", id, err)
	}
	return &m, nil
}

func (r *MutationRepo) Create(ctx context.Context, m *gormModels.PendingMutation) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to queue mutation: %w", err)
	}
	return nil
}

// Save writes every column of an existing mutation
func (r *MutationRepo) Save(ctx context.Context, m *gormModels.PendingMutation) error {
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("failed to save mutation %d: %w", m.ID, err)
	}
	return nil
}

// ListActive returns non-rejected mutations, oldest first
func (r *MutationRepo) ListActive(ctx context.Context, limit int) ([]gormModels.PendingMutation, error) {
	var rows []gormModels.PendingMutation
	q := r.db.WithContext(ctx).Where("rejected = ?", false).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	return rows, nil
}

// ListRejected returns parked mutations awaiting acknowledgment
func (r *MutationRepo) ListRejected(ctx context.Context) ([]gormModels.PendingMutation, error) {
	var rows []gormModels.PendingMutation
	err := r.db.WithContext(ctx).Where("rejected = ?", true).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rejected mutations: %w", err)
	}
	return rows, nil
}

// IncrementAttempts bumps the attempt counter before a sync attempt
func (r *MutationRepo) IncrementAttempts(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&gormModels.PendingMutation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to increment attempts for mutation %d: %w", id, err)
	}
	return nil
}

// RecordError stores the last transient error without changing the state
func (r *MutationRepo) RecordError(ctx context.Context, id uint, message string) error {
	err := r.db.WithContext(ctx).
		Model(&gormModels.PendingMutation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_error": message,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record error for mutation %d: %w", id, err)
	}
	return nil
}

// MarkRejected parks a mutation after a permanent rejection
func (r *MutationRepo) MarkRejected(ctx context.Context, id uint, reason string) error {
	err := r.db.WithContext(ctx).
		Model(&gormModels.PendingMutation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"rejected":         true,
			"rejection_reason": reason,
			"updated_at":       time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reject mutation %d: %w", id, err)
	}
	return nil
}

// Delete removes a mutation after it was confirmed
func (r *MutationRepo) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&gormModels.PendingMutation{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete mutation %d: %w", id, err)
	}
	return nil
}

// Acknowledge deletes a rejected mutation. Active mutations cannot be acknowledged.
func (r *MutationRepo) Acknowledge(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND rejected = ?", id, true).
		Delete(&gormModels.PendingMutation{})
	if res.Error != nil {
		return fmt.Errorf("failed to acknowledge mutation %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMutationNotFound
	}
	return nil
}

// CountActive returns the number of mutations still waiting to sync
func (r *MutationRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&gormModels.PendingMutation{}).Where("rejected = ?", false).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return count, nil
}
