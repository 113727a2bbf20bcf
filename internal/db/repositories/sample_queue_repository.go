package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"geotrail/syncd/internal/constants"
	gormModels "geotrail/syncd/internal/models/gorm"

	"gorm.io/gorm"
)

// MatchTolerance is how far apart two coordinates may be and still identify the same
// sample. Timestamps must match exactly in milliseconds.
const MatchTolerance = 1e-7

// SampleQueueRepo is the persistent work queue of captured samples.
type SampleQueueRepo struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSampleQueueRepo creates a new sample queue repository
func NewSampleQueueRepo(db *gorm.DB) *SampleQueueRepo {
	return &SampleQueueRepo{db: db, now: time.Now}
}

// Enqueue stores a new Pending sample
func (r *SampleQueueRepo) Enqueue(ctx context.Context, s *gormModels.QueuedSample) error {
	s.State = constants.SampleStatePending
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("failed to enqueue sample: %w", err)
	}
	return nil
}

// GetByID returns the sample or nil when it does not exist
func (r *SampleQueueRepo) GetByID(ctx context.Context, id uint) (*gormModels.QueuedSample, error) {
	var s gormModels.QueuedSample
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch sample %d: %w", id, err)
	}
	return &s, nil
}

// GetByIdempotencyKey returns the sample with the key or nil
func (r *SampleQueueRepo) GetByIdempotencyKey(ctx context.Context, key string) (*gormModels.QueuedSample, error) {
	var s gormModels.QueuedSample
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch sample by key: %w", err)
	}
	return &s, nil
}

// ClaimNext reads the batchSize oldest Pending samples, puts user-invoked ones first and
// moves the first one it can to Syncing with a conditional update. It returns nil when
// nothing could be claimed. Rows that already carry a server id are never claimed.
func (r *SampleQueueRepo) ClaimNext(ctx context.Context, batchSize int) (*gormModels.QueuedSample, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	var batch []gormModels.QueuedSample
	err := r.db.WithContext(ctx).
		Where("state = ? AND server_id IS NULL", constants.SampleStatePending).
		Order("captured_at ASC, id ASC").
		Limit(batchSize).
		Find(&batch).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read pending batch: %w", err)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].IsUserInvoked && !batch[j].IsUserInvoked
	})

	for i := range batch {
		res := r.db.WithContext(ctx).
			Model(&gormModels.QueuedSample{}).
			Where("id = ? AND state = ? AND server_id IS NULL", batch[i].ID, constants.SampleStatePending).
			Updates(map[string]interface{}{
				"state":      constants.SampleStateSyncing,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": r.now(),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim sample %d: %w", batch[i].ID, res.Error)
		}
		if res.RowsAffected == 1 {
			claimed := batch[i]
			claimed.State = constants.SampleStateSyncing
			claimed.Attempts++
			return &claimed, nil
		}
	}
	return nil, nil
}

// MarkSynced records the confirmed remote id and the Synced state in a single write.
func (r *SampleQueueRepo) MarkSynced(ctx context.Context, id uint, remoteID int64) error {
	now := r.now()
	return r.update(ctx, id, map[string]interface{}{
		"state":      constants.SampleStateSynced,
		"server_id":  remoteID,
		"synced_at":  now.UnixMilli(),
		"last_error": "",
		"updated_at": now,
	})
}

// MarkRejected parks the sample permanently with a reason
func (r *SampleQueueRepo) MarkRejected(ctx context.Context, id uint, reason string) error {
	return r.update(ctx, id, map[string]interface{}{
		"state":      constants.SampleStateRejected,
		"last_error": reason,
		"updated_at": r.now(),
	})
}

// MarkFailed parks the sample after an unclassified error
func (r *SampleQueueRepo) MarkFailed(ctx context.Context, id uint, message string) error {
	return r.update(ctx, id, map[string]interface{}{
		"state":      constants.SampleStateFailed,
		"last_error": message,
		"updated_at": r.now(),
	})
}

// ResetToPending returns a claimed sample to the queue for retry.
// Samples already confirmed by the server are left alone.
func (r *SampleQueueRepo) ResetToPending(ctx context.Context, id uint, lastError string) error {
	err := r.db.WithContext(ctx).
		Model(&gormModels.QueuedSample{}).
		Where("id = ? AND server_id IS NULL", id).
		Updates(map[string]interface{}{
			"state":      constants.SampleStatePending,
			"last_error": lastError,
			"updated_at": r.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reset sample %d: %w", id, err)
	}
	return nil
}

// ResetOrphaned repairs rows left in Syncing by a crash. Rows with a confirmed server id
// become Synced; the rest go back to Pending.
func (r *SampleQueueRepo) ResetOrphaned(ctx context.Context) (reset int64, confirmed int64, err error) {
	now := r.now()
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&gormModels.QueuedSample{}).
			Where("state = ? AND server_id IS NOT NULL", constants.SampleStateSyncing).
			Updates(map[string]interface{}{
				"state":      constants.SampleStateSynced,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		confirmed = res.RowsAffected

		res = tx.Model(&gormModels.QueuedSample{}).
			Where("state = ?", constants.SampleStateSyncing).
			Updates(map[string]interface{}{
				"state":      constants.SampleStatePending,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		reset = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reset orphaned samples: %w", err)
	}
	return reset, confirmed, nil
}

// SetDeletedLocally flags or unflags the samples confirmed with serverID as deleted from
// the timeline.
func (r *SampleQueueRepo) SetDeletedLocally(ctx context.Context, serverID int64, deleted bool) error {
	err := r.db.WithContext(ctx).
		Model(&gormModels.QueuedSample{}).
		Where("server_id = ?", serverID).
		Updates(map[string]interface{}{
			"deleted_locally": deleted,
			"updated_at":      r.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to flag samples of point %d: %w", serverID, err)
	}
	return nil
}

// RetryFailed moves every Failed sample back to Pending
func (r *SampleQueueRepo) RetryFailed(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&gormModels.QueuedSample{}).
		Where("state = ? AND server_id IS NULL", constants.SampleStateFailed).
		Updates(map[string]interface{}{
			"state":      constants.SampleStatePending,
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to retry failed samples: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeSynced deletes Synced samples confirmed before the cutoff
func (r *SampleQueueRepo) PurgeSynced(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("state = ? AND synced_at IS NOT NULL AND synced_at < ?", constants.SampleStateSynced, before.UnixMilli()).
		Delete(&gormModels.QueuedSample{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge synced samples: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListNotRejectedSince returns every non-rejected sample captured at or after since,
// oldest first. Samples whose point was deleted locally are left out.
func (r *SampleQueueRepo) ListNotRejectedSince(ctx context.Context, since time.Time) ([]gormModels.QueuedSample, error) {
	var rows []gormModels.QueuedSample
	err := r.db.WithContext(ctx).
		Where("state <> ? AND captured_at >= ?", constants.SampleStateRejected, since.UnixMilli()).
		Where("deleted_locally = ?", false).
		Order("captured_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list samples for backfill: %w", err)
	}
	return rows, nil
}

// FindConfirmedByMatch returns the Synced sample with the given capture time and
// coordinates, or nil.
func (r *SampleQueueRepo) FindConfirmedByMatch(ctx context.Context, capturedAt int64, lat, lon float64) (*gormModels.QueuedSample, error) {
	var s gormModels.QueuedSample
	err := r.db.WithContext(ctx).
		Where("state = ? AND server_id IS NOT NULL", constants.SampleStateSynced).
		Where("captured_at = ?", capturedAt).
		Where("latitude BETWEEN ? AND ?", lat-MatchTolerance, lat+MatchTolerance).
		Where("longitude BETWEEN ? AND ?", lon-MatchTolerance, lon+MatchTolerance).
		Order("id ASC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to match sample: %w", err)
	}
	return &s, nil
}

// HasPending reports whether any sample is waiting to be sent
func (r *SampleQueueRepo) HasPending(ctx context.Context) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&gormModels.QueuedSample{}).
		Where("state = ? AND server_id IS NULL", constants.SampleStatePending).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check pending samples: %w", err)
	}
	return count > 0, nil
}

func (r *SampleQueueRepo) update(ctx context.Context, id uint, values map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&gormModels.QueuedSample{}).
		Where("id = ?", id).
		Updates(values).Error
	if err != nil {
		return fmt.Errorf("failed to update sample %d: %w", id, err)
	}
	return nil
}
