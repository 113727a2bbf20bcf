package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geotrail/syncd/internal/filter"
	gormModels "geotrail/syncd/internal/models/gorm"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncReferenceRepo persists the filter reference in a single-row table.
// It implements filter.ReferencePersister.
type SyncReferenceRepo struct {
	db *gorm.DB
}

// NewSyncReferenceRepo creates a new sync reference repository
func NewSyncReferenceRepo(db *gorm.DB) *SyncReferenceRepo {
	return &SyncReferenceRepo{db: db}
}

func (r *SyncReferenceRepo) LoadReference(ctx context.Context) (*filter.Point, error) {
	var row gormModels.SyncReferenceRow
	err := r.db.WithContext(ctx).Where("id = ?", gormModels.SyncReferenceRowID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load sync reference: %w", err)
	}
	return &filter.Point{
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
		Timestamp: time.UnixMilli(row.Timestamp).UTC(),
	}, nil
}

func (r *SyncReferenceRepo) SaveReference(ctx context.Context, p filter.Point) error {
	row := gormModels.SyncReferenceRow{
		ID:        gormModels.SyncReferenceRowID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp.UnixMilli(),
		UpdatedAt: time.Now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "timestamp", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save sync reference: %w", err)
	}
	return nil
}

func (r *SyncReferenceRepo) ClearReference(ctx context.Context) error {
	err := r.db.WithContext(ctx).Where("id = ?", gormModels.SyncReferenceRowID).Delete(&gormModels.SyncReferenceRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear sync reference: %w", err)
	}
	return nil
}
