package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geotrail/syncd/internal/models/dtos"
	gormModels "geotrail/syncd/internal/models/gorm"

	"gorm.io/gorm"
)

// TimelineRepo is the local mirror of timeline points
type TimelineRepo struct {
	db *gorm.DB
}

// NewTimelineRepo creates a new timeline repository
func NewTimelineRepo(db *gorm.DB) *TimelineRepo {
	return &TimelineRepo{db: db}
}

func (r *TimelineRepo) Insert(ctx context.Context, p *gormModels.TimelinePoint) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to insert timeline point: %w", err)
	}
	return nil
}

// InsertIfAbsent inserts p unless a point with the same match key already exists.
// It returns the stored point and whether it was inserted.
func (r *TimelineRepo) InsertIfAbsent(ctx context.Context, p *gormModels.TimelinePoint) (*gormModels.TimelinePoint, bool, error) {
	var stored *gormModels.TimelinePoint
	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findByMatch(tx, p.Timestamp, p.Latitude, p.Longitude)
		if err != nil {
			return err
		}
		if existing != nil {
			stored = existing
			return nil
		}
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		stored, inserted = p, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert timeline point: %w", err)
	}
	return stored, inserted, nil
}

// GetByServerID returns the point confirmed with serverID or ErrPointNotFound
func (r *TimelineRepo) GetByServerID(ctx context.Context, serverID int64) (*gormModels.TimelinePoint, error) {
	var p gormModels.TimelinePoint
	err := r.db.WithContext(ctx).Where("server_id = ?", serverID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPointNotFound
		}
		return nil, fmt.Errorf("failed to fetch timeline point %d: %w", serverID, err)
	}
	return &p, nil
}

// GetByID returns the point with the local id or ErrPointNotFound
func (r *TimelineRepo) GetByID(ctx context.Context, id uint) (*gormModels.TimelinePoint, error) {
	var p gormModels.TimelinePoint
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPointNotFound
		}
		return nil, fmt.Errorf("failed to fetch timeline point: %w", err)
	}
	return &p, nil
}

// FindByMatch returns the point with the given timestamp and coordinates, or nil
func (r *TimelineRepo) FindByMatch(ctx context.Context, timestamp int64, lat, lon float64) (*gormModels.TimelinePoint, error) {
	p, err := findByMatch(r.db.WithContext(ctx), timestamp, lat, lon)
	if err != nil {
		return nil, fmt.Errorf("failed to match timeline point: %w", err)
	}
	return p, nil
}

func findByMatch(db *gorm.DB, timestamp int64, lat, lon float64) (*gormModels.TimelinePoint, error) {
	var p gormModels.TimelinePoint
	err := db.
		Where("timestamp = ?", timestamp).
		Where("latitude BETWEEN ? AND ?", lat-MatchTolerance, lat+MatchTolerance).
		Where("longitude BETWEEN ? AND ?", lon-MatchTolerance, lon+MatchTolerance).
		Order("id ASC").
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// LinkServerID records the confirmed remote id on a local point
func (r *TimelineRepo) LinkServerID(ctx context.Context, id uint, serverID int64) error {
	err := r.db.WithContext(ctx).
		Model(&gormModels.TimelinePoint{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"server_id":  serverID,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to link timeline point %d: %w", id, err)
	}
	return nil
}

// ApplyFields writes the set fields onto the point confirmed with serverID
func (r *TimelineRepo) ApplyFields(ctx context.Context, serverID int64, fields dtos.PointFields) error {
	values := FieldValues(fields)
	if len(values) == 0 {
		return nil
	}
	values["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).
		Model(&gormModels.TimelinePoint{}).
		Where("server_id = ?", serverID).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to update timeline point %d: %w", serverID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPointNotFound
	}
	return nil
}

// DeleteByServerID removes the point confirmed with serverID
func (r *TimelineRepo) DeleteByServerID(ctx context.Context, serverID int64) error {
	res := r.db.WithContext(ctx).Where("server_id = ?", serverID).Delete(&gormModels.TimelinePoint{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete timeline point %d: %w", serverID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPointNotFound
	}
	return nil
}

// DeleteByMatch removes unconfirmed points with the given match key
func (r *TimelineRepo) DeleteByMatch(ctx context.Context, timestamp int64, lat, lon float64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("server_id IS NULL AND timestamp = ?", timestamp).
		Where("latitude BETWEEN ? AND ?", lat-MatchTolerance, lat+MatchTolerance).
		Where("longitude BETWEEN ? AND ?", lon-MatchTolerance, lon+MatchTolerance).
		Delete(&gormModels.TimelinePoint{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete skipped timeline point: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Restore re-inserts a deleted point exactly as snapshotted, including its local id
func (r *TimelineRepo) Restore(ctx context.Context, snapshot gormModels.TimelinePoint) error {
	if err := r.db.WithContext(ctx).Save(&snapshot).Error; err != nil {
		return fmt.Errorf("failed to restore timeline point: %w", err)
	}
	return nil
}

// ListMissingServerID returns unconfirmed points with a timestamp at or after since
func (r *TimelineRepo) ListMissingServerID(ctx context.Context, since time.Time) ([]gormModels.TimelinePoint, error) {
	var rows []gormModels.TimelinePoint
	err := r.db.WithContext(ctx).
		Where("server_id IS NULL AND timestamp >= ?", since.UnixMilli()).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unconfirmed timeline points: %w", err)
	}
	return rows, nil
}

// LatestBefore returns the newest point strictly before the timestamp, or nil
func (r *TimelineRepo) LatestBefore(ctx context.Context, before int64) (*gormModels.TimelinePoint, error) {
	var p gormModels.TimelinePoint
	err := r.db.WithContext(ctx).
		Where("timestamp < ?", before).
		Order("timestamp DESC, id DESC").
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch latest timeline point: %w", err)
	}
	return &p, nil
}

// Latest returns the newest point, or nil when the mirror is empty
func (r *TimelineRepo) Latest(ctx context.Context) (*gormModels.TimelinePoint, error) {
	var p gormModels.TimelinePoint
	err := r.db.WithContext(ctx).Order("timestamp DESC, id DESC").First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch latest timeline point: %w", err)
	}
	return &p, nil
}

// FieldValues converts the set fields into column updates
func FieldValues(f dtos.PointFields) map[string]interface{} {
	values := map[string]interface{}{}
	if f.Latitude != nil {
		values["latitude"] = *f.Latitude
	}
	if f.Longitude != nil {
		values["longitude"] = *f.Longitude
	}
	if f.Timestamp != nil {
		values["timestamp"] = f.Timestamp.UnixMilli()
	}
	if f.Activity != nil {
		values["activity"] = *f.Activity
	}
	if f.Notes != nil {
		values["notes"] = *f.Notes
	}
	return values
}

// RevertFields writes back the snapshot's values for every field set in mask,
// including NULLs, onto the point confirmed with serverID
func (r *TimelineRepo) RevertFields(ctx context.Context, serverID int64, snapshot gormModels.TimelinePoint, mask dtos.PointFields) error {
	values := map[string]interface{}{}
	if mask.Latitude != nil {
		values["latitude"] = snapshot.Latitude
	}
	if mask.Longitude != nil {
		values["longitude"] = snapshot.Longitude
	}
	if mask.Timestamp != nil {
		values["timestamp"] = snapshot.Timestamp
	}
	if mask.Activity != nil {
		values["activity"] = snapshot.Activity
	}
	if mask.Notes != nil {
		values["notes"] = snapshot.Notes
	}
	if len(values) == 0 {
		return nil
	}
	values["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).
		Model(&gormModels.TimelinePoint{}).
		Where("server_id = ?", serverID).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to revert timeline point %d: %w", serverID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPointNotFound
	}
	return nil
}
