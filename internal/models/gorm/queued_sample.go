package gorm

import (
	"time"

	"geotrail/syncd/internal/constants"
)

// QueuedSample is a captured GPS fix awaiting delivery to the server
type QueuedSample struct {
	ID uint `gorm:"column:id;primaryKey;autoIncrement"`

	// Fix
	Latitude  float64  `gorm:"column:latitude;not null"`
	Longitude float64  `gorm:"column:longitude;not null"`
	Altitude  *float64 `gorm:"column:altitude"`
	Speed     *float64 `gorm:"column:speed"`
	Bearing   *float64 `gorm:"column:bearing"`
	Accuracy  *float64 `gorm:"column:accuracy"`

	// CapturedAt is the authoritative capture time in unix milliseconds.
	CapturedAt    int64   `gorm:"column:captured_at;not null;index:idx_queue_state_captured,priority:2"`
	Provider      string  `gorm:"column:provider;type:varchar(32)"`
	IsUserInvoked bool    `gorm:"column:is_user_invoked;not null;default:false"`
	Activity      *string `gorm:"column:activity;type:varchar(64)"`
	Notes         *string `gorm:"column:notes;type:text"`

	IdempotencyKey string `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex;not null"`

	// Sync progress
	State     constants.SampleState `gorm:"column:state;type:varchar(16);not null;index:idx_queue_state_captured,priority:1"`
	Attempts  int                   `gorm:"column:attempts;not null;default:0"`
	LastError string                `gorm:"column:last_error;type:text"`
	ServerID  *int64                `gorm:"column:server_id;index"`
	SyncedAt  *int64                `gorm:"column:synced_at"`
	// DeletedLocally marks a confirmed sample whose timeline point the user deleted.
	DeletedLocally bool `gorm:"column:deleted_locally;not null;default:false"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (QueuedSample) TableName() string {
	return "queued_samples"
}

// CapturedTime returns CapturedAt as a UTC time.
func (s *QueuedSample) CapturedTime() time.Time {
	return time.UnixMilli(s.CapturedAt).UTC()
}
