package gorm

import "time"

// SyncReferenceRowID is the primary key of the single persisted reference row.
const SyncReferenceRowID = 1

// SyncReferenceRow persists the last confirmed-delivered sample position.
type SyncReferenceRow struct {
	ID        uint    `gorm:"column:id;primaryKey"`
	Latitude  float64 `gorm:"column:latitude;not null"`
	Longitude float64 `gorm:"column:longitude;not null"`
	// Timestamp is the sample capture time in unix milliseconds.
	Timestamp int64     `gorm:"column:timestamp;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (SyncReferenceRow) TableName() string {
	return "sync_reference"
}
