package gorm

import "time"

// TimelinePoint is the locally visible copy of a timeline location.
// It is matched to queue rows by (Timestamp, Latitude, Longitude) until ServerID is known.
type TimelinePoint struct {
	ID       uint   `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ServerID *int64 `json:"server_id,omitempty" gorm:"column:server_id;index"`

	Latitude  float64 `json:"latitude" gorm:"column:latitude;not null"`
	Longitude float64 `json:"longitude" gorm:"column:longitude;not null"`
	// Timestamp is the capture time in unix milliseconds.
	Timestamp int64 `json:"timestamp" gorm:"column:timestamp;not null;index"`

	Altitude *float64 `json:"altitude,omitempty" gorm:"column:altitude"`
	Speed    *float64 `json:"speed,omitempty" gorm:"column:speed"`
	Bearing  *float64 `json:"bearing,omitempty" gorm:"column:bearing"`
	Accuracy *float64 `json:"accuracy,omitempty" gorm:"column:accuracy"`
	Provider string   `json:"provider,omitempty" gorm:"column:provider;type:varchar(32)"`
	Activity *string  `json:"activity,omitempty" gorm:"column:activity;type:varchar(64)"`
	Notes    *string  `json:"notes,omitempty" gorm:"column:notes;type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (TimelinePoint) TableName() string {
	return "timeline_points"
}
