package gorm

import (
	"time"

	"geotrail/syncd/internal/constants"
)

// PendingMutation is a queued edit or delete against a server-confirmed timeline point.
// NewValues holds the JSON field patch of an update. RollbackData holds the JSON
// TimelinePoint as it was before the first queued edit of the target.
type PendingMutation struct {
	ID        uint                 `gorm:"column:id;primaryKey;autoIncrement"`
	Operation constants.MutationOp `gorm:"column:operation;type:varchar(16);not null"`
	TargetID  int64                `gorm:"column:target_id;not null;index"`

	NewValues    string `gorm:"column:new_values;type:text"`
	RollbackData string `gorm:"column:rollback_data;type:text;not null"`

	Attempts        int    `gorm:"column:attempts;not null;default:0"`
	Rejected        bool   `gorm:"column:rejected;not null;default:false;index"`
	RejectionReason string `gorm:"column:rejection_reason;type:text"`
	LastError       string `gorm:"column:last_error;type:text"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (PendingMutation) TableName() string {
	return "pending_mutations"
}
