package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncStatus is the singleton run state for one (state, processor) pipeline.
// Mutated only by the scheduler at run start/end; read by the health monitor.
type SyncStatus struct {
	State           string `gorm:"primaryKey;type:varchar(10)"`
	SourceProcessor string `gorm:"primaryKey;type:varchar(20)"`

	Status              string     `gorm:"type:varchar(20);not null;default:pending"`
	LastSyncAt          *time.Time `gorm:"type:timestamptz"`
	LastSuccessAt       *time.Time `gorm:"type:timestamptz"`
	ConsecutiveFailures int        `gorm:"not null;default:0"`
	EntriesCount        int64      `gorm:"not null;default:0"`
	ContentFingerprint  *string    `gorm:"type:varchar(64)"`
	LastError           *string    `gorm:"type:text"`

	// LastRunStats is the IngestionStats of the most recent completed run.
	LastRunStats datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt    time.Time      `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SyncStatus) TableName() string {
	return "sync_status"
}
