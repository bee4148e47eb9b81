package models

import (
	"time"

	"gorm.io/datatypes"
)

// Entry is one canonical eligibility record for one product in one state,
// valid from EffectiveDate. A later EffectiveDate for the same identifier
// supersedes rather than overwrites history; rows are never deleted.
type Entry struct {
	State             string    `gorm:"primaryKey;type:varchar(10)"`
	ProductIdentifier string    `gorm:"primaryKey;type:varchar(20);index:idx_entries_lookup,priority:2"`
	EffectiveDate     time.Time `gorm:"primaryKey;type:timestamptz"`

	Eligible           bool    `gorm:"not null;default:true"`
	BenefitCategory    string  `gorm:"type:varchar(100);not null"`
	BenefitSubcategory *string `gorm:"type:varchar(100)"`

	// ParticipantGroups is a JSON array of apl.ParticipantGroup; null means
	// the entry applies to all groups.
	ParticipantGroups      datatypes.JSON `gorm:"type:jsonb"`
	SizeRestriction        datatypes.JSON `gorm:"type:jsonb"`
	BrandRestriction       datatypes.JSON `gorm:"type:jsonb"`
	AdditionalRestrictions datatypes.JSON `gorm:"type:jsonb"`

	ExpirationDate  *time.Time `gorm:"type:timestamptz;index"`
	SourceProcessor string     `gorm:"type:varchar(20);not null"`
	LastUpdated     time.Time  `gorm:"type:timestamptz;not null"`
	Verified        bool       `gorm:"not null;default:false"`
	CreatedAt       time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (Entry) TableName() string {
	return "entries"
}

// Key identifies an entry row. Used for in-run diffing against the store.
type EntryKey struct {
	State             string
	ProductIdentifier string
	EffectiveDate     time.Time
}

func (e *Entry) Key() EntryKey {
	return EntryKey{
		State:             e.State,
		ProductIdentifier: e.ProductIdentifier,
		EffectiveDate:     e.EffectiveDate.UTC().Truncate(time.Second),
	}
}
