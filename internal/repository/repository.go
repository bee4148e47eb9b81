package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"aplsync/internal/models"
)

// Repository is the persistent-store surface used by the sync engine,
// scheduler and health monitor. All entry writes belonging to one run go
// through the ...Tx methods inside a single InTx callback; sync_status is
// written outside that transaction by the scheduler, which owns it.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Entries.
	ListExistingEntryKeysTx(ctx context.Context, tx *gorm.DB, state string, identifiers []string) (map[models.EntryKey]struct{}, error)
	UpsertEntriesTx(ctx context.Context, tx *gorm.DB, items []models.Entry) error
	ExpireEntriesTx(ctx context.Context, tx *gorm.DB, state string, before time.Time) (int64, error)
	CountEntriesByState(ctx context.Context, state string) (int64, error)
	ListEntryHistory(ctx context.Context, state, identifier string) ([]models.Entry, error)

	// Sync status.
	GetSyncStatus(ctx context.Context, state, processor string) (*models.SyncStatus, error)
	SaveSyncStatus(ctx context.Context, status *models.SyncStatus) error
	ListSyncStatuses(ctx context.Context) ([]models.SyncStatus, error)
}
