package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aplsync/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

const keyBatchSize = 500

// ListExistingEntryKeysTx returns the identity keys already present for the
// given identifiers. Effective dates are normalized to UTC seconds so that
// keys built in Go compare equal to keys read back from postgres.
func (s *Store) ListExistingEntryKeysTx(ctx context.Context, tx *gorm.DB, state string, identifiers []string) (map[models.EntryKey]struct{}, error) {
	if tx == nil {
		return nil, errors.New("nil transaction")
	}
	out := make(map[models.EntryKey]struct{})
	for start := 0; start < len(identifiers); start += keyBatchSize {
		end := start + keyBatchSize
		if end > len(identifiers) {
			end = len(identifiers)
		}
		var rows []models.Entry
		err := tx.WithContext(ctx).
			Model(&models.Entry{}).
			Select("state", "product_identifier", "effective_date").
			Where("state = ? AND product_identifier IN ?", state, identifiers[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for i := range rows {
			out[rows[i].Key()] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) UpsertEntriesTx(ctx context.Context, tx *gorm.DB, items []models.Entry) error {
	if tx == nil {
		return errors.New("nil transaction")
	}
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "state"}, {Name: "product_identifier"}, {Name: "effective_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"eligible",
			"benefit_category",
			"benefit_subcategory",
			"participant_groups",
			"size_restriction",
			"brand_restriction",
			"additional_restrictions",
			"expiration_date",
			"source_processor",
			"last_updated",
		}),
	}).CreateInBatches(items, 200).Error
}

// ExpireEntriesTx marks past-dated entries ineligible and returns how many
// rows it touched. Rows are never deleted.
func (s *Store) ExpireEntriesTx(ctx context.Context, tx *gorm.DB, state string, before time.Time) (int64, error) {
	if tx == nil {
		return 0, errors.New("nil transaction")
	}
	res := tx.WithContext(ctx).
		Model(&models.Entry{}).
		Where("state = ? AND eligible = true AND expiration_date IS NOT NULL AND expiration_date < ?", state, before).
		Updates(map[string]any{"eligible": false, "last_updated": before})
	return res.RowsAffected, res.Error
}

func (s *Store) CountEntriesByState(ctx context.Context, state string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Entry{}).
		Where("state = ?", state).
		Count(&n).Error
	return n, err
}

func (s *Store) ListEntryHistory(ctx context.Context, state, identifier string) ([]models.Entry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Entry
	err := s.db.WithContext(ctx).
		Where("state = ? AND product_identifier = ?", state, strings.TrimSpace(identifier)).
		Order("effective_date DESC").
		Find(&items).Error
	return items, err
}

func (s *Store) GetSyncStatus(ctx context.Context, state, processor string) (*models.SyncStatus, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var status models.SyncStatus
	err := s.db.WithContext(ctx).
		Where("state = ? AND source_processor = ?", state, processor).
		First(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *Store) SaveSyncStatus(ctx context.Context, status *models.SyncStatus) error {
	if s == nil || s.db == nil || status == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "state"}, {Name: "source_processor"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"last_sync_at",
			"last_success_at",
			"consecutive_failures",
			"entries_count",
			"content_fingerprint",
			"last_error",
			"last_run_stats",
			"updated_at",
		}),
	}).Create(status).Error
}

func (s *Store) ListSyncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SyncStatus
	err := s.db.WithContext(ctx).Order("state ASC").Find(&items).Error
	return items, err
}
