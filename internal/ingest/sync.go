package ingest

import (
	"context"
	"time"

	"gorm.io/gorm"

	"aplsync/internal/apl"
	"aplsync/internal/models"
)

// persist diffs the validated entries against the store and applies the whole
// run in one transaction. A downstream eligibility-lookup service reads this
// store live; a half-applied sync must never be observable.
func (s *Service) persist(ctx context.Context, entries []models.Entry, stats *apl.IngestionStats, now time.Time) error {
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		identifiers := uniqueIdentifiers(entries)
		existing, err := s.Repo.ListExistingEntryKeysTx(ctx, tx, s.State.Code, identifiers)
		if err != nil {
			return err
		}
		for i := range entries {
			if _, ok := existing[entries[i].Key()]; ok {
				stats.Updates++
			} else {
				stats.Additions++
			}
		}
		if err := s.Repo.UpsertEntriesTx(ctx, tx, entries); err != nil {
			return err
		}
		expired, err := s.Repo.ExpireEntriesTx(ctx, tx, s.State.Code, now)
		if err != nil {
			return err
		}
		stats.Expirations = int(expired)
		return nil
	})
	if err != nil {
		// Counters accumulated inside the rolled-back transaction are void.
		stats.Additions = 0
		stats.Updates = 0
		stats.Expirations = 0
		return &apl.StorageError{State: s.State.Code, Err: err}
	}
	return nil
}

func uniqueIdentifiers(entries []models.Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for i := range entries {
		id := entries[i].ProductIdentifier
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
