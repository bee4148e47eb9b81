package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aplsync/internal/apl"
	"aplsync/internal/config"
	"aplsync/internal/models"
	"aplsync/internal/repository"
	"aplsync/internal/source"
	"aplsync/internal/transform"
	"aplsync/internal/validate"
)

// Service runs one state's full ingestion: fetch, parse, transform, validate,
// persist. One instance per state; instances share nothing but the store.
type Service struct {
	State       config.StateConfig
	Processor   apl.Processor
	Fetcher     *source.Fetcher
	Transformer *transform.Transformer
	Repo        repository.Repository
	Logger      *zap.Logger

	// SignificantChangeThreshold is the absolute additions count above which
	// the run is flagged for alerting (upstream corruption or a genuine
	// policy change both look like this).
	SignificantChangeThreshold int
}

// Outcome is what a completed run reports to the scheduler. Stats may carry
// row-level errors even when the transaction committed.
type Outcome struct {
	Stats        apl.IngestionStats
	Fingerprint  string
	EntriesCount int64

	// Skipped means the source bytes were identical to the last successful
	// run; nothing was transformed or persisted.
	Skipped bool
	// ShapeChanged means the fingerprint moved with zero structural changes.
	ShapeChanged bool
	// SignificantChange means additions exceeded the configured threshold.
	SignificantChange bool
}

// Run executes the pipeline once. Stage order is strict: a fetch or storage
// failure aborts with nothing persisted; row-level problems are counted and
// carried in Stats.
func (s *Service) Run(ctx context.Context) (Outcome, error) {
	now := time.Now().UTC()
	outcome := Outcome{
		Stats: apl.IngestionStats{
			RunID:     uuid.NewString(),
			State:     s.State.Code,
			StartTime: now,
		},
	}

	payload, err := s.Fetcher.Fetch(ctx, s.State)
	if err != nil {
		outcome.Stats.EndTime = time.Now().UTC()
		return outcome, err
	}
	outcome.Fingerprint = payload.Fingerprint

	prior, err := s.Repo.GetSyncStatus(ctx, s.State.Code, string(s.Processor))
	if err != nil {
		outcome.Stats.EndTime = time.Now().UTC()
		return outcome, &apl.StorageError{State: s.State.Code, Err: err}
	}
	if prior != nil && prior.ContentFingerprint != nil && *prior.ContentFingerprint == payload.Fingerprint {
		s.Logger.Info("source unchanged, skipping run",
			zap.String("state", s.State.Code),
			zap.String("fingerprint", payload.Fingerprint),
		)
		outcome.Skipped = true
		outcome.EntriesCount = prior.EntriesCount
		outcome.Stats.EndTime = time.Now().UTC()
		return outcome, nil
	}

	rows, err := source.ParseRows(payload.Data)
	if err != nil {
		outcome.Stats.EndTime = time.Now().UTC()
		return outcome, &apl.FetchError{State: s.State.Code, Source: "payload", Err: err}
	}

	entries := s.collect(rows, now, &outcome.Stats)

	if err := s.persist(ctx, entries, &outcome.Stats, now); err != nil {
		outcome.Stats.EndTime = time.Now().UTC()
		return outcome, err
	}

	count, err := s.Repo.CountEntriesByState(ctx, s.State.Code)
	if err != nil {
		// The run itself committed; a failed count only degrades reporting.
		s.Logger.Warn("entry count failed after commit",
			zap.String("state", s.State.Code), zap.Error(err))
	}
	outcome.EntriesCount = count

	priorFingerprint := ""
	if prior != nil && prior.ContentFingerprint != nil {
		priorFingerprint = *prior.ContentFingerprint
	}
	if priorFingerprint != "" && priorFingerprint != payload.Fingerprint && outcome.Stats.StructuralChanges() == 0 {
		outcome.ShapeChanged = true
		outcome.Stats.AddWarning("source fingerprint changed without structural changes (prior %s, current %s)",
			priorFingerprint, payload.Fingerprint)
	}
	if s.SignificantChangeThreshold > 0 && outcome.Stats.Additions > s.SignificantChangeThreshold {
		outcome.SignificantChange = true
	}

	outcome.Stats.EndTime = time.Now().UTC()
	s.Logger.Info("ingestion run complete",
		zap.String("state", s.State.Code),
		zap.String("run_id", outcome.Stats.RunID),
		zap.Int("total_rows", outcome.Stats.TotalRows),
		zap.Int("valid", outcome.Stats.ValidEntries),
		zap.Int("invalid", outcome.Stats.InvalidEntries),
		zap.Int("additions", outcome.Stats.Additions),
		zap.Int("updates", outcome.Stats.Updates),
		zap.Int("expirations", outcome.Stats.Expirations),
		zap.Duration("duration", outcome.Stats.Duration()),
	)
	return outcome, nil
}

// collect transforms and validates raw rows. Duplicate identities inside one
// file are counted and resolved last-one-wins.
func (s *Service) collect(rows []source.RawRow, now time.Time, stats *apl.IngestionStats) []models.Entry {
	stats.TotalRows = len(rows)

	byKey := make(map[models.EntryKey]int)
	entries := make([]models.Entry, 0, len(rows))
	for _, row := range rows {
		entry := s.Transformer.Transform(row, now)
		if entry == nil {
			continue
		}
		if err := validate.Sanitize(entry); err != nil {
			stats.InvalidEntries++
			stats.AddError("%v", err)
			continue
		}
		key := entry.Key()
		if idx, seen := byKey[key]; seen {
			stats.Duplicates++
			entries[idx] = *entry
			continue
		}
		byKey[key] = len(entries)
		entries = append(entries, *entry)
	}
	stats.ValidEntries = len(entries)
	return entries
}
