package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"aplsync/internal/apl"
	"aplsync/internal/config"
	"aplsync/internal/models"
	"aplsync/internal/source"
	"aplsync/internal/transform"
)

// stubRepo is an in-memory Repository with transactional rollback semantics:
// mutations inside InTx are discarded when the callback errors.
type stubRepo struct {
	mu      sync.Mutex
	entries map[models.EntryKey]models.Entry
	status  *models.SyncStatus

	upsertErr error
	statusErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{entries: map[models.EntryKey]models.Entry{}}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	snapshot := make(map[models.EntryKey]models.Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.entries = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *stubRepo) ListExistingEntryKeysTx(ctx context.Context, tx *gorm.DB, state string, identifiers []string) (map[models.EntryKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		ids[id] = struct{}{}
	}
	out := map[models.EntryKey]struct{}{}
	for key := range s.entries {
		if key.State != state {
			continue
		}
		if _, ok := ids[key.ProductIdentifier]; ok {
			out[key] = struct{}{}
		}
	}
	return out, nil
}

func (s *stubRepo) UpsertEntriesTx(ctx context.Context, tx *gorm.DB, items []models.Entry) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range items {
		s.entries[items[i].Key()] = items[i]
	}
	return nil
}

func (s *stubRepo) ExpireEntriesTx(ctx context.Context, tx *gorm.DB, state string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, entry := range s.entries {
		if key.State != state || !entry.Eligible {
			continue
		}
		if entry.ExpirationDate != nil && entry.ExpirationDate.Before(before) {
			entry.Eligible = false
			s.entries[key] = entry
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) CountEntriesByState(ctx context.Context, state string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.entries {
		if key.State == state {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) ListEntryHistory(ctx context.Context, state, identifier string) ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Entry
	for key, entry := range s.entries {
		if key.State == state && key.ProductIdentifier == identifier {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *stubRepo) GetSyncStatus(ctx context.Context, state, processor string) (*models.SyncStatus, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return nil, nil
	}
	cp := *s.status
	return &cp, nil
}

func (s *stubRepo) SaveSyncStatus(ctx context.Context, status *models.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *status
	s.status = &cp
	return nil
}

func (s *stubRepo) ListSyncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return nil, nil
	}
	return []models.SyncStatus{*s.status}, nil
}

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apl.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func newService(t *testing.T, repo *stubRepo, path string) *Service {
	t.Helper()
	return &Service{
		State:       config.StateConfig{Code: "CA", Processor: "fis", LocalPath: path},
		Processor:   apl.ProcessorFIS,
		Fetcher:     &source.Fetcher{},
		Transformer: transform.New("CA", apl.ProcessorFIS, zap.NewNop()),
		Repo:        repo,
		Logger:      zap.NewNop(),
	}
}

const fixtureCSV = "upc/plu,category description,effective date\n" +
	"4011,Produce,2026-01-01\n" +
	"4011,Produce,2026-01-01\n" +
	"036000291452,Milk,2026-01-01\n" +
	"036000291453,Milk,2026-01-01\n"

func TestRunIngestsAndCounts(t *testing.T) {
	repo := newStubRepo()
	svc := newService(t, repo, writeFixture(t, fixtureCSV))

	outcome, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := outcome.Stats
	if st.TotalRows != 4 || st.ValidEntries != 2 || st.InvalidEntries != 1 || st.Duplicates != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Additions != 2 || st.Updates != 0 {
		t.Fatalf("additions/updates = %d/%d, want 2/0", st.Additions, st.Updates)
	}
	if len(st.Errors) != 1 {
		t.Fatalf("errors = %v, want one check-digit rejection", st.Errors)
	}
	if outcome.EntriesCount != 2 {
		t.Fatalf("entries count = %d, want 2", outcome.EntriesCount)
	}
	if outcome.Fingerprint == "" || outcome.Skipped {
		t.Fatalf("outcome = %+v", outcome)
	}
	if st.RunID == "" || st.EndTime.IsZero() {
		t.Fatalf("run metadata incomplete: %+v", st)
	}
}

func TestRunSkipsUnchangedSource(t *testing.T) {
	repo := newStubRepo()
	svc := newService(t, repo, writeFixture(t, fixtureCSV))

	first, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	fp := first.Fingerprint
	repo.status = &models.SyncStatus{
		State:              "CA",
		SourceProcessor:    "fis",
		ContentFingerprint: &fp,
		EntriesCount:       2,
	}

	second, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Skipped {
		t.Fatal("identical source bytes should skip the run")
	}
	if second.Stats.TotalRows != 0 || second.Stats.Additions != 0 {
		t.Fatalf("skipped run touched data: %+v", second.Stats)
	}
	if second.EntriesCount != 2 {
		t.Fatalf("entries count = %d, want carried over", second.EntriesCount)
	}
}

func TestRunCountsUpdatesOnRepeat(t *testing.T) {
	repo := newStubRepo()
	svc := newService(t, repo, writeFixture(t, fixtureCSV))

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// No recorded fingerprint, so the second run re-ingests the same file and
	// finds every key already present.
	outcome, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if outcome.Stats.Additions != 0 || outcome.Stats.Updates != 2 {
		t.Fatalf("additions/updates = %d/%d, want 0/2", outcome.Stats.Additions, outcome.Stats.Updates)
	}
}

func TestRunStorageFailureLeavesStoreUntouched(t *testing.T) {
	repo := newStubRepo()
	repo.upsertErr = errors.New("connection reset")
	svc := newService(t, repo, writeFixture(t, fixtureCSV))

	outcome, err := svc.Run(context.Background())
	if err == nil {
		t.Fatal("expected storage error")
	}
	if !apl.IsStorageError(err) {
		t.Fatalf("err = %v, want storage error", err)
	}
	if len(repo.entries) != 0 {
		t.Fatalf("store has %d entries after rollback, want 0", len(repo.entries))
	}
	st := outcome.Stats
	if st.Additions != 0 || st.Updates != 0 || st.Expirations != 0 {
		t.Fatalf("rolled-back counters leaked: %+v", st)
	}
	if st.EndTime.IsZero() {
		t.Fatal("end time not set on failure")
	}
}

func TestRunExpiresPastEntries(t *testing.T) {
	repo := newStubRepo()
	csv := "upc/plu,category description,effective date,end date\n" +
		"4011,Produce,2020-01-01,2020-06-01\n" +
		"036000291452,Milk,2026-01-01,\n"
	svc := newService(t, repo, writeFixture(t, csv))

	outcome, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Stats.Expirations != 1 {
		t.Fatalf("expirations = %d, want 1", outcome.Stats.Expirations)
	}
	expired, ok := repo.entries[models.EntryKey{
		State:             "CA",
		ProductIdentifier: "4011",
		EffectiveDate:     time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
	}]
	if !ok {
		t.Fatalf("expired entry missing from store: %v", repo.entries)
	}
	if expired.Eligible {
		t.Fatal("past-expiration entry still eligible")
	}
}

func TestRunFlagsSignificantChange(t *testing.T) {
	repo := newStubRepo()
	svc := newService(t, repo, writeFixture(t, fixtureCSV))
	svc.SignificantChangeThreshold = 1

	outcome, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.SignificantChange {
		t.Fatalf("2 additions over threshold 1 should flag, got %+v", outcome)
	}
}

func TestRunFlagsShapeChange(t *testing.T) {
	repo := newStubRepo()
	// Prior fingerprint recorded, new bytes parse to zero usable rows.
	prior := "deadbeef"
	repo.status = &models.SyncStatus{
		State:              "CA",
		SourceProcessor:    "fis",
		ContentFingerprint: &prior,
	}
	svc := newService(t, repo, writeFixture(t, "upc/plu,category description\n"))

	outcome, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.ShapeChanged {
		t.Fatal("fingerprint moved with no structural changes, want shape flag")
	}
	if len(outcome.Stats.Warnings) == 0 {
		t.Fatal("shape change should record a warning")
	}
}

func TestRunFetchFailure(t *testing.T) {
	repo := newStubRepo()
	svc := newService(t, repo, "/nonexistent/apl.csv")

	_, err := svc.Run(context.Background())
	if !apl.IsFetchError(err) {
		t.Fatalf("err = %v, want fetch error", err)
	}
}
