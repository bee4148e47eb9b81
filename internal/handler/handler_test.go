package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"aplsync/internal/alert"
	"aplsync/internal/apl"
	"aplsync/internal/health"
	"aplsync/internal/models"
)

type stubRepo struct {
	statuses []models.SyncStatus
	history  []models.Entry
}

func (s *stubRepo) ListSyncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	return s.statuses, nil
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }
func (s *stubRepo) ListExistingEntryKeysTx(ctx context.Context, tx *gorm.DB, state string, identifiers []string) (map[models.EntryKey]struct{}, error) {
	return nil, nil
}
func (s *stubRepo) UpsertEntriesTx(ctx context.Context, tx *gorm.DB, items []models.Entry) error {
	return nil
}
func (s *stubRepo) ExpireEntriesTx(ctx context.Context, tx *gorm.DB, state string, before time.Time) (int64, error) {
	return 0, nil
}
func (s *stubRepo) CountEntriesByState(ctx context.Context, state string) (int64, error) {
	return 0, nil
}
func (s *stubRepo) ListEntryHistory(ctx context.Context, state, identifier string) ([]models.Entry, error) {
	var out []models.Entry
	for i := range s.history {
		if s.history[i].State == state && s.history[i].ProductIdentifier == identifier {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}
func (s *stubRepo) GetSyncStatus(ctx context.Context, state, processor string) (*models.SyncStatus, error) {
	return nil, nil
}
func (s *stubRepo) SaveSyncStatus(ctx context.Context, status *models.SyncStatus) error { return nil }

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func doRequest(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestListStatusDecodesSamples(t *testing.T) {
	stats := apl.IngestionStats{
		State:  "CA",
		Errors: []string{"bad row 1", "bad row 2"},
	}
	b, _ := json.Marshal(stats)
	repo := &stubRepo{statuses: []models.SyncStatus{{
		State:           "CA",
		SourceProcessor: "fis",
		Status:          apl.StatusFailure,
		LastRunStats:    datatypes.JSON(b),
	}}}

	r := newEngine()
	(&SyncHandler{Repo: repo, Logger: zap.NewNop()}).Register(r)

	w := doRequest(r, http.MethodGet, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Data []statusView `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("views = %d", len(resp.Data))
	}
	if len(resp.Data[0].ErrorSamples) != 2 {
		t.Fatalf("error samples = %v", resp.Data[0].ErrorSamples)
	}
}

func TestCapSamples(t *testing.T) {
	samples := make([]string, 25)
	for i := range samples {
		samples[i] = fmt.Sprintf("err %d", i)
	}
	capped := capSamples(samples)
	if len(capped) != errorSampleCap+1 {
		t.Fatalf("capped = %d, want %d plus marker", len(capped), errorSampleCap+1)
	}
	if capped[errorSampleCap] != "+15 more" {
		t.Fatalf("marker = %q", capped[errorSampleCap])
	}

	short := []string{"a", "b"}
	if got := capSamples(short); len(got) != 2 {
		t.Fatalf("short samples capped: %v", got)
	}
}

func TestListAlerts(t *testing.T) {
	alerts := &alert.Webhook{Logger: zap.NewNop()}
	_ = alerts.Notify(context.Background(), alert.Event{Title: "CA sync failing", Severity: apl.SeverityCritical})

	r := newEngine()
	(&SyncHandler{Repo: &stubRepo{}, Alerts: alerts, Logger: zap.NewNop()}).Register(r)

	w := doRequest(r, http.MethodGet, "/api/v1/alerts")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Data []alert.Event `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Title != "CA sync failing" {
		t.Fatalf("alerts = %v", resp.Data)
	}
}

func TestHealthEndpoints(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{statuses: []models.SyncStatus{{
		State:           "CA",
		SourceProcessor: "fis",
		Status:          apl.StatusSuccess,
		LastSuccessAt:   &now,
	}}}
	monitor := &health.Monitor{Repo: repo, Logger: zap.NewNop()}

	r := newEngine()
	(&HealthHandler{Monitor: monitor}).Register(r)

	if w := doRequest(r, http.MethodGet, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}

	w := doRequest(r, http.MethodGet, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Data health.SystemReport `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Overall != health.Healthy || len(resp.Data.States) != 1 {
		t.Fatalf("report = %+v", resp.Data)
	}

	if w := doRequest(r, http.MethodGet, "/api/v1/health/summary"); w.Code != http.StatusOK {
		t.Fatalf("summary = %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/v1/health/ca"); w.Code != http.StatusOK {
		t.Fatalf("state report (lowercase param) = %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/api/v1/health/ZZ"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown state = %d, want 404", w.Code)
	}
}

func TestEntryHistory(t *testing.T) {
	older := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubRepo{history: []models.Entry{
		{State: "CA", ProductIdentifier: "4011", BenefitCategory: "Produce", EffectiveDate: newer},
		{State: "CA", ProductIdentifier: "4011", BenefitCategory: "Produce", EffectiveDate: older},
		{State: "TX", ProductIdentifier: "4011", BenefitCategory: "Produce", EffectiveDate: older},
	}}

	r := newEngine()
	(&SyncHandler{Repo: repo, Logger: zap.NewNop()}).Register(r)

	w := doRequest(r, http.MethodGet, "/api/v1/entries/ca/4011")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Data []models.Entry `json:"data"`
		Meta map[string]any `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("entries = %d, want both CA rows", len(resp.Data))
	}
	for _, e := range resp.Data {
		if e.State != "CA" {
			t.Fatalf("cross-state leak: %+v", e)
		}
	}
	if resp.Meta["count"] != float64(2) {
		t.Fatalf("meta = %v", resp.Meta)
	}

	if w := doRequest(r, http.MethodGet, "/api/v1/entries/ca/999999"); w.Code != http.StatusOK {
		t.Fatalf("unknown identifier = %d, want empty 200", w.Code)
	}
}

func TestStatePollingDoesNotRetainReports(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{statuses: []models.SyncStatus{{
		State:         "CA",
		LastSuccessAt: &now,
	}}}
	monitor := &health.Monitor{Repo: repo, Logger: zap.NewNop()}

	r := newEngine()
	(&HealthHandler{Monitor: monitor}).Register(r)

	for i := 0; i < 5; i++ {
		if w := doRequest(r, http.MethodGet, "/api/v1/health/CA"); w.Code != http.StatusOK {
			t.Fatalf("state report = %d", w.Code)
		}
		if w := doRequest(r, http.MethodGet, "/api/v1/health/summary"); w.Code != http.StatusOK {
			t.Fatalf("summary = %d", w.Code)
		}
	}
	if got := len(monitor.Recent()); got != 0 {
		t.Fatalf("trend ring = %d after probe polling, want 0", got)
	}
}

func TestSummaryUnhealthy(t *testing.T) {
	stale := time.Now().UTC().Add(-200 * time.Hour)
	repo := &stubRepo{statuses: []models.SyncStatus{{
		State:         "CA",
		LastSuccessAt: &stale,
	}}}
	monitor := &health.Monitor{Repo: repo, Logger: zap.NewNop()}

	r := newEngine()
	(&HealthHandler{Monitor: monitor}).Register(r)

	w := doRequest(r, http.MethodGet, "/api/v1/health/summary")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("summary = %d, want 503 for critical freshness", w.Code)
	}
}

func TestReadyzWithoutDB(t *testing.T) {
	r := newEngine()
	(&HealthHandler{}).Register(r)
	if w := doRequest(r, http.MethodGet, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db = %d, want 503", w.Code)
	}
}
