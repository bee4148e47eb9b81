package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
db:
  dsn: "host=localhost user=apl dbname=apl sslmode=disable"
sync:
  significant_change_threshold: 250
states:
  - code: CA
    processor: fis
    download_url: https://example.com/ca.xlsx
    schedule: "@every 24h"
  - code: TX
    processor: conduent
    download_url: https://example.com/tx.xlsx
    phases:
      - start: "2026-06-01"
        end: "2026-09-01"
        schedule: "@every 24h"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.DSN == "" {
		t.Fatal("dsn not read")
	}
	if cfg.Sync.SignificantChangeThreshold != 250 {
		t.Fatalf("threshold = %d, want file value", cfg.Sync.SignificantChangeThreshold)
	}
	// Defaults fill everything the file omits.
	if cfg.Server.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Fetch.Timeout != 30*time.Second {
		t.Fatalf("fetch timeout = %s", cfg.Fetch.Timeout)
	}
	if cfg.Alert.ConsecutiveFailureThreshold != 3 {
		t.Fatalf("alert threshold = %d", cfg.Alert.ConsecutiveFailureThreshold)
	}
	if cfg.Health.FreshnessCritical != 168*time.Hour {
		t.Fatalf("freshness critical = %s", cfg.Health.FreshnessCritical)
	}

	if len(cfg.States) != 2 {
		t.Fatalf("states = %d", len(cfg.States))
	}
	// A state without a schedule gets the daily default.
	if cfg.States[1].Schedule != "@every 24h" {
		t.Fatalf("TX schedule = %q, want default", cfg.States[1].Schedule)
	}
	if len(cfg.States[1].Phases) != 1 {
		t.Fatalf("TX phases = %d", len(cfg.States[1].Phases))
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestPhaseWindow(t *testing.T) {
	start, end, err := PhaseConfig{Start: "2026-06-01", End: "2026-09-01"}.Window()
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if start.Format("2006-01-02") != "2026-06-01" || end.Format("2006-01-02") != "2026-09-01" {
		t.Fatalf("window = %s..%s", start, end)
	}

	start, end, err = PhaseConfig{Start: "2026-06-01"}.Window()
	if err != nil {
		t.Fatalf("open-ended Window: %v", err)
	}
	if !end.IsZero() {
		t.Fatalf("open-ended phase end = %s, want zero", end)
	}

	if _, _, err := (PhaseConfig{Start: "June 1"}).Window(); err == nil {
		t.Fatal("expected error for malformed start date")
	}
}
