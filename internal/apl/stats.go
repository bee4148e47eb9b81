package apl

import (
	"fmt"
	"time"
)

// IngestionStats summarizes one run. It is not persisted as its own table;
// sync_status captures the durable subset, the rest feeds logs and alerting.
type IngestionStats struct {
	RunID string `json:"run_id"`
	State string `json:"state"`

	TotalRows      int `json:"total_rows"`
	ValidEntries   int `json:"valid_entries"`
	InvalidEntries int `json:"invalid_entries"`
	Duplicates     int `json:"duplicates"`
	Additions      int `json:"additions"`
	Updates        int `json:"updates"`
	Expirations    int `json:"expirations"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func (s *IngestionStats) Duration() time.Duration {
	if s.EndTime.IsZero() || s.StartTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

func (s *IngestionStats) AddError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

func (s *IngestionStats) AddWarning(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// StructuralChanges is the number of rows the run actually moved in the store.
func (s *IngestionStats) StructuralChanges() int {
	return s.Additions + s.Updates + s.Expirations
}
