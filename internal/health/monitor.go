package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"aplsync/internal/config"
	"aplsync/internal/models"
	"aplsync/internal/repository"
)

// Monitor derives per-state and system health on demand. It owns no ground
// truth: everything is recomputable from sync_status plus the trailing run
// window it was handed.
type Monitor struct {
	Repo           repository.Repository
	Config         config.HealthConfig
	AlertThreshold int
	Logger         *zap.Logger

	// Now is a clock seam for tests; nil means time.Now.
	Now func() time.Time

	mu      sync.Mutex
	runs    map[string][]RunSample
	reports []SystemReport
}

// RecordRun appends a completed run to the state's trailing window.
func (m *Monitor) RecordRun(state string, success bool, duration time.Duration) {
	window := m.Config.WindowSize
	if window <= 0 {
		window = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string][]RunSample)
	}
	samples := append(m.runs[state], RunSample{
		Success:  success,
		Duration: duration,
		At:       m.now(),
	})
	if len(samples) > window {
		samples = samples[len(samples)-window:]
	}
	m.runs[state] = samples
}

// SystemReport computes the full report and retains it in the bounded ring.
func (m *Monitor) SystemReport(ctx context.Context) (SystemReport, error) {
	report, err := m.Snapshot(ctx)
	if err != nil {
		return SystemReport{}, err
	}
	m.retain(report)
	return report, nil
}

// Snapshot computes the report without retaining it. Summary and per-state
// probes poll frequently; only the full report endpoint feeds the trend ring.
func (m *Monitor) Snapshot(ctx context.Context) (SystemReport, error) {
	statuses, err := m.Repo.ListSyncStatuses(ctx)
	if err != nil {
		return SystemReport{}, err
	}

	report := SystemReport{
		Overall:     Healthy,
		GeneratedAt: m.now(),
	}
	degradedCount := 0
	for i := range statuses {
		state := m.StateReport(statuses[i])
		report.States = append(report.States, state)
		report.Overall = worse(report.Overall, state.Overall)
		if state.Overall == Degraded {
			degradedCount++
		}
	}
	// More than one state degraded at once is a system-level condition even
	// when no single state is worse than degraded.
	if degradedCount > 1 {
		report.Overall = worse(report.Overall, Degraded)
	}
	return report, nil
}

// StateReport derives the five metrics for one state. Overall is the worst.
func (m *Monitor) StateReport(status models.SyncStatus) StateReport {
	now := m.now()
	samples := m.samples(status.State)

	report := StateReport{
		State:       status.State,
		Overall:     Healthy,
		GeneratedAt: now,
	}
	metrics := []Metric{
		m.freshnessMetric(status, now),
		m.successRateMetric(samples),
		m.errorRateMetric(samples),
		m.durationMetric(samples),
		m.consecutiveFailureMetric(status),
	}
	for _, metric := range metrics {
		report.Metrics = append(report.Metrics, metric)
		report.Overall = worse(report.Overall, metric.Status)
	}
	return report
}

// Recent returns retained system reports, newest first.
func (m *Monitor) Recent() []SystemReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SystemReport, len(m.reports))
	for i, r := range m.reports {
		out[len(m.reports)-1-i] = r
	}
	return out
}

func (m *Monitor) freshnessMetric(status models.SyncStatus, now time.Time) Metric {
	metric := Metric{Name: "data_freshness"}
	if status.LastSuccessAt == nil {
		metric.Status = Degraded
		metric.Value = "never succeeded"
		if status.ConsecutiveFailures > 0 {
			metric.Status = Critical
		}
		return metric
	}
	age := now.Sub(*status.LastSuccessAt)
	metric.Value = age.Round(time.Minute).String()
	switch {
	case age < m.freshness(m.Config.FreshnessDegraded, 24*time.Hour):
		metric.Status = Healthy
	case age < m.freshness(m.Config.FreshnessUnhealthy, 72*time.Hour):
		metric.Status = Degraded
	case age < m.freshness(m.Config.FreshnessCritical, 168*time.Hour):
		metric.Status = Unhealthy
	default:
		metric.Status = Critical
	}
	return metric
}

func (m *Monitor) successRateMetric(samples []RunSample) Metric {
	metric := Metric{Name: "success_rate", Status: Healthy, Value: "no runs"}
	if len(samples) == 0 {
		return metric
	}
	successes := 0
	for _, s := range samples {
		if s.Success {
			successes++
		}
	}
	rate := float64(successes) / float64(len(samples))
	metric.Value = fmt.Sprintf("%.0f%% of %d", rate*100, len(samples))
	switch {
	case rate >= 0.9:
		metric.Status = Healthy
	case rate >= 0.7:
		metric.Status = Degraded
	case rate >= 0.5:
		metric.Status = Unhealthy
	default:
		metric.Status = Critical
	}
	return metric
}

func (m *Monitor) errorRateMetric(samples []RunSample) Metric {
	metric := Metric{Name: "error_rate", Status: Healthy, Value: "no runs"}
	if len(samples) == 0 {
		return metric
	}
	failures := 0
	for _, s := range samples {
		if !s.Success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(samples))
	metric.Value = fmt.Sprintf("%.0f%% of %d", rate*100, len(samples))
	switch {
	case rate <= 0.1:
		metric.Status = Healthy
	case rate <= 0.3:
		metric.Status = Degraded
	case rate <= 0.5:
		metric.Status = Unhealthy
	default:
		metric.Status = Critical
	}
	return metric
}

func (m *Monitor) durationMetric(samples []RunSample) Metric {
	metric := Metric{Name: "avg_run_duration", Status: Healthy, Value: "no runs"}
	if len(samples) == 0 {
		return metric
	}
	budget := m.Config.RunDurationBudget
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	var total time.Duration
	for _, s := range samples {
		total += s.Duration
	}
	avg := total / time.Duration(len(samples))
	metric.Value = avg.Round(time.Millisecond).String()
	switch {
	case avg <= budget:
		metric.Status = Healthy
	case avg <= 2*budget:
		metric.Status = Degraded
	case avg <= 4*budget:
		metric.Status = Unhealthy
	default:
		metric.Status = Critical
	}
	return metric
}

func (m *Monitor) consecutiveFailureMetric(status models.SyncStatus) Metric {
	metric := Metric{
		Name:  "consecutive_failures",
		Value: fmt.Sprintf("%d", status.ConsecutiveFailures),
	}
	threshold := m.AlertThreshold
	if threshold <= 0 {
		threshold = 3
	}
	switch {
	case status.ConsecutiveFailures == 0:
		metric.Status = Healthy
	case status.ConsecutiveFailures < threshold:
		metric.Status = Degraded
	case status.ConsecutiveFailures < 2*threshold:
		metric.Status = Unhealthy
	default:
		metric.Status = Critical
	}
	return metric
}

func (m *Monitor) samples(state string) []RunSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.runs[state]
	out := make([]RunSample, len(src))
	copy(out, src)
	return out
}

func (m *Monitor) retain(report SystemReport) {
	size := m.Config.ReportHistory
	if size <= 0 {
		size = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	if len(m.reports) > size {
		m.reports = m.reports[len(m.reports)-size:]
	}
}

func (m *Monitor) freshness(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}
