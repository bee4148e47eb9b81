package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"aplsync/internal/alert"
	"aplsync/internal/apl"
	"aplsync/internal/config"
	cronrunner "aplsync/internal/cron"
	"aplsync/internal/health"
	"aplsync/internal/ingest"
	"aplsync/internal/models"
	"aplsync/internal/repository"
)

// Runner executes one ingestion run. Satisfied by *ingest.Service; tests
// substitute stubs.
type Runner interface {
	Run(ctx context.Context) (ingest.Outcome, error)
}

type statePipeline struct {
	cfg       config.StateConfig
	processor apl.Processor
	runner    Runner

	// mu enforces the single-run-in-flight rule per state and guards the
	// cron registration fields below; cron fires each tick in its own
	// goroutine.
	mu      sync.Mutex
	spec    string
	entryID cron.EntryID

	// alertArmed gates the consecutive-failure alert to one per threshold
	// crossing. Re-armed only by a successful run.
	alertArmed bool
}

// Scheduler owns every state's run state machine: it triggers runs on a
// policy-aware cadence, mutates sync_status at run start and end, records
// run outcomes, and dispatches alerts.
type Scheduler struct {
	Repo           repository.Repository
	Monitor        *health.Monitor
	Notifier       alert.Notifier
	Logger         *zap.Logger
	AlertThreshold int

	// Now is a clock seam for tests; nil means time.Now.
	Now func() time.Time

	Cron *cronrunner.Runner

	mu     sync.Mutex
	states map[string]*statePipeline
}

// Register wires one state pipeline onto the cron with the cadence currently
// in effect for its rollout phase.
func (s *Scheduler) Register(cfg config.StateConfig, processor apl.Processor, runner Runner) error {
	p := &statePipeline{
		cfg:        cfg,
		processor:  processor,
		runner:     runner,
		alertArmed: true,
	}

	s.mu.Lock()
	if s.states == nil {
		s.states = make(map[string]*statePipeline)
	}
	if _, exists := s.states[cfg.Code]; exists {
		s.mu.Unlock()
		return fmt.Errorf("state %s already registered", cfg.Code)
	}
	s.states[cfg.Code] = p
	s.mu.Unlock()

	if s.Cron == nil {
		return nil
	}
	p.mu.Lock()
	spec := CurrentSchedule(cfg, s.now())
	id, err := s.Cron.Add(spec, func(ctx context.Context) { s.tick(ctx, p) })
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("register %s cron: %w", cfg.Code, err)
	}
	p.spec = spec
	p.entryID = id
	p.mu.Unlock()
	s.Logger.Info("state pipeline registered",
		zap.String("state", cfg.Code),
		zap.String("processor", string(processor)),
		zap.String("schedule", spec),
	)
	return nil
}

// CurrentSchedule resolves the cron spec in effect at the given time: the
// first rollout phase containing it wins, otherwise the base schedule.
// Checking this on every tick makes phase boundaries restart-safe.
func CurrentSchedule(cfg config.StateConfig, now time.Time) string {
	for _, phase := range cfg.Phases {
		start, end, err := phase.Window()
		if err != nil {
			continue
		}
		if now.Before(start) {
			continue
		}
		if !end.IsZero() && !now.Before(end) {
			continue
		}
		if phase.Schedule != "" {
			return phase.Schedule
		}
	}
	return cfg.Schedule
}

// tick is one scheduled firing: recompute the cadence (re-registering on a
// phase change), then run. Both happen under p.mu so a run that outlasts its
// interval cannot race a later tick over the registration fields.
func (s *Scheduler) tick(ctx context.Context, p *statePipeline) {
	if !p.mu.TryLock() {
		// Dropped, not queued: overlapping writes to the same sync_status
		// row are worse than a late sync.
		s.Logger.Info("tick dropped, run in progress", zap.String("state", p.cfg.Code))
		return
	}
	defer p.mu.Unlock()
	s.reschedule(p)
	s.runLocked(ctx, p)
}

// reschedule swaps the cron entry when a phase boundary changed the cadence.
// Caller must hold p.mu.
func (s *Scheduler) reschedule(p *statePipeline) {
	if s.Cron == nil || p.spec == "" {
		return
	}
	spec := CurrentSchedule(p.cfg, s.now())
	if spec == p.spec {
		return
	}
	s.Cron.Remove(p.entryID)
	id, err := s.Cron.Add(spec, func(ctx context.Context) { s.tick(ctx, p) })
	if err != nil {
		s.Logger.Error("reschedule failed, keeping old cadence",
			zap.String("state", p.cfg.Code), zap.String("schedule", spec), zap.Error(err))
		id, err = s.Cron.Add(p.spec, func(ctx context.Context) { s.tick(ctx, p) })
		if err != nil {
			s.Logger.Error("re-adding old cadence failed, state unscheduled",
				zap.String("state", p.cfg.Code), zap.Error(err))
			return
		}
		p.entryID = id
		return
	}
	s.Logger.Info("phase boundary crossed, cadence changed",
		zap.String("state", p.cfg.Code),
		zap.String("old", p.spec),
		zap.String("new", spec),
	)
	p.spec = spec
	p.entryID = id
}

// RunNow triggers one state's sync immediately, bypassing the schedule but
// respecting the single-run-in-flight rule.
func (s *Scheduler) RunNow(ctx context.Context, state string) (ingest.Outcome, error) {
	s.mu.Lock()
	p, ok := s.states[state]
	s.mu.Unlock()
	if !ok {
		return ingest.Outcome{}, fmt.Errorf("unknown state: %s", state)
	}
	if !p.mu.TryLock() {
		return ingest.Outcome{}, apl.ErrRunInProgress
	}
	defer p.mu.Unlock()
	return s.runLocked(ctx, p)
}

// runLocked drives the idle→running→{success,failure} transitions around one
// run. Caller must hold p.mu.
func (s *Scheduler) runLocked(ctx context.Context, p *statePipeline) (ingest.Outcome, error) {
	now := s.now()
	status, err := s.loadStatus(ctx, p)
	if err != nil {
		s.Logger.Error("sync status load failed", zap.String("state", p.cfg.Code), zap.Error(err))
		return ingest.Outcome{}, err
	}

	status.Status = apl.StatusRunning
	status.LastSyncAt = &now
	if err := s.Repo.SaveSyncStatus(ctx, status); err != nil {
		s.Logger.Error("sync status save failed", zap.String("state", p.cfg.Code), zap.Error(err))
		return ingest.Outcome{}, err
	}

	outcome, runErr := p.runner.Run(ctx)

	// A completed run with row-level errors is a partial failure: the data
	// committed, but the source format may have drifted, so it is marked
	// failure for alerting purposes.
	success := runErr == nil && len(outcome.Stats.Errors) == 0
	end := outcome.Stats.EndTime
	if end.IsZero() {
		end = s.now()
	}

	if success {
		status.Status = apl.StatusSuccess
		status.ConsecutiveFailures = 0
		status.LastSuccessAt = &end
		status.LastError = nil
		p.alertArmed = true
	} else {
		status.Status = apl.StatusFailure
		status.ConsecutiveFailures++
		msg := failureMessage(runErr, &outcome.Stats)
		status.LastError = &msg
	}
	if runErr == nil && !outcome.Skipped {
		status.EntriesCount = outcome.EntriesCount
		status.LastRunStats = statsJSON(&outcome.Stats)
		// The fingerprint is recorded only for clean runs. A partial failure
		// keeps the prior fingerprint so the next tick re-ingests the same
		// bytes and keeps failing until the drift is resolved, instead of
		// short-circuiting as unchanged.
		if success {
			fp := outcome.Fingerprint
			status.ContentFingerprint = &fp
		}
	}

	if err := s.Repo.SaveSyncStatus(ctx, status); err != nil {
		s.Logger.Error("sync status save failed", zap.String("state", p.cfg.Code), zap.Error(err))
	}
	if s.Monitor != nil {
		s.Monitor.RecordRun(p.cfg.Code, success, outcome.Stats.Duration())
	}

	s.dispatchAlerts(ctx, p, status, outcome, runErr)
	return outcome, runErr
}

func (s *Scheduler) dispatchAlerts(ctx context.Context, p *statePipeline, status *models.SyncStatus, outcome ingest.Outcome, runErr error) {
	if s.Notifier == nil {
		return
	}
	threshold := s.AlertThreshold
	if threshold <= 0 {
		threshold = 3
	}

	if status.Status == apl.StatusFailure && status.ConsecutiveFailures >= threshold && p.alertArmed {
		p.alertArmed = false
		msg := ""
		if status.LastError != nil {
			msg = *status.LastError
		}
		_ = s.Notifier.Notify(ctx, alert.Event{
			Title:    fmt.Sprintf("%s sync failing", p.cfg.Code),
			Message:  fmt.Sprintf("%d consecutive failures: %s", status.ConsecutiveFailures, msg),
			Severity: apl.SeverityCritical,
			State:    p.cfg.Code,
		})
	}

	if runErr != nil {
		return
	}
	if outcome.SignificantChange {
		_ = s.Notifier.Notify(ctx, alert.Event{
			Title: fmt.Sprintf("%s significant change", p.cfg.Code),
			Message: fmt.Sprintf("%d additions in one run (threshold exceeded); upstream corruption or a policy change",
				outcome.Stats.Additions),
			Severity: apl.SeverityWarning,
			State:    p.cfg.Code,
		})
	}
	if outcome.ShapeChanged {
		s.Logger.Warn("source changed shape without structural changes",
			zap.String("state", p.cfg.Code),
			zap.String("fingerprint", outcome.Fingerprint),
		)
	}
}

func (s *Scheduler) loadStatus(ctx context.Context, p *statePipeline) (*models.SyncStatus, error) {
	status, err := s.Repo.GetSyncStatus(ctx, p.cfg.Code, string(p.processor))
	if err != nil {
		return nil, err
	}
	if status == nil {
		status = &models.SyncStatus{
			State:           p.cfg.Code,
			SourceProcessor: string(p.processor),
			Status:          apl.StatusPending,
		}
	}
	return status, nil
}

func failureMessage(runErr error, stats *apl.IngestionStats) string {
	if runErr != nil {
		return runErr.Error()
	}
	if len(stats.Errors) > 0 {
		return fmt.Sprintf("%d row errors, first: %s", len(stats.Errors), stats.Errors[0])
	}
	return "unknown failure"
}

func statsJSON(stats *apl.IngestionStats) datatypes.JSON {
	b, err := json.Marshal(stats)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
