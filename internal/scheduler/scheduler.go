package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/miradorstack/mirador-healing/internal/engine"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// CycleRunner runs one healing cycle.
type CycleRunner interface {
	RunFullCycle(ctx context.Context) (models.CycleReport, error)
}

// MonitorSwitch records whether periodic monitoring is active.
type MonitorSwitch interface {
	SetMonitoring(active bool)
}

// Scheduler drives cycles from a cron expression. A tick that fires while
// the previous one is still running is skipped.
type Scheduler struct {
	spec    string
	runner  CycleRunner
	monitor MonitorSwitch
	logger  *slog.Logger
	cron    *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates spec and prepares the scheduler; monitor may be nil.
func New(spec string, runner CycleRunner, monitor MonitorSwitch, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler requires a cycle runner")
	}
	if _, err := parser.Parse(spec); err != nil {
		return nil, utils.ConfigError("scheduler.New", fmt.Sprintf("invalid schedule %q", spec), err)
	}
	logger = utils.OrDefault(logger, "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	s := &Scheduler{
		spec:    spec,
		runner:  runner,
		monitor: monitor,
		logger:  logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule cycle: %w", err)
	}
	return s, nil
}

// Start begins ticking. Cycles run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context, runOnStart bool) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()

	s.cron.Start()
	if s.monitor != nil {
		s.monitor.SetMonitoring(true)
	}
	s.logger.Info("scheduler started", slog.String("schedule", s.spec))
	if runOnStart {
		go s.tick()
	}
}

// Stop halts ticking and waits for an in-flight cycle to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for running cycle")
	}
	s.cancel()
	if s.monitor != nil {
		s.monitor.SetMonitoring(false)
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) tick() {
	ctx := s.runContext()
	if ctx.Err() != nil {
		return
	}
	report, err := s.runner.RunFullCycle(ctx)
	switch {
	case errors.Is(err, engine.ErrCycleInProgress):
		s.logger.Debug("cycle already in progress, tick skipped")
	case err != nil:
		s.logger.Error("scheduled cycle failed", slog.Any("error", err))
	default:
		s.logger.Info("scheduled cycle complete",
			slog.String("cycle_id", report.ID),
			slog.Float64("health_score", report.HealthScore),
			slog.Int("anomalies", report.AnomalyCount),
			slog.Int("actions", report.ActionCount),
			slog.Duration("duration", report.Duration),
		)
	}
}
