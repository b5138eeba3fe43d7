package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-healing/internal/engine"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// List limits applied when callers omit or overshoot a limit.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// HealingService is the operational surface over the engine.
type HealingService struct {
	logger    *slog.Logger
	engine    *engine.Engine
	latencies *utils.LatencyTracker
	now       utils.Clock
}

// NewHealingService constructs the service facade.
func NewHealingService(logger *slog.Logger, eng *engine.Engine) *HealingService {
	return &HealingService{
		logger:    utils.OrDefault(logger, "services.healing"),
		engine:    eng,
		latencies: utils.NewLatencyTracker(1024),
		now:       utils.SystemClock,
	}
}

// NormalizeLimit clamps a caller supplied limit into [1, MaxListLimit].
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// GetHealthSample collects a fresh sample.
func (s *HealingService) GetHealthSample(ctx context.Context) models.HealthSample {
	return s.engine.CurrentSample(ctx)
}

// ListDependencies returns the dependency statuses of the latest cycle.
func (s *HealingService) ListDependencies(context.Context) []models.DependencyStatus {
	return s.engine.LastDependencies()
}

// ListEndpointChecks returns the endpoint results of the latest cycle.
func (s *HealingService) ListEndpointChecks(context.Context) []models.EndpointCheckResult {
	return s.engine.LastEndpoints()
}

// ListAnomalies returns the anomalies detected in the most recent cycle.
func (s *HealingService) ListAnomalies(context.Context) []models.Anomaly {
	return s.engine.LastAnomalies()
}

// ListAnomalyHistory returns stored anomalies, newest first.
func (s *HealingService) ListAnomalyHistory(ctx context.Context, limit int) ([]models.Anomaly, error) {
	anomalies, err := s.engine.Store().ListAnomalies(ctx, NormalizeLimit(limit))
	if err != nil {
		s.logger.Error("list anomalies failed", slog.Any("error", err))
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	return anomalies, nil
}

// TriggerHeal runs the healing rules immediately.
func (s *HealingService) TriggerHeal(ctx context.Context) ([]models.HealingAction, error) {
	actions, err := s.engine.TriggerHeal(ctx)
	if err != nil {
		s.logger.Warn("manual heal rejected", slog.Any("error", err))
		return nil, err
	}
	return actions, nil
}

// ListHealingActions returns the most recent actions, newest first.
func (s *HealingService) ListHealingActions(ctx context.Context, limit int) ([]models.HealingAction, error) {
	actions, err := s.engine.Store().ListActions(ctx, NormalizeLimit(limit))
	if err != nil {
		s.logger.Error("list healing actions failed", slog.Any("error", err))
		return nil, fmt.Errorf("list healing actions: %w", err)
	}
	return actions, nil
}

// ListChanges returns the most recent change records, newest first.
func (s *HealingService) ListChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error) {
	changes, err := s.engine.Store().ListChanges(ctx, NormalizeLimit(limit))
	if err != nil {
		s.logger.Error("list changes failed", slog.Any("error", err))
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return changes, nil
}

// EnableHealing turns automatic remediation on.
func (s *HealingService) EnableHealing(context.Context) models.HealingStatus {
	s.engine.EnableHealing()
	s.logger.Info("automatic healing enabled")
	return s.engine.Status()
}

// DisableHealing switches to evaluation-only mode.
func (s *HealingService) DisableHealing(context.Context) models.HealingStatus {
	s.engine.DisableHealing()
	s.logger.Info("automatic healing disabled")
	return s.engine.Status()
}

// GetHealingStatus reports the remediation posture.
func (s *HealingService) GetHealingStatus(context.Context) models.HealingStatus {
	return s.engine.Status()
}

// RunFullCycle executes one healing cycle.
func (s *HealingService) RunFullCycle(ctx context.Context) (models.CycleReport, error) {
	start := time.Now()
	report, err := s.engine.RunCycle(ctx)
	if err != nil {
		return models.CycleReport{}, err
	}
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("healing cycle latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return report, nil
}

// ListCycleReports returns persisted cycle reports, newest first.
func (s *HealingService) ListCycleReports(ctx context.Context, limit int) ([]models.CycleReport, error) {
	reports, err := s.engine.Store().ListReports(ctx, NormalizeLimit(limit))
	if err != nil {
		s.logger.Error("list cycle reports failed", slog.Any("error", err))
		return nil, fmt.Errorf("list cycle reports: %w", err)
	}
	return reports, nil
}

// ListPerformanceHistory returns the rolling window with detector settings.
func (s *HealingService) ListPerformanceHistory(context.Context) models.PerformanceHistory {
	return s.engine.History()
}

// ListAlertConfigs returns alert configs with the last-alert table.
func (s *HealingService) ListAlertConfigs(context.Context) models.AlertOverview {
	return models.AlertOverview{
		Configs:   s.engine.AlertConfigs(),
		LastFired: s.engine.LastAlerts(),
	}
}

// GetDashboard aggregates the latest state into one view. Store failures
// degrade to empty lists.
func (s *HealingService) GetDashboard(ctx context.Context) models.Dashboard {
	d := models.Dashboard{
		GeneratedAt:  s.now(),
		Status:       s.engine.Status(),
		Dependencies: s.engine.LastDependencies(),
		Endpoints:    s.engine.LastEndpoints(),
		Anomalies:    s.engine.LastAnomalies(),
		History:      s.engine.History(),
		Alerts:       s.ListAlertConfigs(ctx),
	}
	if sample, ok := s.engine.LastSample(); ok {
		d.Sample = &sample
	}
	if report, ok := s.engine.LastReport(); ok {
		d.LastCycle = &report
		if report.Band != "" {
			score := report.HealthScore
			d.HealthScore = &score
			d.Band = report.Band
		}
	}

	actions, err := s.engine.Store().ListActions(ctx, 10)
	if err != nil {
		s.logger.Warn("dashboard actions unavailable", slog.Any("error", err))
		actions = []models.HealingAction{}
	}
	d.RecentActions = actions

	changes, err := s.engine.Store().ListChanges(ctx, 10)
	if err != nil {
		s.logger.Warn("dashboard changes unavailable", slog.Any("error", err))
		changes = []models.ChangeRecord{}
	}
	d.RecentChanges = changes
	return d
}
