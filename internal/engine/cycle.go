package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-healing/internal/alerting"
	"github.com/miradorstack/mirador-healing/internal/cache"
	"github.com/miradorstack/mirador-healing/internal/detector"
	"github.com/miradorstack/mirador-healing/internal/metrics"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/repo"
	"github.com/miradorstack/mirador-healing/internal/rules"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// ErrCycleInProgress is returned when a cycle or manual heal is requested
// while another one holds the cycle guard.
var ErrCycleInProgress = errors.New("healing cycle already in progress")

const (
	defaultLeaseKey = "mirador-healing:cycle-lease"
	defaultLeaseTTL = 5 * time.Minute
)

// Collector produces the current health sample.
type Collector interface {
	Sample(ctx context.Context) models.HealthSample
}

// DependencyProber probes external dependencies.
type DependencyProber interface {
	Probe(ctx context.Context) []models.DependencyStatus
}

// EndpointChecker runs synthetic endpoint checks.
type EndpointChecker interface {
	Check(ctx context.Context) []models.EndpointCheckResult
}

// AlertDispatcher evaluates and sends alerts.
type AlertDispatcher interface {
	Evaluate(ctx context.Context, s rules.Snapshot) alerting.Result
	Configs() []models.AlertConfig
	LastAlerts() map[string]time.Time
}

// Config tunes the cycle.
type Config struct {
	HistorySize      int
	AnomalyThreshold float64
	MinSamples       int
	Rebaseline       time.Duration
	HealingEnabled   bool
	// LeaseKey and LeaseTTL configure the cross-replica lease taken when a
	// Lease provider is supplied.
	LeaseKey string
	LeaseTTL time.Duration
}

// Deps are the collaborators of the engine. Prober, Endpoints, Alerts, Store
// and Lease are optional.
type Deps struct {
	Collector Collector
	Prober    DependencyProber
	Endpoints EndpointChecker
	Rules     *rules.RuleEngine
	Executor  *Executor
	Alerts    AlertDispatcher
	Store     repo.Store
	Lease     cache.Provider
}

// Engine runs full healing cycles. One cycle or manual heal runs at a time.
type Engine struct {
	cfg       Config
	deps      Deps
	history   *detector.History
	anomalies *detector.AnomalyDetector
	changes   *detector.ChangeDetector
	log       *slog.Logger
	now       utils.Clock
	leaseID   string

	guard          sync.Mutex
	healingEnabled atomic.Bool
	monitoring     atomic.Bool

	mu            sync.RWMutex
	lastSample    models.HealthSample
	hasSample     bool
	lastDeps      []models.DependencyStatus
	lastEndpoints []models.EndpointCheckResult
	lastAnomalies []models.Anomaly
	lastReport    models.CycleReport
	hasReport     bool
	onCycle       []func(models.CycleReport)
}

// New constructs an engine.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if deps.Collector == nil {
		return nil, errors.New("engine: collector is required")
	}
	if deps.Executor == nil {
		deps.Executor = NewExecutor(ExecutorConfig{}, ExecutorDeps{}, logger)
	}
	if deps.Rules == nil {
		deps.Rules = rules.NewRuleEngineFromRules(rules.DefaultRules(), logger)
	}
	if deps.Store == nil {
		deps.Store = repo.NewMemoryStore(0)
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = defaultLeaseKey
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}

	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		history:   detector.NewHistory(cfg.HistorySize),
		anomalies: detector.NewAnomalyDetector(cfg.AnomalyThreshold, cfg.MinSamples),
		changes:   detector.NewChangeDetector(cfg.Rebaseline, detector.DefaultChangeThresholds...),
		log:       utils.OrDefault(logger, "engine"),
		now:       utils.SystemClock,
		leaseID:   uuid.NewString(),
	}
	e.healingEnabled.Store(cfg.HealingEnabled)
	return e, nil
}

// OnCycle registers a hook invoked with every completed cycle report.
func (e *Engine) OnCycle(fn func(models.CycleReport)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCycle = append(e.onCycle, fn)
}

// cycleState carries intermediate results between steps.
type cycleState struct {
	endpoints []models.EndpointCheckResult
	deps      []models.DependencyStatus
	sample    models.HealthSample
	sampled   bool
	anomalies []models.Anomaly
	changes   []models.ChangeRecord
	score     float64
	scored    bool
	matched   map[string]bool
	actions   []models.HealingAction
}

func (s *cycleState) snapshot() rules.Snapshot {
	return rules.Snapshot{
		Sample:       s.sample,
		Dependencies: s.deps,
		Anomalies:    s.anomalies,
		HealthScore:  s.score,
		HasScore:     s.scored,
		MatchedRules: s.matched,
	}
}

// RunCycle executes one full healing cycle. Step failures are recorded in the
// report; the only error is ErrCycleInProgress.
func (e *Engine) RunCycle(ctx context.Context) (models.CycleReport, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		metrics.ObserveCycle(0, metrics.OutcomeRejected)
		return models.CycleReport{}, err
	}
	defer release()
	// A started cycle runs to its end; probes stay bounded by their own timeouts.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	report := models.CycleReport{ID: uuid.NewString(), StartedAt: e.now()}
	st := &cycleState{matched: map[string]bool{}}

	e.runStep(ctx, &report, "check_endpoints", func(ctx context.Context) error {
		if e.deps.Endpoints != nil {
			st.endpoints = e.deps.Endpoints.Check(ctx)
		}
		return nil
	})
	e.runStep(ctx, &report, "probe_dependencies", func(ctx context.Context) error {
		if e.deps.Prober != nil {
			st.deps = e.deps.Prober.Probe(ctx)
		}
		return nil
	})
	e.runStep(ctx, &report, "sample_metrics", func(ctx context.Context) error {
		st.sample = e.deps.Collector.Sample(ctx)
		st.sampled = true
		e.history.Append(st.sample)
		return nil
	})
	e.runStep(ctx, &report, "detect_anomalies", func(ctx context.Context) error {
		if !st.sampled {
			return errors.New("no sample collected")
		}
		st.anomalies = e.anomalies.Detect(st.sample, e.history.Samples())
		for _, a := range st.anomalies {
			metrics.IncAnomaly(a.Component, string(a.Severity))
		}
		return nil
	})
	e.runStep(ctx, &report, "detect_changes", func(ctx context.Context) error {
		if !st.sampled {
			return errors.New("no sample collected")
		}
		st.changes = e.changes.Detect(st.sample)
		return nil
	})
	e.runStep(ctx, &report, "health_score", func(ctx context.Context) error {
		if !st.sampled {
			return errors.New("no sample collected")
		}
		st.score = HealthScore(st.sample, st.deps, st.endpoints)
		st.scored = true
		metrics.SetHealthScore(st.score)
		return nil
	})
	e.runStep(ctx, &report, "healing_rules", func(ctx context.Context) error {
		st.actions = append(st.actions, e.applyRules(ctx, st, e.healingEnabled.Load())...)
		if e.healingEnabled.Load() {
			st.actions = append(st.actions, e.optimizeAnomalies(ctx, st.anomalies)...)
		}
		return nil
	})
	e.runStep(ctx, &report, "alerts", func(ctx context.Context) error {
		if e.deps.Alerts == nil {
			return nil
		}
		res := e.deps.Alerts.Evaluate(ctx, st.snapshot())
		report.AlertsDispatched = len(res.Dispatched)
		report.AlertsSuppressed = len(res.Suppressed)
		return nil
	})
	e.runStep(ctx, &report, "persist", func(ctx context.Context) error {
		var errs []error
		if err := e.deps.Store.SaveAnomalies(ctx, st.anomalies); err != nil {
			errs = append(errs, fmt.Errorf("anomalies: %w", err))
		}
		if err := e.deps.Store.SaveChanges(ctx, st.changes); err != nil {
			errs = append(errs, fmt.Errorf("changes: %w", err))
		}
		if err := e.deps.Store.SaveActions(ctx, st.actions); err != nil {
			errs = append(errs, fmt.Errorf("actions: %w", err))
		}
		return errors.Join(errs...)
	})

	report.Duration = time.Since(start)
	if st.scored {
		report.HealthScore = st.score
		report.Band = Band(st.score)
	}
	report.AnomalyCount = len(st.anomalies)
	report.ChangeCount = len(st.changes)
	report.ActionCount = len(st.actions)
	for name := range st.matched {
		report.MatchedRules = append(report.MatchedRules, name)
	}
	slices.Sort(report.MatchedRules)

	if err := e.deps.Store.SaveReport(ctx, report); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("persist report: %v", err))
	}

	outcome := metrics.OutcomeSuccess
	if len(report.Errors) > 0 {
		outcome = metrics.OutcomeDegraded
	}
	metrics.ObserveCycle(report.Duration, outcome)

	e.remember(st, report)
	e.log.Info("healing cycle completed",
		slog.String("cycle", report.ID),
		slog.Float64("health_score", report.HealthScore),
		slog.String("band", report.Band),
		slog.Int("anomalies", report.AnomalyCount),
		slog.Int("actions", report.ActionCount),
		slog.Int("errors", len(report.Errors)),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// TriggerHeal collects a fresh picture and runs the healing rules
// immediately. It is an explicit operator request, so it executes even when
// automatic healing is disabled; evaluation-only rules still do nothing.
func (e *Engine) TriggerHeal(ctx context.Context) ([]models.HealingAction, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	st := &cycleState{matched: map[string]bool{}}
	if e.deps.Endpoints != nil {
		st.endpoints = e.deps.Endpoints.Check(ctx)
	}
	if e.deps.Prober != nil {
		st.deps = e.deps.Prober.Probe(ctx)
	}
	st.sample = e.deps.Collector.Sample(ctx)
	st.sampled = true
	st.score = HealthScore(st.sample, st.deps, st.endpoints)
	st.scored = true
	e.mu.RLock()
	st.anomalies = append([]models.Anomaly(nil), e.lastAnomalies...)
	e.mu.RUnlock()

	actions := e.applyRules(ctx, st, true)
	if err := e.deps.Store.SaveActions(ctx, actions); err != nil {
		e.log.Warn("persist manual healing actions failed", slog.Any("error", err))
	}
	e.log.Info("manual healing triggered", slog.Int("actions", len(actions)), slog.Int("matched_rules", len(st.matched)))
	if actions == nil {
		actions = []models.HealingAction{}
	}
	return actions, nil
}

// applyRules evaluates the rule table, records matches and executes the
// actions of auto-heal rules when execute is set.
func (e *Engine) applyRules(ctx context.Context, st *cycleState, execute bool) []models.HealingAction {
	var actions []models.HealingAction
	for _, rule := range e.deps.Rules.Evaluate(st.snapshot()) {
		st.matched[rule.Name] = true
		if !rule.AutoHeal || !execute {
			e.log.Info("healing rule matched without remediation", slog.String("rule", rule.Name), slog.Bool("auto_heal", rule.AutoHeal))
			continue
		}
		for _, actionType := range rule.Actions {
			actions = append(actions, e.deps.Executor.Execute(ctx, actionType, "system", rule.Name))
		}
	}
	return actions
}

func (e *Engine) optimizeAnomalies(ctx context.Context, anomalies []models.Anomaly) []models.HealingAction {
	var actions []models.HealingAction
	for _, a := range anomalies {
		if !a.AutoHealPossible {
			continue
		}
		if a.Severity != models.SeverityHigh && a.Severity != models.SeverityCritical {
			continue
		}
		actions = append(actions, e.deps.Executor.Execute(ctx, models.ActionAutoOptimize, a.Component, a.ID))
	}
	return actions
}

// runStep isolates one cycle step: errors and panics are logged and recorded
// in the report and never stop later steps.
func (e *Engine) runStep(ctx context.Context, report *models.CycleReport, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("healing cycle step panicked",
				slog.String("step", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			report.Errors = append(report.Errors, fmt.Sprintf("%s: panic: %v", name, r))
		}
	}()
	if err := fn(ctx); err != nil {
		e.log.Warn("healing cycle step failed", slog.String("step", name), slog.Any("error", err))
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, err))
	}
}

// acquire takes the in-process guard and, when configured, the shared lease.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if !e.guard.TryLock() {
		return nil, ErrCycleInProgress
	}
	if e.deps.Lease == nil {
		return e.guard.Unlock, nil
	}
	ok, err := e.deps.Lease.SetNX(ctx, e.cfg.LeaseKey, []byte(e.leaseID), e.cfg.LeaseTTL)
	if err != nil {
		// An unreachable lease store must not stop local healing.
		e.log.Warn("cycle lease unavailable, continuing with local guard", slog.Any("error", err))
		return e.guard.Unlock, nil
	}
	if !ok {
		e.guard.Unlock()
		return nil, fmt.Errorf("%w: lease held by another replica", ErrCycleInProgress)
	}
	return func() {
		if err := e.deps.Lease.Del(context.WithoutCancel(ctx), e.cfg.LeaseKey); err != nil {
			e.log.Warn("release cycle lease failed", slog.Any("error", err))
		}
		e.guard.Unlock()
	}, nil
}

func (e *Engine) remember(st *cycleState, report models.CycleReport) {
	e.mu.Lock()
	if st.sampled {
		e.lastSample = st.sample
		e.hasSample = true
	}
	e.lastDeps = st.deps
	e.lastEndpoints = st.endpoints
	e.lastAnomalies = st.anomalies
	e.lastReport = report
	e.hasReport = true
	hooks := slices.Clone(e.onCycle)
	e.mu.Unlock()

	for _, hook := range hooks {
		hook(report)
	}
}

// EnableHealing turns automatic remediation on.
func (e *Engine) EnableHealing() { e.healingEnabled.Store(true) }

// DisableHealing turns automatic remediation off; rules are still evaluated.
func (e *Engine) DisableHealing() { e.healingEnabled.Store(false) }

// HealingEnabled reports whether automatic remediation is on.
func (e *Engine) HealingEnabled() bool { return e.healingEnabled.Load() }

// SetMonitoring records whether scheduled monitoring is running.
func (e *Engine) SetMonitoring(active bool) { e.monitoring.Store(active) }

// Status summarises the engine's remediation posture.
func (e *Engine) Status() models.HealingStatus {
	alertCount := 0
	if e.deps.Alerts != nil {
		alertCount = len(e.deps.Alerts.Configs())
	}
	return models.HealingStatus{
		HealingEnabled:   e.healingEnabled.Load(),
		MonitoringActive: e.monitoring.Load(),
		FallbackEnabled:  e.deps.Executor.FallbackEnabled(),
		RuleCount:        e.deps.Rules.Count(),
		AlertConfigCount: alertCount,
	}
}

// CurrentSample collects a fresh sample without touching the history.
func (e *Engine) CurrentSample(ctx context.Context) models.HealthSample {
	return e.deps.Collector.Sample(ctx)
}

// LastSample returns the sample of the latest cycle.
func (e *Engine) LastSample() (models.HealthSample, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSample, e.hasSample
}

// LastDependencies returns the dependency statuses of the latest cycle.
func (e *Engine) LastDependencies() []models.DependencyStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.DependencyStatus{}, e.lastDeps...)
}

// LastEndpoints returns the endpoint results of the latest cycle.
func (e *Engine) LastEndpoints() []models.EndpointCheckResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.EndpointCheckResult{}, e.lastEndpoints...)
}

// LastReport returns the most recent cycle report.
func (e *Engine) LastReport() (models.CycleReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport, e.hasReport
}

// History returns the performance window and detector settings.
func (e *Engine) History() models.PerformanceHistory {
	return models.PerformanceHistory{
		Samples:          e.history.Samples(),
		WindowSize:       e.history.Size(),
		AnomalyThreshold: e.anomalies.Threshold(),
	}
}

// Rules returns the healing rule table.
func (e *Engine) Rules() []models.HealingRule { return e.deps.Rules.Rules() }

// AlertConfigs returns the configured alerts.
func (e *Engine) AlertConfigs() []models.AlertConfig {
	if e.deps.Alerts == nil {
		return []models.AlertConfig{}
	}
	return e.deps.Alerts.Configs()
}

// LastAlerts returns the last-alert table.
func (e *Engine) LastAlerts() map[string]time.Time {
	if e.deps.Alerts == nil {
		return map[string]time.Time{}
	}
	return e.deps.Alerts.LastAlerts()
}

// LastAnomalies returns the anomalies detected in the latest cycle.
func (e *Engine) LastAnomalies() []models.Anomaly {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Anomaly{}, e.lastAnomalies...)
}

// Store exposes the record store for list queries.
func (e *Engine) Store() repo.Store { return e.deps.Store }
