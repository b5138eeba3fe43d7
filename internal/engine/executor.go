package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"runtime"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-healing/internal/cache"
	"github.com/miradorstack/mirador-healing/internal/metrics"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// ErrUnknownAction is returned for action types outside the catalog.
var ErrUnknownAction = errors.New("unknown action type")

var actionDescriptions = map[string]string{
	models.ActionRestartBackend:    "Restart the backend service",
	models.ActionRestartDBService:  "Restart the database service",
	models.ActionClearCache:        "Clear application cache",
	models.ActionGarbageCollect:    "Force garbage collection",
	models.ActionReconnectDatabase: "Reconnect database connection pools",
	models.ActionCheckNetwork:      "Check network connectivity",
	models.ActionNotifyAdmin:       "Notify the administrator",
	models.ActionEnableFallback:    "Enable fallback mode",
	models.ActionDisableFallback:   "Disable fallback mode",
	models.ActionOptimizeProcesses: "Optimize running processes",
	models.ActionOptimizeQueries:   "Optimize database queries",
	models.ActionAutoOptimize:      "Apply automatic optimization",
}

// Reconnector reopens database connection pools.
type Reconnector interface {
	Reconnect(ctx context.Context) (int, error)
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecutorConfig configures the remediation catalog.
type ExecutorConfig struct {
	RestartBackendCommand []string
	RestartDBCommand      []string
	CacheFlushPrefix      string
	NetworkTargets        []string
	CommandTimeout        time.Duration
	DialTimeout           time.Duration
}

// ExecutorDeps are the collaborators remediation actions act on. Any may be nil;
// the actions needing them then fail with an explicit message.
type ExecutorDeps struct {
	Cache       cache.Provider
	Reconnector Reconnector
	Notifier    Notifier
}

// Executor runs catalog actions and returns write-once outcome records. It
// never retries.
type Executor struct {
	cfg         ExecutorConfig
	cache       cache.Provider
	reconnector Reconnector
	notifier    Notifier
	log         *slog.Logger

	run      CommandRunner
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
	gc       func()
	now      utils.Clock
	fallback atomic.Bool
}

// NewExecutor constructs an executor.
func NewExecutor(cfg ExecutorConfig, deps ExecutorDeps, logger *slog.Logger) *Executor {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	dialer := &net.Dialer{}
	return &Executor{
		cfg:         cfg,
		cache:       deps.Cache,
		reconnector: deps.Reconnector,
		notifier:    deps.Notifier,
		log:         utils.OrDefault(logger, "engine.executor"),
		run:         runCommand,
		dial:        dialer.DialContext,
		gc:          freeMemory,
		now:         utils.SystemClock,
	}
}

// FallbackEnabled reports whether fallback mode is on. enable_fallback sets
// it and disable_fallback clears it.
func (e *Executor) FallbackEnabled() bool { return e.fallback.Load() }

// Execute runs one action and records its outcome.
func (e *Executor) Execute(ctx context.Context, actionType, target, trigger string) models.HealingAction {
	executedAt := e.now()
	start := time.Now()
	message, err := e.perform(ctx, actionType, target)
	elapsed := time.Since(start)

	description, ok := actionDescriptions[actionType]
	if !ok {
		description = "Unknown action " + actionType
	}
	action := models.HealingAction{
		ID:              uuid.NewString(),
		ActionType:      actionType,
		Target:          target,
		Description:     description,
		Trigger:         trigger,
		ExecutedAt:      executedAt,
		Success:         err == nil,
		ExecutionTimeMs: utils.Milliseconds(elapsed),
		ResultMessage:   message,
	}
	if err != nil {
		action.ResultMessage = errors.Unwrap(err).Error()
		metrics.IncFailure(string(utils.KindOf(err)))
		e.log.Warn("healing action failed",
			slog.String("action", actionType),
			slog.String("target", target),
			slog.String("trigger", trigger),
			slog.Any("error", err))
	} else {
		e.log.Info("healing action executed",
			slog.String("action", actionType),
			slog.String("target", target),
			slog.String("trigger", trigger),
			slog.Duration("elapsed", elapsed))
	}
	metrics.IncHealingAction(actionType, action.Success)
	return action
}

// perform runs the action and tags failures as action execution failures.
func (e *Executor) perform(ctx context.Context, actionType, target string) (string, error) {
	message, err := e.dispatch(ctx, actionType, target)
	if err != nil {
		return "", utils.ActionError("engine.execute", actionType, err)
	}
	return message, nil
}

func (e *Executor) dispatch(ctx context.Context, actionType, target string) (string, error) {
	switch actionType {
	case models.ActionRestartBackend:
		return e.runConfigured(ctx, "restart backend", e.cfg.RestartBackendCommand)
	case models.ActionRestartDBService:
		return e.runConfigured(ctx, "restart database", e.cfg.RestartDBCommand)
	case models.ActionClearCache:
		return e.clearCache(ctx)
	case models.ActionGarbageCollect:
		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		e.gc()
		runtime.ReadMemStats(&after)
		return fmt.Sprintf("garbage collection completed, heap %d -> %d bytes", before.HeapAlloc, after.HeapAlloc), nil
	case models.ActionReconnectDatabase:
		if e.reconnector == nil {
			return "", errors.New("no database connection configured")
		}
		n, err := e.reconnector.Reconnect(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("reconnected %d database pool(s)", n), nil
	case models.ActionCheckNetwork:
		return e.checkNetwork(ctx)
	case models.ActionNotifyAdmin:
		if e.notifier == nil {
			return "", errors.New("admin notification channel not configured")
		}
		subject := fmt.Sprintf("Self-healing requires attention: %s", target)
		if err := e.notifier.Notify(ctx, subject, "Automatic remediation escalated to an administrator."); err != nil {
			return "", fmt.Errorf("notify admin: %w", err)
		}
		return "administrator notified", nil
	case models.ActionEnableFallback:
		e.fallback.Store(true)
		return "fallback mode enabled", nil
	case models.ActionDisableFallback:
		e.fallback.Store(false)
		return "fallback mode disabled", nil
	case models.ActionOptimizeProcesses, models.ActionOptimizeQueries, models.ActionAutoOptimize:
		e.log.Info("optimization requested", slog.String("action", actionType), slog.String("target", target))
		return fmt.Sprintf("%s recorded for %s", actionType, target), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, actionType)
	}
}

func (e *Executor) runConfigured(ctx context.Context, what string, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("%s command not configured", what)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()
	out, err := e.run(ctx, argv[0], argv[1:]...)
	output := strings.TrimSpace(string(out))
	if err != nil {
		if output != "" {
			return "", fmt.Errorf("%s failed: %w: %s", what, err, output)
		}
		return "", fmt.Errorf("%s failed: %w", what, err)
	}
	if output == "" {
		output = what + " completed"
	}
	return output, nil
}

func (e *Executor) clearCache(ctx context.Context) (string, error) {
	if e.cache == nil {
		return "", errors.New("cache not configured")
	}
	n, err := e.cache.Flush(ctx, e.cfg.CacheFlushPrefix)
	if err != nil {
		return "", fmt.Errorf("flush cache: %w", err)
	}
	return fmt.Sprintf("cleared %d cache entries", n), nil
}

func (e *Executor) checkNetwork(ctx context.Context) (string, error) {
	if len(e.cfg.NetworkTargets) == 0 {
		return "", errors.New("no network targets configured")
	}
	var failed []string
	for _, target := range e.cfg.NetworkTargets {
		dialCtx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
		conn, err := e.dial(dialCtx, "tcp", target)
		cancel()
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s (%v)", target, err))
			continue
		}
		_ = conn.Close()
	}
	if len(failed) > 0 {
		return "", fmt.Errorf("unreachable: %s", strings.Join(failed, ", "))
	}
	return fmt.Sprintf("%d network target(s) reachable", len(e.cfg.NetworkTargets)), nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func freeMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
