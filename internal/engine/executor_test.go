package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-healing/internal/cache"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

type fakeReconnector struct {
	n   int
	err error
}

func (f *fakeReconnector) Reconnect(context.Context) (int, error) { return f.n, f.err }

type fakeNotifier struct {
	subjects []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, subject, _ string) error {
	f.subjects = append(f.subjects, subject)
	return f.err
}

type commandCall struct {
	name string
	args []string
}

func newTestExecutor(cfg ExecutorConfig, deps ExecutorDeps) (*Executor, *[]commandCall) {
	calls := &[]commandCall{}
	e := NewExecutor(cfg, deps, nil)
	e.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, commandCall{name: name, args: args})
		if name == "false" {
			return []byte("exit status 1"), errors.New("exit status 1")
		}
		return nil, nil
	}
	e.gc = func() {}
	return e, calls
}

func TestExecuteRestartCommands(t *testing.T) {
	e, calls := newTestExecutor(ExecutorConfig{
		RestartBackendCommand: []string{"systemctl", "restart", "shop-api"},
		RestartDBCommand:      []string{"false"},
	}, ExecutorDeps{})

	ok := e.Execute(context.Background(), models.ActionRestartBackend, "system", "high_cpu_usage")
	if !ok.Success || ok.Trigger != "high_cpu_usage" || ok.ID == "" {
		t.Fatalf("unexpected restart result: %+v", ok)
	}
	if len(*calls) != 1 || (*calls)[0].name != "systemctl" || strings.Join((*calls)[0].args, " ") != "restart shop-api" {
		t.Fatalf("unexpected command calls: %+v", *calls)
	}

	failed := e.Execute(context.Background(), models.ActionRestartDBService, "system", "database_down")
	if failed.Success {
		t.Fatalf("expected non-zero exit to fail")
	}
	if !strings.Contains(failed.ResultMessage, "restart database failed") {
		t.Fatalf("unexpected message %q", failed.ResultMessage)
	}
}

func TestExecuteUnconfiguredCommandFails(t *testing.T) {
	e, calls := newTestExecutor(ExecutorConfig{}, ExecutorDeps{})
	action := e.Execute(context.Background(), models.ActionRestartBackend, "system", "high_cpu_usage")
	if action.Success {
		t.Fatalf("expected failure without command")
	}
	if action.ResultMessage != "restart backend command not configured" {
		t.Fatalf("unexpected message %q", action.ResultMessage)
	}
	if len(*calls) != 0 {
		t.Fatalf("no command should run")
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	e, _ := newTestExecutor(ExecutorConfig{}, ExecutorDeps{})
	action := e.Execute(context.Background(), "reboot_datacenter", "system", "manual")
	if action.Success {
		t.Fatalf("unknown action must fail")
	}
	if !strings.Contains(action.ResultMessage, "unknown action type") {
		t.Fatalf("unexpected message %q", action.ResultMessage)
	}
}

func TestExecuteClearCache(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryProvider()
	_ = store.Set(ctx, "shop:product:1", []byte("x"), 0)
	_ = store.Set(ctx, "shop:product:2", []byte("x"), 0)
	_ = store.Set(ctx, "session:1", []byte("x"), 0)

	e, _ := newTestExecutor(ExecutorConfig{CacheFlushPrefix: "shop:"}, ExecutorDeps{Cache: store})
	action := e.Execute(ctx, models.ActionClearCache, "system", "high_memory_usage")
	if !action.Success || action.ResultMessage != "cleared 2 cache entries" {
		t.Fatalf("unexpected result %+v", action)
	}
	if store.Len() != 1 {
		t.Fatalf("expected session key to survive, len=%d", store.Len())
	}

	noCache, _ := newTestExecutor(ExecutorConfig{}, ExecutorDeps{})
	if noCache.Execute(ctx, models.ActionClearCache, "system", "x").Success {
		t.Fatalf("clear_cache without cache must fail")
	}
}

func TestExecuteReconnectAndNotify(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	e, _ := newTestExecutor(ExecutorConfig{}, ExecutorDeps{
		Reconnector: &fakeReconnector{n: 1},
		Notifier:    notifier,
	})

	if a := e.Execute(ctx, models.ActionReconnectDatabase, "system", "database_down"); !a.Success {
		t.Fatalf("reconnect failed: %s", a.ResultMessage)
	}
	if a := e.Execute(ctx, models.ActionNotifyAdmin, "ledger", "critical_dependency_down"); !a.Success {
		t.Fatalf("notify failed: %s", a.ResultMessage)
	}
	if len(notifier.subjects) != 1 || !strings.Contains(notifier.subjects[0], "ledger") {
		t.Fatalf("unexpected notifications %v", notifier.subjects)
	}

	e.reconnector = &fakeReconnector{err: errors.New("ping postgres: refused")}
	notifier.err = errors.New("smtp down")
	if a := e.Execute(ctx, models.ActionReconnectDatabase, "system", "database_down"); a.Success {
		t.Fatalf("expected reconnect failure")
	}
	if a := e.Execute(ctx, models.ActionNotifyAdmin, "system", "x"); a.Success {
		t.Fatalf("expected notify failure")
	}
}

func TestExecuteCheckNetwork(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestExecutor(ExecutorConfig{NetworkTargets: []string{"db:5432", "cache:6379"}}, ExecutorDeps{})
	e.dial = func(_ context.Context, _, address string) (net.Conn, error) {
		if address == "cache:6379" {
			return nil, errors.New("no route to host")
		}
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}

	action := e.Execute(ctx, models.ActionCheckNetwork, "system", "database_down")
	if action.Success {
		t.Fatalf("expected failure when a target is unreachable")
	}
	if !strings.Contains(action.ResultMessage, "cache:6379") {
		t.Fatalf("unexpected message %q", action.ResultMessage)
	}

	e.cfg.NetworkTargets = []string{"db:5432"}
	if a := e.Execute(ctx, models.ActionCheckNetwork, "system", "x"); !a.Success {
		t.Fatalf("expected success, got %q", a.ResultMessage)
	}
}

func TestExecuteAlwaysSucceedingActions(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestExecutor(ExecutorConfig{}, ExecutorDeps{})
	gcCalls := 0
	e.gc = func() { gcCalls++ }

	for _, action := range []string{
		models.ActionGarbageCollect,
		models.ActionEnableFallback,
		models.ActionOptimizeProcesses,
		models.ActionOptimizeQueries,
		models.ActionAutoOptimize,
	} {
		if a := e.Execute(ctx, action, "cpu_usage", "test"); !a.Success {
			t.Fatalf("%s failed: %s", action, a.ResultMessage)
		}
	}
	if gcCalls != 1 {
		t.Fatalf("expected one GC call, got %d", gcCalls)
	}
	if !e.FallbackEnabled() {
		t.Fatalf("enable_fallback should set the fallback flag")
	}
	if a := e.Execute(ctx, models.ActionDisableFallback, "system", "recovered"); !a.Success {
		t.Fatalf("disable_fallback failed: %s", a.ResultMessage)
	}
	if e.FallbackEnabled() {
		t.Fatalf("disable_fallback should clear the fallback flag")
	}
}

func TestPerformTagsActionFailures(t *testing.T) {
	e, _ := newTestExecutor(ExecutorConfig{}, ExecutorDeps{})
	_, err := e.perform(context.Background(), "reboot_datacenter", "system")
	if utils.KindOf(err) != utils.KindAction {
		t.Fatalf("expected action failure kind, got %q (%v)", utils.KindOf(err), err)
	}
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction in chain, got %v", err)
	}

	action := e.Execute(context.Background(), models.ActionRestartBackend, "system", "high_cpu_usage")
	if action.ResultMessage != "restart backend command not configured" {
		t.Fatalf("result message should carry only the cause, got %q", action.ResultMessage)
	}
}
