package services

import (
	"context"
	"errors"
	"testing"

	"github.com/miradorstack/mirador-healing/internal/engine"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/repo"
)

type staticCollector struct {
	sample models.HealthSample
}

func (c staticCollector) Sample(context.Context) models.HealthSample { return c.sample }

type failingStore struct {
	*repo.MemoryStore
}

func (failingStore) ListActions(context.Context, int) ([]models.HealingAction, error) {
	return nil, errors.New("database is locked")
}

func newTestService(t *testing.T, sample models.HealthSample, store repo.Store) *HealingService {
	t.Helper()
	eng, err := engine.New(engine.Config{HealingEnabled: true}, engine.Deps{
		Collector: staticCollector{sample: sample},
		Store:     store,
	}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return NewHealingService(nil, eng)
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{-1: DefaultListLimit, 0: DefaultListLimit, 10: 10, MaxListLimit + 1: MaxListLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestDashboardBeforeAndAfterCycle(t *testing.T) {
	svc := newTestService(t, models.HealthSample{CPUUsage: 20, MemoryUsage: 30}, repo.NewMemoryStore(0))
	ctx := context.Background()

	empty := svc.GetDashboard(ctx)
	if empty.HealthScore != nil || empty.Sample != nil || empty.LastCycle != nil {
		t.Fatalf("expected empty dashboard before the first cycle: %+v", empty)
	}
	if empty.Status.RuleCount != 5 {
		t.Fatalf("expected default rule count, got %d", empty.Status.RuleCount)
	}

	report, err := svc.RunFullCycle(ctx)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	dash := svc.GetDashboard(ctx)
	if dash.HealthScore == nil || *dash.HealthScore != 100 || dash.Band != models.BandExcellent {
		t.Fatalf("unexpected dashboard score: %+v", dash)
	}
	if dash.LastCycle == nil || dash.LastCycle.ID != report.ID {
		t.Fatalf("dashboard should carry the last cycle")
	}
	if len(dash.History.Samples) != 1 || dash.History.WindowSize != 50 {
		t.Fatalf("unexpected history %+v", dash.History)
	}
}

func TestDashboardToleratesStoreFailure(t *testing.T) {
	svc := newTestService(t, models.HealthSample{}, failingStore{repo.NewMemoryStore(0)})
	dash := svc.GetDashboard(context.Background())
	if dash.RecentActions == nil || len(dash.RecentActions) != 0 {
		t.Fatalf("expected empty recent actions, got %+v", dash.RecentActions)
	}
	if _, err := svc.ListHealingActions(context.Background(), 5); err == nil {
		t.Fatalf("expected list error to surface")
	}
}

func TestToggleHealing(t *testing.T) {
	svc := newTestService(t, models.HealthSample{}, nil)
	ctx := context.Background()
	if status := svc.DisableHealing(ctx); status.HealingEnabled {
		t.Fatalf("expected healing disabled")
	}
	if status := svc.EnableHealing(ctx); !status.HealingEnabled {
		t.Fatalf("expected healing enabled")
	}
	if !svc.GetHealingStatus(ctx).HealingEnabled {
		t.Fatalf("status should reflect toggle")
	}
}

func TestTriggerHealAndListActions(t *testing.T) {
	svc := newTestService(t, models.HealthSample{CPUUsage: 10, MemoryUsage: 95}, nil)
	ctx := context.Background()

	actions, err := svc.TriggerHeal(ctx)
	if err != nil {
		t.Fatalf("trigger heal: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(actions))
	}
	listed, err := svc.ListHealingActions(ctx, 2)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(listed) != 2 || listed[0].ActionType != models.ActionGarbageCollect {
		t.Fatalf("unexpected listing %+v", listed)
	}
}

func TestAlertOverviewWithoutDispatcher(t *testing.T) {
	svc := newTestService(t, models.HealthSample{}, nil)
	overview := svc.ListAlertConfigs(context.Background())
	if overview.Configs == nil || overview.LastFired == nil {
		t.Fatalf("expected non-nil empty collections: %+v", overview)
	}
}

func TestListCycleReportsNewestFirst(t *testing.T) {
	svc := newTestService(t, models.HealthSample{CPUUsage: 15, MemoryUsage: 25}, repo.NewMemoryStore(0))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		report, err := svc.RunFullCycle(ctx)
		if err != nil {
			t.Fatalf("run cycle %d: %v", i, err)
		}
		ids = append(ids, report.ID)
	}

	reports, err := svc.ListCycleReports(ctx, 2)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 2 || reports[0].ID != ids[2] || reports[1].ID != ids[1] {
		t.Fatalf("unexpected report order %+v", reports)
	}
}
