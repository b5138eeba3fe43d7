package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-healing/internal/models"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	gormStore, err := NewGormStore(GormConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gormStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(0),
		"gorm":   gormStore,
	}
}

func TestStoreListsNewestFirst(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				require.NoError(t, store.SaveActions(ctx, []models.HealingAction{{
					ID:         fmt.Sprintf("act-%d", i),
					ActionType: models.ActionClearCache,
					Trigger:    "high_memory_usage",
					ExecutedAt: base.Add(time.Duration(i) * time.Minute),
					Success:    true,
				}}))
			}

			all, err := store.ListActions(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "act-2", all[0].ID)
			assert.Equal(t, "act-0", all[2].ID)
			assert.Equal(t, "high_memory_usage", all[0].Trigger)

			limited, err := store.ListActions(ctx, 2)
			require.NoError(t, err)
			require.Len(t, limited, 2)
			assert.Equal(t, "act-1", limited[1].ID)
		})
	}
}

func TestStoreRoundTripsAnomalyMetrics(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := models.Anomaly{
				ID:               "an-1",
				Component:        models.MetricCPUUsage,
				Type:             models.AnomalyTypePerformance,
				Severity:         models.SeverityCritical,
				DetectedAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				Metrics:          models.AnomalyMetrics{Current: 45, Mean: 20, StdDev: 5.05, ZScore: 4.95},
				Confidence:       95,
				SuggestedAction:  "URGENT: scale out",
				AutoHealPossible: true,
			}
			require.NoError(t, store.SaveAnomalies(ctx, []models.Anomaly{in}))
			require.NoError(t, store.SaveAnomalies(ctx, nil))

			got, err := store.ListAnomalies(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, in.Metrics, got[0].Metrics)
			assert.Equal(t, in.Severity, got[0].Severity)
			assert.True(t, got[0].DetectedAt.Equal(in.DetectedAt))
		})
	}
}

func TestStoreChangesAndReports(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveChanges(ctx, []models.ChangeRecord{{
				ID: "ch-1", Component: models.MetricCPUUsage, OldValue: "30.0%", NewValue: "75.0%",
				ImpactLevel: models.SeverityHigh, DetectedBy: "change_detector",
			}}))
			require.NoError(t, store.SaveReport(ctx, models.CycleReport{
				ID: "cy-1", HealthScore: 75, Band: models.BandGood, Duration: 1500 * time.Millisecond,
				MatchedRules: []string{"database_down"}, Errors: []string{"alerts: boom"},
			}))

			changes, err := store.ListChanges(ctx, 0)
			require.NoError(t, err)
			require.Len(t, changes, 1)
			assert.Equal(t, models.SeverityHigh, changes[0].ImpactLevel)

			reports, err := store.ListReports(ctx, 1)
			require.NoError(t, err)
			require.Len(t, reports, 1)
			assert.Equal(t, []string{"database_down"}, reports[0].MatchedRules)
			assert.Equal(t, 1500*time.Millisecond, reports[0].Duration)
		})
	}
}

func TestMemoryStoreRetention(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)
	for i := 0; i < 5; i++ {
		_ = store.SaveChanges(ctx, []models.ChangeRecord{{ID: fmt.Sprintf("ch-%d", i)}})
	}
	got, _ := store.ListChanges(ctx, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "ch-4", got[0].ID)
	assert.Equal(t, "ch-3", got[1].ID)
}

func TestNewGormStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewGormStore(GormConfig{Driver: "oracle"})
	assert.Error(t, err)
}
