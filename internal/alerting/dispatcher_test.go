package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/rules"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

type recordingChannel struct {
	mu   sync.Mutex
	name string
	err  error
	sent []models.AlertNotification
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, n models.AlertNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func lowScoreAlert(cooldown int) models.AlertConfig {
	return models.AlertConfig{
		ID:              "health_critical",
		Channel:         models.ChannelLog,
		Recipient:       "oncall@example.com",
		CooldownMinutes: cooldown,
		Severity:        models.SeverityCritical,
		Enabled:         true,
		TriggerConditions: []models.Condition{
			{Type: models.ConditionMetric, Metric: rules.MetricHealthScore, Operator: "<", Threshold: 50},
		},
	}
}

func scoreSnapshot(score float64) rules.Snapshot {
	return rules.Snapshot{HealthScore: score, HasScore: true}
}

func TestDispatcherCooldownWindow(t *testing.T) {
	ch := &recordingChannel{name: models.ChannelLog}
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	d := NewDispatcher([]models.AlertConfig{lowScoreAlert(15)}, map[string]Channel{models.ChannelLog: ch}, nil, WithClock(clock.Now))
	ctx := context.Background()

	res := d.Evaluate(ctx, scoreSnapshot(40))
	require.Equal(t, []string{"health_critical"}, res.Dispatched)
	first, ok := d.LastFired("health_critical")
	require.True(t, ok)
	assert.Equal(t, map[string]time.Time{"health_critical": first}, d.LastAlerts())

	clock.now = clock.now.Add(5 * time.Minute)
	res = d.Evaluate(ctx, scoreSnapshot(40))
	assert.Empty(t, res.Dispatched)
	assert.Equal(t, []string{"health_critical"}, res.Suppressed)
	last, _ := d.LastFired("health_critical")
	assert.True(t, last.Equal(first), "suppression must not touch the last-alert table")

	clock.now = clock.now.Add(11 * time.Minute)
	res = d.Evaluate(ctx, scoreSnapshot(40))
	assert.Equal(t, []string{"health_critical"}, res.Dispatched)
	assert.Equal(t, 2, ch.count())
}

func TestDispatcherLowScoreAlertWithLongCooldown(t *testing.T) {
	ch := &recordingChannel{name: models.ChannelLog}
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	d := NewDispatcher([]models.AlertConfig{lowScoreAlert(30)}, map[string]Channel{models.ChannelLog: ch}, nil, WithClock(clock.Now))
	ctx := context.Background()

	res := d.Evaluate(ctx, scoreSnapshot(45))
	require.Len(t, res.Dispatched, 1)
	require.Equal(t, 1, ch.count())
	n := ch.sent[0]
	assert.Equal(t, models.SeverityCritical, n.Severity)
	assert.Equal(t, 45.0, n.HealthScore)
	assert.Equal(t, []string{"health_score < 50"}, n.Reasons)
	assert.Contains(t, n.Summary, "CRITICAL")

	clock.now = clock.now.Add(10 * time.Minute)
	res = d.Evaluate(ctx, scoreSnapshot(45))
	assert.Equal(t, []string{"health_critical"}, res.Suppressed)
	assert.Equal(t, 1, ch.count())
}

func TestDispatcherFiresOnAnyCondition(t *testing.T) {
	ch := &recordingChannel{name: models.ChannelLog}
	cfg := models.AlertConfig{
		ID: "db_or_cpu", Channel: models.ChannelLog, Enabled: true,
		TriggerConditions: []models.Condition{
			{Type: models.ConditionMetric, Metric: models.MetricCPUUsage, Operator: ">", Threshold: 90},
			{Type: models.ConditionDependency, Kind: "postgres", Status: models.DependencyDown},
		},
	}
	d := NewDispatcher([]models.AlertConfig{cfg}, map[string]Channel{models.ChannelLog: ch}, nil)

	snapshot := rules.Snapshot{
		Sample:       models.HealthSample{CPUUsage: 20},
		Dependencies: []models.DependencyStatus{{ServiceName: "orders-db", Kind: "postgres", Status: models.DependencyDown}},
	}
	res := d.Evaluate(context.Background(), snapshot)
	require.Equal(t, []string{"db_or_cpu"}, res.Dispatched)
	assert.Equal(t, []string{"postgres dependency is down"}, ch.sent[0].Reasons)
	assert.Equal(t, models.SeverityMedium, ch.sent[0].Severity)
}

func TestDispatcherSkipsDisabledAndInvalidAlerts(t *testing.T) {
	ch := &recordingChannel{name: models.ChannelLog}
	disabled := lowScoreAlert(0)
	disabled.Enabled = false
	invalid := models.AlertConfig{
		ID: "bad", Channel: models.ChannelLog, Enabled: true,
		TriggerConditions: []models.Condition{{Type: models.ConditionMetric, Metric: "bogus", Operator: ">", Threshold: 1}},
	}
	d := NewDispatcher([]models.AlertConfig{disabled, invalid}, map[string]Channel{models.ChannelLog: ch}, nil)

	res := d.Evaluate(context.Background(), scoreSnapshot(10))
	assert.Empty(t, res.Dispatched)
	assert.Empty(t, res.Suppressed)
	assert.Equal(t, []string{"bad"}, res.Skipped)
	assert.Zero(t, ch.count())
}

func TestDispatcherFailedDeliveryStartsCooldown(t *testing.T) {
	ch := &recordingChannel{name: models.ChannelLog, err: errors.New("sink down")}
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	d := NewDispatcher([]models.AlertConfig{lowScoreAlert(15)}, map[string]Channel{models.ChannelLog: ch}, nil, WithClock(clock.Now))
	ctx := context.Background()

	res := d.Evaluate(ctx, scoreSnapshot(20))
	assert.Equal(t, []string{"health_critical"}, res.Failed)
	_, ok := d.LastFired("health_critical")
	assert.True(t, ok)

	clock.now = clock.now.Add(time.Minute)
	res = d.Evaluate(ctx, scoreSnapshot(20))
	assert.Equal(t, []string{"health_critical"}, res.Suppressed)
	assert.Equal(t, 1, ch.count())
}

func TestDispatcherSkipsUnknownChannelWithoutCooldown(t *testing.T) {
	cfg := lowScoreAlert(30)
	cfg.Channel = "pager"
	d := NewDispatcher([]models.AlertConfig{cfg}, map[string]Channel{}, nil)

	res := d.Evaluate(context.Background(), scoreSnapshot(10))
	assert.Equal(t, []string{"health_critical"}, res.Skipped)
	assert.Empty(t, res.Failed)
	_, fired := d.LastFired("health_critical")
	assert.False(t, fired, "a skipped alert must not start its cooldown")
}

func TestDispatcherDeliveryFailureIsDispatchKind(t *testing.T) {
	sinkDown := errors.New("sink down")
	ch := &recordingChannel{name: models.ChannelWebhook, err: sinkDown}
	cfg := lowScoreAlert(0)
	cfg.Channel = models.ChannelWebhook
	d := NewDispatcher([]models.AlertConfig{cfg}, map[string]Channel{models.ChannelWebhook: ch}, nil)

	err := d.send(context.Background(), cfg, scoreSnapshot(10), []string{"health_score < 50"}, time.Now())
	require.Error(t, err)
	assert.Equal(t, utils.KindDispatch, utils.KindOf(err))
	assert.ErrorIs(t, err, sinkDown)
}

func TestAdminNotifier(t *testing.T) {
	ch := &recordingChannel{name: models.ChannelLog}
	n := NewAdminNotifier(ch, "ops@example.com")
	require.NoError(t, n.Notify(context.Background(), "critical dependency down", "ledger unreachable"))
	require.Equal(t, 1, ch.count())
	assert.Equal(t, "ops@example.com", ch.sent[0].Recipient)
	assert.Equal(t, []string{"ledger unreachable"}, ch.sent[0].Reasons)

	assert.Error(t, NewAdminNotifier(nil, "").Notify(context.Background(), "x", "y"))
}
