package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-healing/internal/metrics"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/rules"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// Result lists the alert ids handled in one evaluation.
type Result struct {
	Dispatched []string
	Suppressed []string
	Failed     []string
	// Skipped lists enabled alerts whose config failed validation.
	Skipped []string
}

// Dispatcher fires alerts whose trigger conditions hold, at most once per
// cooldown window per alert.
type Dispatcher struct {
	configs  []models.AlertConfig
	invalid  []error
	channels map[string]Channel
	now      utils.Clock
	log      *slog.Logger

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the wall clock.
func WithClock(clock utils.Clock) Option {
	return func(d *Dispatcher) { d.now = clock }
}

// NewDispatcher creates a dispatcher. Invalid alert configs are kept but
// logged; they are skipped on every evaluation.
func NewDispatcher(configs []models.AlertConfig, channels map[string]Channel, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		configs:   append([]models.AlertConfig(nil), configs...),
		channels:  channels,
		now:       utils.SystemClock,
		log:       utils.OrDefault(logger, "alerting.dispatcher"),
		lastFired: make(map[string]time.Time),
	}
	if d.channels == nil {
		d.channels = map[string]Channel{models.ChannelLog: NewLogChannel(logger)}
	}
	for _, opt := range opts {
		opt(d)
	}
	d.invalid = make([]error, len(d.configs))
	for i, cfg := range d.configs {
		if err := d.validate(cfg); err != nil {
			d.invalid[i] = err
			d.log.Warn("alert config invalid", slog.String("alert", cfg.ID), slog.Any("error", err))
		}
	}
	return d
}

// Configs returns a copy of the alert configuration.
func (d *Dispatcher) Configs() []models.AlertConfig {
	return append([]models.AlertConfig(nil), d.configs...)
}

// LastFired reports when the alert was last dispatched.
func (d *Dispatcher) LastFired(alertID string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts, ok := d.lastFired[alertID]
	return ts, ok
}

// LastAlerts returns a copy of the last-alert table.
func (d *Dispatcher) LastAlerts() map[string]time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]time.Time, len(d.lastFired))
	for id, ts := range d.lastFired {
		out[id] = ts
	}
	return out
}

// Evaluate checks every enabled alert against the snapshot and dispatches
// those that fire outside their cooldown. Delivery failures are logged and
// reported but never returned.
func (d *Dispatcher) Evaluate(ctx context.Context, s rules.Snapshot) Result {
	var res Result
	for i, cfg := range d.configs {
		if !cfg.Enabled {
			continue
		}
		// Invalid configs never take a cooldown slot.
		if d.invalid[i] != nil {
			res.Skipped = append(res.Skipped, cfg.ID)
			continue
		}
		reasons, err := d.triggered(cfg, s)
		if err != nil {
			d.log.Warn("skipping alert with invalid trigger", slog.String("alert", cfg.ID), slog.Any("error", err))
			continue
		}
		if len(reasons) == 0 {
			continue
		}

		now := d.now()
		if !d.claim(cfg, now) {
			res.Suppressed = append(res.Suppressed, cfg.ID)
			metrics.IncAlert(cfg.ID, metrics.AlertSuppressed)
			d.log.Debug("alert suppressed by cooldown", slog.String("alert", cfg.ID))
			continue
		}

		if err := d.send(ctx, cfg, s, reasons, now); err != nil {
			res.Failed = append(res.Failed, cfg.ID)
			metrics.IncAlert(cfg.ID, metrics.AlertFailed)
			metrics.IncFailure(string(utils.KindOf(err)))
			d.log.Error("alert delivery failed", slog.String("alert", cfg.ID), slog.String("channel", cfg.Channel), slog.Any("error", err))
			continue
		}
		res.Dispatched = append(res.Dispatched, cfg.ID)
		metrics.IncAlert(cfg.ID, metrics.AlertDispatched)
	}
	return res
}

// triggered returns a description of every satisfied trigger condition.
func (d *Dispatcher) triggered(cfg models.AlertConfig, s rules.Snapshot) ([]string, error) {
	var reasons []string
	for _, cond := range cfg.TriggerConditions {
		ok, err := rules.Evaluate(cond, s)
		if err != nil {
			return nil, err
		}
		if ok {
			reasons = append(reasons, rules.Describe(cond))
		}
	}
	return reasons, nil
}

// claim records now as the fire time unless the alert is inside its cooldown.
// The table is updated before delivery so a failing sink is retried only
// after the cooldown.
func (d *Dispatcher) claim(cfg models.AlertConfig, now time.Time) bool {
	cooldown := time.Duration(cfg.CooldownMinutes) * time.Minute
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastFired[cfg.ID]; ok && now.Sub(last) < cooldown {
		return false
	}
	d.lastFired[cfg.ID] = now
	return true
}

func (d *Dispatcher) send(ctx context.Context, cfg models.AlertConfig, s rules.Snapshot, reasons []string, now time.Time) error {
	channel, ok := d.channels[strings.ToLower(cfg.Channel)]
	if !ok {
		return utils.DispatchError("alerting.send", cfg.ID, fmt.Errorf("unknown channel %q", cfg.Channel))
	}
	severity := cfg.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}
	n := models.AlertNotification{
		AlertID:     cfg.ID,
		Recipient:   cfg.Recipient,
		Severity:    severity,
		Summary:     fmt.Sprintf("[%s] health alert %s: %s", strings.ToUpper(string(severity)), cfg.ID, strings.Join(reasons, "; ")),
		Reasons:     reasons,
		HealthScore: s.HealthScore,
		FiredAt:     now,
	}
	if err := channel.Send(ctx, n); err != nil {
		return utils.DispatchError("alerting.send", cfg.ID+" via "+channel.Name(), err)
	}
	return nil
}

func (d *Dispatcher) validate(cfg models.AlertConfig) error {
	if cfg.ID == "" {
		return utils.ConfigError("alerting.validate", "alert id is required", nil)
	}
	if _, ok := d.channels[strings.ToLower(cfg.Channel)]; !ok {
		return utils.ConfigError("alerting.validate", fmt.Sprintf("unknown channel %q", cfg.Channel), nil)
	}
	if cfg.CooldownMinutes < 0 {
		return utils.ConfigError("alerting.validate", "cooldown must not be negative", nil)
	}
	for _, cond := range cfg.TriggerConditions {
		if err := rules.Validate(cond); err != nil {
			return err
		}
	}
	return nil
}

// AdminNotifier sends operator notifications for the notify_admin action.
type AdminNotifier struct {
	channel   Channel
	recipient string
	now       utils.Clock
}

// NewAdminNotifier routes admin notifications through channel.
func NewAdminNotifier(channel Channel, recipient string) *AdminNotifier {
	return &AdminNotifier{channel: channel, recipient: recipient, now: utils.SystemClock}
}

// Notify delivers an admin notification.
func (n *AdminNotifier) Notify(ctx context.Context, subject, body string) error {
	if n.channel == nil {
		return fmt.Errorf("admin channel not configured")
	}
	return n.channel.Send(ctx, models.AlertNotification{
		AlertID:   "admin",
		Recipient: n.recipient,
		Severity:  models.SeverityHigh,
		Summary:   subject,
		Reasons:   []string{body},
		FiredAt:   n.now(),
	})
}
