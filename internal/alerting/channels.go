package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/sony/gobreaker"

	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// Channel delivers an alert notification to one sink.
type Channel interface {
	Name() string
	Send(ctx context.Context, n models.AlertNotification) error
}

// ChannelSettings configures the built-in channels.
type ChannelSettings struct {
	WebhookURL     string
	WebhookTimeout time.Duration
	MailgunDomain  string
	MailgunAPIKey  string
	EmailFrom      string
}

// NewChannels builds the log, webhook and email channels keyed by channel name.
func NewChannels(settings ChannelSettings, logger *slog.Logger) map[string]Channel {
	logCh := NewLogChannel(logger)
	return map[string]Channel{
		models.ChannelLog:     logCh,
		models.ChannelWebhook: NewWebhookChannel(settings.WebhookURL, settings.WebhookTimeout, logger),
		models.ChannelEmail:   NewEmailChannel(settings.MailgunDomain, settings.MailgunAPIKey, settings.EmailFrom, logCh, logger),
	}
}

// LogChannel writes alerts to the structured log.
type LogChannel struct {
	log *slog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{log: utils.OrDefault(logger, "alerting.log")}
}

func (c *LogChannel) Name() string { return models.ChannelLog }

func (c *LogChannel) Send(_ context.Context, n models.AlertNotification) error {
	c.log.Warn("health alert",
		slog.String("alert", n.AlertID),
		slog.String("severity", string(n.Severity)),
		slog.String("recipient", n.Recipient),
		slog.String("summary", n.Summary),
		slog.Any("reasons", n.Reasons),
		slog.Float64("health_score", n.HealthScore),
	)
	return nil
}

// WebhookChannel POSTs the notification as JSON. Consecutive failures open a
// circuit breaker so a dead sink is skipped until it recovers.
type WebhookChannel struct {
	defaultURL string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *slog.Logger
}

// NewWebhookChannel creates a webhook channel. The alert recipient, when it
// is a URL, overrides defaultURL.
func NewWebhookChannel(defaultURL string, timeout time.Duration, logger *slog.Logger) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := utils.OrDefault(logger, "alerting.webhook")
	return &WebhookChannel{
		defaultURL: defaultURL,
		client:     &http.Client{Timeout: timeout},
		log:        log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "alert-webhook",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info("webhook breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

func (c *WebhookChannel) Name() string { return models.ChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, n models.AlertNotification) error {
	target := c.defaultURL
	if strings.HasPrefix(n.Recipient, "http://") || strings.HasPrefix(n.Recipient, "https://") {
		target = n.Recipient
	}
	if target == "" {
		return errors.New("webhook url not configured")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	return nil
}

// mailSender is the subset of Mailgun used for delivery.
type mailSender interface {
	send(ctx context.Context, from, subject, text, to string) (string, error)
}

type mailgunSender struct {
	client *mailgun.MailgunImpl
}

func (s mailgunSender) send(ctx context.Context, from, subject, text, to string) (string, error) {
	message := s.client.NewMessage(from, subject, text, to)
	_, id, err := s.client.Send(ctx, message)
	return id, err
}

// EmailChannel sends alerts through Mailgun. Without credentials it degrades
// to the fallback channel.
type EmailChannel struct {
	sender   mailSender
	from     string
	fallback Channel
	log      *slog.Logger
}

// NewEmailChannel creates an email channel. fallback receives alerts when
// Mailgun is not configured.
func NewEmailChannel(domain, apiKey, from string, fallback Channel, logger *slog.Logger) *EmailChannel {
	ch := &EmailChannel{
		from:     from,
		fallback: fallback,
		log:      utils.OrDefault(logger, "alerting.email"),
	}
	if ch.from == "" && domain != "" {
		ch.from = "mirador-healing@" + domain
	}
	if domain != "" && apiKey != "" {
		ch.sender = mailgunSender{client: mailgun.NewMailgun(domain, apiKey)}
	}
	return ch
}

func (c *EmailChannel) Name() string { return models.ChannelEmail }

// Configured reports whether Mailgun credentials are present.
func (c *EmailChannel) Configured() bool { return c.sender != nil }

func (c *EmailChannel) Send(ctx context.Context, n models.AlertNotification) error {
	if c.sender == nil {
		if c.fallback == nil {
			return errors.New("email channel not configured")
		}
		c.log.Debug("mailgun not configured, delivering alert to fallback", slog.String("alert", n.AlertID))
		return c.fallback.Send(ctx, n)
	}
	if n.Recipient == "" {
		return errors.New("email alert has no recipient")
	}

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	id, err := c.sender.send(sendCtx, c.from, n.Summary, emailBody(n), n.Recipient)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	c.log.Info("alert email sent", slog.String("alert", n.AlertID), slog.String("message_id", id))
	return nil
}

func emailBody(n models.AlertNotification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", n.Summary)
	fmt.Fprintf(&b, "Severity: %s\n", n.Severity)
	fmt.Fprintf(&b, "Health score: %.0f\n", n.HealthScore)
	fmt.Fprintf(&b, "Fired at: %s\n", n.FiredAt.Format(time.RFC3339))
	if len(n.Reasons) > 0 {
		b.WriteString("\nTriggered by:\n")
		for _, r := range n.Reasons {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	return b.String()
}
