package models

import "time"

// Alert channel types.
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelLog     = "log"
)

// AlertNotification is what channels deliver when an alert fires.
type AlertNotification struct {
	AlertID     string    `json:"alert_id"`
	Recipient   string    `json:"recipient"`
	Severity    Severity  `json:"severity"`
	Summary     string    `json:"summary"`
	Reasons     []string  `json:"reasons"`
	HealthScore float64   `json:"health_score"`
	FiredAt     time.Time `json:"fired_at"`
}

// AlertOverview pairs the alert configuration with the last-alert table.
type AlertOverview struct {
	Configs   []AlertConfig        `json:"configs"`
	LastFired map[string]time.Time `json:"last_fired"`
}
