// Package notification delivers trading alerts (fills, failures, data
// outages) to Telegram or a generic webhook.
package notification

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier only logs alerts. It is the fallback when no channel is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Info().Str("level", string(alert.Level)).Str("title", alert.Title).Msg("[notify] " + alert.Message)
	return nil
}

// Multi fans an alert out to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config selects the alert channels. Empty fields disable a channel.
type Config struct {
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
}

// FromConfig builds the notifier for cfg, falling back to LogNotifier.
func FromConfig(cfg Config) Notifier {
	var m Multi
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		m = append(m, NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		m = append(m, NewWebhookNotifier(cfg.WebhookURL))
	}
	if len(m) == 0 {
		return LogNotifier{}
	}
	return m
}
