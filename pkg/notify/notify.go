// Package notify delivers triage outcome notifications. Sinks are optional;
// a nil-configured service degrades to log-only.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
)

// Sink receives one plain-text notification.
type Sink interface {
	Notify(ctx context.Context, message string)
}

// Service fans a message out to the log and, when configured, Slack.
type Service struct {
	webhookURL string
	ticketSink bool
}

// NewService builds the notifier. An empty webhook URL disables Slack.
func NewService(webhookURL string, ticketSinkEnabled bool) *Service {
	return &Service{webhookURL: webhookURL, ticketSink: ticketSinkEnabled}
}

// Notify logs the message and posts it to the Slack webhook if one is set.
// Delivery failures are logged, never propagated; notifications must not
// fail the pipeline.
func (s *Service) Notify(ctx context.Context, message string) {
	slog.Info("notification", "message", message)
	if s == nil {
		return
	}

	if s.webhookURL != "" {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: message}); err != nil {
			slog.Warn("Slack notify failed", "error", err)
		}
	}
	if s.ticketSink {
		// Ticket creation is log-only until a tracker integration lands.
		slog.Info("ticket sink", "message", message)
	}
}
