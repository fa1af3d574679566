// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package notifications sends operator alerts for events that need a human:
// the controller driver failing to start, and the store circuit breaker
// tripping and recovering.
//
// Alerts go to a Slack Incoming Webhook configured with SLACK_WEBHOOK_URL or
// notifications.slack_webhook_url. An empty URL disables sending; calls then
// succeed without doing anything. The URL can be swapped at runtime on
// configuration reload.
//
//	notifier := notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
//	_ = notifier.SendDriverFailure(ctx, "/dev/ttyUSB0")
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
)

const footer = "Z-Wave Redis Bridge"

// SlackNotifier sends notifications to Slack via webhook
type SlackNotifier struct {
	mu         sync.RWMutex
	webhookURL string
	client     *http.Client
}

// SlackMessage represents a Slack webhook message payload
type SlackMessage struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Slack attachment
type Attachment struct {
	Color  string `json:"color,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns whether Slack notifications are enabled
func (s *SlackNotifier) IsEnabled() bool {
	return s.url() != ""
}

// SetWebhookURL replaces the webhook. An empty URL disables the notifier.
func (s *SlackNotifier) SetWebhookURL(webhookURL string) {
	s.mu.Lock()
	s.webhookURL = webhookURL
	s.mu.Unlock()
}

func (s *SlackNotifier) url() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhookURL
}

// SendMessage sends a simple text message to Slack
func (s *SlackNotifier) SendMessage(ctx context.Context, message string) error {
	if !s.IsEnabled() {
		logger.Debug().Msg("Slack notifications disabled, skipping message")
		return nil
	}
	return s.sendPayload(ctx, SlackMessage{Text: message})
}

// SendAlert sends a formatted alert to Slack
func (s *SlackNotifier) SendAlert(ctx context.Context, severity, title, message string) error {
	if !s.IsEnabled() {
		logger.Debug().Str("title", title).Msg("Slack notifications disabled, skipping alert")
		return nil
	}

	payload := SlackMessage{
		Attachments: []Attachment{
			{
				Color:  severityToColor(severity),
				Title:  title,
				Text:   message,
				Footer: footer,
				Ts:     time.Now().Unix(),
			},
		},
	}
	return s.sendPayload(ctx, payload)
}

// SendDriverFailure alerts that the controller driver could not be started.
func (s *SlackNotifier) SendDriverFailure(ctx context.Context, transport string) error {
	return s.SendAlert(ctx, "danger", "Z-Wave Driver Failed",
		fmt.Sprintf("The controller on %s failed to initialize. The bridge is shutting down.", transport))
}

// SendStoreFailure alerts that store writes are being shed.
func (s *SlackNotifier) SendStoreFailure(ctx context.Context, addr string) error {
	return s.SendAlert(ctx, "danger", "Redis Writes Suspended",
		fmt.Sprintf("Repeated write failures against %s opened the circuit breaker. Device updates are being dropped.", addr))
}

// SendStoreRecovery alerts that store writes resumed.
func (s *SlackNotifier) SendStoreRecovery(ctx context.Context, addr string) error {
	return s.SendAlert(ctx, "good", "Redis Writes Restored",
		fmt.Sprintf("Writes to %s are succeeding again.", addr))
}

// sendPayload sends a payload to the Slack webhook
func (s *SlackNotifier) sendPayload(ctx context.Context, payload SlackMessage) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url(), bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewNotificationError("slack", fmt.Errorf("failed to send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.NewNotificationError("slack", fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}

	if len(payload.Attachments) > 0 {
		logger.Debug().Str("title", payload.Attachments[0].Title).Msg("Slack notification sent")
	} else {
		logger.Debug().Str("text", payload.Text).Msg("Slack notification sent")
	}
	return nil
}

// severityToColor maps severity levels to Slack colors
func severityToColor(severity string) string {
	switch severity {
	case "danger", "error":
		return "danger"
	case "warning", "warn":
		return "warning"
	case "good", "success":
		return "good"
	default:
		return "#808080"
	}
}
