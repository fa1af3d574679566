// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/soothill/zwave-redis-bridge/pkg/errors"
)

type webhook struct {
	mu       sync.Mutex
	payloads []SlackMessage
	status   int
}

func newWebhook(t *testing.T, status int) (*webhook, *httptest.Server) {
	t.Helper()
	w := &webhook{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		var msg SlackMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.mu.Lock()
		w.payloads = append(w.payloads, msg)
		w.mu.Unlock()
		rw.WriteHeader(w.status)
	}))
	t.Cleanup(srv.Close)
	return w, srv
}

func (w *webhook) last(t *testing.T) SlackMessage {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.payloads) == 0 {
		t.Fatal("webhook not called")
	}
	return w.payloads[len(w.payloads)-1]
}

func TestNewSlackNotifier(t *testing.T) {
	if !NewSlackNotifier("https://hooks.slack.com/services/test").IsEnabled() {
		t.Error("notifier with URL should be enabled")
	}
	if NewSlackNotifier("").IsEnabled() {
		t.Error("notifier without URL should be disabled")
	}
}

func TestSlackNotifier_SendMessage(t *testing.T) {
	hook, srv := newWebhook(t, http.StatusOK)
	notifier := NewSlackNotifier(srv.URL)

	if err := notifier.SendMessage(context.Background(), "bridge started"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if got := hook.last(t).Text; got != "bridge started" {
		t.Errorf("Text = %q", got)
	}
}

func TestSlackNotifier_Disabled(t *testing.T) {
	notifier := NewSlackNotifier("")
	if err := notifier.SendMessage(context.Background(), "ignored"); err != nil {
		t.Errorf("SendMessage() with disabled notifier error = %v", err)
	}
	if err := notifier.SendDriverFailure(context.Background(), "/dev/ttyUSB0"); err != nil {
		t.Errorf("SendDriverFailure() with disabled notifier error = %v", err)
	}
}

func TestSlackNotifier_DomainAlerts(t *testing.T) {
	tests := []struct {
		name      string
		send      func(*SlackNotifier) error
		wantColor string
		wantText  string
	}{
		{
			name:      "driver failure",
			send:      func(n *SlackNotifier) error { return n.SendDriverFailure(context.Background(), "/dev/ttyACM0") },
			wantColor: "danger",
			wantText:  "/dev/ttyACM0",
		},
		{
			name:      "store failure",
			send:      func(n *SlackNotifier) error { return n.SendStoreFailure(context.Background(), "redis:6379") },
			wantColor: "danger",
			wantText:  "redis:6379",
		},
		{
			name:      "store recovery",
			send:      func(n *SlackNotifier) error { return n.SendStoreRecovery(context.Background(), "redis:6379") },
			wantColor: "good",
			wantText:  "succeeding again",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook, srv := newWebhook(t, http.StatusOK)
			if err := tt.send(NewSlackNotifier(srv.URL)); err != nil {
				t.Fatalf("send error = %v", err)
			}
			msg := hook.last(t)
			if len(msg.Attachments) != 1 {
				t.Fatalf("got %d attachments", len(msg.Attachments))
			}
			a := msg.Attachments[0]
			if a.Color != tt.wantColor {
				t.Errorf("Color = %q, want %q", a.Color, tt.wantColor)
			}
			if !strings.Contains(a.Text, tt.wantText) {
				t.Errorf("Text = %q, want it to contain %q", a.Text, tt.wantText)
			}
			if a.Footer != footer {
				t.Errorf("Footer = %q", a.Footer)
			}
		})
	}
}

func TestSlackNotifier_SetWebhookURL(t *testing.T) {
	hook, srv := newWebhook(t, http.StatusOK)
	notifier := NewSlackNotifier("")

	notifier.SetWebhookURL(srv.URL)
	if !notifier.IsEnabled() {
		t.Fatal("notifier should be enabled after SetWebhookURL")
	}
	if err := notifier.SendMessage(context.Background(), "reloaded"); err != nil {
		t.Fatal(err)
	}
	hook.last(t)

	notifier.SetWebhookURL("")
	if notifier.IsEnabled() {
		t.Error("notifier should be disabled after clearing the URL")
	}
}

func TestSlackNotifier_ServerError(t *testing.T) {
	_, srv := newWebhook(t, http.StatusInternalServerError)
	notifier := NewSlackNotifier(srv.URL)

	err := notifier.SendMessage(context.Background(), "Test message")
	if err == nil {
		t.Fatal("Expected error for server error response")
	}
	if !errors.IsNotificationError(err) {
		t.Errorf("error should be a NotificationError: %v", err)
	}
}

func TestSlackNotifier_ContextCancelled(t *testing.T) {
	_, srv := newWebhook(t, http.StatusOK)
	notifier := NewSlackNotifier(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := notifier.SendAlert(ctx, "warning", "t", "m"); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestSeverityToColor(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"danger", "danger"},
		{"error", "danger"},
		{"warning", "warning"},
		{"warn", "warning"},
		{"good", "good"},
		{"success", "good"},
		{"info", "#808080"},
		{"", "#808080"},
	}

	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			if got := severityToColor(tt.severity); got != tt.want {
				t.Errorf("severityToColor(%q) = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}
