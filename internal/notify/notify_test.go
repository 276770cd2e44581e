package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nodewatch/nodewatch/internal/alerts"
	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/model"
)

func testEvent() alerts.Event {
	return alerts.Event{
		ID:        "ev-1",
		Type:      alerts.EventNewAlert,
		Node:      "db-1",
		Host:      "10.0.0.7",
		Platform:  "linux",
		Key:       "memory",
		Severity:  model.SeverityCritical,
		Previous:  model.SeverityOK,
		Detail:    "memory at 92.0%",
		Value:     92.0,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		typ  alerts.EventType
		want string
	}{
		{alerts.EventNewAlert, "CRITICAL: db-1 memory"},
		{alerts.EventEscalation, "CRITICAL (escalated from OK): db-1 memory"},
		{alerts.EventStillAlerting, "CRITICAL (ongoing): db-1 memory"},
		{alerts.EventRecovery, "RECOVERED: db-1 memory"},
	}
	for _, tt := range tests {
		e := testEvent()
		e.Type = tt.typ
		if got := Title(e); got != tt.want {
			t.Errorf("Title(%s) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
	}))
	defer srv.Close()

	n := newTelegramNotifier(&config.TelegramConfig{BotToken: "token123", ChatID: "-100"})
	n.baseURL = srv.URL

	if err := n.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotPath != "/bottoken123/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "-100" {
		t.Errorf("chat_id = %q", gotBody["chat_id"])
	}
	if !strings.Contains(gotBody["text"], "memory at 92.0%") {
		t.Errorf("text missing detail: %q", gotBody["text"])
	}
}

func TestSlackSendReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	n := newSlackNotifier(&config.SlackConfig{WebhookURL: srv.URL})
	err := n.Send(context.Background(), testEvent())
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestSlackAttachmentColor(t *testing.T) {
	var payload slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &payload)
	}))
	defer srv.Close()

	n := newSlackNotifier(&config.SlackConfig{WebhookURL: srv.URL, Channel: "#ops"})
	if err := n.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if payload.Channel != "#ops" {
		t.Errorf("channel = %q", payload.Channel)
	}
	if len(payload.Attachments) != 1 || payload.Attachments[0].Color != "#d00000" {
		t.Errorf("attachments = %+v, want one critical-red attachment", payload.Attachments)
	}
}

func TestWebhookSend(t *testing.T) {
	var gotMethod, gotAuth, gotHeader string
	var payload webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotHeader = r.Header.Get("X-Source")
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &payload)
	}))
	defer srv.Close()

	n := newWebhookNotifier(&config.WebhookConfig{
		URL:      srv.URL,
		Method:   http.MethodPut,
		Headers:  map[string]string{"X-Source": "nodewatch"},
		Username: "svc",
		Password: "secret",
	})
	if err := n.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotAuth == "" {
		t.Error("missing basic auth header")
	}
	if gotHeader != "nodewatch" {
		t.Errorf("X-Source = %q", gotHeader)
	}
	if payload.EventID != "ev-1" || payload.Severity != model.SeverityCritical {
		t.Errorf("payload = %+v", payload)
	}
}

type recordingNotifier struct {
	name string
	got  []alerts.Event
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Send(_ context.Context, e alerts.Event) error {
	r.got = append(r.got, e)
	return nil
}

func TestDispatcherFansOutAndStopsOnClose(t *testing.T) {
	a := &recordingNotifier{name: "a"}
	b := &recordingNotifier{name: "b"}
	d := NewDispatcher([]Notifier{a, b}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	events := make(chan alerts.Event, 2)
	events <- testEvent()
	events <- testEvent()
	close(events)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after channel close")
	}
	if len(a.got) != 2 || len(b.got) != 2 {
		t.Errorf("deliveries = (%d, %d), want (2, 2)", len(a.got), len(b.got))
	}
}

func TestFromConfig(t *testing.T) {
	ns := FromConfig(config.NotifiersConfig{
		Slack:   &config.SlackConfig{WebhookURL: "https://hooks.slack.com/services/x"},
		Webhook: &config.WebhookConfig{URL: "https://example.com/hook"},
	})
	if len(ns) != 2 {
		t.Fatalf("got %d notifiers, want 2", len(ns))
	}
	if ns[0].Name() != "slack" || ns[1].Name() != "webhook" {
		t.Errorf("names = %q, %q", ns[0].Name(), ns[1].Name())
	}
}
