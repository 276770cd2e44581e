package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nodewatch/nodewatch/internal/alerts"
	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/model"
)

// webhookNotifier delivers the full event as JSON to an arbitrary
// HTTP endpoint, for integrations the built-in backends do not cover.
type webhookNotifier struct {
	cfg *config.WebhookConfig
}

func newWebhookNotifier(cfg *config.WebhookConfig) *webhookNotifier {
	return &webhookNotifier{cfg: cfg}
}

func (w *webhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	EventID   string           `json:"event_id"`
	EventType alerts.EventType `json:"event_type"`
	Node      string           `json:"node"`
	Host      string           `json:"host,omitempty"`
	Platform  string           `json:"platform,omitempty"`
	Key       string           `json:"key"`
	Severity  model.Severity   `json:"severity"`
	Previous  model.Severity   `json:"previous_severity"`
	Detail    string           `json:"detail,omitempty"`
	Value     float64          `json:"value"`
	Timestamp time.Time        `json:"timestamp"`
}

func (w *webhookNotifier) Send(ctx context.Context, event alerts.Event) error {
	body, err := json.Marshal(webhookPayload{
		EventID:   event.ID,
		EventType: event.Type,
		Node:      event.Node,
		Host:      event.Host,
		Platform:  event.Platform,
		Key:       event.Key,
		Severity:  event.Severity,
		Previous:  event.Previous,
		Detail:    event.Detail,
		Value:     event.Value,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	method := w.cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}
	if w.cfg.Username != "" {
		req.SetBasicAuth(w.cfg.Username, w.cfg.Password)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
