package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nodewatch/nodewatch/internal/alerts"
	"github.com/nodewatch/nodewatch/internal/config"
)

// slackNotifier posts to a Slack incoming webhook with a colored
// attachment per severity.
type slackNotifier struct {
	cfg *config.SlackConfig
}

func newSlackNotifier(cfg *config.SlackConfig) *slackNotifier {
	return &slackNotifier{cfg: cfg}
}

func (s *slackNotifier) Name() string { return "slack" }

type slackAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
	TS    int64  `json:"ts"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *slackNotifier) Send(ctx context.Context, event alerts.Event) error {
	payload := slackPayload{
		Channel: s.cfg.Channel,
		Attachments: []slackAttachment{{
			Color: severityColor(event.Severity),
			Title: Title(event),
			Text:  Body(event),
			TS:    event.Timestamp.Unix(),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
