// Package notify delivers alert events to external channels. Each
// backend implements Notifier; the dispatcher fans events out to every
// configured backend off the monitoring hot path.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nodewatch/nodewatch/internal/alerts"
	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/model"
)

// Notifier delivers a single alert event to one external channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, event alerts.Event) error
}

// httpClient is shared by all backends. Delivery runs outside the
// check cycle, so a generous timeout costs nothing.
var httpClient = &http.Client{Timeout: 15 * time.Second}

// FromConfig builds the enabled notifier backends. An empty result is
// valid: alerting still updates state and the dashboard.
func FromConfig(cfg config.NotifiersConfig) []Notifier {
	var ns []Notifier
	if cfg.Telegram != nil {
		ns = append(ns, newTelegramNotifier(cfg.Telegram))
	}
	if cfg.Slack != nil {
		ns = append(ns, newSlackNotifier(cfg.Slack))
	}
	if cfg.Webhook != nil {
		ns = append(ns, newWebhookNotifier(cfg.Webhook))
	}
	return ns
}

// Title renders the one-line summary used by every backend. Severity
// names are uppercased for scannability in chat channels.
func Title(e alerts.Event) string {
	sev := strings.ToUpper(e.Severity.String())
	switch e.Type {
	case alerts.EventRecovery:
		return fmt.Sprintf("RECOVERED: %s %s", e.Node, e.Key)
	case alerts.EventEscalation:
		prev := strings.ToUpper(e.Previous.String())
		return fmt.Sprintf("%s (escalated from %s): %s %s", sev, prev, e.Node, e.Key)
	case alerts.EventStillAlerting:
		return fmt.Sprintf("%s (ongoing): %s %s", sev, e.Node, e.Key)
	default:
		return fmt.Sprintf("%s: %s %s", sev, e.Node, e.Key)
	}
}

// Body renders the multi-line detail text.
func Body(e alerts.Event) string {
	var b strings.Builder
	if e.Detail != "" {
		b.WriteString(e.Detail)
	} else if e.Unreachable {
		b.WriteString("node could not be reached")
	}
	fmt.Fprintf(&b, "\nnode: %s", e.Node)
	if e.Host != "" {
		fmt.Fprintf(&b, " (%s)", e.Host)
	}
	if e.Platform != "" {
		fmt.Fprintf(&b, "\nplatform: %s", e.Platform)
	}
	fmt.Fprintf(&b, "\ntime: %s", e.Timestamp.Format(time.RFC3339))
	return strings.TrimSpace(b.String())
}

// severityColor maps severities to the hex colors Slack and the
// generic webhook payload share.
func severityColor(s model.Severity) string {
	switch s {
	case model.SeverityOK:
		return "#2eb886"
	case model.SeverityWarning:
		return "#f2c744"
	case model.SeverityCritical:
		return "#d00000"
	default:
		return "#808080"
	}
}
