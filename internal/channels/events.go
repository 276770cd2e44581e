// Package channels provides the typed Go channels that decouple the
// check cycle from notification and remediation dispatch. A slow or
// failing notifier therefore cannot stall the next cycle.
package channels

import (
	"time"

	"github.com/nodewatch/nodewatch/internal/alerts"
	"github.com/nodewatch/nodewatch/internal/model"
)

// RemediationRequest asks the remediation dispatcher to run the action
// configured for a trigger on a node. The fixed context fields are
// exposed to remediation scripts as environment variables.
type RemediationRequest struct {
	// EventID ties the request to the alert event that produced it;
	// a request is dispatched at most once per event.
	EventID  string
	Node     string
	Host     string
	Platform string
	// Trigger is one of "high_memory", "high_disk", "high_load" or
	// "service_down".
	Trigger string
	// Service is set for service_down triggers.
	Service string

	MemoryPercent float64
	DiskPercent   float64
	Load1         float64

	Timestamp time.Time
}

// EventChannels is the hub connecting the orchestrator to its
// notification and remediation workers.
type EventChannels struct {
	// Alerts carries tracker events to the notifier dispatcher.
	Alerts chan alerts.Event

	// Remediation carries dispatch requests to the remediation worker.
	Remediation chan RemediationRequest

	// Reports publishes each completed cluster report, consumed by the
	// dashboard's websocket hub.
	Reports chan *model.ClusterReport

	done chan struct{}
}

// Config sets the channel buffer sizes.
type Config struct {
	AlertBufferSize       int
	RemediationBufferSize int
	ReportBufferSize      int
}

// DefaultConfig returns buffer sizes suitable for small fleets.
func DefaultConfig() Config {
	return Config{
		AlertBufferSize:       100,
		RemediationBufferSize: 50,
		ReportBufferSize:      4,
	}
}

// NewEventChannels creates the hub with the configured buffer sizes.
func NewEventChannels(cfg Config) *EventChannels {
	return &EventChannels{
		Alerts:      make(chan alerts.Event, cfg.AlertBufferSize),
		Remediation: make(chan RemediationRequest, cfg.RemediationBufferSize),
		Reports:     make(chan *model.ClusterReport, cfg.ReportBufferSize),
		done:        make(chan struct{}),
	}
}

// Close signals consumers to drain and exit.
func (ec *EventChannels) Close() error {
	close(ec.done)
	close(ec.Alerts)
	close(ec.Remediation)
	close(ec.Reports)
	return nil
}

// Done returns a channel that is closed when the hub is shutting down.
func (ec *EventChannels) Done() <-chan struct{} {
	return ec.done
}
