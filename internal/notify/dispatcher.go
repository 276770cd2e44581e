package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/nodewatch/nodewatch/internal/alerts"
)

// Dispatcher drains the alert event channel and fans each event out to
// every backend. It runs on its own goroutine so a slow or failing
// backend never stalls a check cycle.
type Dispatcher struct {
	notifiers []Notifier
	logger    *slog.Logger
	// perSendTimeout bounds one backend delivery.
	perSendTimeout time.Duration
}

// NewDispatcher creates a dispatcher over the given backends.
func NewDispatcher(notifiers []Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		notifiers:      notifiers,
		logger:         logger.With("component", "notify"),
		perSendTimeout: 15 * time.Second,
	}
}

// Run consumes events until the channel closes or the context is
// canceled. Delivery failures are logged and dropped; alert state has
// already been updated by the tracker.
func (d *Dispatcher) Run(ctx context.Context, events <-chan alerts.Event) {
	d.logger.Info("notification dispatcher started", "backends", len(d.notifiers))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped")
			return
		case event, ok := <-events:
			if !ok {
				d.logger.Info("notification dispatcher stopped")
				return
			}
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event alerts.Event) {
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.perSendTimeout)
		err := n.Send(sendCtx, event)
		cancel()
		if err != nil {
			d.logger.Warn("notification delivery failed",
				"backend", n.Name(),
				"event_type", string(event.Type),
				"node", event.Node,
				"key", event.Key,
				"error", err)
			continue
		}
		d.logger.Debug("notification delivered",
			"backend", n.Name(),
			"event_type", string(event.Type),
			"node", event.Node,
			"key", event.Key)
	}
}
