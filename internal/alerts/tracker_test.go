package alerts

import (
	"testing"
	"time"

	"github.com/nodewatch/nodewatch/internal/model"
)

// fakeClock steps the tracker through cooldown windows without
// sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(cooldown time.Duration) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(cooldown)
	tr.now = clock.now
	return tr, clock
}

func obs(node, key string, sev model.Severity) Observation {
	return Observation{Node: node, Key: key, Severity: sev}
}

func TestBriefBlipNotifiesOnceEachWay(t *testing.T) {
	tr, clock := newTestTracker(5 * time.Minute)

	if e := tr.Observe(obs("web-1", "memory", model.SeverityOK)); e != nil {
		t.Fatalf("healthy observation produced %s", e.Type)
	}

	e := tr.Observe(obs("web-1", "memory", model.SeverityWarning))
	if e == nil || e.Type != EventNewAlert {
		t.Fatalf("expected new_alert, got %+v", e)
	}
	if e.Severity != model.SeverityWarning || e.Previous != model.SeverityOK {
		t.Errorf("severities = %s from %s", e.Severity, e.Previous)
	}

	clock.advance(time.Minute)
	e = tr.Observe(obs("web-1", "memory", model.SeverityOK))
	if e == nil || e.Type != EventRecovery {
		t.Fatalf("expected recovery, got %+v", e)
	}
	if e.Previous != model.SeverityWarning {
		t.Errorf("recovery previous = %s, want warning", e.Previous)
	}
	if tr.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", tr.ActiveCount())
	}
}

func TestOngoingAlertRemindsOncePerCooldown(t *testing.T) {
	tr, clock := newTestTracker(5 * time.Minute)

	var events []*Event
	for i := 0; i < 5; i++ {
		if e := tr.Observe(obs("db-1", "disk", model.SeverityCritical)); e != nil {
			events = append(events, e)
		}
		clock.advance(2 * time.Minute)
	}

	// Cycles at t=0,2,4,6,8 minutes: new alert at 0, cooldown elapses
	// before the t=6 cycle, so exactly one reminder.
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventNewAlert {
		t.Errorf("first event = %s, want new_alert", events[0].Type)
	}
	if events[1].Type != EventStillAlerting {
		t.Errorf("second event = %s, want still_alerting", events[1].Type)
	}
	if n := tr.ConsecutiveCycles("db-1", "disk"); n != 5 {
		t.Errorf("consecutive cycles = %d, want 5", n)
	}
}

func TestEscalationBypassesCooldown(t *testing.T) {
	tr, clock := newTestTracker(5 * time.Minute)

	tr.Observe(obs("db-1", "memory", model.SeverityWarning))
	clock.advance(30 * time.Second)

	e := tr.Observe(obs("db-1", "memory", model.SeverityCritical))
	if e == nil || e.Type != EventEscalation {
		t.Fatalf("expected escalation, got %+v", e)
	}
	if e.Previous != model.SeverityWarning || e.Severity != model.SeverityCritical {
		t.Errorf("severities = %s from %s", e.Severity, e.Previous)
	}
	if n := tr.ConsecutiveCycles("db-1", "memory"); n != 1 {
		t.Errorf("consecutive cycles = %d, want 1 after escalation", n)
	}

	// The escalation reset the notification clock.
	clock.advance(30 * time.Second)
	if e := tr.Observe(obs("db-1", "memory", model.SeverityCritical)); e != nil {
		t.Errorf("expected suppression within cooldown, got %s", e.Type)
	}
}

func TestDeescalationDoesNotNotify(t *testing.T) {
	tr, clock := newTestTracker(5 * time.Minute)

	tr.Observe(obs("db-1", "memory", model.SeverityCritical))
	clock.advance(time.Minute)

	if e := tr.Observe(obs("db-1", "memory", model.SeverityWarning)); e != nil {
		t.Errorf("de-escalation within cooldown produced %s", e.Type)
	}
	if !tr.Alerting("db-1", "memory") {
		t.Error("alert should remain open at warning")
	}
}

func TestKeysAreIndependentAcrossNodes(t *testing.T) {
	tr, _ := newTestTracker(5 * time.Minute)

	tr.Observe(obs("web-1", "memory", model.SeverityWarning))
	tr.Observe(obs("web-2", "memory", model.SeverityCritical))
	tr.Observe(obs("web-1", "disk", model.SeverityCritical))

	if tr.ActiveCount() != 3 {
		t.Errorf("active count = %d, want 3", tr.ActiveCount())
	}

	e := tr.Observe(obs("web-1", "memory", model.SeverityOK))
	if e == nil || e.Type != EventRecovery {
		t.Fatalf("expected recovery, got %+v", e)
	}
	if !tr.Alerting("web-2", "memory") || !tr.Alerting("web-1", "disk") {
		t.Error("other keys must be unaffected by web-1 memory recovery")
	}
}

func TestUnreachableFlagCarriesThrough(t *testing.T) {
	tr, _ := newTestTracker(5 * time.Minute)

	e := tr.Observe(Observation{
		Node:        "db-1",
		Key:         "reachability",
		Severity:    model.SeverityUnknown,
		Unreachable: true,
		Detail:      "dial tcp: connection refused",
	})
	if e == nil || e.Type != EventNewAlert {
		t.Fatalf("expected new_alert, got %+v", e)
	}
	if !e.Unreachable {
		t.Error("event should carry the unreachable flag")
	}
	if e.Detail == "" {
		t.Error("event should carry the failure detail")
	}
}
