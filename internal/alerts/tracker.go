// Package alerts converts per-cycle severity observations into
// notify/suppress/recover decisions. It owns the flap damping: an
// ongoing alert is re-notified only after the cooldown elapses, while
// escalations always notify immediately.
package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nodewatch/nodewatch/internal/model"
)

// EventType classifies a tracker decision that requires action.
type EventType string

const (
	// EventNewAlert fires when a key leaves NORMAL.
	EventNewAlert EventType = "new_alert"
	// EventEscalation fires when an alerting key reports a strictly
	// higher severity. Escalations bypass the cooldown.
	EventEscalation EventType = "escalation"
	// EventStillAlerting is the periodic reminder for an ongoing
	// alert, emitted at most once per cooldown window.
	EventStillAlerting EventType = "still_alerting"
	// EventRecovery fires when an alerting key reports OK again.
	EventRecovery EventType = "recovery"
)

// Event is an actionable alert transition. Events are immutable and
// dispatched to notifiers (and, for new alerts and escalations, the
// remediation dispatcher) exactly once.
type Event struct {
	ID       string
	Type     EventType
	Node     string
	Host     string
	Platform string
	Key      string
	Severity model.Severity
	Previous model.Severity
	// Unreachable distinguishes "could not reach node" from
	// "threshold breached" in notification text.
	Unreachable bool
	Detail      string
	Value       float64
	Timestamp   time.Time
}

// phase is the per-key state machine position.
type phase int

const (
	phaseNormal phase = iota
	phaseAlerting
	phaseSuppressed
)

// keyState tracks one (node, alert-key) pair.
type keyState struct {
	phase        phase
	severity     model.Severity
	lastChange   time.Time
	lastNotified time.Time
	// consecutive counts cycles at a non-OK severity since the alert
	// opened or last escalated.
	consecutive int
}

// Observation is one cycle's reading for a single (node, alert-key).
type Observation struct {
	Node     string
	Host     string
	Platform string
	Key      string
	Severity model.Severity
	// Unreachable tags UNKNOWN observations caused by collection
	// failure.
	Unreachable bool
	Detail      string
	Value       float64
}

// Tracker holds the alert state table for one monitor instance. It is
// safe for concurrent use, but the orchestrator applies observations
// for a given key strictly in cycle order from a single owner.
type Tracker struct {
	cooldown time.Duration

	mu     sync.Mutex
	states map[string]*keyState

	// now is swapped in tests to step through cooldown windows.
	now func() time.Time
}

// NewTracker creates a tracker with the given re-notify cooldown.
func NewTracker(cooldown time.Duration) *Tracker {
	return &Tracker{
		cooldown: cooldown,
		states:   make(map[string]*keyState),
		now:      time.Now,
	}
}

func stateKey(node, key string) string {
	return node + "\x00" + key
}

// Observe applies one observation and returns the event it triggers,
// or nil when the observation is absorbed (still NORMAL, or suppressed
// within the cooldown).
func (t *Tracker) Observe(obs Observation) *Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	k := stateKey(obs.Node, obs.Key)
	st := t.states[k]

	if !obs.Severity.IsAlerting() {
		if st == nil || st.phase == phaseNormal {
			return nil
		}
		previous := st.severity
		delete(t.states, k)
		return t.event(EventRecovery, obs, model.SeverityOK, previous, now)
	}

	if st == nil || st.phase == phaseNormal {
		t.states[k] = &keyState{
			phase:        phaseAlerting,
			severity:     obs.Severity,
			lastChange:   now,
			lastNotified: now,
			consecutive:  1,
		}
		return t.event(EventNewAlert, obs, obs.Severity, model.SeverityOK, now)
	}

	if obs.Severity > st.severity {
		previous := st.severity
		st.severity = obs.Severity
		st.phase = phaseAlerting
		st.lastChange = now
		st.lastNotified = now
		st.consecutive = 1
		return t.event(EventEscalation, obs, obs.Severity, previous, now)
	}

	// Same or lower but still non-OK: record the cycle, remind only
	// once the cooldown has elapsed.
	previous := st.severity
	st.severity = obs.Severity
	st.consecutive++
	if now.Sub(st.lastNotified) < t.cooldown {
		st.phase = phaseSuppressed
		return nil
	}
	st.phase = phaseAlerting
	st.lastNotified = now
	return t.event(EventStillAlerting, obs, obs.Severity, previous, now)
}

func (t *Tracker) event(typ EventType, obs Observation, sev, prev model.Severity, now time.Time) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Type:        typ,
		Node:        obs.Node,
		Host:        obs.Host,
		Platform:    obs.Platform,
		Key:         obs.Key,
		Severity:    sev,
		Previous:    prev,
		Unreachable: obs.Unreachable,
		Detail:      obs.Detail,
		Value:       obs.Value,
		Timestamp:   now,
	}
}

// Alerting reports whether the given (node, key) currently holds an
// open alert.
func (t *Tracker) Alerting(node, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[stateKey(node, key)]
	return ok && st.phase != phaseNormal
}

// ConsecutiveCycles returns how many consecutive cycles the key has
// been non-OK since the alert opened or last escalated.
func (t *Tracker) ConsecutiveCycles(node, key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[stateKey(node, key)]; ok {
		return st.consecutive
	}
	return 0
}

// ActiveCount returns the number of open alerts across all nodes.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
