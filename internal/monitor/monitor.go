// Package monitor orchestrates check cycles: it fans collection out
// across the fleet under a concurrency bound, grades the snapshots,
// feeds the alert tracker and publishes the aggregated cluster report.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nodewatch/nodewatch/internal/alerts"
	"github.com/nodewatch/nodewatch/internal/channels"
	"github.com/nodewatch/nodewatch/internal/collector"
	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/eval"
	"github.com/nodewatch/nodewatch/internal/model"
)

// NoteSource supplies per-node annotations to attach to the next
// report, such as remediation script failures.
type NoteSource interface {
	TakeFailure(node string) (string, bool)
}

// Monitor runs check cycles over the configured fleet. One Monitor
// owns one alert tracker; RunCycle serializes itself so an on-demand
// check from the dashboard never interleaves with the watch loop.
type Monitor struct {
	cfg     *config.Config
	events  *channels.EventChannels
	tracker *alerts.Tracker
	logger  *slog.Logger
	notes   NoteSource

	// newCollector is swapped in tests.
	newCollector func(node *config.NodeConfig) (collector.Collector, error)

	// sem bounds concurrent collector calls across the cycle.
	sem chan struct{}

	// cycleMu serializes whole cycles: observations for a key apply in
	// cycle order and an older cycle's report can never overwrite a
	// newer one.
	cycleMu sync.Mutex

	mu      sync.Mutex
	current *model.ClusterReport
	cycle   uint64
}

// New creates a monitor over the given configuration and event hub.
func New(cfg *config.Config, events *channels.EventChannels, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:          cfg,
		events:       events,
		tracker:      alerts.NewTracker(cfg.Monitor.GetCooldown()),
		logger:       logger.With("component", "monitor"),
		newCollector: collector.New,
		sem:          make(chan struct{}, cfg.Monitor.GetMaxInFlight()),
	}
}

// SetNoteSource attaches a source of per-node annotations, consumed at
// report assembly.
func (m *Monitor) SetNoteSource(ns NoteSource) {
	m.notes = ns
}

// Tracker exposes the alert state table, for the dashboard's active
// alert count.
func (m *Monitor) Tracker() *alerts.Tracker {
	return m.tracker
}

// CurrentReport returns the most recently published report, or nil
// before the first cycle completes.
func (m *Monitor) CurrentReport() *model.ClusterReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

type collectOutcome struct {
	node *config.NodeConfig
	snap *model.HealthSnapshot
	err  error
}

// RunCycle performs one full check cycle and returns the published
// report. Collection failures are folded into the report as UNKNOWN
// nodes; the only error returned is context cancellation before the
// cycle could start.
func (m *Monitor) RunCycle(ctx context.Context) (*model.ClusterReport, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cycle++
	cycle := m.cycle
	m.mu.Unlock()

	nodes := m.cfg.EnabledNodes()
	started := time.Now()
	m.logger.Info("check cycle started", "cycle", cycle, "nodes", len(nodes))

	cycleCtx := ctx
	if d := m.cfg.Monitor.GetCycleTimeout(); d > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	outcomes := m.collectAll(cycleCtx, nodes)

	// Observations are applied in node-name order so event sequences
	// are deterministic for a given cycle outcome.
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].node.Name < outcomes[j].node.Name
	})

	results := make([]model.NodeResult, 0, len(outcomes))
	for _, oc := range outcomes {
		results = append(results, m.gradeAndTrack(oc))
	}

	report := model.NewClusterReport(cycle, results, time.Now())

	m.mu.Lock()
	m.current = report
	m.mu.Unlock()

	m.publishReport(report)

	m.logger.Info("check cycle finished",
		"cycle", cycle,
		"overall", report.Overall.String(),
		"active_alerts", m.tracker.ActiveCount(),
		"duration_ms", time.Since(started).Milliseconds())
	return report, nil
}

// Watch runs cycles at the configured interval until the context is
// canceled. The first cycle runs immediately.
func (m *Monitor) Watch(ctx context.Context) error {
	interval := m.cfg.Monitor.GetCheckInterval()
	m.logger.Info("watch mode started", "interval", interval.String())

	if _, err := m.RunCycle(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("watch mode stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.RunCycle(ctx); err != nil {
				return err
			}
		}
	}
}

// QuickCheck collects and grades the fleet without touching alert
// state or publishing anywhere. Used by one-shot CLI invocations that
// must not disturb a running monitor's cooldown windows.
func (m *Monitor) QuickCheck(ctx context.Context) (*model.ClusterReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nodes := m.cfg.EnabledNodes()
	outcomes := m.collectAll(ctx, nodes)

	results := make([]model.NodeResult, 0, len(outcomes))
	for _, oc := range outcomes {
		results = append(results, m.grade(oc))
	}
	return model.NewClusterReport(0, results, time.Now()), nil
}

// collectAll samples every node concurrently under the semaphore and
// returns when all collections have finished or timed out.
func (m *Monitor) collectAll(ctx context.Context, nodes []*config.NodeConfig) []collectOutcome {
	nodeTimeout := m.cfg.Monitor.GetNodeTimeout()

	// Buffered to len(nodes) so workers never block on send, even
	// after the cycle deadline has passed.
	results := make(chan collectOutcome, len(nodes))
	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		go func(node *config.NodeConfig) {
			defer wg.Done()

			select {
			case m.sem <- struct{}{}:
				defer func() { <-m.sem }()
			case <-ctx.Done():
				results <- collectOutcome{node: node, err: ctx.Err()}
				return
			}

			nodeCtx, cancel := context.WithTimeout(ctx, nodeTimeout)
			defer cancel()

			snap, err := m.collectNode(nodeCtx, node)
			results <- collectOutcome{node: node, snap: snap, err: err}
		}(node)
	}
	wg.Wait()
	close(results)

	outcomes := make([]collectOutcome, 0, len(nodes))
	for oc := range results {
		if oc.err != nil {
			m.logger.Warn("node collection failed",
				"node", oc.node.Name, "error", oc.err)
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes
}

// collectNode isolates collector construction and panics so one bad
// node never takes down the cycle.
func (m *Monitor) collectNode(ctx context.Context, node *config.NodeConfig) (snap *model.HealthSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = fmt.Errorf("collector panic: %v", r)
		}
	}()

	c, err := m.newCollector(node)
	if err != nil {
		return nil, err
	}
	return c.Collect(ctx)
}

// grade builds the node result without updating alert state.
func (m *Monitor) grade(oc collectOutcome) model.NodeResult {
	thresholds := oc.node.EffectiveThresholds(m.cfg.Thresholds)
	metrics, overall := eval.Evaluate(oc.snap, thresholds, oc.node.Services)

	result := model.NodeResult{
		Node:     oc.node.Name,
		Host:     oc.node.Address(),
		Platform: oc.node.Platform,
		Snapshot: oc.snap,
		Metrics:  metrics,
		Overall:  overall,
	}
	if oc.err != nil {
		result.Error = oc.err.Error()
	}
	return result
}

// gradeAndTrack grades the outcome and applies its observations to the
// alert tracker, forwarding any resulting events.
func (m *Monitor) gradeAndTrack(oc collectOutcome) model.NodeResult {
	result := m.grade(oc)

	m.observe(oc, alerts.Observation{
		Node:        result.Node,
		Host:        result.Host,
		Platform:    result.Platform,
		Key:         eval.KeyReachability,
		Severity:    reachabilitySeverity(oc.err),
		Unreachable: oc.err != nil,
		Detail:      result.Error,
	})

	for _, key := range sortedKeys(result.Metrics) {
		obs := alerts.Observation{
			Node:     result.Node,
			Host:     result.Host,
			Platform: result.Platform,
			Key:      key,
			Severity: result.Metrics[key],
			Detail:   detailFor(key, oc.snap),
		}
		if v, ok := eval.Value(oc.snap, key); ok {
			obs.Value = v
		}
		m.observe(oc, obs)
	}

	if m.notes != nil {
		if note, ok := m.notes.TakeFailure(result.Node); ok {
			result.RemediationNote = note
		}
	}
	return result
}

func reachabilitySeverity(err error) model.Severity {
	if err != nil {
		return model.SeverityUnknown
	}
	return model.SeverityOK
}

// observe applies one observation and fans out the resulting event.
func (m *Monitor) observe(oc collectOutcome, obs alerts.Observation) {
	event := m.tracker.Observe(obs)
	if event == nil {
		return
	}

	m.logger.Info("alert event",
		"type", string(event.Type),
		"node", event.Node,
		"key", event.Key,
		"severity", event.Severity.String())

	select {
	case m.events.Alerts <- *event:
	default:
		m.logger.Warn("alert channel full, dropping event",
			"node", event.Node, "key", event.Key)
	}

	m.maybeRemediate(oc, event)
}

// maybeRemediate requests remediation for fresh CRITICAL conditions.
// Reminders and recoveries never trigger scripts.
func (m *Monitor) maybeRemediate(oc collectOutcome, event *alerts.Event) {
	if event.Type != alerts.EventNewAlert && event.Type != alerts.EventEscalation {
		return
	}
	if event.Severity != model.SeverityCritical {
		return
	}

	trigger, service := triggerFor(event.Key)
	if trigger == "" {
		return
	}

	req := channels.RemediationRequest{
		EventID:   event.ID,
		Node:      event.Node,
		Host:      event.Host,
		Platform:  event.Platform,
		Trigger:   trigger,
		Service:   service,
		Timestamp: event.Timestamp,
	}
	if oc.snap != nil {
		req.MemoryPercent = oc.snap.MemoryPercent
		req.DiskPercent = oc.snap.DiskPercent
		if load, ok := oc.snap.NormalizedLoad(); ok {
			req.Load1 = load
		}
	}

	select {
	case m.events.Remediation <- req:
	default:
		m.logger.Warn("remediation channel full, dropping request",
			"node", event.Node, "trigger", trigger)
	}
}

// triggerFor maps an alert-key to its remediation trigger.
func triggerFor(key string) (trigger, service string) {
	switch key {
	case eval.KeyMemory:
		return "high_memory", ""
	case eval.KeyDisk:
		return "high_disk", ""
	case eval.KeyLoad:
		return "high_load", ""
	}
	if name, ok := eval.ServiceName(key); ok {
		return "service_down", name
	}
	return "", ""
}

func (m *Monitor) publishReport(report *model.ClusterReport) {
	select {
	case m.events.Reports <- report:
	default:
		m.logger.Warn("report channel full, dropping report", "cycle", report.Cycle)
	}
}

// detailFor renders the human-readable condition for an alert-key.
func detailFor(key string, snap *model.HealthSnapshot) string {
	switch key {
	case eval.KeyMemory:
		if snap != nil {
			return fmt.Sprintf("memory at %.1f%%", snap.MemoryPercent)
		}
	case eval.KeyDisk:
		if snap != nil {
			return fmt.Sprintf("disk at %.1f%%", snap.DiskPercent)
		}
	case eval.KeyLoad:
		if load, ok := snap.NormalizedLoad(); ok {
			return fmt.Sprintf("normalized load at %.2f", load)
		}
	}
	if name, ok := eval.ServiceName(key); ok {
		if snap != nil {
			if state, observed := snap.Services[name]; observed && state.Running {
				return fmt.Sprintf("service %s is running", name)
			}
		}
		return fmt.Sprintf("service %s is not running", name)
	}
	return ""
}

func sortedKeys(m map[string]model.Severity) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
