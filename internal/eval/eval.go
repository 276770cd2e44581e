// Package eval maps health snapshots to severities. Evaluation is a
// pure function of the snapshot and the thresholds; hysteresis and
// notification policy live in the alerts package.
package eval

import (
	"strings"

	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/model"
)

// Alert-key names for the numeric metrics. Service keys are built with
// ServiceKey.
const (
	KeyMemory = "memory"
	KeyDisk   = "disk"
	KeyLoad   = "load"
	// KeyReachability tracks whether the node could be collected at
	// all. It is observed by the orchestrator, not produced here.
	KeyReachability = "reachability"
)

const serviceKeyPrefix = "service:"

// ServiceKey returns the alert-key for a configured service.
func ServiceKey(name string) string {
	return serviceKeyPrefix + name
}

// ServiceName extracts the service name from a service alert-key.
func ServiceName(key string) (string, bool) {
	if strings.HasPrefix(key, serviceKeyPrefix) {
		return key[len(serviceKeyPrefix):], true
	}
	return "", false
}

// grade maps a metric value onto a bound pair.
func grade(value float64, b config.Bound) model.Severity {
	switch {
	case value >= b.Critical:
		return model.SeverityCritical
	case value >= b.Warning:
		return model.SeverityWarning
	default:
		return model.SeverityOK
	}
}

// Evaluate grades every metric present in the snapshot plus every
// configured service, and returns the per-key severities together with
// the overall node severity (the maximum over all keys).
//
// A nil snapshot means collection failed: the overall severity is
// UNKNOWN and no per-metric map is produced. A metric absent from the
// snapshot (load on platforms without load averages) is omitted from
// the map rather than defaulted to OK. A configured service missing
// from the snapshot's service map is CRITICAL: the collector could not
// confirm its state.
func Evaluate(snap *model.HealthSnapshot, thresholds config.Thresholds, services []string) (map[string]model.Severity, model.Severity) {
	if snap == nil {
		return nil, model.SeverityUnknown
	}

	bounds := thresholds.Bounds()
	metrics := make(map[string]model.Severity, 3+len(services))

	metrics[KeyMemory] = grade(snap.MemoryPercent, bounds[KeyMemory])
	metrics[KeyDisk] = grade(snap.DiskPercent, bounds[KeyDisk])
	if load, ok := snap.NormalizedLoad(); ok {
		metrics[KeyLoad] = grade(load, bounds[KeyLoad])
	}

	for _, name := range services {
		state, observed := snap.Services[name]
		if observed && state.Running {
			metrics[ServiceKey(name)] = model.SeverityOK
		} else {
			metrics[ServiceKey(name)] = model.SeverityCritical
		}
	}

	overall := model.SeverityOK
	for _, sev := range metrics {
		overall = model.MaxSeverity(overall, sev)
	}
	return metrics, overall
}

// Value extracts the numeric reading behind an alert-key, for alert
// detail text and remediation context. Service keys have no numeric
// value.
func Value(snap *model.HealthSnapshot, key string) (float64, bool) {
	if snap == nil {
		return 0, false
	}
	switch key {
	case KeyMemory:
		return snap.MemoryPercent, true
	case KeyDisk:
		return snap.DiskPercent, true
	case KeyLoad:
		return snap.NormalizedLoad()
	default:
		return 0, false
	}
}
