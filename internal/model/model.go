// Package model defines the shared data types for the NodeWatch
// monitoring pipeline: severities, health snapshots, per-node results
// and the cluster report.
package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Severity is an ordered health level. The ordering is used for
// aggregation: a node's overall severity is the maximum of its
// per-metric severities, and the cluster severity is the maximum over
// all nodes.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityCritical
	// SeverityUnknown marks a node whose state could not be observed
	// (collection failure, timeout, cancellation). It sorts above
	// CRITICAL so an unreachable node is never reported as healthy.
	SeverityUnknown
)

// String returns the lowercase name used in logs, JSON and the CLI.
func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its string name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "ok":
		*s = SeverityOK
	case "warning":
		*s = SeverityWarning
	case "critical":
		*s = SeverityCritical
	default:
		*s = SeverityUnknown
	}
	return nil
}

// IsAlerting reports whether the severity opens or keeps an alert.
func (s Severity) IsAlerting() bool {
	return s != SeverityOK
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

// LoadAverage holds the 1/5/15 minute load averages. It is optional on
// a snapshot; platforms without load reporting leave it nil.
type LoadAverage struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// ServiceState is the observed running-state of a single service.
type ServiceState struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

// HealthSnapshot is a point-in-time measurement of one node. It is
// produced by a collector and never mutated afterwards.
type HealthSnapshot struct {
	CPUPercent float64      `json:"cpu_percent"`
	CPUCount   int          `json:"cpu_count"`
	Load       *LoadAverage `json:"load,omitempty"`

	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`

	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	DiskUsedBytes  uint64  `json:"disk_used_bytes"`
	DiskPercent    float64 `json:"disk_percent"`

	// Services maps configured service names to their observed state.
	// A configured service missing from this map means the collector
	// could not confirm its state.
	Services map[string]ServiceState `json:"services,omitempty"`

	Timestamp       time.Time     `json:"timestamp"`
	CollectDuration time.Duration `json:"collect_duration_ns"`
}

// NormalizedLoad returns the 1-minute load average divided by the CPU
// count, or false when the platform did not report load.
func (s *HealthSnapshot) NormalizedLoad() (float64, bool) {
	if s == nil || s.Load == nil {
		return 0, false
	}
	cores := s.CPUCount
	if cores < 1 {
		cores = 1
	}
	return s.Load.Load1 / float64(cores), true
}

// NodeResult is the outcome of one check cycle for one node. Snapshot
// is nil when collection failed; Overall is then SeverityUnknown.
type NodeResult struct {
	Node     string `json:"node"`
	Host     string `json:"host"`
	Platform string `json:"platform"`

	Snapshot *HealthSnapshot     `json:"snapshot,omitempty"`
	Metrics  map[string]Severity `json:"metrics,omitempty"`
	Overall  Severity            `json:"overall"`

	Error string `json:"error,omitempty"`
	// RemediationNote carries the most recent remediation failure for
	// this node, surfaced one cycle after the dispatch was attempted.
	RemediationNote string `json:"remediation_note,omitempty"`
}

// ClusterSummary counts nodes per severity band.
type ClusterSummary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Unknown  int `json:"unknown"`
}

// ClusterReport is the aggregated outcome of one check cycle. Nodes
// are sorted by name for deterministic output. A report is immutable
// once published.
type ClusterReport struct {
	Nodes     []NodeResult   `json:"nodes"`
	Overall   Severity       `json:"overall"`
	Summary   ClusterSummary `json:"summary"`
	Cycle     uint64         `json:"cycle"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewClusterReport assembles a report from per-node results: nodes are
// ordered by name, the overall severity is the maximum node severity
// and the summary counts are derived.
func NewClusterReport(cycle uint64, results []NodeResult, at time.Time) *ClusterReport {
	sorted := make([]NodeResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Node < sorted[j].Node })

	report := &ClusterReport{
		Nodes:     sorted,
		Cycle:     cycle,
		Timestamp: at,
	}
	for _, r := range sorted {
		report.Overall = MaxSeverity(report.Overall, r.Overall)
		report.Summary.Total++
		switch r.Overall {
		case SeverityOK:
			report.Summary.OK++
		case SeverityWarning:
			report.Summary.Warning++
		case SeverityCritical:
			report.Summary.Critical++
		default:
			report.Summary.Unknown++
		}
	}
	return report
}

// Node returns the result for the named node, or false if the report
// does not contain it.
func (r *ClusterReport) Node(name string) (NodeResult, bool) {
	for _, n := range r.Nodes {
		if n.Node == name {
			return n, true
		}
	}
	return NodeResult{}, false
}
