// Package collector acquires point-in-time health snapshots from
// monitored nodes. Three variants exist behind a single interface:
// local command execution, SSH and WinRM. The orchestrator selects the
// variant from the node's connection descriptor and stays ignorant of
// the transport.
package collector

import (
	"context"
	"fmt"

	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/model"
)

// Collector produces a health snapshot for one node. Implementations
// must honor context cancellation and return an error rather than a
// partial snapshot when the node cannot be observed.
type Collector interface {
	Collect(ctx context.Context) (*model.HealthSnapshot, error)
}

// Error wraps a collection failure with the node it concerns.
type Error struct {
	Node string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("collect %s: %s: %v", e.Node, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// runner executes a shell command on a node and returns its stdout.
// The local and SSH collectors share the unix gathering logic through
// this seam.
type runner interface {
	run(ctx context.Context, cmd string) (string, error)
}

// New returns the collector matching the node's connection descriptor.
func New(node *config.NodeConfig) (Collector, error) {
	switch {
	case node.Local:
		return newLocalCollector(node), nil
	case node.SSH != nil:
		return newSSHCollector(node), nil
	case node.WinRM != nil:
		return newWinRMCollector(node), nil
	default:
		return nil, fmt.Errorf("node %q has no connection descriptor", node.Name)
	}
}
