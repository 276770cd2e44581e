// Package remediation runs operator-supplied scripts in response to
// alert events. Scripts receive the triggering context through NW_*
// environment variables and run under a timeout so a hung script never
// blocks the worker.
package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nodewatch/nodewatch/internal/channels"
	"github.com/nodewatch/nodewatch/internal/config"
)

// Trigger names accepted in remediation config and request dispatch.
const (
	TriggerHighMemory  = "high_memory"
	TriggerHighDisk    = "high_disk"
	TriggerHighLoad    = "high_load"
	TriggerServiceDown = "service_down"
)

const scriptTimeout = 60 * time.Second

// Dispatcher consumes remediation requests and executes the script the
// node's configuration binds to the trigger. A failed run is recorded
// so the next report can surface it against the node.
type Dispatcher struct {
	nodes  map[string]*config.NodeConfig
	logger *slog.Logger

	mu sync.Mutex
	// dispatched remembers event IDs already acted on.
	dispatched map[string]struct{}
	// failures holds the latest script failure per node, cleared on read.
	failures map[string]string

	// runScript is swapped in tests.
	runScript func(ctx context.Context, script string, env []string) error
}

// NewDispatcher creates a dispatcher over the configured nodes.
func NewDispatcher(nodes map[string]*config.NodeConfig, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		nodes:      nodes,
		logger:     logger.With("component", "remediation"),
		dispatched: make(map[string]struct{}),
		failures:   make(map[string]string),
	}
	d.runScript = d.execScript
	return d
}

// Run consumes requests until the channel closes or the context is
// canceled.
func (d *Dispatcher) Run(ctx context.Context, requests <-chan channels.RemediationRequest) {
	d.logger.Info("remediation dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("remediation dispatcher stopped")
			return
		case req, ok := <-requests:
			if !ok {
				d.logger.Info("remediation dispatcher stopped")
				return
			}
			d.handle(ctx, req)
		}
	}
}

// TakeFailure returns and clears the recorded script failure for a
// node, if any. The orchestrator attaches it to the node's next result.
func (d *Dispatcher) TakeFailure(node string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	note, ok := d.failures[node]
	if ok {
		delete(d.failures, node)
	}
	return note, ok
}

func (d *Dispatcher) handle(ctx context.Context, req channels.RemediationRequest) {
	d.mu.Lock()
	if _, seen := d.dispatched[req.EventID]; seen {
		d.mu.Unlock()
		return
	}
	d.dispatched[req.EventID] = struct{}{}
	d.mu.Unlock()

	node, ok := d.nodes[req.Node]
	if !ok || node.Remediation == nil || !node.Remediation.Enabled {
		return
	}
	rc := node.Remediation

	script := scriptFor(rc, req)
	if script == "" {
		d.logger.Debug("no remediation bound for trigger",
			"node", req.Node, "trigger", req.Trigger, "service", req.Service)
		return
	}
	if rc.ScriptsDir != "" && !filepath.IsAbs(script) {
		script = filepath.Join(rc.ScriptsDir, script)
	}

	env := append(os.Environ(),
		"NW_NODE_NAME="+req.Node,
		"NW_NODE_HOST="+req.Host,
		"NW_NODE_PLATFORM="+req.Platform,
		"NW_ACTION="+req.Trigger,
		fmt.Sprintf("NW_MEMORY_PERCENT=%.1f", req.MemoryPercent),
		fmt.Sprintf("NW_DISK_PERCENT=%.1f", req.DiskPercent),
		fmt.Sprintf("NW_LOAD_1M=%.2f", req.Load1),
	)
	if req.Service != "" {
		env = append(env, "NW_SERVICE="+req.Service)
	}

	if rc.DryRun {
		d.logger.Info("remediation dry run",
			"node", req.Node, "trigger", req.Trigger, "script", script)
		return
	}

	d.logger.Info("running remediation script",
		"node", req.Node, "trigger", req.Trigger, "script", script)

	runCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	err := d.runScript(runCtx, script, env)
	cancel()
	if err != nil {
		d.logger.Error("remediation script failed",
			"node", req.Node, "trigger", req.Trigger, "script", script, "error", err)
		d.mu.Lock()
		d.failures[req.Node] = fmt.Sprintf("remediation %s failed: %v", req.Trigger, err)
		d.mu.Unlock()
		return
	}
	d.logger.Info("remediation script succeeded",
		"node", req.Node, "trigger", req.Trigger, "script", script)
}

// scriptFor resolves the script path bound to the request's trigger.
func scriptFor(rc *config.RemediationConfig, req channels.RemediationRequest) string {
	switch req.Trigger {
	case TriggerHighMemory:
		return rc.OnHighMemory
	case TriggerHighDisk:
		return rc.OnHighDisk
	case TriggerHighLoad:
		return rc.OnHighLoad
	case TriggerServiceDown:
		return rc.OnServiceDown[req.Service]
	default:
		return ""
	}
}

func (d *Dispatcher) execScript(ctx context.Context, script string, env []string) error {
	cmd := exec.CommandContext(ctx, script)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
