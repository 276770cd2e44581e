package collector

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/model"
)

// localCollector samples the machine the monitor runs on by executing
// the platform command set through /bin/sh.
type localCollector struct {
	node *config.NodeConfig
}

func newLocalCollector(node *config.NodeConfig) *localCollector {
	return &localCollector{node: node}
}

func (c *localCollector) Collect(ctx context.Context) (*model.HealthSnapshot, error) {
	return gatherUnix(ctx, localRunner{}, c.node.Name, c.node.Platform, c.node.Services)
}

type localRunner struct{}

func (localRunner) run(ctx context.Context, cmd string) (string, error) {
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", cmd).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("command exited %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}
