package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nodewatch/nodewatch/internal/model"
)

// commandSet holds the sampling commands for a unix-like platform.
type commandSet struct {
	memory     string
	disk       string
	load       string
	cpuCount   string
	cpuPercent string
	// serviceCheck takes the service name via %[1]s; it must print
	// the PID of a matching process and exit non-zero when none runs.
	serviceCheck string
}

var unixCommands = map[string]commandSet{
	"linux": {
		memory:       "free -b | grep -i '^mem'",
		disk:         "df -P -B1 / | tail -1",
		load:         "cat /proc/loadavg",
		cpuCount:     "nproc",
		cpuPercent:   "top -bn1 | grep -i '%cpu' | head -1",
		serviceCheck: "pgrep -x %[1]s || pgrep -f %[1]s",
	},
	"darwin": {
		memory:       "sysctl -n hw.memsize && vm_stat",
		disk:         "df -P -k / | tail -1",
		load:         "sysctl -n vm.loadavg",
		cpuCount:     "sysctl -n hw.ncpu",
		cpuPercent:   "ps -A -o %cpu | awk '{s+=$1} END {print s}'",
		serviceCheck: "pgrep -x %[1]s || pgrep -f %[1]s",
	},
}

// commandsFor falls back to the linux table for unrecognized platform
// tags; windows nodes are collected over WinRM instead.
func commandsFor(platform string) commandSet {
	if cs, ok := unixCommands[platform]; ok {
		return cs
	}
	return unixCommands["linux"]
}

// gatherUnix runs the platform command set through a runner and
// assembles a snapshot. Memory and disk are mandatory; load and CPU
// percent are best-effort because some minimal hosts lack the tools.
func gatherUnix(ctx context.Context, r runner, node string, platform string, services []string) (*model.HealthSnapshot, error) {
	started := time.Now()
	cmds := commandsFor(platform)

	snap := &model.HealthSnapshot{
		Services:  make(map[string]model.ServiceState, len(services)),
		Timestamp: started,
	}

	out, err := r.run(ctx, cmds.memory)
	if err != nil {
		return nil, &Error{Node: node, Op: "memory", Err: err}
	}
	total, used, err := parseMemory(platform, out)
	if err != nil {
		return nil, &Error{Node: node, Op: "memory", Err: err}
	}
	snap.MemoryTotalBytes = total
	snap.MemoryUsedBytes = used
	snap.MemoryPercent = percent(used, total)

	out, err = r.run(ctx, cmds.disk)
	if err != nil {
		return nil, &Error{Node: node, Op: "disk", Err: err}
	}
	total, used, err = parseDiskDF(platform, out)
	if err != nil {
		return nil, &Error{Node: node, Op: "disk", Err: err}
	}
	snap.DiskTotalBytes = total
	snap.DiskUsedBytes = used
	snap.DiskPercent = percent(used, total)

	if out, err = r.run(ctx, cmds.cpuCount); err == nil {
		if n, convErr := strconv.Atoi(strings.TrimSpace(out)); convErr == nil && n > 0 {
			snap.CPUCount = n
		}
	}
	if snap.CPUCount == 0 {
		snap.CPUCount = 1
	}

	if out, err = r.run(ctx, cmds.load); err == nil {
		if load, parseErr := parseLoad(platform, out); parseErr == nil {
			snap.Load = load
		}
	}

	if out, err = r.run(ctx, cmds.cpuPercent); err == nil {
		snap.CPUPercent = parseCPUPercent(platform, out)
	}

	for _, name := range services {
		check := fmt.Sprintf(cmds.serviceCheck, name)
		out, err := r.run(ctx, check)
		if err != nil {
			// Non-zero exit means no matching process; the service is
			// observed as not running rather than unconfirmed.
			snap.Services[name] = model.ServiceState{Name: name, Running: false}
			continue
		}
		state := model.ServiceState{Name: name, Running: strings.TrimSpace(out) != ""}
		if fields := strings.Fields(out); len(fields) > 0 {
			if pid, convErr := strconv.Atoi(fields[0]); convErr == nil {
				state.PID = pid
			}
		}
		snap.Services[name] = state
	}

	snap.CollectDuration = time.Since(started)
	return snap, nil
}

func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}
