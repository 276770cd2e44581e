package collector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nodewatch/nodewatch/internal/model"
)

// parseMemory extracts (total, used) bytes from the platform's memory
// command output.
func parseMemory(platform, out string) (total, used uint64, err error) {
	if platform == "darwin" {
		return parseMemoryDarwin(out)
	}
	// linux: "Mem: <total> <used> <free> <shared> <buff/cache> <available>"
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("unexpected free output: %q", strings.TrimSpace(out))
	}
	if total, err = strconv.ParseUint(fields[1], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("bad total in free output: %w", err)
	}
	if used, err = strconv.ParseUint(fields[2], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("bad used in free output: %w", err)
	}
	return total, used, nil
}

var vmStatPageSize = regexp.MustCompile(`page size of (\d+) bytes`)
var vmStatPages = regexp.MustCompile(`Pages (free|inactive|speculative):\s+(\d+)`)

// parseMemoryDarwin combines "sysctl -n hw.memsize" (first line) with
// vm_stat page counts. Free, inactive and speculative pages count as
// reclaimable.
func parseMemoryDarwin(out string) (total, used uint64, err error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 {
		return 0, 0, fmt.Errorf("empty vm_stat output")
	}
	if total, err = strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 64); err != nil {
		return 0, 0, fmt.Errorf("bad hw.memsize value: %w", err)
	}

	pageSize := uint64(4096)
	if m := vmStatPageSize.FindStringSubmatch(out); m != nil {
		if ps, convErr := strconv.ParseUint(m[1], 10, 64); convErr == nil {
			pageSize = ps
		}
	}

	var freePages uint64
	for _, m := range vmStatPages.FindAllStringSubmatch(out, -1) {
		if n, convErr := strconv.ParseUint(m[2], 10, 64); convErr == nil {
			freePages += n
		}
	}

	free := freePages * pageSize
	if free > total {
		free = total
	}
	return total, total - free, nil
}

// parseDiskDF extracts (total, used) bytes from a single POSIX df
// line: "Filesystem Blocks Used Available Capacity Mounted". Linux
// reports 1-byte blocks (df -B1), darwin 1K blocks (df -k).
func parseDiskDF(platform, out string) (total, used uint64, err error) {
	fields := strings.Fields(out)
	if len(fields) < 4 {
		return 0, 0, fmt.Errorf("unexpected df output: %q", strings.TrimSpace(out))
	}
	if total, err = strconv.ParseUint(fields[1], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("bad total in df output: %w", err)
	}
	if used, err = strconv.ParseUint(fields[2], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("bad used in df output: %w", err)
	}
	if platform == "darwin" {
		total *= 1024
		used *= 1024
	}
	return total, used, nil
}

var darwinLoad = regexp.MustCompile(`\{?\s*([\d.]+)\s+([\d.]+)\s+([\d.]+)`)

// parseLoad reads the 1/5/15 minute load averages.
// linux: "0.52 0.58 0.59 1/234 5678" (/proc/loadavg)
// darwin: "{ 1.23 1.45 1.67 }" (sysctl vm.loadavg)
func parseLoad(platform, out string) (*model.LoadAverage, error) {
	var parts []string
	if platform == "darwin" {
		m := darwinLoad.FindStringSubmatch(out)
		if m == nil {
			return nil, fmt.Errorf("unexpected loadavg output: %q", strings.TrimSpace(out))
		}
		parts = m[1:4]
	} else {
		parts = strings.Fields(out)
		if len(parts) < 3 {
			return nil, fmt.Errorf("unexpected loadavg output: %q", strings.TrimSpace(out))
		}
		parts = parts[:3]
	}

	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("bad loadavg value %q: %w", p, err)
		}
		vals[i] = v
	}
	return &model.LoadAverage{Load1: vals[0], Load5: vals[1], Load15: vals[2]}, nil
}

var topCPU = regexp.MustCompile(`[\d.]+`)

// parseCPUPercent is best-effort: the linux value comes from the first
// number of top's "%Cpu(s)" line (user time), darwin from the summed
// ps %cpu column. Unparseable output yields zero.
func parseCPUPercent(platform, out string) float64 {
	s := strings.TrimSpace(out)
	if platform == "darwin" {
		v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return 0
		}
		return v
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	m := topCPU.FindString(strings.ReplaceAll(s, ",", "."))
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return v
}
