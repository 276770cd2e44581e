package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/masterzen/winrm"

	"github.com/nodewatch/nodewatch/internal/config"
	"github.com/nodewatch/nodewatch/internal/model"
)

// winrmCollector samples a Windows node over WinRM using WMI queries
// rendered as compact JSON by PowerShell. Windows has no load
// averages, so snapshots from this collector leave Load nil.
type winrmCollector struct {
	node *config.NodeConfig
}

func newWinRMCollector(node *config.NodeConfig) *winrmCollector {
	return &winrmCollector{node: node}
}

type winrmOSData struct {
	TotalVisibleMemorySize uint64 `json:"TotalVisibleMemorySize"`
	FreePhysicalMemory     uint64 `json:"FreePhysicalMemory"`
}

type winrmDiskData struct {
	DeviceID  string `json:"DeviceID"`
	Size      uint64 `json:"Size"`
	FreeSpace uint64 `json:"FreeSpace"`
}

type winrmCPUData struct {
	LoadPercentage            float64 `json:"LoadPercentage"`
	NumberOfLogicalProcessors int     `json:"NumberOfLogicalProcessors"`
}

type winrmServiceData struct {
	Name      string `json:"Name"`
	State     string `json:"State"`
	ProcessID int    `json:"ProcessId"`
}

func (c *winrmCollector) Collect(ctx context.Context) (*model.HealthSnapshot, error) {
	started := time.Now()

	client, err := c.connect(ctx)
	if err != nil {
		return nil, &Error{Node: c.node.Name, Op: "connect", Err: err}
	}

	snap := &model.HealthSnapshot{
		Services:  make(map[string]model.ServiceState, len(c.node.Services)),
		Timestamp: started,
	}

	var osData winrmOSData
	if err := c.query(ctx, client,
		`Get-WmiObject Win32_OperatingSystem | Select-Object TotalVisibleMemorySize, FreePhysicalMemory | ConvertTo-Json -Compress`,
		&osData); err != nil {
		return nil, &Error{Node: c.node.Name, Op: "memory", Err: err}
	}
	// WMI reports memory in KB.
	snap.MemoryTotalBytes = osData.TotalVisibleMemorySize * 1024
	snap.MemoryUsedBytes = (osData.TotalVisibleMemorySize - osData.FreePhysicalMemory) * 1024
	snap.MemoryPercent = percent(snap.MemoryUsedBytes, snap.MemoryTotalBytes)

	var disks []winrmDiskData
	if err := c.queryList(ctx, client,
		`Get-WmiObject Win32_LogicalDisk -Filter "DriveType=3" | Select-Object DeviceID, Size, FreeSpace | ConvertTo-Json -Compress`,
		&disks); err != nil {
		return nil, &Error{Node: c.node.Name, Op: "disk", Err: err}
	}
	var diskTotal, diskFree uint64
	for _, d := range disks {
		diskTotal += d.Size
		diskFree += d.FreeSpace
	}
	if diskTotal > 0 {
		snap.DiskTotalBytes = diskTotal
		snap.DiskUsedBytes = diskTotal - diskFree
		snap.DiskPercent = percent(snap.DiskUsedBytes, snap.DiskTotalBytes)
	}

	var cpu winrmCPUData
	if err := c.query(ctx, client,
		`Get-WmiObject Win32_Processor | Select-Object LoadPercentage, NumberOfLogicalProcessors | ConvertTo-Json -Compress`,
		&cpu); err == nil {
		snap.CPUPercent = cpu.LoadPercentage
		snap.CPUCount = cpu.NumberOfLogicalProcessors
	}
	if snap.CPUCount == 0 {
		snap.CPUCount = 1
	}

	for _, name := range c.node.Services {
		var svc winrmServiceData
		script := fmt.Sprintf(
			`Get-WmiObject Win32_Service -Filter "Name='%s'" | Select-Object Name, State, ProcessId | ConvertTo-Json -Compress`,
			strings.ReplaceAll(name, "'", ""))
		if err := c.query(ctx, client, script, &svc); err != nil || svc.Name == "" {
			// Leave the service unobserved; the evaluator treats that
			// as CRITICAL with reason "not observed".
			continue
		}
		snap.Services[name] = model.ServiceState{
			Name:    name,
			Running: strings.EqualFold(svc.State, "Running"),
			PID:     svc.ProcessID,
		}
	}

	snap.CollectDuration = time.Since(started)
	return snap, nil
}

// connect builds the WinRM client: NTLM when a domain is configured,
// Basic auth otherwise.
func (c *winrmCollector) connect(ctx context.Context) (*winrm.Client, error) {
	wc := c.node.WinRM

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	endpoint := winrm.NewEndpoint(wc.Host, wc.GetPort(), wc.UseHTTPS, true, nil, nil, nil, timeout)

	if wc.Domain != "" {
		params := winrm.DefaultParameters
		params.TransportDecorator = func() winrm.Transporter {
			return &winrm.ClientNTLM{}
		}
		return winrm.NewClientWithParameters(endpoint,
			fmt.Sprintf("%s\\%s", wc.Domain, wc.Username), wc.Password, params)
	}
	return winrm.NewClient(endpoint, wc.Username, wc.Password)
}

// query runs a PowerShell snippet and unmarshals its single-object
// JSON output.
func (c *winrmCollector) query(ctx context.Context, client *winrm.Client, script string, v any) error {
	out, err := c.runPowerShell(ctx, client, script)
	if err != nil {
		return err
	}
	if out == "" {
		return fmt.Errorf("empty response")
	}
	return json.Unmarshal([]byte(out), v)
}

// queryList handles ConvertTo-Json's habit of emitting a bare object
// for single-element results.
func (c *winrmCollector) queryList(ctx context.Context, client *winrm.Client, script string, list *[]winrmDiskData) error {
	out, err := c.runPowerShell(ctx, client, script)
	if err != nil {
		return err
	}
	if out == "" {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal([]byte(out), list); err == nil {
		return nil
	}
	var single winrmDiskData
	if err := json.Unmarshal([]byte(out), &single); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	*list = []winrmDiskData{single}
	return nil
}

func (c *winrmCollector) runPowerShell(ctx context.Context, client *winrm.Client, script string) (string, error) {
	cmd := fmt.Sprintf("powershell.exe -NoProfile -NonInteractive -Command \"%s\"",
		strings.ReplaceAll(script, "\"", "`\""))

	stdout, stderr, exitCode, err := client.RunWithContextWithString(ctx, cmd, "")
	if err != nil {
		return "", fmt.Errorf("winrm execution failed: %w", err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("powershell exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}
