package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestParseMemoryLinux(t *testing.T) {
	out := "Mem:     16622243840  9322127360  1463517184   528482304  5836599296  6410944512\n"
	total, used, err := parseMemory("linux", out)
	if err != nil {
		t.Fatalf("parseMemory failed: %v", err)
	}
	if total != 16622243840 {
		t.Errorf("total = %d, want 16622243840", total)
	}
	if used != 9322127360 {
		t.Errorf("used = %d, want 9322127360", used)
	}
}

func TestParseMemoryLinuxMalformed(t *testing.T) {
	if _, _, err := parseMemory("linux", "Mem: garbage"); err == nil {
		t.Error("expected error for malformed free output")
	}
	if _, _, err := parseMemory("linux", ""); err == nil {
		t.Error("expected error for empty output")
	}
}

func TestParseMemoryDarwin(t *testing.T) {
	out := `17179869184
Mach Virtual Memory Statistics: (page size of 16384 bytes)
Pages free:                               12345.
Pages active:                            234567.
Pages inactive:                           54321.
Pages speculative:                         1000.
Pages throttled:                              0.
`
	total, used, err := parseMemory("darwin", out)
	if err != nil {
		t.Fatalf("parseMemory failed: %v", err)
	}
	if total != 17179869184 {
		t.Errorf("total = %d, want 17179869184", total)
	}
	wantFree := uint64(12345+54321+1000) * 16384
	if want := total - wantFree; used != want {
		t.Errorf("used = %d, want %d", used, want)
	}
}

func TestParseDiskDF(t *testing.T) {
	tests := []struct {
		name      string
		platform  string
		out       string
		wantTotal uint64
		wantUsed  uint64
		wantErr   bool
	}{
		{
			name:      "linux byte blocks",
			platform:  "linux",
			out:       "/dev/sda1  105555197952  44023414784  56142282752  44% /\n",
			wantTotal: 105555197952,
			wantUsed:  44023414784,
		},
		{
			name:      "darwin 1K blocks",
			platform:  "darwin",
			out:       "/dev/disk3s1  971350180  10240000  350000000  3% /\n",
			wantTotal: 971350180 * 1024,
			wantUsed:  10240000 * 1024,
		},
		{
			name:     "truncated line",
			platform: "linux",
			out:      "/dev/sda1 1024",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, used, err := parseDiskDF(tt.platform, tt.out)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDiskDF failed: %v", err)
			}
			if total != tt.wantTotal || used != tt.wantUsed {
				t.Errorf("got (%d, %d), want (%d, %d)", total, used, tt.wantTotal, tt.wantUsed)
			}
		})
	}
}

func TestParseLoad(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		out      string
		want     [3]float64
		wantErr  bool
	}{
		{
			name:     "linux proc loadavg",
			platform: "linux",
			out:      "0.52 0.58 0.59 1/234 5678\n",
			want:     [3]float64{0.52, 0.58, 0.59},
		},
		{
			name:     "darwin sysctl braces",
			platform: "darwin",
			out:      "{ 1.23 1.45 1.67 }\n",
			want:     [3]float64{1.23, 1.45, 1.67},
		},
		{
			name:     "empty",
			platform: "linux",
			out:      "",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			load, err := parseLoad(tt.platform, tt.out)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLoad failed: %v", err)
			}
			got := [3]float64{load.Load1, load.Load5, load.Load15}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseCPUPercent(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		out      string
		want     float64
	}{
		{"linux top", "linux", "%Cpu(s): 12.5 us,  3.1 sy,  0.0 ni, 84.0 id\n", 12.5},
		{"linux top comma locale", "linux", "%Cpu(s): 12,5 us,  3,1 sy\n", 12.5},
		{"darwin summed ps", "darwin", "42.7\n", 42.7},
		{"unparseable", "linux", "no numbers here", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseCPUPercent(tt.platform, tt.out); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// fakeRunner maps command strings to canned outputs; unknown commands
// fail like a missing binary would.
type fakeRunner struct {
	outputs map[string]string
}

func (f *fakeRunner) run(_ context.Context, cmd string) (string, error) {
	if out, ok := f.outputs[cmd]; ok {
		return out, nil
	}
	return "", errors.New("command exited 1")
}

func TestGatherUnixLinux(t *testing.T) {
	cmds := unixCommands["linux"]
	r := &fakeRunner{outputs: map[string]string{
		cmds.memory:   "Mem: 1000 800 200 0 0 200",
		cmds.disk:     "/dev/sda1 2000 900 1100 45% /",
		cmds.load:     "1.50 1.20 0.90 2/345 6789",
		cmds.cpuCount: "4\n",
		fmt.Sprintf(cmds.serviceCheck, "nginx"): "1234\n",
	}}

	snap, err := gatherUnix(context.Background(), r, "web-1", "linux", []string{"nginx", "redis"})
	if err != nil {
		t.Fatalf("gatherUnix failed: %v", err)
	}
	if snap.MemoryPercent != 80 {
		t.Errorf("MemoryPercent = %v, want 80", snap.MemoryPercent)
	}
	if snap.DiskPercent != 45 {
		t.Errorf("DiskPercent = %v, want 45", snap.DiskPercent)
	}
	if snap.Load == nil || snap.Load.Load1 != 1.5 {
		t.Errorf("Load = %+v, want Load1 1.5", snap.Load)
	}
	if snap.CPUCount != 4 {
		t.Errorf("CPUCount = %d, want 4", snap.CPUCount)
	}
	if norm, ok := snap.NormalizedLoad(); !ok || math.Abs(norm-0.375) > 1e-9 {
		t.Errorf("NormalizedLoad = (%v, %v), want (0.375, true)", norm, ok)
	}

	nginx, ok := snap.Services["nginx"]
	if !ok || !nginx.Running || nginx.PID != 1234 {
		t.Errorf("nginx state = %+v, want running with pid 1234", nginx)
	}
	redis, ok := snap.Services["redis"]
	if !ok || redis.Running {
		t.Errorf("redis state = %+v, want observed and not running", redis)
	}
}

func TestGatherUnixMemoryFailureIsFatal(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{}}
	_, err := gatherUnix(context.Background(), r, "web-1", "linux", nil)
	if err == nil {
		t.Fatal("expected error when memory sampling fails")
	}
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if cerr.Node != "web-1" || cerr.Op != "memory" {
		t.Errorf("error = %+v, want node web-1 op memory", cerr)
	}
}

func TestGatherUnixDegradedHostStillSnapshots(t *testing.T) {
	cmds := unixCommands["linux"]
	// Only the mandatory commands succeed.
	r := &fakeRunner{outputs: map[string]string{
		cmds.memory: "Mem: 1000 500 500 0 0 500",
		cmds.disk:   "/dev/sda1 2000 1000 1000 50% /",
	}}

	snap, err := gatherUnix(context.Background(), r, "minimal", "linux", nil)
	if err != nil {
		t.Fatalf("gatherUnix failed: %v", err)
	}
	if snap.Load != nil {
		t.Errorf("Load = %+v, want nil when loadavg is unavailable", snap.Load)
	}
	if snap.CPUCount != 1 {
		t.Errorf("CPUCount = %d, want fallback 1", snap.CPUCount)
	}
	if _, ok := snap.NormalizedLoad(); ok {
		t.Error("NormalizedLoad should report absent without loadavg")
	}
}

func TestCommandsForUnknownPlatform(t *testing.T) {
	cs := commandsFor("freebsd")
	if !strings.Contains(cs.memory, "free -b") {
		t.Errorf("unknown platform should fall back to linux commands, got %q", cs.memory)
	}
}
