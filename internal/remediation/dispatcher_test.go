package remediation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nodewatch/nodewatch/internal/channels"
	"github.com/nodewatch/nodewatch/internal/config"
)

type scriptCall struct {
	script string
	env    []string
}

type fakeExec struct {
	mu    sync.Mutex
	calls []scriptCall
	err   error
}

func (f *fakeExec) run(_ context.Context, script string, env []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scriptCall{script: script, env: env})
	return f.err
}

func (f *fakeExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testDispatcher(nodes map[string]*config.NodeConfig) (*Dispatcher, *fakeExec) {
	d := NewDispatcher(nodes, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fe := &fakeExec{}
	d.runScript = fe.run
	return d, fe
}

func memRequest(eventID string) channels.RemediationRequest {
	return channels.RemediationRequest{
		EventID:       eventID,
		Node:          "db-1",
		Host:          "10.0.0.7",
		Platform:      "linux",
		Trigger:       TriggerHighMemory,
		MemoryPercent: 92.5,
		DiskPercent:   40,
		Load1:         1.2,
		Timestamp:     time.Now(),
	}
}

func TestHandleRunsBoundScriptWithEnv(t *testing.T) {
	d, fe := testDispatcher(map[string]*config.NodeConfig{
		"db-1": {
			Name: "db-1",
			Remediation: &config.RemediationConfig{
				Enabled:      true,
				ScriptsDir:   "/opt/remedies",
				OnHighMemory: "clear_caches.sh",
			},
		},
	})

	d.handle(context.Background(), memRequest("ev-1"))

	if fe.callCount() != 1 {
		t.Fatalf("script calls = %d, want 1", fe.callCount())
	}
	call := fe.calls[0]
	if call.script != "/opt/remedies/clear_caches.sh" {
		t.Errorf("script = %q, want scripts_dir joined path", call.script)
	}
	want := map[string]bool{
		"NW_NODE_NAME=db-1":      false,
		"NW_NODE_HOST=10.0.0.7":  false,
		"NW_NODE_PLATFORM=linux": false,
		"NW_ACTION=high_memory":  false,
		"NW_MEMORY_PERCENT=92.5": false,
	}
	for _, kv := range call.env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Errorf("env missing %q", kv)
		}
	}
}

func TestHandleDispatchesOncePerEvent(t *testing.T) {
	d, fe := testDispatcher(map[string]*config.NodeConfig{
		"db-1": {
			Name: "db-1",
			Remediation: &config.RemediationConfig{
				Enabled:      true,
				OnHighMemory: "/opt/clear.sh",
			},
		},
	})

	d.handle(context.Background(), memRequest("ev-1"))
	d.handle(context.Background(), memRequest("ev-1"))
	d.handle(context.Background(), memRequest("ev-2"))

	if fe.callCount() != 2 {
		t.Errorf("script calls = %d, want 2 (duplicate event suppressed)", fe.callCount())
	}
}

func TestHandleSkipsDisabledAndUnbound(t *testing.T) {
	d, fe := testDispatcher(map[string]*config.NodeConfig{
		"db-1": {
			Name:        "db-1",
			Remediation: &config.RemediationConfig{Enabled: false, OnHighMemory: "/opt/clear.sh"},
		},
		"web-1": {
			Name:        "web-1",
			Remediation: &config.RemediationConfig{Enabled: true},
		},
	})

	d.handle(context.Background(), memRequest("ev-1"))

	req := memRequest("ev-2")
	req.Node = "web-1"
	d.handle(context.Background(), req)

	if fe.callCount() != 0 {
		t.Errorf("script calls = %d, want 0", fe.callCount())
	}
}

func TestHandleDryRunSkipsExecution(t *testing.T) {
	d, fe := testDispatcher(map[string]*config.NodeConfig{
		"db-1": {
			Name: "db-1",
			Remediation: &config.RemediationConfig{
				Enabled:      true,
				DryRun:       true,
				OnHighMemory: "/opt/clear.sh",
			},
		},
	})

	d.handle(context.Background(), memRequest("ev-1"))

	if fe.callCount() != 0 {
		t.Errorf("script calls = %d, want 0 in dry run", fe.callCount())
	}
}

func TestHandleRecordsFailureForNode(t *testing.T) {
	d, fe := testDispatcher(map[string]*config.NodeConfig{
		"db-1": {
			Name: "db-1",
			Remediation: &config.RemediationConfig{
				Enabled:      true,
				OnHighMemory: "/opt/clear.sh",
			},
		},
	})
	fe.err = errors.New("exit status 1")

	d.handle(context.Background(), memRequest("ev-1"))

	note, ok := d.TakeFailure("db-1")
	if !ok {
		t.Fatal("expected a recorded failure")
	}
	if note == "" {
		t.Error("failure note is empty")
	}
	if _, ok := d.TakeFailure("db-1"); ok {
		t.Error("failure should be cleared after read")
	}
}

func TestServiceDownTriggerResolvesPerService(t *testing.T) {
	d, fe := testDispatcher(map[string]*config.NodeConfig{
		"web-1": {
			Name: "web-1",
			Remediation: &config.RemediationConfig{
				Enabled:       true,
				OnServiceDown: map[string]string{"nginx": "/opt/restart_nginx.sh"},
			},
		},
	})

	req := channels.RemediationRequest{
		EventID: "ev-1",
		Node:    "web-1",
		Trigger: TriggerServiceDown,
		Service: "nginx",
	}
	d.handle(context.Background(), req)

	req2 := req
	req2.EventID = "ev-2"
	req2.Service = "redis"
	d.handle(context.Background(), req2)

	if fe.callCount() != 1 {
		t.Fatalf("script calls = %d, want 1", fe.callCount())
	}
	if fe.calls[0].script != "/opt/restart_nginx.sh" {
		t.Errorf("script = %q", fe.calls[0].script)
	}
	foundSvc := false
	for _, kv := range fe.calls[0].env {
		if kv == "NW_SERVICE=nginx" {
			foundSvc = true
		}
	}
	if !foundSvc {
		t.Error("env missing NW_SERVICE=nginx")
	}
}

func TestRunStopsOnChannelClose(t *testing.T) {
	d, _ := testDispatcher(nil)
	requests := make(chan channels.RemediationRequest)
	close(requests)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), requests)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after channel close")
	}
}
