package toolkit

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/zeusagent/zeus/internal/orchestrator"
	"github.com/zeusagent/zeus/internal/sandbox"
)

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon not reachable")
	}
}

func TestShellToolRunsCommandInSandbox(t *testing.T) {
	requireDocker(t)

	mgr := sandbox.NewManager(sandbox.Config{Image: "alpine:3.19", DefaultTimeout: 10 * time.Second})
	tool := NewShellTool(mgr)
	ctx := context.Background()
	conversationID := "toolkit-shell-test"
	defer mgr.Release(ctx, conversationID)

	args, _ := json.Marshal(map[string]any{"command": "echo hi", "timeout_seconds": 5})
	result := tool.Execute(ctx, args, orchestrator.ToolExecContext{ConversationID: conversationID})
	if !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
	if strings.TrimSpace(result.Output) != "hi" {
		t.Fatalf("output = %q, want %q", result.Output, "hi")
	}
}

func TestShellToolSurfacesNonZeroExit(t *testing.T) {
	requireDocker(t)

	mgr := sandbox.NewManager(sandbox.Config{Image: "alpine:3.19", DefaultTimeout: 10 * time.Second})
	tool := NewShellTool(mgr)
	ctx := context.Background()
	conversationID := "toolkit-shell-fail-test"
	defer mgr.Release(ctx, conversationID)

	args, _ := json.Marshal(map[string]any{"command": "exit 3", "timeout_seconds": 5})
	result := tool.Execute(ctx, args, orchestrator.ToolExecContext{ConversationID: conversationID})
	if result.Success {
		t.Fatalf("expected a failed result for a non-zero exit, got %+v", result)
	}
}

func TestIsBackgroundCommand(t *testing.T) {
	cases := []struct {
		command    string
		wantBg     bool
		wantPrefix string
	}{
		{"echo hi", false, "echo hi"},
		{"sleep 60 &", true, "sleep 60"},
		{"sleep 60 && echo done", false, "sleep 60 && echo done"},
		{"nohup ./server.sh", true, "nohup ./server.sh"},
		{"setsid long_job.sh", true, "setsid long_job.sh"},
	}
	for _, c := range cases {
		trimmed, bg := isBackgroundCommand(c.command)
		if bg != c.wantBg {
			t.Errorf("isBackgroundCommand(%q) background = %v, want %v", c.command, bg, c.wantBg)
		}
		if bg && trimmed != c.wantPrefix {
			t.Errorf("isBackgroundCommand(%q) trimmed = %q, want %q", c.command, trimmed, c.wantPrefix)
		}
	}
}

func TestShellToolDispatchesBackgroundCommand(t *testing.T) {
	requireDocker(t)

	mgr := sandbox.NewManager(sandbox.Config{Image: "alpine:3.19", DefaultTimeout: 10 * time.Second})
	tool := NewShellTool(mgr)
	ctx := context.Background()
	conversationID := "toolkit-shell-bg-test"
	defer mgr.Release(ctx, conversationID)

	args, _ := json.Marshal(map[string]any{"command": "sleep 30 &"})
	start := time.Now()
	result := tool.Execute(ctx, args, orchestrator.ToolExecContext{ConversationID: conversationID})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("background dispatch took %s, expected to return quickly", elapsed)
	}
	if !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(result.Output, "pid") {
		t.Fatalf("output = %q, want it to report a spawned pid", result.Output)
	}
}

func TestScriptToolRunsPythonInSandbox(t *testing.T) {
	requireDocker(t)

	mgr := sandbox.NewManager(sandbox.Config{Image: "python:3.12-alpine", DefaultTimeout: 10 * time.Second})
	tool := NewScriptTool(mgr)
	ctx := context.Background()
	conversationID := "toolkit-script-test"
	defer mgr.Release(ctx, conversationID)

	args, _ := json.Marshal(map[string]any{
		"interpreter":     "python3",
		"source":          "print('hi from script')",
		"timeout_seconds": 10,
	})
	result := tool.Execute(ctx, args, orchestrator.ToolExecContext{ConversationID: conversationID})
	if !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(result.Output, "hi from script") {
		t.Fatalf("output = %q, want it to contain script stdout", result.Output)
	}
}
