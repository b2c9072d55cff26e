package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zeusagent/zeus/internal/orchestrator"
	"github.com/zeusagent/zeus/internal/sandbox"
)

// detachWrappers are leading tokens that mark a shell command as already
// intending to run detached from its parent process.
var detachWrappers = []string{"nohup ", "setsid ", "disown "}

// isBackgroundCommand reports whether command is meant to be launched and
// left running rather than waited on: a trailing `&` (outside quotes) or a
// recognized detach wrapper.
func isBackgroundCommand(command string) (trimmed string, background bool) {
	trimmed = strings.TrimSpace(command)
	for _, wrapper := range detachWrappers {
		if strings.HasPrefix(trimmed, wrapper) {
			return trimmed, true
		}
	}
	if strings.HasSuffix(trimmed, "&") && !strings.HasSuffix(trimmed, "&&") {
		return strings.TrimSpace(strings.TrimSuffix(trimmed, "&")), true
	}
	return trimmed, false
}

// ShellTool runs a shell command inside the conversation's sandbox session.
type ShellTool struct {
	sandbox *sandbox.Manager
}

// NewShellTool binds the tool to a sandbox manager (C1).
func NewShellTool(mgr *sandbox.Manager) *ShellTool { return &ShellTool{sandbox: mgr} }

func (t *ShellTool) Name() string        { return "run_shell" }
func (t *ShellTool) Description() string { return "Run a shell command in the conversation's sandbox." }
func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["command"],"properties":{"command":{"type":"string"},"timeout_seconds":{"type":"integer"}}}`)
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	var params struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orchestrator.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
	}

	if command, background := isBackgroundCommand(params.Command); background {
		pid, logPath, err := t.sandbox.RunCommandBackground(ctx, execCtx.ConversationID, command)
		if err != nil {
			return orchestrator.ToolResult{Error: err.Error()}
		}
		return orchestrator.ToolResult{
			Success: true,
			Output:  fmt.Sprintf("started in background, pid %s, output logged to %s", pid, logPath),
		}
	}

	timeout := time.Duration(params.TimeoutSeconds) * time.Second
	exitCode, stdout, stderr, err := t.sandbox.RunCommand(ctx, execCtx.ConversationID, params.Command, timeout)
	if err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	output := stdout
	if stderr != "" {
		output += "\n[stderr]\n" + stderr
	}
	if exitCode != 0 {
		return orchestrator.ToolResult{Success: false, Error: fmt.Sprintf("exit code %d: %s", exitCode, output)}
	}
	return orchestrator.ToolResult{Success: true, Output: output}
}

// ScriptTool runs an interpreted script inside the conversation's sandbox.
type ScriptTool struct {
	sandbox *sandbox.Manager
}

// NewScriptTool binds the tool to a sandbox manager (C1).
func NewScriptTool(mgr *sandbox.Manager) *ScriptTool { return &ScriptTool{sandbox: mgr} }

func (t *ScriptTool) Name() string        { return "run_script" }
func (t *ScriptTool) Description() string { return "Run a Python/Node/Bash script in the conversation's sandbox." }
func (t *ScriptTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["interpreter","source"],"properties":{"interpreter":{"type":"string","enum":["python3","node","bash"]},"source":{"type":"string"},"timeout_seconds":{"type":"integer"}}}`)
}

func (t *ScriptTool) Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	var params struct {
		Interpreter    string `json:"interpreter"`
		Source         string `json:"source"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orchestrator.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
	}
	timeout := time.Duration(params.TimeoutSeconds) * time.Second
	ok, output, err := t.sandbox.RunScript(ctx, execCtx.ConversationID, params.Interpreter, params.Source, timeout, nil)
	if err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	if !ok {
		return orchestrator.ToolResult{Success: false, Error: output}
	}
	return orchestrator.ToolResult{Success: true, Output: output}
}
