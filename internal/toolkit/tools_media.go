package toolkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zeusagent/zeus/internal/orchestrator"
	"github.com/zeusagent/zeus/internal/sandbox"
)

// MediaTool downloads a URL into the conversation's sandbox and, on
// request, transcribes it to text — both delegated to C1 since the
// download and any transcription binary run inside the session's
// container, never on the host.
type MediaTool struct {
	sandbox *sandbox.Manager
}

// NewMediaTool binds the tool to a sandbox manager (C1).
func NewMediaTool(mgr *sandbox.Manager) *MediaTool { return &MediaTool{sandbox: mgr} }

func (t *MediaTool) Name() string { return "fetch_media" }
func (t *MediaTool) Description() string {
	return "Download a URL into the sandbox workspace and optionally transcribe audio/video to text."
}
func (t *MediaTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["url","dest_path"],"properties":{"url":{"type":"string"},"dest_path":{"type":"string"},"transcribe":{"type":"boolean"}}}`)
}

func (t *MediaTool) Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	var params struct {
		URL        string `json:"url"`
		DestPath   string `json:"dest_path"`
		Transcribe bool   `json:"transcribe"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orchestrator.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
	}

	downloadCmd := fmt.Sprintf("curl -fsSL %q -o %q", params.URL, params.DestPath)
	exitCode, stdout, stderr, err := t.sandbox.RunCommand(ctx, execCtx.ConversationID, downloadCmd, 0)
	if err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	if exitCode != 0 {
		return orchestrator.ToolResult{Error: fmt.Sprintf("download failed (exit %d): %s", exitCode, stderr)}
	}

	if !params.Transcribe {
		return orchestrator.ToolResult{Success: true, Output: "downloaded to " + params.DestPath}
	}

	transcribeCmd := fmt.Sprintf("whisper %q --output_format txt --output_dir $(dirname %q)", params.DestPath, params.DestPath)
	exitCode, stdout, stderr, err = t.sandbox.RunCommand(ctx, execCtx.ConversationID, transcribeCmd, 0)
	if err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	if exitCode != 0 {
		return orchestrator.ToolResult{Error: fmt.Sprintf("transcription failed (exit %d): %s", exitCode, stderr)}
	}
	return orchestrator.ToolResult{Success: true, Output: "transcribed " + params.DestPath + "\n" + stdout}
}
