package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeusagent/zeus/internal/orchestrator"
)

// pathResolver restricts file-tool arguments to a whitelisted root,
// grounded on the reference file tools' workspace-relative resolver.
type pathResolver struct{ root string }

func (r pathResolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	rootAbs, err := filepath.Abs(r.root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes allowed root")
	}
	return target, nil
}

// ReadFileTool reads a whitelisted file.
type ReadFileTool struct {
	resolver pathResolver
	maxBytes int
}

// NewReadFileTool builds the read tool rooted at dataDir.
func NewReadFileTool(dataDir string, maxBytes int) *ReadFileTool {
	if maxBytes <= 0 {
		maxBytes = 200_000
	}
	return &ReadFileTool{resolver: pathResolver{root: dataDir}, maxBytes: maxBytes}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a whitelisted file's contents." }
func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orchestrator.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
	}
	resolved, err := t.resolver.resolve(params.Path)
	if err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	if len(data) > t.maxBytes {
		data = data[:t.maxBytes]
	}
	return orchestrator.ToolResult{Success: true, Output: string(data)}
}

// WriteFileTool writes a whitelisted file, creating parent directories.
type WriteFileTool struct {
	resolver pathResolver
}

// NewWriteFileTool builds the write tool rooted at dataDir.
func NewWriteFileTool(dataDir string) *WriteFileTool {
	return &WriteFileTool{resolver: pathResolver{root: dataDir}}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a whitelisted file." }
func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["path","content"],"properties":{"path":{"type":"string"},"content":{"type":"string"}}}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orchestrator.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
	}
	resolved, err := t.resolver.resolve(params.Path)
	if err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	if err := os.WriteFile(resolved, []byte(params.Content), 0o644); err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	return orchestrator.ToolResult{Success: true, Output: "wrote " + params.Path}
}
