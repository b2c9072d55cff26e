package toolkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zeusagent/zeus/internal/modelclient"
	"github.com/zeusagent/zeus/internal/orchestrator"
)

// WebSearchTool delegates to a web-capable "online" model (the Venice
// tier), since the core orchestrator's own tiers are not guaranteed to
// have live internet access.
type WebSearchTool struct {
	provider modelclient.Provider
	model    string
}

// NewWebSearchTool binds the tool to the online provider/model pair.
func NewWebSearchTool(provider modelclient.Provider, model string) *WebSearchTool {
	return &WebSearchTool{provider: provider, model: model}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web via an online model and summarize results." }
func (t *WebSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orchestrator.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
	}
	resp, err := t.provider.Chat(ctx, modelclient.ChatRequest{
		Model:     t.model,
		Messages:  []modelclient.Message{{Role: modelclient.RoleUser, Content: "Search the web and summarize: " + params.Query}},
		MaxTokens: 1024,
	})
	if err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	return orchestrator.ToolResult{Success: true, Output: resp.Content}
}

// DelegateTool hands a sub-task to a larger/more capable external model,
// used when the active tier wants a second opinion or deeper reasoning.
type DelegateTool struct {
	provider modelclient.Provider
	model    string
}

// NewDelegateTool binds the tool to the delegate provider/model pair.
func NewDelegateTool(provider modelclient.Provider, model string) *DelegateTool {
	return &DelegateTool{provider: provider, model: model}
}

func (t *DelegateTool) Name() string        { return "delegate_to_model" }
func (t *DelegateTool) Description() string { return "Delegate a sub-task to a larger external model." }
func (t *DelegateTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["prompt"],"properties":{"prompt":{"type":"string"}}}`)
}

func (t *DelegateTool) Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	var params struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orchestrator.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
	}
	resp, err := t.provider.Chat(ctx, modelclient.ChatRequest{
		Model:     t.model,
		Messages:  []modelclient.Message{{Role: modelclient.RoleUser, Content: params.Prompt}},
		MaxTokens: 4096,
	})
	if err != nil {
		return orchestrator.ToolResult{Error: err.Error()}
	}
	return orchestrator.ToolResult{Success: true, Output: resp.Content}
}

// FinishTool is the distinguished terminal tool. The orchestrator
// intercepts finish_task calls before dispatch, so Execute is never
// actually invoked in normal operation; it is registered purely so its
// schema is published to the model and so a stray direct invocation (e.g.
// a provider bug that calls it twice) degrades gracefully instead of
// surfacing "unknown tool".
type FinishTool struct{}

func (t FinishTool) Name() string        { return "finish_task" }
func (t FinishTool) Description() string { return "Signal that the task is complete." }
func (t FinishTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`)
}

func (t FinishTool) Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	return orchestrator.ToolResult{Success: true, Output: "already finished"}
}
