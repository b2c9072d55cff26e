package toolkit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/zeusagent/zeus/internal/modelclient"
	"github.com/zeusagent/zeus/internal/orchestrator"
)

type scriptedModelProvider struct {
	lastPrompt string
	response   string
	err        error
}

func (p *scriptedModelProvider) Name() string                    { return "scripted" }
func (p *scriptedModelProvider) Health(ctx context.Context) bool { return true }
func (p *scriptedModelProvider) Chat(ctx context.Context, req modelclient.ChatRequest) (*modelclient.ChatResponse, error) {
	if len(req.Messages) > 0 {
		p.lastPrompt = req.Messages[len(req.Messages)-1].Content
	}
	if p.err != nil {
		return nil, p.err
	}
	return &modelclient.ChatResponse{Content: p.response}, nil
}

func TestWebSearchToolForwardsQueryAndSummary(t *testing.T) {
	provider := &scriptedModelProvider{response: "summary of results"}
	tool := NewWebSearchTool(provider, "search-model")

	args, _ := json.Marshal(map[string]string{"query": "go generics"})
	result := tool.Execute(context.Background(), args, orchestrator.ToolExecContext{})

	if !result.Success || result.Output != "summary of results" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(provider.lastPrompt, "go generics") {
		t.Fatalf("expected prompt to mention the query, got %q", provider.lastPrompt)
	}
}

func TestWebSearchToolSurfacesProviderError(t *testing.T) {
	provider := &scriptedModelProvider{err: modelclient.ErrTimeout}
	tool := NewWebSearchTool(provider, "search-model")

	args, _ := json.Marshal(map[string]string{"query": "anything"})
	result := tool.Execute(context.Background(), args, orchestrator.ToolExecContext{})
	if result.Success || result.Error == "" {
		t.Fatalf("expected provider error surfaced, got %+v", result)
	}
}

func TestDelegateToolForwardsPromptVerbatim(t *testing.T) {
	provider := &scriptedModelProvider{response: "delegated answer"}
	tool := NewDelegateTool(provider, "big-model")

	args, _ := json.Marshal(map[string]string{"prompt": "summarize this codebase"})
	result := tool.Execute(context.Background(), args, orchestrator.ToolExecContext{})

	if !result.Success || result.Output != "delegated answer" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if provider.lastPrompt != "summarize this codebase" {
		t.Fatalf("lastPrompt = %q, want verbatim prompt", provider.lastPrompt)
	}
}

func TestFinishToolExecuteDegradesGracefully(t *testing.T) {
	var tool FinishTool
	result := tool.Execute(context.Background(), json.RawMessage(`{}`), orchestrator.ToolExecContext{})
	if !result.Success {
		t.Fatalf("expected a graceful success result for a stray direct call, got %+v", result)
	}
}
