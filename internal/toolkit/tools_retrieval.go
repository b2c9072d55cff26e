package toolkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zeusagent/zeus/internal/orchestrator"
)

// RetrievalTool exposes the RAG collaborator to the model directly, as a
// callable capability distinct from the orchestrator's automatic
// context-augmentation use of the same store (§4.4.6): the model can query
// past procedures on demand, or record one explicitly instead of waiting
// for a successful tool call to do it implicitly.
type RetrievalTool struct {
	store orchestrator.RetrievalStore
}

// NewRetrievalTool binds the tool to the retrieval store.
func NewRetrievalTool(store orchestrator.RetrievalStore) *RetrievalTool {
	return &RetrievalTool{store: store}
}

func (t *RetrievalTool) Name() string { return "retrieval" }
func (t *RetrievalTool) Description() string {
	return "Query or record entries in the procedure memory store. action=\"query\" searches past procedures by keyword; action=\"record\" saves a new one."
}
func (t *RetrievalTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","required":["action"],"properties":{
		"action":{"type":"string","enum":["query","record"]},
		"query":{"type":"string"},
		"tool_name":{"type":"string"},
		"summary":{"type":"string"}
	}}`)
}

func (t *RetrievalTool) Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	var params struct {
		Action   string `json:"action"`
		Query    string `json:"query"`
		ToolName string `json:"tool_name"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return orchestrator.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
	}

	switch params.Action {
	case "query":
		if params.Query == "" {
			return orchestrator.ToolResult{Error: "query is required for action=query"}
		}
		result, err := t.store.RetrieveContext(ctx, params.Query)
		if err != nil {
			return orchestrator.ToolResult{Error: err.Error()}
		}
		if result == "" {
			return orchestrator.ToolResult{Success: true, Output: "no matching procedures found"}
		}
		return orchestrator.ToolResult{Success: true, Output: result}

	case "record":
		if params.ToolName == "" || params.Summary == "" {
			return orchestrator.ToolResult{Error: "tool_name and summary are required for action=record"}
		}
		if err := t.store.RecordProcedure(ctx, execCtx.ConversationID, params.ToolName, params.Summary); err != nil {
			return orchestrator.ToolResult{Error: err.Error()}
		}
		return orchestrator.ToolResult{Success: true, Output: "recorded"}

	default:
		return orchestrator.ToolResult{Error: "action must be \"query\" or \"record\""}
	}
}
