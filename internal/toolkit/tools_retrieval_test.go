package toolkit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/zeusagent/zeus/internal/orchestrator"
)

type fakeRetrievalStore struct {
	retrieveResult string
	retrieveErr    error
	recordErr      error

	lastQuery            string
	recordedConversation string
	recordedTool         string
	recordedSummary      string
}

func (f *fakeRetrievalStore) RetrieveContext(ctx context.Context, query string) (string, error) {
	f.lastQuery = query
	return f.retrieveResult, f.retrieveErr
}

func (f *fakeRetrievalStore) RecordProcedure(ctx context.Context, conversationID, toolName, summary string) error {
	f.recordedConversation = conversationID
	f.recordedTool = toolName
	f.recordedSummary = summary
	return f.recordErr
}

func TestRetrievalToolQueryReturnsMatch(t *testing.T) {
	store := &fakeRetrievalStore{retrieveResult: "use curl -fsSL to download files"}
	tool := NewRetrievalTool(store)

	args, _ := json.Marshal(map[string]any{"action": "query", "query": "how to download a file"})
	result := tool.Execute(context.Background(), args, orchestrator.ToolExecContext{ConversationID: "conv-1"})

	if !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Output != "use curl -fsSL to download files" {
		t.Fatalf("output = %q", result.Output)
	}
	if store.lastQuery != "how to download a file" {
		t.Fatalf("query forwarded = %q", store.lastQuery)
	}
}

func TestRetrievalToolQueryNoMatchFallsBack(t *testing.T) {
	store := &fakeRetrievalStore{retrieveResult: ""}
	tool := NewRetrievalTool(store)

	args, _ := json.Marshal(map[string]any{"action": "query", "query": "nothing like this exists"})
	result := tool.Execute(context.Background(), args, orchestrator.ToolExecContext{ConversationID: "conv-1"})

	if !result.Success || result.Output != "no matching procedures found" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRetrievalToolQueryRequiresQueryField(t *testing.T) {
	tool := NewRetrievalTool(&fakeRetrievalStore{})
	args, _ := json.Marshal(map[string]any{"action": "query"})
	result := tool.Execute(context.Background(), args, orchestrator.ToolExecContext{})
	if result.Success || result.Error == "" {
		t.Fatalf("expected an error for a missing query, got %+v", result)
	}
}

func TestRetrievalToolRecordStoresProcedure(t *testing.T) {
	store := &fakeRetrievalStore{}
	tool := NewRetrievalTool(store)

	args, _ := json.Marshal(map[string]any{
		"action":    "record",
		"tool_name": "shell",
		"summary":   "restart the worker with systemctl restart zeusd",
	})
	result := tool.Execute(context.Background(), args, orchestrator.ToolExecContext{ConversationID: "conv-7"})

	if !result.Success || result.Output != "recorded" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if store.recordedConversation != "conv-7" || store.recordedTool != "shell" {
		t.Fatalf("unexpected recorded fields: %+v", store)
	}
}

func TestRetrievalToolRecordPropagatesStoreError(t *testing.T) {
	store := &fakeRetrievalStore{recordErr: errors.New("disk full")}
	tool := NewRetrievalTool(store)

	args, _ := json.Marshal(map[string]any{"action": "record", "tool_name": "shell", "summary": "x"})
	result := tool.Execute(context.Background(), args, orchestrator.ToolExecContext{})

	if result.Success || result.Error != "disk full" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRetrievalToolRejectsUnknownAction(t *testing.T) {
	tool := NewRetrievalTool(&fakeRetrievalStore{})
	args, _ := json.Marshal(map[string]any{"action": "delete"})
	result := tool.Execute(context.Background(), args, orchestrator.ToolExecContext{})
	if result.Success || result.Error == "" {
		t.Fatalf("expected an error for an unknown action, got %+v", result)
	}
}
