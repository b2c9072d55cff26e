package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zeusagent/zeus/internal/modelclient"
	"github.com/zeusagent/zeus/internal/orchestrator"
	"github.com/zeusagent/zeus/internal/queue"
	"github.com/zeusagent/zeus/pkg/models"
)

type fakeSandbox struct{}

func (fakeSandbox) Release(ctx context.Context, conversationID string) {}

type fakeTools struct{}

func (fakeTools) Invoke(ctx context.Context, name string, args []byte, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult {
	return orchestrator.ToolResult{Success: true, Output: "ok"}
}
func (fakeTools) Schemas() []modelclient.ToolSchema { return nil }
func (fakeTools) KnownNames() map[string]bool       { return map[string]bool{} }

type echoProvider struct{}

func (echoProvider) Name() string                    { return "fake" }
func (echoProvider) Health(ctx context.Context) bool { return true }
func (echoProvider) Chat(ctx context.Context, req modelclient.ChatRequest) (*modelclient.ChatResponse, error) {
	args := []byte(`{"message":"all done"}`)
	return &modelclient.ChatResponse{
		ToolCalls: []modelclient.ToolCall{{ID: uuid.New().String(), Name: "finish_task", Arguments: args}},
	}, nil
}

type fakeSink struct {
	mu        sync.Mutex
	statuses  []models.TaskStatus
	progress  []models.Progress
}

func (s *fakeSink) SendTaskStatus(ctx context.Context, task *models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, task.Status)
}

func (s *fakeSink) SendTaskProgress(ctx context.Context, conversationID string, p models.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, p)
}

func (s *fakeSink) snapshot() []models.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TaskStatus(nil), s.statuses...)
}

func waitForTerminal(t *testing.T, store *queue.MemoryStore, id string) *models.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if task != nil && task.Status.IsTerminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return nil
}

func TestPoolClaimsAndCompletesTask(t *testing.T) {
	store := queue.NewMemoryStore()
	orch := orchestrator.New(fakeSandbox{}, fakeTools{}, nil, orchestrator.Config{})
	sink := &fakeSink{}

	resolver := func(models.ModelSelection) orchestrator.Tiers {
		return orchestrator.Tiers{Primary: echoProvider{}, PrimaryModel: "m1", PrimaryNativeTools: true}
	}

	pool := New(store, orch, resolver, sink, Config{
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pool.Stop()

	task := &models.Task{
		ID:             uuid.New().String(),
		ConversationID: "conv-1",
		UserMessage:    "do the thing",
		Models:         models.ModelSelection{Primary: "m1"},
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	final := waitForTerminal(t, store, task.ID)
	if final.Status != models.TaskCompleted {
		t.Fatalf("final.Status = %v, want completed (error=%q)", final.Status, final.Error)
	}
	if final.Result != "all done" {
		t.Fatalf("final.Result = %q, want finish_task message", final.Result)
	}
	if len(sink.snapshot()) == 0 {
		t.Fatal("expected at least one task status published to the sink")
	}
}

func TestPoolResetsStuckTasksAtStartup(t *testing.T) {
	store := queue.NewMemoryStore()
	task := &models.Task{ID: uuid.New().String(), ConversationID: "conv-2", UserMessage: "stuck"}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ok, err := store.Claim(context.Background(), task.ID); err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}

	orch := orchestrator.New(fakeSandbox{}, fakeTools{}, nil, orchestrator.Config{})
	pool := New(store, orch, func(models.ModelSelection) orchestrator.Tiers { return orchestrator.Tiers{} }, &fakeSink{}, Config{
		PollInterval: time.Hour, // avoid racing the poll loop against this assertion
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pool.Stop()

	got, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.TaskFailed {
		t.Fatalf("got.Status = %v, want failed after startup reset", got.Status)
	}
}
