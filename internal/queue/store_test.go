package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/zeusagent/zeus/pkg/models"
)

func newTask(conversationID string) *models.Task {
	return &models.Task{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserMessage:    "hello",
		Models:         models.ModelSelection{Primary: "primary-model"},
	}
}

func TestMemoryStoreClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := newTask("conv-1")
	if err := s.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ok, err := s.Claim(ctx, task.ID)
			if err != nil {
				t.Errorf("claim: %v", err)
			}
			results[idx] = ok
		}(i)
	}
	wg.Wait()

	claimed := 0
	for _, ok := range results {
		if ok {
			claimed++
		}
	}
	if claimed != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", claimed)
	}
}

func TestMemoryStoreListPendingOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t1 := newTask("conv-1")
	t2 := newTask("conv-1")
	if err := s.Create(ctx, t1); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, t2); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListPending(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != t1.ID || pending[1].ID != t2.ID {
		t.Fatalf("expected oldest-first ordering, got %+v", pending)
	}
}

func TestMemoryStoreResetStuck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := newTask("conv-1")
	if err := s.Create(ctx, task); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Claim(ctx, task.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	count, err := s.ResetStuck(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reset task, got %d", count)
	}

	got, err := s.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskFailed {
		t.Fatalf("expected failed status after reset, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func TestMemoryStoreUpdateStatusIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := newTask("conv-1")
	if err := s.Create(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus(ctx, task.ID, models.TaskCompleted, "done", "", nil); err != nil {
		t.Fatal(err)
	}
	first, _ := s.Get(ctx, task.ID)
	if err := s.UpdateStatus(ctx, task.ID, models.TaskCompleted, "done", "", nil); err != nil {
		t.Fatal(err)
	}
	second, _ := s.Get(ctx, task.ID)
	if *first.CompletedAt != *second.CompletedAt {
		t.Fatalf("completed_at changed across idempotent update: %v vs %v", first.CompletedAt, second.CompletedAt)
	}
}

func TestMemoryStoreCancelPendingOnlyAffectsPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := newTask("conv-1")
	if err := s.Create(ctx, task); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Claim(ctx, task.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	ok, err := s.CancelPending(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected CancelPending to refuse a processing task")
	}
}
