// Package queue implements the durable task queue (C5): a FIFO of submitted
// agent requests with atomic claim semantics and crash recovery.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zeusagent/zeus/pkg/models"
)

// Store is the persistence contract for the task queue. Implementations
// must make Claim atomic: concurrent callers racing on the same id never
// both observe a successful claim.
type Store interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Task, error)
	ListPending(ctx context.Context, limit int) ([]*models.Task, error)
	ListActive(ctx context.Context) ([]*models.Task, error)

	// Claim atomically transitions a task from pending to processing.
	// Returns false (no error) if another caller already claimed it.
	Claim(ctx context.Context, id string) (bool, error)

	UpdateStatus(ctx context.Context, id string, status models.TaskStatus, result, errMsg string, toolCalls []models.ToolCall) error
	AppendProgress(ctx context.Context, id string, message string, step models.ProgressStep) (bool, error)

	// CancelPending cancels a task only if it is still pending.
	CancelPending(ctx context.Context, id string) (bool, error)

	// CleanupOld deletes terminal tasks completed before the cutoff and
	// returns how many rows were removed.
	CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error)

	// ResetStuck rewrites every processing task started before the
	// stuckAfter cutoff to failed, recovering from a prior crash or a
	// worker that died mid-task. Pass 0 to reset every processing task
	// regardless of age, as at process startup. Returns the count affected.
	ResetStuck(ctx context.Context, stuckAfter time.Duration) (int64, error)
}

// MemoryStore is an in-process Store used by tests and by single-node
// deployments that do not need the embedded database.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	order []string
}

// NewMemoryStore returns an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

func cloneTask(t *models.Task) *models.Task {
	if t == nil {
		return nil
	}
	c := *t
	c.AttachedFiles = append([]string(nil), t.AttachedFiles...)
	c.ToolCalls = append([]models.ToolCall(nil), t.ToolCalls...)
	c.Progress = append([]models.Progress(nil), t.Progress...)
	return &c
}

func (s *MemoryStore) Create(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	s.tasks[task.ID] = cloneTask(task)
	s.order = append(s.order, task.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return cloneTask(t), nil
}

func (s *MemoryStore) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.tasks[s.order[i]]
		if t == nil || t.ConversationID != conversationID {
			continue
		}
		out = append(out, cloneTask(t))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPending(ctx context.Context, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, id := range s.order {
		t := s.tasks[id]
		if t == nil || t.Status != models.TaskPending {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, id := range s.order {
		t := s.tasks[id]
		if t == nil {
			continue
		}
		if t.Status == models.TaskPending || t.Status == models.TaskProcessing {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) Claim(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != models.TaskPending {
		return false, nil
	}
	now := time.Now()
	t.Status = models.TaskProcessing
	t.StartedAt = &now
	return true, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, result, errMsg string, toolCalls []models.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.Status = status
	if result != "" {
		t.Result = result
	}
	if errMsg != "" {
		t.Error = errMsg
	}
	if toolCalls != nil {
		t.ToolCalls = toolCalls
	}
	if status.IsTerminal() && t.CompletedAt == nil {
		now := time.Now()
		t.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) AppendProgress(ctx context.Context, id string, message string, step models.ProgressStep) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	t.AppendProgress(message, step)
	return true, nil
}

func (s *MemoryStore) CancelPending(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != models.TaskPending {
		return false, nil
	}
	now := time.Now()
	t.Status = models.TaskCancelled
	t.CompletedAt = &now
	return true, nil
}

func (s *MemoryStore) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var removed int64
	var kept []string
	for _, id := range s.order {
		t := s.tasks[id]
		if t != nil && t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

func (s *MemoryStore) ResetStuck(ctx context.Context, stuckAfter time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	now := time.Now()
	cutoff := now.Add(-stuckAfter)
	for _, t := range s.tasks {
		if t.Status == models.TaskProcessing && (t.StartedAt == nil || t.StartedAt.Before(cutoff)) {
			t.Status = models.TaskFailed
			t.Error = "interrupted by restart"
			t.CompletedAt = &now
			count++
		}
	}
	return count, nil
}
