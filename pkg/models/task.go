package models

import "time"

// TaskStatus is the lifecycle state of a queued agent task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// ProgressStep classifies a Progress entry.
type ProgressStep string

const (
	ProgressInfo      ProgressStep = "info"
	ProgressToolStart ProgressStep = "tool_start"
	ProgressToolEnd   ProgressStep = "tool_end"
	ProgressError     ProgressStep = "error"
)

// Progress is one append-only narration entry in a Task's log.
type Progress struct {
	Timestamp time.Time    `json:"timestamp"`
	Message   string       `json:"message"`
	Step      ProgressStep `json:"step"`
}

// ModelSelection is the three-tier model tuple used by the orchestrator.
type ModelSelection struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
	Tertiary  string `json:"tertiary,omitempty"`
}

// Task is a durably queued unit of agent work submitted for background
// processing by the interactive session handler.
type Task struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserMessage    string         `json:"user_message"`
	Status         TaskStatus     `json:"status"`
	Models         ModelSelection `json:"models"`
	AttachedFiles  []string       `json:"attached_files,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Progress  []Progress `json:"progress,omitempty"`
}

// AppendProgress adds one narration entry. Progress only ever grows.
func (t *Task) AppendProgress(message string, step ProgressStep) {
	t.Progress = append(t.Progress, Progress{
		Timestamp: time.Now(),
		Message:   message,
		Step:      step,
	})
}
