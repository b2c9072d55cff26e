package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zeusagent/zeus/pkg/models"
)

// SQLiteConfig configures the embedded task-queue database.
type SQLiteConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns sensible defaults for a single-process server.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		MaxOpenConns:    1, // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}
}

// SQLiteStore implements Store on an embedded, pure-Go sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the task queue database at path.
func NewSQLiteStore(ctx context.Context, path string, config *SQLiteConfig) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("queue: sqlite path is required")
	}
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_message    TEXT NOT NULL,
			status          TEXT NOT NULL,
			models          TEXT NOT NULL,
			attached_files  TEXT,
			created_at      TIMESTAMP NOT NULL,
			started_at      TIMESTAMP,
			completed_at    TIMESTAMP,
			result          TEXT,
			error           TEXT,
			tool_calls      TEXT,
			progress        TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_conversation ON tasks(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);
	`)
	return err
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *SQLiteStore) Create(ctx context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	modelsJSON, err := marshalJSON(task.Models)
	if err != nil {
		return err
	}
	filesJSON, err := marshalJSON(task.AttachedFiles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, conversation_id, user_message, status, models, attached_files, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.ConversationID, task.UserMessage, string(task.Status), modelsJSON, filesJSON, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("queue: create task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanTask(row interface {
	Scan(dest ...any) error
}) (*models.Task, error) {
	var (
		t                                    models.Task
		status                               string
		modelsJSON, filesJSON                sql.NullString
		startedAt, completedAt               sql.NullTime
		result, errMsg                       sql.NullString
		toolCallsJSON, progressJSON          sql.NullString
	)
	if err := row.Scan(&t.ID, &t.ConversationID, &t.UserMessage, &status, &modelsJSON, &filesJSON,
		&t.CreatedAt, &startedAt, &completedAt, &result, &errMsg, &toolCallsJSON, &progressJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	if modelsJSON.Valid && modelsJSON.String != "" {
		_ = json.Unmarshal([]byte(modelsJSON.String), &t.Models)
	}
	if filesJSON.Valid && filesJSON.String != "" {
		_ = json.Unmarshal([]byte(filesJSON.String), &t.AttachedFiles)
	}
	if startedAt.Valid {
		st := startedAt.Time
		t.StartedAt = &st
	}
	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}
	t.Result = result.String
	t.Error = errMsg.String
	if toolCallsJSON.Valid && toolCallsJSON.String != "" {
		_ = json.Unmarshal([]byte(toolCallsJSON.String), &t.ToolCalls)
	}
	if progressJSON.Valid && progressJSON.String != "" {
		_ = json.Unmarshal([]byte(progressJSON.String), &t.Progress)
	}
	return &t, nil
}

const taskColumns = `id, conversation_id, user_message, status, models, attached_files, created_at, started_at, completed_at, result, error, tool_calls, progress`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return s.scanTask(row)
}

func (s *SQLiteStore) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanRows(rows)
}

func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC LIMIT ?`, string(models.TaskPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanRows(rows)
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(models.TaskPending), string(models.TaskProcessing))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanRows(rows)
}

func (s *SQLiteStore) scanRows(rows *sql.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Claim is the atomic compare-and-set at the heart of the queue: exactly one
// concurrent caller observes affected rows == 1 for a given id.
func (s *SQLiteStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`, string(models.TaskProcessing), time.Now(), id, string(models.TaskPending))
	if err != nil {
		return false, fmt.Errorf("queue: claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, result, errMsg string, toolCalls []models.ToolCall) error {
	toolCallsJSON, err := marshalJSON(toolCalls)
	if err != nil {
		return err
	}
	var completedAt any
	if status.IsTerminal() {
		completedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, error = ?, tool_calls = ?,
			completed_at = COALESCE(completed_at, ?)
		WHERE id = ?
	`, string(status), result, errMsg, toolCallsJSON, completedAt, id)
	if err != nil {
		return fmt.Errorf("queue: update status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendProgress(ctx context.Context, id string, message string, step models.ProgressStep) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var progressJSON sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT progress FROM tasks WHERE id = ?`, id).Scan(&progressJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	var entries []models.Progress
	if progressJSON.Valid && progressJSON.String != "" {
		_ = json.Unmarshal([]byte(progressJSON.String), &entries)
	}
	entries = append(entries, models.Progress{Timestamp: time.Now(), Message: message, Step: step})
	newJSON, err := marshalJSON(entries)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET progress = ? WHERE id = ?`, newJSON, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) CancelPending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(models.TaskCancelled), time.Now(), id, string(models.TaskPending))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *SQLiteStore) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, string(models.TaskCompleted), string(models.TaskFailed), string(models.TaskCancelled), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ResetStuck(ctx context.Context, stuckAfter time.Duration) (int64, error) {
	cutoff := time.Now().Add(-stuckAfter)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error = ?, completed_at = ?
		WHERE status = ? AND (started_at IS NULL OR started_at < ?)
	`, string(models.TaskFailed), "interrupted by restart", time.Now(), string(models.TaskProcessing), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
