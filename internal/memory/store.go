// Package memory implements the orchestrator's external retrieval
// collaborator contract: retrieve_context/record_procedure.
// The full RAG pipeline (chunking, embeddings, vector search) is treated as
// an out-of-scope external system per the specification; this package gives
// that collaborator contract a concrete, swappable keyword-matching
// implementation so the orchestrator is exercisable end to end.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zeusagent/zeus/internal/infra"
)

// Store persists recorded tool procedures and retrieves relevant ones for
// a query by keyword match: up to five of the most recent procedures whose
// summary contains any query term longer than two characters, unranked.
type Store struct {
	db    *sql.DB
	cache *infra.TTLCache[string, string]
}

// New opens (and migrates) the procedure memory database at path.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: ping database: %w", err)
	}
	s := &Store{
		db: db,
		cache: infra.NewTTLCache[string, string](infra.CacheConfig{
			DefaultTTL: 30 * time.Second,
			MaxSize:    512,
		}),
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS procedures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.cache.Stop()
	return s.db.Close()
}

// RecordProcedure implements orchestrator.RetrievalStore.
func (s *Store) RecordProcedure(ctx context.Context, conversationID, toolName, summary string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO procedures (conversation_id, tool_name, summary, created_at) VALUES (?, ?, ?, ?)
	`, conversationID, toolName, summary, time.Now())
	if err == nil {
		s.cache.Clear() // a new procedure can change any query's best match
	}
	return err
}

// RetrieveContext implements orchestrator.RetrievalStore with a keyword
// overlap match against recorded procedures' summaries. Results are cached
// briefly since the same query tends to repeat across orchestrator
// iterations within one turn.
func (s *Store) RetrieveContext(ctx context.Context, query string) (string, error) {
	if cached, ok := s.cache.Get(query); ok {
		return cached, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT summary FROM procedures ORDER BY created_at DESC LIMIT 200`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	terms := strings.Fields(strings.ToLower(query))
	var best []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return "", err
		}
		lowered := strings.ToLower(summary)
		for _, term := range terms {
			if len(term) > 2 && strings.Contains(lowered, term) {
				best = append(best, summary)
				break
			}
		}
		if len(best) >= 5 {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(best) == 0 {
		s.cache.Set(query, "")
		return "", nil
	}
	result := "Relevant prior procedures:\n" + strings.Join(best, "\n")
	s.cache.Set(query, result)
	return result, nil
}
