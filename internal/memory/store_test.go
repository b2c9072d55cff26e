package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRetrieveContextEmptyWhenNothingRecorded(t *testing.T) {
	s := newTestStore(t)
	out, err := s.RetrieveContext(context.Background(), "deploy service")
	if err != nil {
		t.Fatalf("RetrieveContext() error = %v", err)
	}
	if out != "" {
		t.Fatalf("out = %q, want empty", out)
	}
}

func TestRecordAndRetrieveContextMatchesByKeyword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordProcedure(ctx, "conv-1", "shell", "restarted the nginx service after config edit"); err != nil {
		t.Fatalf("RecordProcedure() error = %v", err)
	}
	if err := s.RecordProcedure(ctx, "conv-1", "shell", "unrelated procedure about database migrations"); err != nil {
		t.Fatalf("RecordProcedure() error = %v", err)
	}

	out, err := s.RetrieveContext(ctx, "how do I restart nginx")
	if err != nil {
		t.Fatalf("RetrieveContext() error = %v", err)
	}
	if !strings.Contains(out, "nginx") {
		t.Fatalf("out = %q, want it to mention the nginx procedure", out)
	}
	if strings.Contains(out, "database migrations") {
		t.Fatalf("out = %q, want unrelated procedure excluded", out)
	}
}

func TestRetrieveContextIgnoresShortTerms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.RecordProcedure(ctx, "conv-1", "shell", "ran a disk cleanup job"); err != nil {
		t.Fatalf("RecordProcedure() error = %v", err)
	}

	out, err := s.RetrieveContext(ctx, "ok so")
	if err != nil {
		t.Fatalf("RetrieveContext() error = %v", err)
	}
	if out != "" {
		t.Fatalf("out = %q, want empty for only short query terms", out)
	}
}

func TestRetrieveContextCacheInvalidatedByNewProcedure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	out, err := s.RetrieveContext(ctx, "restart nginx")
	if err != nil {
		t.Fatalf("RetrieveContext() error = %v", err)
	}
	if out != "" {
		t.Fatalf("out = %q, want empty before anything recorded", out)
	}

	if err := s.RecordProcedure(ctx, "conv-1", "shell", "restarted nginx after a config change"); err != nil {
		t.Fatalf("RecordProcedure() error = %v", err)
	}

	out, err = s.RetrieveContext(ctx, "restart nginx")
	if err != nil {
		t.Fatalf("RetrieveContext() error = %v", err)
	}
	if !strings.Contains(out, "nginx") {
		t.Fatalf("out = %q, want the newly recorded procedure to surface (cache must be invalidated on write)", out)
	}
}
