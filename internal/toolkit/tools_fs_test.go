package toolkit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeusagent/zeus/internal/orchestrator"
)

func TestWriteThenReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	write := NewWriteFileTool(dir)
	read := NewReadFileTool(dir, 0)

	writeArgs, _ := json.Marshal(map[string]string{"path": "notes/todo.txt", "content": "buy milk"})
	writeResult := write.Execute(context.Background(), writeArgs, orchestrator.ToolExecContext{})
	if !writeResult.Success {
		t.Fatalf("write failed: %+v", writeResult)
	}

	readArgs, _ := json.Marshal(map[string]string{"path": "notes/todo.txt"})
	readResult := read.Execute(context.Background(), readArgs, orchestrator.ToolExecContext{})
	if !readResult.Success || readResult.Output != "buy milk" {
		t.Fatalf("unexpected read result: %+v", readResult)
	}
}

func TestReadFileRejectsPathEscapingRoot(t *testing.T) {
	dir := t.TempDir()
	read := NewReadFileTool(dir, 0)

	args, _ := json.Marshal(map[string]string{"path": "../../etc/passwd"})
	result := read.Execute(context.Background(), args, orchestrator.ToolExecContext{})
	if result.Success {
		t.Fatalf("expected escaping path to be rejected, got %+v", result)
	}
}

func TestReadFileTruncatesAtMaxBytes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	read := NewReadFileTool(dir, 4)

	args, _ := json.Marshal(map[string]string{"path": "big.txt"})
	result := read.Execute(context.Background(), args, orchestrator.ToolExecContext{})
	if !result.Success || result.Output != "0123" {
		t.Fatalf("unexpected truncated result: %+v", result)
	}
}

func TestWriteFileCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	write := NewWriteFileTool(dir)

	args, _ := json.Marshal(map[string]string{"path": "a/b/c/file.txt", "content": "nested"})
	result := write.Execute(context.Background(), args, orchestrator.ToolExecContext{})
	if !result.Success {
		t.Fatalf("write failed: %+v", result)
	}
	data, err := os.ReadFile(filepath.Join(dir, "a", "b", "c", "file.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "nested" {
		t.Fatalf("data = %q, want %q", string(data), "nested")
	}
}
