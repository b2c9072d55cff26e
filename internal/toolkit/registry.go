// Package toolkit implements the Tool Registry & Executor (C2): a
// name-keyed map of tool implementations, JSON Schema publication, and
// dispatch with a security policy gate in front of every invocation.
package toolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zeusagent/zeus/internal/modelclient"
	"github.com/zeusagent/zeus/internal/orchestrator"
)

// Tool is one named capability the agent orchestrator can invoke.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage, execCtx orchestrator.ToolExecContext) orchestrator.ToolResult
}

// Registry implements orchestrator.ToolExecutor.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	policy  *Policy
	log     *slog.Logger
}

// New builds an empty registry. Register tools before first use; Registry
// is safe for concurrent registration and dispatch.
func New(policy *Policy, log *slog.Logger) *Registry {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		policy:  policy,
		log:     log,
	}
}

// Register adds a tool, compiling its JSON Schema for argument validation.
// A tool whose schema fails to compile is still registered (validation is
// defense in depth, not the only gate) but logged.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t

	compiler := jsonschema.NewCompiler()
	resourceName := t.Name() + ".json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(t.Schema())); err != nil {
		r.log.Warn("toolkit: schema add failed", "tool", t.Name(), "err", err)
		return
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		r.log.Warn("toolkit: schema compile failed", "tool", t.Name(), "err", err)
		return
	}
	r.schemas[t.Name()] = schema
}

// Schemas implements orchestrator.ToolExecutor.
func (r *Registry) Schemas() []modelclient.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]modelclient.ToolSchema, 0, len(r.tools))
	for name, t := range r.tools {
		out = append(out, modelclient.ToolSchema{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return out
}

// KnownNames implements orchestrator.ToolExecutor.
func (r *Registry) KnownNames() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.tools))
	for name := range r.tools {
		out[name] = true
	}
	return out
}

// Invoke implements orchestrator.ToolExecutor. An unknown tool name is a
// non-fatal error surfaced to the model, not a panic.
func (r *Registry) Invoke(ctx context.Context, name string, args []byte, execCtx orchestrator.ToolExecContext) (result orchestrator.ToolResult) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return orchestrator.ToolResult{Success: false, Error: "unknown tool"}
	}

	if schema != nil {
		var decoded any
		if err := json.Unmarshal(args, &decoded); err == nil {
			if err := schema.Validate(decoded); err != nil {
				return orchestrator.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}
			}
		}
	}

	if violation := r.policy.Check(name, args); violation != "" {
		return orchestrator.ToolResult{Success: false, Error: violation}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("toolkit: tool panicked", "tool", name, "recover", rec)
			result = orchestrator.ToolResult{Success: false, Error: fmt.Sprintf("tool panicked: %v", rec)}
		}
	}()

	return tool.Execute(ctx, args, execCtx)
}
