// Package orchestrator implements the Agent Orchestrator (C4): a
// multi-iteration model/tool loop with tiered provider fallback, heartbeat
// emission during tool execution, cancellation, and a guaranteed sandbox
// cleanup on every terminal path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zeusagent/zeus/internal/heartbeat"
	"github.com/zeusagent/zeus/internal/infra"
	"github.com/zeusagent/zeus/internal/modelclient"
	"github.com/zeusagent/zeus/pkg/models"
)

// Sandbox is the C1 contract the orchestrator needs: only release, since
// tool execution itself goes through ToolExecutor.
type Sandbox interface {
	Release(ctx context.Context, conversationID string)
}

// ToolExecutor is the C2 contract.
type ToolExecutor interface {
	Invoke(ctx context.Context, name string, args []byte, execCtx ToolExecContext) ToolResult
	Schemas() []modelclient.ToolSchema
	KnownNames() map[string]bool
}

// ToolExecContext carries the per-call metadata injected before dispatch.
type ToolExecContext struct {
	ConversationID string
	ToolCallID     string
}

// ToolResult is what C2 returns for one invocation.
type ToolResult struct {
	Success bool
	Output  string
	Error   string
}

// RetrievalStore is the external memory collaborator.
type RetrievalStore interface {
	RetrieveContext(ctx context.Context, query string) (string, error)
	RecordProcedure(ctx context.Context, conversationID, toolName, summary string) error
}

// ProgressFunc receives orchestrator narration, tagged with a models.ProgressStep.
type ProgressFunc func(message string, step models.ProgressStep)

// Tiers bundles the three fallback providers for one invocation.
type Tiers struct {
	Primary   modelclient.Provider
	Secondary modelclient.Provider
	Tertiary  modelclient.Provider

	PrimaryModel   string
	SecondaryModel string
	TertiaryModel  string

	PrimaryTimeout   time.Duration
	SecondaryTimeout time.Duration
	TertiaryTimeout  time.Duration

	// NativeTools marks a tier's provider as honoring tool schemas over the
	// wire. False tiers get schemas embedded as text.
	PrimaryNativeTools   bool
	SecondaryNativeTools bool
	TertiaryNativeTools  bool
}

func (t Tiers) tiers() []tierSpec {
	specs := []tierSpec{
		{name: "primary", provider: t.Primary, model: t.PrimaryModel, timeout: orDefault(t.PrimaryTimeout, 180*time.Second), native: t.PrimaryNativeTools},
		{name: "secondary", provider: t.Secondary, model: t.SecondaryModel, timeout: orDefault(t.SecondaryTimeout, 300*time.Second), native: t.SecondaryNativeTools},
		{name: "tertiary", provider: t.Tertiary, model: t.TertiaryModel, timeout: orDefault(t.TertiaryTimeout, 300*time.Second), native: t.TertiaryNativeTools},
	}
	out := specs[:0]
	for _, s := range specs {
		if s.provider != nil {
			out = append(out, s)
		}
	}
	return out
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

type tierSpec struct {
	name     string
	provider modelclient.Provider
	model    string
	timeout  time.Duration
	native   bool
}

// Config configures one Orchestrator instance (shared across invocations).
type Config struct {
	MaxIterations int // default 200
	Logger        *slog.Logger
}

// Orchestrator drives the per-invocation state machine.
type Orchestrator struct {
	sandbox  Sandbox
	tools    ToolExecutor
	memory   RetrievalStore
	config   Config
	log      *slog.Logger
	failover *failoverState
	usage    *infra.UsageTracker
	events   *infra.SystemEventsQueue
}

// New builds an Orchestrator. memory may be nil when no retrieval store is
// configured; sandbox must not be nil (cleanup is mandatory).
func New(sandbox Sandbox, tools ToolExecutor, memory RetrievalStore, config Config) *Orchestrator {
	if config.MaxIterations <= 0 {
		config.MaxIterations = 200
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		sandbox:  sandbox,
		tools:    tools,
		memory:   memory,
		config:   config,
		log:      log,
		failover: newFailoverState(),
		usage:    infra.NewUsageTracker(),
		events:   infra.NewSystemEventsQueue(),
	}
}

// Usage returns a snapshot of per-tier request/token accounting since this
// Orchestrator was constructed, suitable for a diagnostics endpoint.
func (o *Orchestrator) Usage() *infra.UsageSummary {
	return o.usage.Summary()
}

// Request is one invocation of the orchestrator against a conversation.
type Request struct {
	ConversationID    string
	Messages          []modelclient.Message // full conversation history, mutated in place by the caller after Run returns
	Tiers             Tiers
	RequireFinishTool bool // forces explicit finish_task instead of implicit "no tool calls = done"
	Progress          ProgressFunc
}

// Result is the terminal outcome of one Run.
type Result struct {
	Content    string
	ToolCalls  []modelclient.ToolCall
	Messages   []modelclient.Message // appended assistant/tool messages, in order
	Cancelled  bool
	TierUsed   string
	Iterations int
	Err        error
}

const finishTaskTool = "finish_task"

// Run executes the model/tool loop until a terminal state is reached. The
// sandbox session for ConversationID is released on every exit path.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	defer o.sandbox.Release(context.WithoutCancel(ctx), req.ConversationID)

	progress := req.Progress
	if progress == nil {
		progress = func(string, models.ProgressStep) {}
	}

	messages := append([]modelclient.Message(nil), req.Messages...)
	if pending := o.events.DrainText(req.ConversationID); len(pending) > 0 {
		messages = prependSystemContext(messages, "recent system events:\n- "+joinLines(pending))
	}
	if o.memory != nil && len(messages) > 0 {
		if userQuery := lastUserContent(messages); userQuery != "" {
			if ctxText, err := o.memory.RetrieveContext(ctx, userQuery); err == nil && ctxText != "" {
				messages = prependSystemContext(messages, ctxText)
			}
		}
	}

	var appended []modelclient.Message
	var successfulCalls []modelclient.ToolCall

	for iter := 1; iter <= o.config.MaxIterations; iter++ {
		if ctx.Err() != nil {
			return Result{Cancelled: true, Messages: appended, Iterations: iter}
		}

		progress(fmt.Sprintf("iteration %d", iter), models.ProgressInfo)

		resp, tierName, err := o.callWithFallback(ctx, req.ConversationID, req.Tiers, messages, req.RequireFinishTool, progress)
		if err != nil {
			return Result{
				Err:        fmt.Errorf("all model tiers exhausted: %w", err),
				Messages:   appended,
				Iterations: iter,
			}
		}

		if len(resp.ToolCalls) == 0 {
			if !req.RequireFinishTool {
				return Result{Content: resp.Content, Messages: appended, TierUsed: tierName, Iterations: iter}
			}
			nudge := modelclient.Message{Role: modelclient.RoleTool, Content: "you must call finish_task to end the turn"}
			messages = append(messages, nudge)
			appended = append(appended, nudge)
			continue
		}

		assistantMsg := modelclient.Message{Role: modelclient.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)
		appended = append(appended, assistantMsg)

		var finished bool
		var finishContent string
		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return Result{Cancelled: true, Messages: appended, Iterations: iter}
			}

			if call.Name == finishTaskTool {
				finished = true
				finishContent = extractFinishMessage(call.Arguments)
				toolMsg := modelclient.Message{Role: modelclient.RoleTool, ToolCallID: call.ID, Content: "task completed"}
				messages = append(messages, toolMsg)
				appended = append(appended, toolMsg)
				continue
			}

			result := o.dispatchTool(ctx, req.ConversationID, call, progress)
			toolMsg := modelclient.Message{Role: modelclient.RoleTool, ToolCallID: call.ID, Content: formatToolMessage(result)}
			messages = append(messages, toolMsg)
			appended = append(appended, toolMsg)

			if result.Success {
				successfulCalls = append(successfulCalls, call)
				if o.memory != nil {
					_ = o.memory.RecordProcedure(ctx, req.ConversationID, call.Name, summarizeForMemory(call, result))
				}
			}
		}

		if finished {
			return Result{
				Content:    finishContent,
				ToolCalls:  successfulCalls,
				Messages:   appended,
				TierUsed:   tierName,
				Iterations: iter,
			}
		}
	}

	return Result{
		Err:        errors.New("iteration cap reached"),
		ToolCalls:  successfulCalls,
		Messages:   appended,
		Iterations: o.config.MaxIterations,
	}
}

// dispatchTool runs one tool call with a 15s heartbeat narrating liveness.
func (o *Orchestrator) dispatchTool(ctx context.Context, conversationID string, call modelclient.ToolCall, progress ProgressFunc) ToolResult {
	progress(fmt.Sprintf("running %s", call.Name), models.ProgressToolStart)

	hb := heartbeat.NewRunner(&heartbeat.HeartbeatConfig{IntervalMs: 15000}, nil, func(ev *heartbeat.HeartbeatEvent) {
		if ev.Type == "tick" {
			progress(fmt.Sprintf("%s still running...", call.Name), models.ProgressInfo)
		}
	})
	hb.Start(ctx, uuid.New().String(), conversationID)
	defer hb.Stop()

	result := o.tools.Invoke(ctx, call.Name, call.Arguments, ToolExecContext{
		ConversationID: conversationID,
		ToolCallID:     call.ID,
	})

	progress(fmt.Sprintf("%s finished", call.Name), models.ProgressToolEnd)
	return result
}

func formatToolMessage(r ToolResult) string {
	if r.Success {
		return r.Output
	}
	return "Erro: " + r.Error
}

func lastUserContent(messages []modelclient.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == modelclient.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func joinLines(lines []string) string {
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n- " + l
	}
	return out
}

func prependSystemContext(messages []modelclient.Message, ctxText string) []modelclient.Message {
	sysMsg := modelclient.Message{Role: modelclient.RoleSystem, Content: ctxText}
	out := make([]modelclient.Message, 0, len(messages)+1)
	out = append(out, sysMsg)
	out = append(out, messages...)
	return out
}

func summarizeForMemory(call modelclient.ToolCall, result ToolResult) string {
	out := infra.TruncateUTF16Safe(result.Output, 500)
	return fmt.Sprintf("%s -> %s", call.Name, out)
}

func extractFinishMessage(args []byte) string {
	var payload struct {
		Message string `json:"message"`
		Summary string `json:"summary"`
	}
	if err := modelclient.SanitizeArguments(args, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Summary
}
