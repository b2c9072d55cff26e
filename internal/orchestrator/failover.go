package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeusagent/zeus/internal/infra"
	"github.com/zeusagent/zeus/internal/modelclient"
	"github.com/zeusagent/zeus/pkg/models"
)

// tierRetryConfig governs the single-retry-per-tier behavior on a
// transient error before the call cascades to the next tier.
var tierRetryConfig = &infra.RetryConfig{
	MaxAttempts:    1,
	InitialDelay:   time.Second,
	MaxDelay:       time.Second,
	Strategy:       infra.BackoffConstant,
	JitterFraction: 0.1,
	RetryIf:        isRetryable,
}

// failoverState wraps a per-tier-name circuit breaker registry so a tier
// that is currently down is skipped without a network round trip until
// its breaker timeout elapses.
type failoverState struct {
	breakers *infra.CircuitBreakerRegistry
}

func newFailoverState() *failoverState {
	return &failoverState{
		breakers: infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}),
	}
}

// callWithFallback implements the tiered fallback: one retry per tier
// on Timeout/Empty/Malformed/Transport before cascading to the next tier.
func (o *Orchestrator) callWithFallback(ctx context.Context, conversationID string, tiers Tiers, messages []modelclient.Message, requireFinish bool, progress ProgressFunc) (*modelclient.ChatResponse, string, error) {
	specs := tiers.tiers()
	if len(specs) == 0 {
		return nil, "", errors.New("no model tiers configured")
	}

	var lastErr error
	for _, spec := range specs {
		breaker := o.failover.breakers.Get(spec.name)

		resp, err := infra.ExecuteWithResult(breaker, ctx, func(ctx context.Context) (*modelclient.ChatResponse, error) {
			return o.callTierWithRetry(ctx, spec, messages, requireFinish)
		})
		if err == nil {
			o.usage.RecordRequest(spec.name, resp.Usage.Total())
			return resp, spec.name, nil
		}

		lastErr = err
		if errors.Is(err, infra.ErrCircuitOpen) {
			continue // breaker still cooling down, try the next tier silently
		}
		msg := fmt.Sprintf("error on %s (%v), trying next tier", spec.name, err)
		progress(msg, models.ProgressError)
		o.events.Enqueue(conversationID, msg)
	}

	if lastErr == nil {
		lastErr = errors.New("no available tiers")
	}
	return nil, "", lastErr
}

func (o *Orchestrator) callTierWithRetry(ctx context.Context, spec tierSpec, messages []modelclient.Message, requireFinish bool) (*modelclient.ChatResponse, error) {
	req := modelclient.ChatRequest{
		Model:       spec.model,
		Messages:    messages,
		Tools:       o.tools.Schemas(),
		MaxTokens:   4096,
		NativeTools: spec.native,
	}
	if !spec.native {
		req = embedToolSchemas(req)
	}

	resp, result := infra.Retry(ctx, tierRetryConfig, func(ctx context.Context) (*modelclient.ChatResponse, error) {
		tctx, cancel := context.WithTimeout(ctx, spec.timeout)
		defer cancel()
		resp, err := spec.provider.Chat(tctx, req)
		if err != nil {
			return nil, err
		}
		if !spec.native {
			stripped, calls := modelclient.ParseEmbeddedToolCalls(resp.Content, o.tools.KnownNames())
			resp.Content = stripped
			resp.ToolCalls = append(resp.ToolCalls, calls...)
		}
		return resp, nil
	})
	if result.LastError != nil {
		return nil, result.LastError
	}
	return resp, nil
}

func isRetryable(err error) bool {
	return errors.Is(err, modelclient.ErrTimeout) ||
		errors.Is(err, modelclient.ErrEmpty) ||
		errors.Is(err, modelclient.ErrMalformed) ||
		errors.Is(err, modelclient.ErrTransport)
}

// embedToolSchemas appends a textual tool-schema block to the system
// message for providers that do not honor native tool-calling fields.
func embedToolSchemas(req modelclient.ChatRequest) modelclient.ChatRequest {
	if len(req.Tools) == 0 {
		return req
	}
	block := "You have access to the following tools. To use one, reply with a JSON object " +
		`{"name": "<tool>", "parameters": {...}} embedded in the text.` + "\n\n"
	for _, t := range req.Tools {
		block += fmt.Sprintf("- %s: %s\n", t.Name, t.Description)
	}

	out := make([]modelclient.Message, len(req.Messages))
	copy(out, req.Messages)
	injected := false
	for i, m := range out {
		if m.Role == modelclient.RoleSystem {
			out[i].Content = m.Content + "\n\n" + block
			injected = true
			break
		}
	}
	if !injected {
		out = append([]modelclient.Message{{Role: modelclient.RoleSystem, Content: block}}, out...)
	}
	req.Messages = out
	req.Tools = nil
	return req
}
