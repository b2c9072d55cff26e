// Package modelclient implements the provider-agnostic model client (C3):
// a uniform chat-completion call across LLM backends, with a text-embedded
// tool-call parser for providers that lack native function calling.
package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Errors recognized by the agent orchestrator's tiered fallback (C4).
var (
	ErrTimeout   = errors.New("modelclient: request timed out")
	ErrEmpty     = errors.New("modelclient: provider returned no content and no tool calls")
	ErrMalformed = errors.New("modelclient: tool call arguments could not be parsed")
	ErrTransport = errors.New("modelclient: provider transport error")
)

// Role mirrors pkg/models.Role for the provider-facing message shape.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolSchema describes one callable tool in provider-agnostic form.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
}

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string     // set when Role == RoleTool
	ToolCalls  []ToolCall // set when Role == RoleAssistant and tools were invoked
}

// ToolCall is a structured tool invocation, either returned natively by the
// provider or synthesized from text-embedded JSON (see ParseEmbeddedToolCalls).
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ChatRequest is the single request shape every provider adapter accepts.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int

	// NativeTools is false for providers that cannot honor tool schemas over
	// the wire; the caller is then responsible for embedding ToolSchema text
	// into the system prompt and invoking ParseEmbeddedToolCalls on the reply.
	NativeTools bool
}

// ChatResponse is the single response shape every provider adapter returns.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Usage carries token accounting for one Chat call, when the provider's
// API reports it. Zero when a provider (or a test fake) doesn't populate it.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns the combined input and output token count.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Provider is the interface the agent orchestrator depends on. Each tier
// (primary/secondary/tertiary) is bound to one Provider instance.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Health(ctx context.Context) bool
	Name() string
}

// embeddedToolCallPattern matches a JSON object shaped like
// {"name": "tool_name", "parameters": {...}} anywhere in free text.
// It is deliberately permissive about whitespace and nesting depth up to
// two levels, which covers every tool schema this system registers.
var embeddedToolCallPattern = regexp.MustCompile(`\{\s*"name"\s*:\s*"[^"]+"\s*,\s*"parameters"\s*:\s*\{(?:[^{}]|\{[^{}]*\})*\}\s*\}`)

type rawEmbeddedCall struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// ParseEmbeddedToolCalls scans content for tool-call JSON objects matching
// known tool names, returning the synthesized calls in document order and
// the content with only the matched JSON spans removed (surrounding prose
// is preserved).
func ParseEmbeddedToolCalls(content string, knownTools map[string]bool) (string, []ToolCall) {
	matches := embeddedToolCallPattern.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return content, nil
	}

	var calls []ToolCall
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		span := content[start:end]

		var raw rawEmbeddedCall
		if err := json.Unmarshal([]byte(span), &raw); err != nil || !knownTools[raw.Name] {
			continue // not a recognized tool call; leave the text as-is
		}

		b.WriteString(content[last:start])
		last = end
		calls = append(calls, ToolCall{Name: raw.Name, Arguments: raw.Parameters})
	}
	b.WriteString(content[last:])
	return b.String(), calls
}

// SanitizeArguments recovers from the common malformed-JSON failure modes
// language models produce when emitting tool arguments: first a plain
// parse, then a string-escape-decode pass, then doubling bare control
// escapes, before finally giving up with ErrMalformed.
func SanitizeArguments(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err == nil {
		return nil
	}

	// Some providers double-encode: the arguments arrive as a JSON string
	// containing JSON. Unquote once and retry.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
	}

	// Rewrite unescaped control characters that break strict JSON parsers.
	repaired := repairControlEscapes(string(raw))
	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return ErrMalformed
}

func repairControlEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			if i == 0 || s[i-1] != '\\' {
				inString = !inString
			}
			b.WriteByte(c)
		case '\t':
			if inString {
				b.WriteString(`\t`)
			} else {
				b.WriteByte(c)
			}
		case '\n':
			if inString {
				b.WriteString(`\n`)
			} else {
				b.WriteByte(c)
			}
		case '\r':
			if inString {
				b.WriteString(`\r`)
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
