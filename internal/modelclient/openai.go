package modelclient

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatProvider adapts any OpenAI-protocol-compatible endpoint (the
// official API, a self-hosted gateway, or an aggregator) to the Provider
// interface. Providers configured with NativeTools=false route through
// ParseEmbeddedToolCalls instead of the API's tool-calling fields — this is
// where the text-embedded tool-call contract applies.
type OpenAICompatProvider struct {
	client *openai.Client
	name   string
}

// NewOpenAIProvider builds a provider against the official OpenAI API.
func NewOpenAIProvider(apiKey string) *OpenAICompatProvider {
	return &OpenAICompatProvider{client: openai.NewClient(apiKey), name: "openai"}
}

// NewOpenAICompatProvider builds a provider against an arbitrary
// OpenAI-protocol base URL (e.g. a local inference server or the Venice
// aggregator), under a caller-supplied name for logging/metrics.
func NewOpenAICompatProvider(name, apiKey, baseURL string) *OpenAICompatProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAICompatProvider{client: openai.NewClientWithConfig(cfg), name: name}
}

func (p *OpenAICompatProvider) Name() string { return p.name }

func (p *OpenAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
		case RoleTool:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}
	if req.NativeTools {
		for _, t := range req.Tools {
			apiReq.Tools = append(apiReq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrTransport
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmpty
	}
	choice := resp.Choices[0].Message

	out := &ChatResponse{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: []byte(tc.Function.Arguments),
		})
	}
	out.Usage = Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

func (p *OpenAICompatProvider) Health(ctx context.Context) bool {
	_, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     openai.GPT4oMini,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err == nil
}
