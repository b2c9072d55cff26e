package modelclient

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockProvider adapts AWS Bedrock's Anthropic-compatible Converse API to
// the Provider interface. This is the tertiary tier: reached only when both
// the primary and secondary providers have exhausted their retries, trading
// lower latency guarantees for higher availability across AWS regions.
type BedrockProvider struct {
	client *bedrockruntime.Client
	name   string
}

// NewBedrockProvider builds a provider from the ambient AWS configuration
// (environment, shared config file, or container credentials).
func NewBedrockProvider(ctx context.Context, region string) (*BedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(cfg),
		name:   "bedrock",
	}, nil
}

func (p *BedrockProvider) Name() string { return p.name }

func (p *BedrockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var system []types.SystemContentBlock
	msgs := make([]types.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
		case RoleUser:
			msgs = append(msgs, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case RoleAssistant:
			msgs = append(msgs, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case RoleTool:
			msgs = append(msgs, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
					},
				}},
			})
		}
	}

	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	out, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: msgs,
		System:   system,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(maxTokens),
		},
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrTransport
	}

	msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, ErrEmpty
	}

	resp := &ChatResponse{}
	for _, block := range msgOut.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Content += v.Value
		case *types.ContentBlockMemberToolUse:
			argsJSON, marshalErr := json.Marshal(v.Value.Input)
			if marshalErr != nil {
				continue
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        aws.ToString(v.Value.ToolUseId),
				Name:      aws.ToString(v.Value.Name),
				Arguments: argsJSON,
			})
		}
	}
	if out.Usage != nil {
		resp.Usage = Usage{InputTokens: int64(out.Usage.InputTokens), OutputTokens: int64(out.Usage.OutputTokens)}
	}
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return nil, ErrEmpty
	}
	return resp, nil
}

func (p *BedrockProvider) Health(ctx context.Context) bool {
	_, err := p.Chat(ctx, ChatRequest{
		Model:     "anthropic.claude-3-5-haiku-20241022-v1:0",
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err == nil
}
