package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vantasec/redloop/pkg/models"
)

// AnthropicProvider implements Provider for Anthropic's Messages API.
//
// Safe for concurrent use; each Complete call is an independent request.
type AnthropicProvider struct {
	client anthropic.Client
}

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// NewAnthropicProvider builds an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) CharsPerToken(model string) float64 { return RatioFor(model) }

// SupportsReasoningCarryover is false: thinking blocks are not replayed into
// subsequent requests, so the session strips them before each call.
func (p *AnthropicProvider) SupportsReasoningCarryover() bool { return false }

// Complete runs one non-streaming Messages request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	out := models.Message{Role: models.RoleAssistant}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Blocks = append(out.Blocks, models.ContentBlock{
				Type: models.BlockText,
				Text: variant.Text,
			})
		case anthropic.ThinkingBlock:
			out.Blocks = append(out.Blocks, models.ContentBlock{
				Type: models.BlockReasoning,
				Text: variant.Thinking,
			})
		case anthropic.ToolUseBlock:
			out.Blocks = append(out.Blocks, models.ContentBlock{
				Type: models.BlockToolCall,
				ToolCall: &models.ToolCall{
					ID:    variant.ID,
					Name:  variant.Name,
					Input: json.RawMessage(variant.Input),
				},
			})
		}
	}

	return &Response{
		Message:    out,
		StopReason: string(msg.StopReason),
		Usage: models.Telemetry{
			InputTokens: int(msg.Usage.InputTokens + msg.Usage.CacheReadInputTokens),
			CacheHit:    msg.Usage.CacheReadInputTokens > 0,
			Observed:    true,
		},
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// convertAnthropicMessages maps conversation messages to the Messages API
// format. System messages are handled separately via params.System; tool
// results become user-role messages.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Blocks {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case models.BlockReasoning:
				// Reasoning blocks are never replayed to the API.
			case models.BlockToolCall:
				if block.ToolCall == nil {
					continue
				}
				var input map[string]any
				if err := json.Unmarshal(block.ToolCall.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", block.ToolCall.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(
					block.ToolCall.ID,
					input,
					block.ToolCall.Name,
				))
			case models.BlockToolResult:
				if block.ToolResult == nil {
					continue
				}
				content = append(content, anthropic.NewToolResultBlock(
					block.ToolResult.ToolCallID,
					block.ToolResult.Text(),
					block.ToolResult.IsError(),
				))
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}
