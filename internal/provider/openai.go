package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vantasec/redloop/pkg/models"
)

// OpenAIProvider implements Provider for the OpenAI chat completions API and
// compatible endpoints.
type OpenAIProvider struct {
	client *openai.Client
}

// OpenAIConfig configures the OpenAI backend. BaseURL supports
// OpenAI-compatible local inference servers.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// NewOpenAIProvider builds an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg)}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) CharsPerToken(model string) float64 { return RatioFor(model) }

// SupportsReasoningCarryover is false: reasoning content from o-series
// models is not accepted back as input.
func (p *OpenAIProvider) SupportsReasoningCarryover() bool { return false }

// Complete runs one chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature >= 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}
	choice := resp.Choices[0]

	out := models.Message{Role: models.RoleAssistant}
	if choice.Message.Content != "" {
		out.Blocks = append(out.Blocks, models.ContentBlock{
			Type: models.BlockText,
			Text: choice.Message.Content,
		})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Blocks = append(out.Blocks, models.ContentBlock{
			Type: models.BlockToolCall,
			ToolCall: &models.ToolCall{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: json.RawMessage(tc.Function.Arguments),
			},
		})
	}

	cached := 0
	if resp.Usage.PromptTokensDetails != nil {
		cached = resp.Usage.PromptTokensDetails.CachedTokens
	}

	return &Response{
		Message:    out,
		StopReason: string(choice.FinishReason),
		Usage: models.Telemetry{
			InputTokens: resp.Usage.PromptTokens,
			CacheHit:    cached > 0,
			Observed:    true,
		},
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// convertOpenAIMessages flattens conversation messages into the chat
// completions format. Tool results become role "tool" messages, one per
// result.
func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			continue

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, tc := range msg.ToolCalls() {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)

		default:
			for _, block := range msg.Blocks {
				if block.Type != models.BlockToolResult || block.ToolResult == nil {
					continue
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.ToolResult.Text(),
					ToolCallID: block.ToolResult.ToolCallID,
				})
			}
			if text := msg.Text(); text != "" {
				result = append(result, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				})
			}
		}
	}
	return result
}

func convertOpenAITools(tools []ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
