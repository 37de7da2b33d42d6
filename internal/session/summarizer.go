package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/vantasec/redloop/internal/provider"
	"github.com/vantasec/redloop/pkg/models"
)

const summarySystemPrompt = `You condense security assessment transcripts.
Summarize the conversation below, preserving discovered services, credentials, vulnerabilities, attempted approaches that failed, and the current line of work. Be terse; output only the summary.`

// ModelSummarizer implements budget.Summarizer by asking the model backend
// to condense dropped history.
type ModelSummarizer struct {
	provider  provider.Provider
	model     string
	maxTokens int
}

func NewModelSummarizer(p provider.Provider, model string, maxTokens int) *ModelSummarizer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &ModelSummarizer{provider: p, model: model, maxTokens: maxTokens}
}

func (s *ModelSummarizer) Summarize(ctx context.Context, messages []*models.Message) (string, error) {
	transcript := renderTranscript(messages)
	if transcript == "" {
		return "", nil
	}
	resp, err := s.provider.Complete(ctx, &provider.Request{
		Model:       s.model,
		System:      summarySystemPrompt,
		Messages:    []models.Message{*models.NewTextMessage(models.RoleUser, transcript)},
		MaxTokens:   s.maxTokens,
		Temperature: -1,
	})
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	return strings.TrimSpace(resp.Message.Text()), nil
}

func renderTranscript(messages []*models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m == nil {
			continue
		}
		for _, block := range m.Blocks {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					fmt.Fprintf(&b, "[%s] %s\n", m.Role, block.Text)
				}
			case models.BlockToolCall:
				if block.ToolCall != nil {
					fmt.Fprintf(&b, "[%s] tool %s(%s)\n", m.Role, block.ToolCall.Name, block.ToolCall.Input)
				}
			case models.BlockToolResult:
				if block.ToolResult != nil {
					fmt.Fprintf(&b, "[tool] %s\n", block.ToolResult.Text())
				}
			}
		}
	}
	return b.String()
}
