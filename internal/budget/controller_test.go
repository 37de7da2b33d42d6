package budget

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vantasec/redloop/pkg/models"
)

// fixedRatio makes estimates deterministic: one token per character.
func fixedRatio(string) float64 { return 1.0 }

func textConversation(limit int, texts ...string) *models.Conversation {
	conv := &models.Conversation{
		Model:      "test-model",
		TokenLimit: limit,
	}
	for _, text := range texts {
		conv.Append(models.NewTextMessage(models.RoleUser, text))
	}
	return conv
}

func TestTelemetryTriggersReduction(t *testing.T) {
	// 1000-token limit with 900 observed input tokens: threshold is
	// 1000*0.8=800, so reduction must trigger.
	c := NewController(Config{SafetyMargin: 0.8, CacheRelax: 0.1, PreserveRecent: 1},
		WithRatioLookup(fixedRatio))

	conv := textConversation(1000,
		strings.Repeat("a", 300),
		strings.Repeat("b", 300),
		strings.Repeat("c", 100),
	)
	conv.Telemetry = models.Telemetry{InputTokens: 900, Observed: true}

	before := len(conv.Messages)
	if err := c.EnsureWithinBudget(context.Background(), conv); err != nil {
		t.Fatalf("EnsureWithinBudget() error = %v", err)
	}
	if len(conv.Messages) >= before {
		t.Errorf("message count = %d, want reduced below %d", len(conv.Messages), before)
	}
}

func TestCacheHitRelaxesThreshold(t *testing.T) {
	// Same telemetry with a cache hit and relax of 0.1: threshold becomes
	// 1000*0.9=900 and 900 does not exceed it.
	c := NewController(Config{SafetyMargin: 0.8, CacheRelax: 0.1, PreserveRecent: 1},
		WithRatioLookup(fixedRatio))

	conv := textConversation(1000,
		strings.Repeat("a", 300),
		strings.Repeat("b", 300),
		strings.Repeat("c", 100),
	)
	conv.Telemetry = models.Telemetry{InputTokens: 900, CacheHit: true, Observed: true}

	before := len(conv.Messages)
	if err := c.EnsureWithinBudget(context.Background(), conv); err != nil {
		t.Fatalf("EnsureWithinBudget() error = %v", err)
	}
	if len(conv.Messages) != before {
		t.Errorf("message count changed from %d to %d, want no reduction on cache hit", before, len(conv.Messages))
	}
}

func TestStaleTelemetryDoesNotMaskGrowth(t *testing.T) {
	// Telemetry of 100 tokens predates a large appended tool result: the
	// estimate (900 chars at ratio 1) must win and trigger reduction.
	c := NewController(Config{SafetyMargin: 0.8, PreserveRecent: 1},
		WithRatioLookup(fixedRatio))

	conv := textConversation(1000,
		strings.Repeat("a", 100),
		strings.Repeat("b", 800),
	)
	conv.Telemetry = models.Telemetry{InputTokens: 100, Observed: true}

	before := len(conv.Messages)
	if err := c.EnsureWithinBudget(context.Background(), conv); err != nil {
		t.Fatalf("EnsureWithinBudget() error = %v", err)
	}
	if len(conv.Messages) >= before {
		t.Errorf("message count = %d, want reduced below %d", len(conv.Messages), before)
	}
}

func TestEnsureWithinBudgetIdempotent(t *testing.T) {
	c := NewController(Config{SafetyMargin: 0.8, PreserveRecent: 1},
		WithRatioLookup(fixedRatio))

	conv := textConversation(100,
		strings.Repeat("a", 60),
		strings.Repeat("b", 60),
		strings.Repeat("c", 30),
	)
	if err := c.EnsureWithinBudget(context.Background(), conv); err != nil {
		t.Fatalf("first EnsureWithinBudget() error = %v", err)
	}
	after := len(conv.Messages)

	if err := c.EnsureWithinBudget(context.Background(), conv); err != nil {
		t.Fatalf("second EnsureWithinBudget() error = %v", err)
	}
	if len(conv.Messages) != after {
		t.Errorf("second pass changed message count from %d to %d, want no-op", after, len(conv.Messages))
	}
}

func TestSlidingWindowPreservesRecent(t *testing.T) {
	c := NewController(Config{SafetyMargin: 0.8, PreserveRecent: 2},
		WithRatioLookup(fixedRatio))

	conv := textConversation(100,
		strings.Repeat("a", 200),
		strings.Repeat("b", 200),
		"recent one",
		"recent two",
	)
	if err := c.EnsureWithinBudget(context.Background(), conv); err != nil {
		t.Fatalf("EnsureWithinBudget() error = %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("message count = %d, want the 2 preserved recent messages", len(conv.Messages))
	}
	if conv.Messages[0].Text() != "recent one" || conv.Messages[1].Text() != "recent two" {
		t.Error("sliding window dropped the wrong messages")
	}
}

func TestSummarizationFallback(t *testing.T) {
	var sawDropped int
	summarizer := func(ctx context.Context, dropped []*models.Message) (string, error) {
		sawDropped = len(dropped)
		return "recon complete", nil
	}
	c := NewController(Config{SafetyMargin: 0.8, PreserveRecent: 2},
		WithRatioLookup(fixedRatio),
		WithSummarizer(summarizer))

	// The 2-message tail alone exceeds the threshold of 80, so the
	// sliding window fails and summarization condenses the history down
	// to a summary plus the last message.
	conv := textConversation(100,
		strings.Repeat("a", 100),
		strings.Repeat("b", 100),
		strings.Repeat("c", 20),
	)
	err := c.EnsureWithinBudget(context.Background(), conv)
	if err != nil {
		t.Fatalf("EnsureWithinBudget() error = %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("message count = %d, want summary + last message", len(conv.Messages))
	}
	if sawDropped != 2 {
		t.Errorf("summarizer saw %d dropped messages, want 2", sawDropped)
	}
	if !strings.Contains(conv.Messages[0].Text(), "recon complete") {
		t.Errorf("summary message = %q, want summarizer output", conv.Messages[0].Text())
	}
	if conv.Messages[1].Text() != strings.Repeat("c", 20) {
		t.Error("summarization dropped the most recent message")
	}
}

func TestOverflowSurfacedWhenIrreducible(t *testing.T) {
	c := NewController(Config{SafetyMargin: 0.8, PreserveRecent: 1},
		WithRatioLookup(fixedRatio))

	// Single message over budget, no summarizer: overflow is surfaced.
	conv := textConversation(100, strings.Repeat("a", 500))
	err := c.EnsureWithinBudget(context.Background(), conv)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("EnsureWithinBudget() error = %v, want ErrOverflow", err)
	}
}

func TestReasoningExcludedFromEstimate(t *testing.T) {
	conv := &models.Conversation{Model: "test-model", TokenLimit: 1000}
	msg := &models.Message{
		Role: models.RoleAssistant,
		Blocks: []models.ContentBlock{
			{Type: models.BlockText, Text: strings.Repeat("t", 100)},
			{Type: models.BlockReasoning, Text: strings.Repeat("r", 900)},
		},
	}
	conv.Append(msg)

	without := NewController(Config{SafetyMargin: 0.8, PreserveRecent: 1, ReasoningCarryover: false},
		WithRatioLookup(fixedRatio))
	with := NewController(Config{SafetyMargin: 0.8, PreserveRecent: 1, ReasoningCarryover: true},
		WithRatioLookup(fixedRatio))

	if got := without.EstimateTokens(conv); got != 100 {
		t.Errorf("EstimateTokens() without carryover = %d, want 100", got)
	}
	if got := with.EstimateTokens(conv); got != 1000 {
		t.Errorf("EstimateTokens() with carryover = %d, want 1000", got)
	}
}

func TestStripReasoning(t *testing.T) {
	conv := &models.Conversation{}
	conv.Append(&models.Message{
		Role: models.RoleAssistant,
		Blocks: []models.ContentBlock{
			{Type: models.BlockText, Text: "visible"},
			{Type: models.BlockReasoning, Text: "internal chain of thought"},
		},
	})

	StripReasoning(conv)

	if conv.Messages[0].Blocks[0].Text != "visible" {
		t.Error("StripReasoning() modified a text block")
	}
	if conv.Messages[0].Blocks[1].Text != "" {
		t.Errorf("reasoning text = %q, want empty", conv.Messages[0].Blocks[1].Text)
	}
}

func TestRegistrySharedFallback(t *testing.T) {
	shared := NewController(DefaultConfig())
	dedicated := NewController(Config{SafetyMargin: 0.5, PreserveRecent: 3})
	registry := NewRegistry(shared)

	if got := registry.For("session-a"); got != shared {
		t.Error("For() on unregistered session should return the shared controller")
	}

	registry.Register("session-b", dedicated)
	if got := registry.For("session-b"); got != dedicated {
		t.Error("For() should return the dedicated controller when registered")
	}
	if got := registry.For("session-a"); got != shared {
		t.Error("dedicated registration leaked to another session")
	}

	registry.Register("session-b", nil)
	if got := registry.For("session-b"); got != shared {
		t.Error("Register(nil) should fall back to the shared controller")
	}
}
