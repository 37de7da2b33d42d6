// Package budget keeps conversation history inside the model's input-token
// window. Estimation is character based with provider ratios; live
// telemetry from completed requests sharpens the estimate, and the larger
// of the two signals decides.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/vantasec/redloop/internal/provider"
	"github.com/vantasec/redloop/pkg/models"
)

// ErrOverflow reports that no reduction strategy brought the conversation
// under budget. The caller may still submit the oversized conversation;
// the provider-side overflow then ends the step.
var ErrOverflow = errors.New("budget: conversation exceeds token limit after all reductions")

// Summarizer condenses dropped history into a single replacement text.
// Usually backed by a model call.
type Summarizer func(ctx context.Context, dropped []*models.Message) (string, error)

// Config controls the reduction behavior.
type Config struct {
	// SafetyMargin is the fraction of the token limit that triggers
	// reduction.
	SafetyMargin float64

	// CacheRelax is added to the margin when the last request hit the
	// provider prompt cache. 0 disables relaxation.
	CacheRelax float64

	// PreserveRecent is the number of trailing messages that reductions
	// never drop. Minimum 1.
	PreserveRecent int

	// ReasoningCarryover reports whether the active backend accepts
	// reasoning blocks in subsequent turns. When false they are excluded
	// from estimates and stripped before requests.
	ReasoningCarryover bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SafetyMargin:   0.8,
		CacheRelax:     0,
		PreserveRecent: 1,
	}
}

func (c Config) normalized() Config {
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		c.SafetyMargin = 0.8
	}
	if c.CacheRelax < 0 {
		c.CacheRelax = 0
	}
	if c.PreserveRecent < 1 {
		c.PreserveRecent = 1
	}
	return c
}

// Controller enforces the budget on conversations. Safe for concurrent use
// across sessions: all state lives in the conversation passed in.
type Controller struct {
	cfg       Config
	ratioFor  func(model string) float64
	summarize Summarizer
	logger    *slog.Logger

	// OnReduction, when set, observes reduction attempts (used for
	// metrics). Labels: strategy, outcome.
	OnReduction func(strategy, outcome string)
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSummarizer installs the summarization fallback.
func WithSummarizer(s Summarizer) Option {
	return func(c *Controller) { c.summarize = s }
}

// WithRatioLookup replaces the chars-per-token lookup.
func WithRatioLookup(fn func(model string) float64) Option {
	return func(c *Controller) { c.ratioFor = fn }
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// NewController creates a Controller.
func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg.normalized(),
		ratioFor: provider.RatioFor,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EstimateTokens estimates the prompt size of conv by character count
// divided by the model's chars-per-token ratio. Reasoning blocks count
// only when the backend carries them across turns.
func (c *Controller) EstimateTokens(conv *models.Conversation) int {
	ratio := c.ratioFor(conv.Model)
	if ratio <= 0 {
		ratio = 1
	}
	chars := conv.Chars(c.cfg.ReasoningCarryover)
	return int(math.Ceil(float64(chars) / ratio))
}

// effectiveTokens sizes conv from the stronger of the two signals. Observed
// telemetry is authoritative for the last measured request but one turn
// stale — it excludes the assistant message and tool results appended
// since — so the static estimate wins when it is larger.
func (c *Controller) effectiveTokens(conv *models.Conversation) int {
	estimate := c.EstimateTokens(conv)
	if conv.Telemetry.Observed && conv.Telemetry.InputTokens > estimate {
		return conv.Telemetry.InputTokens
	}
	return estimate
}

// threshold computes the reduction trigger for conv.
func (c *Controller) threshold(conv *models.Conversation) int {
	margin := c.cfg.SafetyMargin
	if conv.Telemetry.Observed && conv.Telemetry.CacheHit {
		margin += c.cfg.CacheRelax
	}
	if margin > 1 {
		margin = 1
	}
	return int(float64(conv.TokenLimit) * margin)
}

// EnsureWithinBudget reduces conv when its effective token count exceeds
// the trigger threshold. Strategies run in order: sliding-window drop,
// then summarization. Returns ErrOverflow when both leave the
// conversation over budget; the conversation is left in its most reduced
// state so the caller can still submit it.
func (c *Controller) EnsureWithinBudget(ctx context.Context, conv *models.Conversation) error {
	if conv.TokenLimit <= 0 {
		return nil
	}
	threshold := c.threshold(conv)
	tokens := c.effectiveTokens(conv)
	if tokens <= threshold {
		return nil
	}

	c.logger.Info("conversation over budget, reducing",
		"tokens", tokens,
		"threshold", threshold,
		"messages", len(conv.Messages))

	if c.slidingWindowDrop(conv, threshold) {
		c.reduced("sliding_window", "ok")
		return nil
	}
	c.reduced("sliding_window", "overflow")

	if err := c.summarizeHistory(ctx, conv); err != nil {
		c.reduced("summarize", "overflow")
		c.logger.Warn("summarization fallback failed", "error", err)
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	if c.EstimateTokens(conv) > threshold {
		c.reduced("summarize", "overflow")
		return ErrOverflow
	}
	c.reduced("summarize", "ok")
	return nil
}

// slidingWindowDrop finds the smallest prefix of oldest messages whose
// removal brings the static estimate under the threshold, keeping the
// PreserveRecent tail. The drop commits only when the target is reachable;
// on failure the history is left intact for the summarization fallback.
// A commit invalidates telemetry because the history no longer matches the
// measured request.
func (c *Controller) slidingWindowDrop(conv *models.Conversation, threshold int) bool {
	trial := *conv
	for cut := 1; len(conv.Messages)-cut >= c.cfg.PreserveRecent; cut++ {
		trial.Messages = conv.Messages[cut:]
		if c.EstimateTokens(&trial) <= threshold {
			conv.Messages = trial.Messages
			conv.Telemetry = models.Telemetry{}
			return true
		}
	}
	return false
}

// summarizeHistory replaces everything but the most recent message with a
// single summary message. Unlike the sliding window it keeps a minimal
// tail, so it can recover conversations whose PreserveRecent tail alone is
// over budget.
func (c *Controller) summarizeHistory(ctx context.Context, conv *models.Conversation) error {
	if c.summarize == nil {
		return errors.New("no summarizer configured")
	}
	if len(conv.Messages) < 2 {
		return errors.New("nothing left to summarize")
	}

	cut := len(conv.Messages) - 1
	dropped := conv.Messages[:cut]

	summary, err := c.summarize(ctx, dropped)
	if err != nil {
		return err
	}

	tail := conv.Messages[cut:]
	summaryMsg := models.NewTextMessage(models.RoleUser,
		"[Conversation history condensed]\n"+strings.TrimSpace(summary))
	conv.Messages = append([]*models.Message{summaryMsg}, tail...)
	conv.Telemetry = models.Telemetry{}
	return nil
}

// StripReasoning empties reasoning block text in place. Called before each
// request when the backend does not carry reasoning across turns.
func StripReasoning(conv *models.Conversation) {
	for _, msg := range conv.Messages {
		for i := range msg.Blocks {
			if msg.Blocks[i].Type == models.BlockReasoning {
				msg.Blocks[i].Text = ""
			}
		}
	}
}

func (c *Controller) reduced(strategy, outcome string) {
	if c.OnReduction != nil {
		c.OnReduction(strategy, outcome)
	}
}
