// Package config defines the orchestrator configuration surface: YAML files
// with environment variable expansion plus REDLOOP_* overrides.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Operation OperationConfig `yaml:"operation"`
	LLM       LLMConfig       `yaml:"llm"`
	Budget    BudgetConfig    `yaml:"budget"`
	Tools     ToolsConfig     `yaml:"tools"`
	Events    EventsConfig    `yaml:"events"`
	HITL      HITLConfig      `yaml:"hitl"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Memory    MemoryConfig    `yaml:"memory"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// OperationConfig scopes a single assessment run.
type OperationConfig struct {
	// ID identifies the operation. Generated when empty.
	ID string `yaml:"id"`

	// Target is the assessment target (hostname, URL, or CIDR label).
	Target string `yaml:"target"`

	// User attributes findings and overlay state in the memory store.
	User string `yaml:"user"`

	// Objective is the free-form engagement objective injected into the
	// system prompt.
	Objective string `yaml:"objective"`

	// MaxSteps bounds the run; 0 means unlimited.
	MaxSteps int `yaml:"max_steps"`

	// MaxDuration bounds wall-clock time; 0 means unlimited.
	MaxDuration time.Duration `yaml:"max_duration"`

	// WorkDir is the root for artifacts, overlays, and control files.
	WorkDir string `yaml:"work_dir"`
}

// LLMConfig selects and configures the model backend.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`

	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`

	// Temperature of 0 is passed through; use a pointerless sentinel of
	// -1 to request provider default.
	Temperature float64 `yaml:"temperature"`

	Timeout time.Duration `yaml:"timeout"`
}

// BudgetConfig controls conversation token budgeting.
type BudgetConfig struct {
	// TokenLimit is the context window size for the model. 0 disables
	// budget management.
	TokenLimit int `yaml:"token_limit"`

	// SafetyMargin is the fraction of the limit that triggers reduction.
	SafetyMargin float64 `yaml:"safety_margin"`

	// CacheRelax is added to the margin when the previous request hit
	// the provider prompt cache.
	CacheRelax float64 `yaml:"cache_relax"`

	// PreserveRecent is the number of most recent messages never dropped
	// by the sliding window.
	PreserveRecent int `yaml:"preserve_recent"`
}

// ToolsConfig controls tool routing and output externalization.
type ToolsConfig struct {
	// MaxResultChars caps a tool result before truncation applies.
	MaxResultChars int `yaml:"max_result_chars"`

	// ArtifactThresholdChars is the size at which full output is spilled
	// to an artifact file.
	ArtifactThresholdChars int `yaml:"artifact_threshold_chars"`

	// InlineHeadChars is how much of an externalized output stays inline.
	InlineHeadChars int `yaml:"inline_head_chars"`

	// ExecTimeout bounds a single fallback command execution.
	ExecTimeout time.Duration `yaml:"exec_timeout"`

	// AllowFallback enables synthesizing shell commands for tool names
	// with no registered handler.
	AllowFallback *bool `yaml:"allow_fallback"`
}

// EventsConfig controls lifecycle event emission.
type EventsConfig struct {
	// BatchInterval is how long non-critical events may buffer before a
	// flush. 0 disables batching.
	BatchInterval time.Duration `yaml:"batch_interval"`

	// BatchSize flushes the buffer when reached regardless of interval.
	BatchSize int `yaml:"batch_size"`
}

// HITLConfig controls human-in-the-loop pausing.
type HITLConfig struct {
	// Enabled turns the feedback state machine on.
	Enabled bool `yaml:"enabled"`

	// AutoPauseDestructive pauses before tools matching destructive
	// command patterns.
	AutoPauseDestructive bool `yaml:"auto_pause_destructive"`

	// ConfidenceThreshold pauses when the model reports tool confidence
	// below this value. 0 disables the check.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// FeedbackTimeout bounds how long a step blocks waiting for an
	// operator. 0 means wait forever.
	FeedbackTimeout time.Duration `yaml:"feedback_timeout"`
}

// OverlayConfig controls adaptive prompt overlays.
type OverlayConfig struct {
	// CooldownSteps is the minimum number of steps between overlay
	// mutations.
	CooldownSteps int `yaml:"cooldown_steps"`

	// DefaultTTLSteps is the expiry applied to overlays that do not
	// specify one. 0 means no expiry.
	DefaultTTLSteps int `yaml:"default_ttl_steps"`

	// RebuildInterval triggers automatic optimization from the memory
	// store every N steps. 0 disables auto-optimization.
	RebuildInterval int `yaml:"rebuild_interval"`
}

// MemoryConfig configures the finding/tactic store.
type MemoryConfig struct {
	// Path is the SQLite database file. ":memory:" keeps it in-process.
	Path string `yaml:"path"`

	// EmbeddingModel enables semantic search over stored records when set.
	// Empty keeps the store on substring matching.
	EmbeddingModel string `yaml:"embedding_model"`

	// EmbeddingBaseURL points the embeddings client at an OpenAI-compatible
	// server. Empty uses the public API.
	EmbeddingBaseURL string `yaml:"embedding_base_url"`
}

// LoggingConfig mirrors observability.LogConfig in YAML form.
type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	allowFallback := true
	return &Config{
		Operation: OperationConfig{
			User:    "operator",
			WorkDir: "./redloop",
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Temperature: -1,
			Timeout:     120 * time.Second,
		},
		Budget: BudgetConfig{
			TokenLimit:     200000,
			SafetyMargin:   0.8,
			CacheRelax:     0,
			PreserveRecent: 4,
		},
		Tools: ToolsConfig{
			MaxResultChars:         10000,
			ArtifactThresholdChars: 10000,
			InlineHeadChars:        4000,
			ExecTimeout:            5 * time.Minute,
			AllowFallback:          &allowFallback,
		},
		Events: EventsConfig{
			BatchInterval: 0,
			BatchSize:     16,
		},
		HITL: HITLConfig{
			Enabled:              true,
			AutoPauseDestructive: true,
			ConfidenceThreshold:  0,
			FeedbackTimeout:      0,
		},
		Overlay: OverlayConfig{
			CooldownSteps:   3,
			DefaultTTLSteps: 0,
			RebuildInterval: 0,
		},
		Memory: MemoryConfig{
			Path: ":memory:",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Budget.SafetyMargin <= 0 || c.Budget.SafetyMargin > 1 {
		return fmt.Errorf("budget.safety_margin must be in (0, 1], got %v", c.Budget.SafetyMargin)
	}
	if c.Budget.CacheRelax < 0 || c.Budget.SafetyMargin+c.Budget.CacheRelax > 1 {
		return fmt.Errorf("budget.cache_relax %v pushes margin past 1", c.Budget.CacheRelax)
	}
	if c.Tools.InlineHeadChars > c.Tools.MaxResultChars {
		return fmt.Errorf("tools.inline_head_chars must not exceed tools.max_result_chars")
	}
	if c.HITL.ConfidenceThreshold < 0 || c.HITL.ConfidenceThreshold > 1 {
		return fmt.Errorf("hitl.confidence_threshold must be in [0, 1]")
	}
	if c.Overlay.CooldownSteps < 0 {
		return fmt.Errorf("overlay.cooldown_steps must be non-negative")
	}
	return nil
}
