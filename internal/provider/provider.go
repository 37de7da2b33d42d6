// Package provider implements model backend integrations for the orchestrator.
//
// Providers are non-streaming: each Complete call runs one request and
// returns the full assistant turn with observed token usage, which the
// budget controller consumes as telemetry.
package provider

import (
	"context"
	"encoding/json"

	"github.com/vantasec/redloop/pkg/models"
)

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string

	// Schema is the JSON Schema for the tool's input.
	Schema json.RawMessage
}

// Request is a single completion request.
type Request struct {
	Model  string
	System string

	Messages []models.Message
	Tools    []ToolSpec

	MaxTokens int

	// Temperature below zero requests the provider default.
	Temperature float64
}

// Response is the full assistant turn.
type Response struct {
	// Message carries the assistant blocks: text, reasoning, tool calls.
	Message models.Message

	// StopReason is the provider-reported stop reason ("end_turn",
	// "tool_use", "max_tokens", ...).
	StopReason string

	// Usage is observed token telemetry for the request that produced
	// this response.
	Usage models.Telemetry

	OutputTokens int
}

// Provider is a model backend.
type Provider interface {
	// Name identifies the backend ("anthropic", "openai").
	Name() string

	// Complete runs one request to completion.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// CharsPerToken returns the chars-per-token ratio used for
	// estimation before any observed telemetry exists.
	CharsPerToken(model string) float64

	// SupportsReasoningCarryover reports whether reasoning blocks from
	// prior assistant turns may be sent back to the backend. When false
	// the session strips them before each request.
	SupportsReasoningCarryover() bool
}

// conservativeCharsPerToken is the estimation fallback for unknown models.
// Deliberately low so estimates overshoot and reductions trigger early.
const conservativeCharsPerToken = 3.0

// modelRatios holds measured chars-per-token ratios by model family prefix.
var modelRatios = []struct {
	prefix string
	ratio  float64
}{
	{"claude-", 3.4},
	{"gpt-4", 3.8},
	{"gpt-3.5", 3.8},
	{"o1", 3.8},
	{"o3", 3.8},
}

// RatioFor returns the chars-per-token ratio for model, falling back to the
// conservative default when no family matches.
func RatioFor(model string) float64 {
	for _, entry := range modelRatios {
		if len(model) >= len(entry.prefix) && model[:len(entry.prefix)] == entry.prefix {
			return entry.ratio
		}
	}
	return conservativeCharsPerToken
}
