// Package models defines the shared data types exchanged between the
// session orchestrator, the budget controller, the tool router, and the
// model-call layer.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType identifies the kind of a message content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
	BlockReasoning  BlockType = "reasoning"
)

// ContentBlock is one ordered element of a message. Exactly one of the
// payload fields is populated, selected by Type.
type ContentBlock struct {
	Type       BlockType   `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Message is one turn of conversation. Messages are owned by the Session;
// the budget controller may drop or summarize them and the tool router may
// truncate tool-result blocks in place.
type Message struct {
	Role      Role           `json:"role"`
	Blocks    []ContentBlock `json:"blocks"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewTextMessage builds a single-block text message.
func NewTextMessage(role Role, text string) *Message {
	return &Message{
		Role:      role,
		Blocks:    []ContentBlock{{Type: BlockText, Text: text}},
		CreatedAt: time.Now(),
	}
}

// NewToolResultMessage wraps a tool result in a tool-role message.
func NewToolResultMessage(res *ToolResult) *Message {
	return &Message{
		Role:      RoleTool,
		Blocks:    []ContentBlock{{Type: BlockToolResult, ToolResult: res}},
		CreatedAt: time.Now(),
	}
}

// Text concatenates the message's text blocks.
func (m *Message) Text() string {
	out := ""
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call blocks in order.
func (m *Message) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, b := range m.Blocks {
		if b.Type == BlockToolCall && b.ToolCall != nil {
			calls = append(calls, b.ToolCall)
		}
	}
	return calls
}

// Chars counts the characters of all text-bearing blocks. Reasoning blocks
// are counted only when includeReasoning is set, matching whether the active
// backend carries reasoning content across turns.
func (m *Message) Chars(includeReasoning bool) int {
	if m == nil {
		return 0
	}
	total := 0
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			total += len(b.Text)
		case BlockReasoning:
			if includeReasoning {
				total += len(b.Text)
			}
		case BlockToolCall:
			if b.ToolCall != nil {
				total += len(b.ToolCall.Name) + len(b.ToolCall.Input)
			}
		case BlockToolResult:
			if b.ToolResult != nil {
				total += b.ToolResult.Chars()
			}
		}
	}
	return total
}

// ToolCall represents the model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ResultStatus indicates whether a tool execution succeeded.
type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// ResultBlockKind identifies the kind of a tool result content block.
type ResultBlockKind string

const (
	ResultText       ResultBlockKind = "text"
	ResultStructured ResultBlockKind = "structured"
	ResultBinary     ResultBlockKind = "binary"
)

// ResultBlock is one element of a tool result's content.
type ResultBlock struct {
	Kind       ResultBlockKind `json:"kind"`
	Text       string          `json:"text,omitempty"`
	Structured json.RawMessage `json:"structured,omitempty"`
	Binary     []byte          `json:"binary,omitempty"`
}

// ToolResult is the output of a tool execution. The router's after-hook may
// replace oversized text blocks with a truncated summary plus an artifact
// reference.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Status     ResultStatus  `json:"status"`
	Content    []ResultBlock `json:"content"`
}

// TextResult builds a single-block text result.
func TextResult(toolCallID, text string) *ToolResult {
	return &ToolResult{
		ToolCallID: toolCallID,
		Status:     StatusOK,
		Content:    []ResultBlock{{Kind: ResultText, Text: text}},
	}
}

// ErrorResult builds an error-status text result. Tool failures are reported
// as results, never as Go errors, so the session survives them.
func ErrorResult(toolCallID, text string) *ToolResult {
	return &ToolResult{
		ToolCallID: toolCallID,
		Status:     StatusError,
		Content:    []ResultBlock{{Kind: ResultText, Text: text}},
	}
}

// Text concatenates the result's text blocks.
func (r *ToolResult) Text() string {
	out := ""
	for _, b := range r.Content {
		if b.Kind == ResultText {
			out += b.Text
		}
	}
	return out
}

// Chars counts content characters across all block kinds.
func (r *ToolResult) Chars() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, b := range r.Content {
		total += len(b.Text) + len(b.Structured) + len(b.Binary)
	}
	return total
}

// IsError reports whether the result carries an error status.
func (r *ToolResult) IsError() bool {
	return r != nil && r.Status == StatusError
}

// Telemetry is the last-observed usage reported by the model backend.
// Observed distinguishes "zero tokens" from "never measured".
type Telemetry struct {
	InputTokens int  `json:"input_tokens"`
	CacheHit    bool `json:"cache_hit"`
	Observed    bool `json:"observed"`
}

// Conversation is the mutable view of a session's history that the budget
// controller and the model-call layer operate on.
type Conversation struct {
	// Model selects the backend model; the char-to-token ratio is looked up
	// from it.
	Model string `json:"model"`

	// System is the base system directive; overlays are layered on top of it
	// at request time and never stored here.
	System string `json:"system"`

	// Messages is the ordered history. Mutated only by the budget controller
	// and the router's in-place truncation.
	Messages []*Message `json:"messages"`

	// TokenLimit is the model's input-token window hint.
	TokenLimit int `json:"token_limit"`

	// Telemetry is updated after every model call.
	Telemetry Telemetry `json:"telemetry"`
}

// Append adds a message to the history.
func (c *Conversation) Append(m *Message) {
	c.Messages = append(c.Messages, m)
}

// Chars sums character counts across the system directive and all messages.
func (c *Conversation) Chars(includeReasoning bool) int {
	total := len(c.System)
	for _, m := range c.Messages {
		total += m.Chars(includeReasoning)
	}
	return total
}
