// Package router resolves tool calls emitted by the model against a registry
// of implemented tools, synthesizes fallback shell commands for everything
// else, and externalizes oversized results to the artifact store.
package router

import (
	"context"
	"encoding/json"

	"github.com/vantasec/redloop/pkg/models"
)

// Tool is an executable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string

	// Schema returns the JSON Schema for the tool's input.
	Schema() json.RawMessage

	// Execute runs the tool. Errors that represent tool failure should
	// be returned as an error-status ToolResult, not a Go error; the
	// error return is for infrastructure failure only.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

// CommandRunner executes a synthesized command line on behalf of
// unregistered tool calls.
type CommandRunner interface {
	RunCommand(ctx context.Context, command string) (*models.ToolResult, error)
}

// Hook observes tool dispatch at fixed extension points. Hooks run
// synchronously in registration order.
type Hook interface {
	// BeforeTool runs after resolution, before execution. A non-nil
	// error vetoes the call; the error text is returned to the model as
	// an error-status result.
	BeforeTool(ctx context.Context, call models.ToolCall, res Resolution) error

	// AfterTool runs after execution and may rewrite the result.
	AfterTool(ctx context.Context, call models.ToolCall, result *models.ToolResult)
}
