package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vantasec/redloop/pkg/models"
)

// Resolution is the outcome of routing one tool name: either a registered
// tool or a synthesized fallback command.
type Resolution struct {
	// Tool is set when the name resolved against the registry.
	Tool Tool

	// Fallback is true when no tool matched and a command was
	// synthesized.
	Fallback bool

	// Command is the synthesized command line (fallback only).
	Command string
}

// Router dispatches tool calls: registered tools execute directly,
// unregistered names are synthesized into shell commands for the fallback
// runner, and results pass through the externalizer.
type Router struct {
	registry      *Registry
	runner        CommandRunner
	externalizer  *Externalizer
	hooks         []Hook
	allowFallback bool
	logger        *slog.Logger
}

// Options configures a Router.
type Options struct {
	Registry     *Registry
	Runner       CommandRunner
	Externalizer *Externalizer

	// AllowFallback enables command synthesis for unregistered names.
	// When false, unregistered calls return an error-status result.
	AllowFallback bool

	Logger *slog.Logger
}

// New creates a Router.
func New(opts Options) *Router {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		registry:      opts.Registry,
		runner:        opts.Runner,
		externalizer:  opts.Externalizer,
		allowFallback: opts.AllowFallback,
		logger:        opts.Logger,
	}
}

// AddHook appends a hook. Hooks run in registration order.
func (r *Router) AddHook(h Hook) {
	if h != nil {
		r.hooks = append(r.hooks, h)
	}
}

// Registry returns the underlying tool registry.
func (r *Router) Registry() *Registry { return r.registry }

// Resolve routes a tool call without executing it.
func (r *Router) Resolve(call models.ToolCall) Resolution {
	if tool, ok := r.registry.Get(call.Name); ok {
		return Resolution{Tool: tool}
	}
	return Resolution{
		Fallback: true,
		Command:  SynthesizeCommand(call.Name, call.Input),
	}
}

// Dispatch resolves and executes one tool call, then externalizes the
// result. All failure modes come back as error-status results.
func (r *Router) Dispatch(ctx context.Context, call models.ToolCall) *models.ToolResult {
	res := r.Resolve(call)

	for _, hook := range r.hooks {
		if err := hook.BeforeTool(ctx, call, res); err != nil {
			result := models.ErrorResult(call.ID, fmt.Sprintf("tool %s vetoed: %v", call.Name, err))
			r.runAfterHooks(ctx, call, result)
			return result
		}
	}

	var result *models.ToolResult
	switch {
	case res.Tool != nil:
		result = r.registry.Execute(ctx, call.Name, call.Input)
	case !r.allowFallback:
		result = models.ErrorResult(call.ID, fmt.Sprintf("tool %s is not registered and fallback execution is disabled", call.Name))
	case r.runner == nil:
		result = models.ErrorResult(call.ID, fmt.Sprintf("tool %s is not registered and no fallback runner is configured", call.Name))
	default:
		r.logger.Info("routing unregistered tool to fallback runner",
			"tool", call.Name,
			"command", res.Command)
		fallbackResult, err := r.runner.RunCommand(ctx, res.Command)
		if err != nil {
			result = models.ErrorResult(call.ID, fmt.Sprintf("fallback command failed: %v", err))
		} else {
			result = fallbackResult
		}
	}

	result.ToolCallID = call.ID
	if r.externalizer != nil {
		r.externalizer.Process(call.Name, result)
	}
	r.runAfterHooks(ctx, call, result)
	return result
}

func (r *Router) runAfterHooks(ctx context.Context, call models.ToolCall, result *models.ToolResult) {
	for _, hook := range r.hooks {
		hook.AfterTool(ctx, call, result)
	}
}
