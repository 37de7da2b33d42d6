package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vantasec/redloop/pkg/models"
)

// Registry holds registered tools with thread-safe lookup. Tool input
// schemas are compiled at registration so dispatch can validate calls
// before execution.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any existing tool of the same name.
// A schema that fails to compile disables validation for that tool but
// does not reject registration.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	if compiled, err := jsonschema.CompileString(tool.Name()+".schema.json", string(tool.Schema())); err == nil {
		r.schemas[tool.Name()] = compiled
	} else {
		delete(r.schemas, tool.Name())
	}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	return out
}

// Validate checks params against the tool's compiled schema. Tools whose
// schema did not compile accept any input.
func (r *Registry) Validate(name string, params json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	var decoded any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &decoded); err != nil {
			return fmt.Errorf("tool %s: input is not valid JSON: %w", name, err)
		}
	} else {
		decoded = map[string]any{}
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool %s: input rejected by schema: %w", name, err)
	}
	return nil
}

// Execute validates and runs a registered tool. Infrastructure and
// validation failures come back as error-status results so a bad call
// never aborts the session.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) *models.ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		return models.ErrorResult("", fmt.Sprintf("tool %s is not registered", name))
	}
	if err := r.Validate(name, params); err != nil {
		return models.ErrorResult("", err.Error())
	}
	result, err := tool.Execute(ctx, params)
	if err != nil {
		return models.ErrorResult("", fmt.Sprintf("tool %s failed: %v", name, err))
	}
	if result == nil {
		return models.ErrorResult("", fmt.Sprintf("tool %s returned no result", name))
	}
	return result
}
