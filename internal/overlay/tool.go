package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/vantasec/redloop/pkg/models"
)

// DirectiveParams is the tool input accepted by DirectiveTool.
type DirectiveParams struct {
	Action     string `json:"action" jsonschema:"required,enum=update,enum=add_context" jsonschema_description:"update replaces the active directives; add_context appends one to them."`
	Directives string `json:"directives,omitempty" jsonschema_description:"Replacement directives for update, one per line."`
	Context    string `json:"context,omitempty" jsonschema_description:"Single directive to append for add_context."`
	Note       string `json:"note,omitempty" jsonschema_description:"Optional note recorded with the change."`
}

var (
	directiveSchemaOnce sync.Once
	directiveSchema     json.RawMessage
)

// DirectiveTool lets the model revise its own operating directives
// mid-session. Mutations go through the Manager, so the cooldown and
// expiry rules apply to the model the same as to everyone else.
type DirectiveTool struct {
	manager *Manager
	step    func() int
}

// NewDirectiveTool creates the tool. step reports the current session
// step so mutations land against the right cooldown window.
func NewDirectiveTool(manager *Manager, step func() int) *DirectiveTool {
	return &DirectiveTool{manager: manager, step: step}
}

func (t *DirectiveTool) Name() string { return "update_directives" }

func (t *DirectiveTool) Description() string {
	return "Revise your operating directives based on what has worked or failed: " +
		"update replaces them, add_context appends one to the active set."
}

func (t *DirectiveTool) Schema() json.RawMessage {
	directiveSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		payload, err := json.Marshal(r.Reflect(&DirectiveParams{}))
		if err != nil {
			payload = []byte(`{"type":"object"}`)
		}
		directiveSchema = payload
	})
	return directiveSchema
}

func (t *DirectiveTool) Execute(_ context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input DirectiveParams
	if err := json.Unmarshal(params, &input); err != nil {
		return models.ErrorResult("", fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	step := t.step()

	switch input.Action {
	case "update":
		if strings.TrimSpace(input.Directives) == "" {
			return models.ErrorResult("", "directives is required for update"), nil
		}
		if err := t.manager.Update(input.Directives, step, "agent", input.Note); err != nil {
			if errors.Is(err, ErrCooldown) {
				return models.ErrorResult("", fmt.Sprintf("directives unchanged: %v", err)), nil
			}
			return models.ErrorResult("", err.Error()), nil
		}
	case "add_context":
		if strings.TrimSpace(input.Context) == "" {
			return models.ErrorResult("", "context is required for add_context"), nil
		}
		if err := t.manager.AddContext(input.Context, step, "agent"); err != nil {
			return models.ErrorResult("", err.Error()), nil
		}
	default:
		return models.ErrorResult("", fmt.Sprintf("unknown action %q", input.Action)), nil
	}

	active, _ := t.manager.View(step)
	count := 0
	if active != nil {
		count = len(active.Directives)
	}
	return models.TextResult("", fmt.Sprintf("directives updated, %d active", count)), nil
}
