package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/vantasec/redloop/pkg/models"
)

// CommandParams is the tool input accepted by CommandTool.
type CommandParams struct {
	Command        string `json:"command" jsonschema:"required" jsonschema_description:"Shell command to execute."`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"minimum=0" jsonschema_description:"Timeout in seconds (0 = runner default)."`
}

var (
	commandSchemaOnce sync.Once
	commandSchema     json.RawMessage
)

// CommandTool exposes shell execution as a registered tool. It backs the
// generic_linux_command tool the model uses for anything without a
// dedicated implementation.
type CommandTool struct {
	name   string
	runner *Runner
}

// NewCommandTool creates the tool. An empty name defaults to
// generic_linux_command.
func NewCommandTool(name string, runner *Runner) *CommandTool {
	if strings.TrimSpace(name) == "" {
		name = "generic_linux_command"
	}
	return &CommandTool{name: name, runner: runner}
}

func (t *CommandTool) Name() string { return t.name }

func (t *CommandTool) Description() string {
	return "Run a Linux shell command against the assessment environment and return its output."
}

func (t *CommandTool) Schema() json.RawMessage {
	commandSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		payload, err := json.Marshal(r.Reflect(&CommandParams{}))
		if err != nil {
			payload = []byte(`{"type":"object"}`)
		}
		commandSchema = payload
	})
	return commandSchema
}

func (t *CommandTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if t.runner == nil {
		return models.ErrorResult("", "command runner unavailable"), nil
	}
	var input CommandParams
	if err := json.Unmarshal(params, &input); err != nil {
		return models.ErrorResult("", fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Command) == "" {
		return models.ErrorResult("", "command is required"), nil
	}

	result, err := t.runner.Run(ctx, input.Command, time.Duration(input.TimeoutSeconds)*time.Second)
	if err != nil {
		return models.ErrorResult("", err.Error()), nil
	}
	return result.ToToolResult(""), nil
}
