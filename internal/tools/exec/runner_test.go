package exec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	runner := NewRunner(t.TempDir(), time.Minute)

	result, err := runner.Run(context.Background(), "echo hello; echo oops >&2; exit 3", 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "oops" {
		t.Errorf("Stderr = %q, want oops", result.Stderr)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	runner := NewRunner(t.TempDir(), time.Minute)

	result, err := runner.Run(context.Background(), "sleep 5", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.TimedOut {
		t.Error("Run() TimedOut = false, want true")
	}
}

func TestRunCommandMarksFailuresAsErrorResults(t *testing.T) {
	runner := NewRunner(t.TempDir(), time.Minute)

	result, err := runner.RunCommand(context.Background(), "exit 1")
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if !result.IsError() {
		t.Error("RunCommand(exit 1) result not marked as error")
	}

	result, err = runner.RunCommand(context.Background(), "echo ok")
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if result.IsError() {
		t.Error("RunCommand(echo ok) marked as error")
	}
	if strings.TrimSpace(result.Text()) != "ok" {
		t.Errorf("result text = %q, want ok", result.Text())
	}
}

func TestCommandToolExecute(t *testing.T) {
	tool := NewCommandTool("", NewRunner(t.TempDir(), time.Minute))
	if tool.Name() != "generic_linux_command" {
		t.Errorf("Name() = %q, want generic_linux_command", tool.Name())
	}

	params, _ := json.Marshal(map[string]any{"command": "echo from-tool"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsError() {
		t.Fatalf("Execute() returned error result: %s", result.Text())
	}
	if strings.TrimSpace(result.Text()) != "from-tool" {
		t.Errorf("result text = %q, want from-tool", result.Text())
	}
}

func TestCommandToolSchemaRequiresCommand(t *testing.T) {
	tool := NewCommandTool("", nil)

	var schema struct {
		Type       string          `json:"type"`
		Required   []string        `json:"required"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		t.Fatalf("Schema() produced invalid JSON: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("schema type = %q, want object", schema.Type)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "command" {
		t.Errorf("schema required = %v, want [command]", schema.Required)
	}
	if !strings.Contains(string(schema.Properties), "timeout_seconds") {
		t.Error("schema properties missing timeout_seconds")
	}
}

func TestCommandToolRejectsEmptyCommand(t *testing.T) {
	tool := NewCommandTool("", NewRunner(t.TempDir(), time.Minute))
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError() {
		t.Error("Execute({}) should return an error result")
	}
}
