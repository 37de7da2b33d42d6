// Package exec runs shell commands for the session: the fallback executor
// behind the tool router and the generic_linux_command tool.
package exec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/vantasec/redloop/pkg/models"
)

// Runner executes commands via /bin/sh in a fixed working directory with a
// bounded output buffer and a default timeout.
type Runner struct {
	workDir        string
	maxOutput      int
	defaultTimeout time.Duration
}

// NewRunner creates a runner rooted at workDir. A zero defaultTimeout
// means commands run until their context is done.
func NewRunner(workDir string, defaultTimeout time.Duration) *Runner {
	return &Runner{
		workDir:        workDir,
		maxOutput:      256000,
		defaultTimeout: defaultTimeout,
	}
}

// Result summarizes one command execution.
type Result struct {
	Command  string        `json:"command"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Run executes command synchronously. timeout of 0 uses the default.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{}, fmt.Errorf("command is required")
	}

	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	cmd.Env = os.Environ()

	stdout := newLimitedBuffer(r.maxOutput)
	stderr := newLimitedBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()

	result := Result{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
		Duration: time.Since(start),
		TimedOut: runCtx.Err() == context.DeadlineExceeded,
	}
	return result, nil
}

// RunCommand adapts Run to the router's fallback executor interface: the
// command's combined output comes back as a ToolResult, with a non-zero
// exit marking the result as an error.
func (r *Runner) RunCommand(ctx context.Context, command string) (*models.ToolResult, error) {
	result, err := r.Run(ctx, command, 0)
	if err != nil {
		return nil, err
	}
	return result.ToToolResult(""), nil
}

// ToToolResult renders the execution outcome for the model.
func (res Result) ToToolResult(toolCallID string) *models.ToolResult {
	var b strings.Builder
	b.WriteString(res.Stdout)
	if res.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.WriteString(res.Stderr)
	}
	if res.TimedOut {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("command timed out after %s", res.Duration.Round(time.Millisecond)))
	}
	if res.ExitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("exit code: %d", res.ExitCode))
		return models.ErrorResult(toolCallID, b.String())
	}
	return models.TextResult(toolCallID, b.String())
}

type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
