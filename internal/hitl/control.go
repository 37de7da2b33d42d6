package hitl

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Command is one operator instruction delivered through the control
// channel.
type Command struct {
	Type string `json:"type"`

	// submit_feedback fields.
	FeedbackType string `json:"feedback_type,omitempty"`
	Content      string `json:"content,omitempty"`

	// confirm_interpretation fields.
	Approved bool `json:"approved,omitempty"`

	// Shared: the tool call the command addresses.
	ToolID string `json:"tool_id,omitempty"`
}

// ControlChannel watches a directory for JSON command files and routes
// them into the feedback manager. Operators (or a CLI wrapper) drop one
// file per command; processed files are removed.
type ControlChannel struct {
	dir     string
	manager *Manager
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewControlChannel creates the control directory and a watcher on it.
func NewControlChannel(dir string, manager *Manager, logger *slog.Logger) (*ControlChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return &ControlChannel{
		dir:     dir,
		manager: manager,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// Start processes pre-existing command files and then watches for new
// ones until ctx is cancelled or Close is called.
func (c *ControlChannel) Start(ctx context.Context) {
	c.drain(ctx)
	go c.watchLoop(ctx)
}

// Close stops the watcher.
func (c *ControlChannel) Close() error {
	close(c.done)
	return c.watcher.Close()
}

func (c *ControlChannel) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			c.processFile(ctx, event.Name)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("control channel watcher error", "error", err)
		}
	}
}

// drain handles commands dropped before the watcher started.
func (c *ControlChannel) drain(ctx context.Context) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		c.processFile(ctx, filepath.Join(c.dir, entry.Name()))
	}
}

func (c *ControlChannel) processFile(ctx context.Context, path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.logger.Warn("ignoring malformed control command", "file", path, "error", err)
		os.Remove(path)
		return
	}
	os.Remove(path)
	c.dispatch(ctx, cmd)
}

func (c *ControlChannel) dispatch(ctx context.Context, cmd Command) {
	var err error
	switch strings.ToLower(strings.TrimSpace(cmd.Type)) {
	case "submit_feedback":
		err = c.manager.SubmitFeedback(ctx, cmd.FeedbackType, cmd.Content, cmd.ToolID)
	case "confirm_interpretation":
		_, err = c.manager.ConfirmInterpretation(cmd.Approved, cmd.ToolID)
	case "reset":
		c.manager.Reset()
	default:
		c.logger.Warn("unknown control command", "type", cmd.Type)
		return
	}
	if err != nil {
		c.logger.Warn("control command rejected", "type", cmd.Type, "error", err)
	}
}
