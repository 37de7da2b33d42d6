// Package session runs the autonomous assessment loop: one model call or
// tool call in flight at a time, with budget, HITL, and overlay checks
// between steps.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/vantasec/redloop/pkg/models"
)

// Status describes where the session is in its lifecycle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusComplete  Status = "complete"
	StatusFinalized Status = "finalized"
	StatusFailed    Status = "failed"
)

// Session is one running operation's conversation plus loop state.
type Session struct {
	ID          string
	OperationID string
	Target      string
	User        string
	Objective   string

	Conversation *models.Conversation

	Step      int
	StartedAt time.Time
	Status    Status

	// FinalReport is set by finalization.
	FinalReport string
}

// New creates a session around an initial conversation.
func New(operationID, target, user, objective string, conv *models.Conversation) *Session {
	return &Session{
		ID:           uuid.New().String(),
		OperationID:  operationID,
		Target:       target,
		User:         user,
		Objective:    objective,
		Conversation: conv,
		StartedAt:    time.Now().UTC(),
		Status:       StatusRunning,
	}
}

// Elapsed returns wall-clock time since the session started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.StartedAt)
}
