// Package hitl implements the human-in-the-loop feedback state machine: an
// operator can interrupt a tool call, supply corrective feedback, and gate
// resumption on an explicit confirmation of the agent's interpretation.
package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vantasec/redloop/internal/events"
	"github.com/vantasec/redloop/internal/memory"
	"github.com/vantasec/redloop/pkg/models"
)

// State is the feedback machine state.
type State string

const (
	StateActive               State = "ACTIVE"
	StateAwaitingFeedback     State = "AWAITING_FEEDBACK"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateRejected             State = "REJECTED"
)

var (
	// ErrTicketOpen rejects a pause while another ticket is open.
	ErrTicketOpen = errors.New("hitl: a feedback ticket is already open")

	// ErrNoTicket rejects operations that need an open ticket.
	ErrNoTicket = errors.New("hitl: no feedback ticket is open")

	// ErrTicketMismatch rejects operations naming the wrong tool call.
	ErrTicketMismatch = errors.New("hitl: tool id does not match the open ticket")

	// ErrWrongState rejects operations illegal in the current state.
	ErrWrongState = errors.New("hitl: operation not legal in current state")

	// ErrRejected gates tool execution after an operator rejection.
	ErrRejected = errors.New("hitl: operator rejected the interpretation; reset required")

	// ErrPaused gates tool execution while feedback is pending.
	ErrPaused = errors.New("hitl: session is paused awaiting operator input")
)

// Feedback is one operator message attached to a ticket.
type Feedback struct {
	Type    string    `json:"type"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Ticket tracks one pause/feedback/confirmation exchange.
type Ticket struct {
	ID         string          `json:"id"`
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`

	Feedback           []Feedback      `json:"feedback,omitempty"`
	Interpretation     string          `json:"interpretation,omitempty"`
	ModifiedParameters json.RawMessage `json:"modified_parameters,omitempty"`
}

// Approval is the outcome of an approved confirmation: the tool call to
// resume and the parameters to substitute into it.
type Approval struct {
	ToolCallID     string
	ToolName       string
	Parameters     json.RawMessage
	Interpretation string
}

// Manager is the per-session feedback state machine. At most one ticket is
// open at a time.
type Manager struct {
	mu       sync.Mutex
	state    State
	ticket   *Ticket
	approval *Approval

	user    string
	target  string
	store   memory.Store
	emitter *events.Emitter
	logger  *slog.Logger

	// OnPause, when set, observes pause triggers (used for metrics).
	OnPause func(trigger string)
}

// Options configures a Manager. Store and Emitter are optional; when set,
// feedback is persisted for audit and pauses emit user_handoff events.
type Options struct {
	User    string
	Target  string
	Store   memory.Store
	Emitter *events.Emitter
	Logger  *slog.Logger
}

// NewManager creates a Manager in the ACTIVE state.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		state:   StateActive,
		user:    opts.User,
		target:  opts.Target,
		store:   opts.Store,
		emitter: opts.Emitter,
		logger:  opts.Logger,
	}
}

// State returns the current machine state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ticket returns a copy of the open ticket, or nil.
func (m *Manager) Ticket() *Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticket == nil {
		return nil
	}
	copied := *m.ticket
	return &copied
}

// Gate reports whether autonomous tool execution may proceed. Non-nil
// while paused or rejected.
func (m *Manager) Gate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateActive:
		return nil
	case StateRejected:
		return ErrRejected
	default:
		return ErrPaused
	}
}

// RequestPause opens a ticket for the given tool call and transitions to
// AWAITING_FEEDBACK. Only legal from ACTIVE; a second pause while a ticket
// is open fails with ErrTicketOpen.
func (m *Manager) RequestPause(ctx context.Context, toolName, toolCallID string, params json.RawMessage, confidence float64, reason string) (*Ticket, error) {
	m.mu.Lock()
	if m.ticket != nil {
		m.mu.Unlock()
		return nil, ErrTicketOpen
	}
	if m.state != StateActive {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: state is %s", ErrWrongState, m.state)
	}

	ticket := &Ticket{
		ID:         uuid.New().String(),
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Parameters: params,
		Confidence: confidence,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}
	m.ticket = ticket
	m.state = StateAwaitingFeedback
	copied := *ticket
	m.mu.Unlock()

	m.logger.Info("paused for operator feedback",
		"ticket", ticket.ID,
		"tool", toolName,
		"reason", reason)
	if m.OnPause != nil {
		m.OnPause(reason)
	}
	if m.emitter != nil {
		m.emitter.Emit(ctx, models.EventUserHandoff, map[string]any{
			"ticket_id": ticket.ID,
			"tool_name": toolName,
			"tool_id":   toolCallID,
			"reason":    reason,
		})
	}
	return &copied, nil
}

// SubmitFeedback appends operator feedback to the open ticket and persists
// an audit record to the memory store.
func (m *Manager) SubmitFeedback(ctx context.Context, feedbackType, content, toolCallID string) error {
	m.mu.Lock()
	if m.ticket == nil {
		m.mu.Unlock()
		return ErrNoTicket
	}
	if m.ticket.ToolCallID != toolCallID {
		m.mu.Unlock()
		return ErrTicketMismatch
	}
	if m.state != StateAwaitingFeedback && m.state != StateAwaitingConfirmation {
		m.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrWrongState, m.state)
	}
	m.ticket.Feedback = append(m.ticket.Feedback, Feedback{
		Type:    feedbackType,
		Content: content,
		At:      time.Now().UTC(),
	})
	ticketID := m.ticket.ID
	toolName := m.ticket.ToolName
	m.mu.Unlock()

	if m.store != nil {
		record := &models.MemoryRecord{
			User:       m.user,
			MemoryText: fmt.Sprintf("operator feedback on %s (ticket %s): %s", toolName, ticketID, content),
			Metadata: models.MemoryMetadata{
				Category: models.MemoryCategoryFeedback,
				Target:   m.target,
				Extra: map[string]string{
					"ticket_id":     ticketID,
					"tool_call_id":  toolCallID,
					"feedback_type": feedbackType,
				},
			},
		}
		if err := m.store.Add(ctx, record); err != nil {
			m.logger.Warn("feedback audit record not persisted", "error", err)
		}
	}
	return nil
}

// SetAgentInterpretation records the agent's understanding of the feedback
// and transitions AWAITING_FEEDBACK -> AWAITING_CONFIRMATION.
func (m *Manager) SetAgentInterpretation(toolCallID, interpretation string, modifiedParams json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticket == nil {
		return ErrNoTicket
	}
	if m.ticket.ToolCallID != toolCallID {
		return ErrTicketMismatch
	}
	if m.state != StateAwaitingFeedback {
		return fmt.Errorf("%w: state is %s", ErrWrongState, m.state)
	}
	m.ticket.Interpretation = interpretation
	m.ticket.ModifiedParameters = modifiedParams
	m.state = StateAwaitingConfirmation
	return nil
}

// ConfirmInterpretation resolves the ticket. Approval clears it and
// returns to ACTIVE along with the parameters to substitute into the
// original tool call. Rejection transitions to REJECTED, halting further
// autonomous execution until Reset.
func (m *Manager) ConfirmInterpretation(approved bool, toolCallID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticket == nil {
		return nil, ErrNoTicket
	}
	if m.ticket.ToolCallID != toolCallID {
		return nil, ErrTicketMismatch
	}
	if m.state != StateAwaitingConfirmation {
		return nil, fmt.Errorf("%w: state is %s", ErrWrongState, m.state)
	}

	if !approved {
		m.state = StateRejected
		m.ticket = nil
		m.logger.Warn("operator rejected interpretation, halting autonomous execution")
		return nil, nil
	}

	modified := m.ticket.ModifiedParameters
	if len(modified) == 0 {
		modified = m.ticket.Parameters
	}
	m.approval = &Approval{
		ToolCallID:     m.ticket.ToolCallID,
		ToolName:       m.ticket.ToolName,
		Parameters:     modified,
		Interpretation: m.ticket.Interpretation,
	}
	m.ticket = nil
	m.state = StateActive
	return modified, nil
}

// TakeApproval pops the outcome of the most recent approved confirmation,
// or nil. The session loop calls this when resuming to substitute the
// approved parameters into the paused tool call.
func (m *Manager) TakeApproval() *Approval {
	m.mu.Lock()
	defer m.mu.Unlock()
	approval := m.approval
	m.approval = nil
	return approval
}

// Reset clears any ticket and returns the machine to ACTIVE. This is the
// only way out of REJECTED.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticket = nil
	m.approval = nil
	m.state = StateActive
}
