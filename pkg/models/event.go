package models

import "time"

// EventType identifies the category of a lifecycle event.
type EventType string

const (
	// Critical types: never buffered, flushed immediately.
	EventError              EventType = "error"
	EventUserHandoff        EventType = "user_handoff"
	EventAssessmentComplete EventType = "assessment_complete"
	EventStepStarted        EventType = "step_started"
	EventStepFinished       EventType = "step_finished"
	EventPhaseChanged       EventType = "phase_changed"

	// Non-critical types: may be buffered and flushed opportunistically.
	EventOutput        EventType = "output"
	EventReasoning     EventType = "reasoning"
	EventReportContent EventType = "report_content"
	EventToolStarted   EventType = "tool_started"
	EventToolFinished  EventType = "tool_finished"
	EventToolOutput    EventType = "tool_output"
)

// Event is one immutable lifecycle record. ID and Time are assigned at
// emission; ordering within one operation is FIFO.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Time        time.Time      `json:"timestamp"`
	OperationID string         `json:"operation_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event with a payload; ID and Time are filled in by the
// emitter.
func NewEvent(t EventType, payload map[string]any) *Event {
	return &Event{Type: t, Payload: payload}
}

// Critical reports whether this event type must bypass buffering so process
// termination cannot silently drop it.
func (t EventType) Critical() bool {
	switch t {
	case EventError, EventUserHandoff, EventAssessmentComplete,
		EventStepStarted, EventStepFinished, EventPhaseChanged:
		return true
	default:
		return false
	}
}

// Tool reports whether this event type is tied to a tool invocation. Tool
// events are exempt from consecutive-duplicate suppression because repeated
// identical tool calls are legitimate.
func (t EventType) Tool() bool {
	switch t {
	case EventToolStarted, EventToolFinished, EventToolOutput:
		return true
	default:
		return false
	}
}
