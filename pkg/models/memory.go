package models

import "time"

// MemoryCategory classifies a memory record.
type MemoryCategory string

// Memory categories used by the HITL audit trail and the overlay optimizer.
const (
	MemoryCategoryFinding  MemoryCategory = "finding"
	MemoryCategoryBlocked  MemoryCategory = "blocked_attempt"
	MemoryCategoryTactic   MemoryCategory = "tactic"
	MemoryCategoryFeedback MemoryCategory = "operator_feedback"
)

// ValidationStatus tracks whether a finding has been verified.
type ValidationStatus string

// Validation states attached to memory records.
const (
	ValidationConfirmed ValidationStatus = "confirmed"
	ValidationPending   ValidationStatus = "pending"
	ValidationRejected  ValidationStatus = "rejected"
)

// MemoryMetadata carries the structured attributes of a memory record.
type MemoryMetadata struct {
	Category         MemoryCategory    `json:"category"`
	Severity         string            `json:"severity,omitempty"`
	ValidationStatus ValidationStatus  `json:"validation_status,omitempty"`
	Target           string            `json:"target,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// MemoryRecord is one entry in the vector memory store.
type MemoryRecord struct {
	ID         string         `json:"id"`
	User       string         `json:"user"`
	MemoryText string         `json:"memory_text"`
	Metadata   MemoryMetadata `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}
