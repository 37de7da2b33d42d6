// Package memory persists operation knowledge: findings, blocked paths,
// tactics, and operator feedback. The overlay optimizer reads it back to
// steer the prompt between steps.
package memory

import (
	"context"

	"github.com/vantasec/redloop/pkg/models"
)

// Filters narrows Search results. Zero-value fields match everything.
type Filters struct {
	Category         models.MemoryCategory
	ValidationStatus models.ValidationStatus
	Target           string
	User             string
	Limit            int
}

// Store persists memory records.
type Store interface {
	// Add stores a record, assigning an ID when empty.
	Add(ctx context.Context, record *models.MemoryRecord) error

	// Search returns records whose text matches query, newest first.
	// Empty query matches all records passing the filters.
	Search(ctx context.Context, query string, filters Filters) ([]*models.MemoryRecord, error)

	// List returns all records for a user, newest first.
	List(ctx context.Context, user string) ([]*models.MemoryRecord, error)

	Close() error
}
