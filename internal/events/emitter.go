package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vantasec/redloop/pkg/models"
)

// Emitter generates session events with identity and timestamps, suppresses
// consecutive duplicates, and forwards to a sink.
type Emitter struct {
	operationID string
	sink        Sink

	mu          sync.Mutex
	lastType    models.EventType
	lastPayload string
	hasLast     bool

	// OnDeduplicated, when set, observes suppressed emissions (used for
	// metrics). Called under the emitter lock; keep it cheap.
	OnDeduplicated func(models.EventType)

	// OnDelivered observes emissions that reached the sink.
	OnDelivered func(models.EventType)
}

// NewEmitter creates an emitter for one operation.
func NewEmitter(operationID string, sink Sink) *Emitter {
	return &Emitter{operationID: operationID, sink: sink}
}

// Emit builds an event and forwards it to the sink. For non-tool event
// types, an emission identical to the immediately preceding one (same type
// and payload) is suppressed. Returns the event and whether it was
// delivered.
func (e *Emitter) Emit(ctx context.Context, typ models.EventType, payload map[string]any) (models.Event, bool) {
	event := models.Event{
		ID:          uuid.New().String(),
		Type:        typ,
		Time:        time.Now().UTC(),
		OperationID: e.operationID,
		Payload:     payload,
	}

	key := canonicalPayload(payload)

	e.mu.Lock()
	if !typ.Tool() && e.hasLast && e.lastType == typ && e.lastPayload == key {
		if e.OnDeduplicated != nil {
			e.OnDeduplicated(typ)
		}
		e.mu.Unlock()
		return event, false
	}
	e.lastType = typ
	e.lastPayload = key
	e.hasLast = true
	e.mu.Unlock()

	if e.sink != nil {
		e.sink.Emit(ctx, event)
	}
	if e.OnDelivered != nil {
		e.OnDelivered(typ)
	}
	return event, true
}

// canonicalPayload produces a comparable form of the payload. Map keys are
// sorted by encoding/json, so equal payloads always compare equal.
func canonicalPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
