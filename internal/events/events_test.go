package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vantasec/redloop/pkg/models"
)

// recordSink captures emitted events in order.
type recordSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordSink) Emit(ctx context.Context, e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordSink) types() []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func TestFrameSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := NewFrameSink(&buf)

	sink.Emit(context.Background(), models.Event{
		ID:          "evt-1",
		Type:        models.EventOutput,
		OperationID: "op-1",
		Payload:     map[string]any{"text": "hello"},
	})

	out := buf.String()
	if !strings.HasPrefix(out, FrameStart) {
		t.Errorf("frame missing start marker: %q", out)
	}
	if !strings.HasSuffix(out, FrameEnd+"\n") {
		t.Errorf("frame missing end marker + newline: %q", out)
	}

	inner := strings.TrimSuffix(strings.TrimPrefix(out, FrameStart), FrameEnd+"\n")
	var decoded models.Event
	if err := json.Unmarshal([]byte(inner), &decoded); err != nil {
		t.Fatalf("frame payload is not valid JSON: %v", err)
	}
	if decoded.ID != "evt-1" || decoded.Type != models.EventOutput {
		t.Errorf("decoded event = %+v, want id evt-1 type output", decoded)
	}
}

func TestEmitterAssignsIdentity(t *testing.T) {
	sink := &recordSink{}
	emitter := NewEmitter("op-7", sink)

	event, delivered := emitter.Emit(context.Background(), models.EventOutput, map[string]any{"text": "hi"})
	if !delivered {
		t.Fatal("Emit() delivered = false, want true")
	}
	if event.ID == "" {
		t.Error("Emit() left ID empty")
	}
	if event.Time.IsZero() {
		t.Error("Emit() left Time zero")
	}
	if event.OperationID != "op-7" {
		t.Errorf("OperationID = %q, want op-7", event.OperationID)
	}
}

func TestEmitterDeduplicatesConsecutiveIdentical(t *testing.T) {
	sink := &recordSink{}
	emitter := NewEmitter("op-1", sink)
	ctx := context.Background()

	payload := map[string]any{"text": "scanning"}
	if _, delivered := emitter.Emit(ctx, models.EventReasoning, payload); !delivered {
		t.Fatal("first emission suppressed")
	}
	if _, delivered := emitter.Emit(ctx, models.EventReasoning, payload); delivered {
		t.Error("identical consecutive emission not suppressed")
	}
	// Different payload breaks the dedup chain.
	if _, delivered := emitter.Emit(ctx, models.EventReasoning, map[string]any{"text": "done"}); !delivered {
		t.Error("distinct emission suppressed")
	}
	// The original payload is no longer the immediately preceding one.
	if _, delivered := emitter.Emit(ctx, models.EventReasoning, payload); !delivered {
		t.Error("non-consecutive repeat suppressed")
	}

	if len(sink.events) != 3 {
		t.Errorf("sink received %d events, want 3", len(sink.events))
	}
}

func TestEmitterNeverDeduplicatesToolEvents(t *testing.T) {
	sink := &recordSink{}
	emitter := NewEmitter("op-1", sink)
	ctx := context.Background()

	payload := map[string]any{"tool": "nmap"}
	for i := 0; i < 3; i++ {
		if _, delivered := emitter.Emit(ctx, models.EventToolStarted, payload); !delivered {
			t.Errorf("tool emission %d suppressed", i)
		}
	}
	if len(sink.events) != 3 {
		t.Errorf("sink received %d events, want 3", len(sink.events))
	}
}

func TestBatcherCriticalFlushesBufferFirst(t *testing.T) {
	sink := &recordSink{}
	batcher := NewBatcher(sink, 100, 0)
	ctx := context.Background()

	batcher.Emit(ctx, models.Event{ID: "1", Type: models.EventOutput})
	batcher.Emit(ctx, models.Event{ID: "2", Type: models.EventReasoning})
	if len(sink.types()) != 0 {
		t.Fatalf("non-critical events delivered before flush: %v", sink.types())
	}

	batcher.Emit(ctx, models.Event{ID: "3", Type: models.EventError})

	want := []models.EventType{models.EventOutput, models.EventReasoning, models.EventError}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("delivered %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBatcherFlushesOnSize(t *testing.T) {
	sink := &recordSink{}
	batcher := NewBatcher(sink, 2, 0)
	ctx := context.Background()

	batcher.Emit(ctx, models.Event{ID: "1", Type: models.EventOutput})
	batcher.Emit(ctx, models.Event{ID: "2", Type: models.EventOutput})

	if len(sink.types()) != 2 {
		t.Errorf("delivered %d events after size threshold, want 2", len(sink.types()))
	}
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	sink := &recordSink{}
	batcher := NewBatcher(sink, 100, 10*time.Millisecond)
	defer batcher.Close()

	batcher.Emit(context.Background(), models.Event{ID: "1", Type: models.EventOutput})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sink.types()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("interval flush never delivered the buffered event")
}

func TestBatcherCloseFlushes(t *testing.T) {
	sink := &recordSink{}
	batcher := NewBatcher(sink, 100, 0)

	batcher.Emit(context.Background(), models.Event{ID: "1", Type: models.EventOutput})
	batcher.Close()

	if len(sink.types()) != 1 {
		t.Errorf("Close() delivered %d events, want 1", len(sink.types()))
	}
}
