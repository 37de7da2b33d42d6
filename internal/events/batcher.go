package events

import (
	"context"
	"sync"
	"time"

	"github.com/vantasec/redloop/pkg/models"
)

// Batcher buffers non-critical events and flushes them opportunistically.
// Critical events bypass the buffer, but the buffer is flushed first so
// overall emission order is preserved.
type Batcher struct {
	next     Sink
	size     int
	interval time.Duration

	mu    sync.Mutex
	buf   []models.Event
	timer *time.Timer
}

// NewBatcher wraps next with buffering. size caps the buffer; interval
// bounds how long a buffered event may wait (0 flushes only on size or
// critical events).
func NewBatcher(next Sink, size int, interval time.Duration) *Batcher {
	if size <= 0 {
		size = 16
	}
	return &Batcher{next: next, size: size, interval: interval}
}

// Emit forwards e according to its criticality. Critical events flush the
// buffer and are delivered immediately.
func (b *Batcher) Emit(ctx context.Context, e models.Event) {
	b.mu.Lock()
	if e.Type.Critical() {
		b.flushLocked(ctx)
		b.mu.Unlock()
		b.next.Emit(ctx, e)
		return
	}

	b.buf = append(b.buf, e)
	if len(b.buf) >= b.size {
		b.flushLocked(ctx)
		b.mu.Unlock()
		return
	}
	if b.interval > 0 && b.timer == nil {
		b.timer = time.AfterFunc(b.interval, func() {
			b.Flush(context.Background())
		})
	}
	b.mu.Unlock()
}

// Flush delivers all buffered events in order.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked(ctx)
}

// Close flushes remaining events and stops the flush timer.
func (b *Batcher) Close() {
	b.Flush(context.Background())
}

func (b *Batcher) flushLocked(ctx context.Context) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	for _, buffered := range b.buf {
		b.next.Emit(ctx, buffered)
	}
	b.buf = b.buf[:0]
}
