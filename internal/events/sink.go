// Package events streams session lifecycle events to an external observer.
//
// Events are serialized into self-delimited frames so a consumer reading a
// shared stream can recover event boundaries even when other writers
// interleave lines between frames.
package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/vantasec/redloop/pkg/models"
)

// Frame delimiters. The payload between them is a single JSON document.
const (
	FrameStart = "<<REDLOOP_EVENT>>"
	FrameEnd   = "<<END_REDLOOP_EVENT>>"
)

// Sink receives session events.
// Implementations must be safe to call from multiple goroutines.
type Sink interface {
	Emit(ctx context.Context, e models.Event)
}

// FrameSink serializes each event into one delimited frame and writes it
// atomically to the underlying writer, followed by a newline.
type FrameSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameSink creates a sink writing frames to w.
func NewFrameSink(w io.Writer) *FrameSink {
	return &FrameSink{w: w}
}

// Emit writes one frame. Marshal or write failures drop the event; event
// delivery must never fail a session step.
func (s *FrameSink) Emit(ctx context.Context, e models.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	frame := make([]byte, 0, len(FrameStart)+len(payload)+len(FrameEnd)+1)
	frame = append(frame, FrameStart...)
	frame = append(frame, payload...)
	frame = append(frame, FrameEnd...)
	frame = append(frame, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(frame)
}

// ChanSink sends events to a channel, dropping when the channel is full so
// a slow consumer cannot block the step loop.
type ChanSink struct {
	ch chan<- models.Event
}

// NewChanSink creates a sink that sends to ch. The channel should be
// buffered.
func NewChanSink(ch chan<- models.Event) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Emit(ctx context.Context, e models.Event) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans out events to several sinks in order. Nil sinks are
// filtered at construction.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (s *MultiSink) Emit(ctx context.Context, e models.Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}
