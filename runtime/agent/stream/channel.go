package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// ChannelSink delivers events to an in-process consumer over a bounded
// channel. A slow consumer must never stall the run, so Send drops the event
// once the buffer is full and counts the drop instead of blocking.
type ChannelSink struct {
	ch      chan Event
	closed  atomic.Bool
	dropped atomic.Int64
	mu      sync.Mutex
}

// DefaultChannelBuffer is the buffer size used when none is given.
const DefaultChannelBuffer = 64

// NewChannelSink constructs a sink with the given buffer size; sizes below 1
// use DefaultChannelBuffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = DefaultChannelBuffer
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events exposes the consumer side of the sink. The channel closes when the
// sink closes.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Send enqueues the event without blocking. Events sent after Close or when
// the buffer is full are dropped.
func (s *ChannelSink) Send(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		s.dropped.Add(1)
		return nil
	}
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Close closes the channel; subsequent sends are dropped.
func (s *ChannelSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
	return nil
}

// Dropped reports how many events were discarded.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// NopSink discards all events.
type NopSink struct{}

// Send discards the event.
func (NopSink) Send(context.Context, Event) error { return nil }

// Close is a no-op.
func (NopSink) Close(context.Context) error { return nil }
