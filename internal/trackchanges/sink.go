package trackchanges

import (
	"context"
	"sync"
)

// ChannelSink buffers event messages in a channel. Deliver never blocks: a
// full buffer fails with ErrSinkFull.
type ChannelSink struct {
	mu     sync.RWMutex
	ch     chan EventMessage
	closed bool
}

// NewChannelSink creates a sink buffering up to size messages.
func NewChannelSink(size int) *ChannelSink {
	if size < 0 {
		size = 0
	}
	return &ChannelSink{ch: make(chan EventMessage, size)}
}

// Events returns the channel messages are delivered to. It is closed by Close.
func (s *ChannelSink) Events() <-chan EventMessage {
	return s.ch
}

func (s *ChannelSink) Deliver(ctx context.Context, msg EventMessage) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- msg:
		return nil
	default:
		return ErrSinkFull
	}
}

// Close closes the channel. Later deliveries fail with ErrSinkClosed.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, msg EventMessage) error

func (f SinkFunc) Deliver(ctx context.Context, msg EventMessage) error {
	return f(ctx, msg)
}
