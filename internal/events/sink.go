package events

import "context"

// Sink is the bounded, MPSC progress channel spec.md §4.5/§5 describes:
// incremental events are best-effort (TrySend drops on a full channel),
// terminal and state-change events use the blocking Send so the UI never
// misses them outright.
type Sink struct {
	ch chan Event
}

// NewSink creates a Sink with the given channel capacity (spec.md §4.5
// suggests 256).
func NewSink(capacity int) *Sink {
	return &Sink{ch: make(chan Event, capacity)}
}

// C exposes the receive side for a consumer (the UI, or a test).
func (s *Sink) C() <-chan Event { return s.ch }

// TrySend attempts a non-blocking send, dropping the event if the channel
// is full. Used for Progress events only (spec.md §9: "never back-pressure
// the transfer pipeline on a slow UI").
func (s *Sink) TrySend(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// Send blocks until the event is delivered or ctx is cancelled. Used for
// every event except Progress.
func (s *Sink) Send(ctx context.Context, e Event) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	}
}

// Close closes the underlying channel. Only the orchestrator, which owns
// the Sink for the lifetime of the process, should call this.
func (s *Sink) Close() { close(s.ch) }
