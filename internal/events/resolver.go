package events

// ConflictResolver is the single-shot inbox spec.md §9 describes: the
// orchestrator holds the write side, a Receive Task holds the read side.
// Dropping either end is a valid cancel signal — here, that means Drop
// closing the channel so the task's receive unblocks with ok=false.
type ConflictResolver struct {
	ch chan Resolution
}

// NewConflictResolver creates a resolver with room for exactly one reply.
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{ch: make(chan Resolution, 1)}
}

// Resolve delivers res to the waiting Receive Task. A second call is a
// no-op; the channel accepts exactly one value.
func (r *ConflictResolver) Resolve(res Resolution) {
	select {
	case r.ch <- res:
	default:
	}
}

// Drop closes the resolver without a reply, the orchestrator's Cancel
// path. Callers must call Drop or Resolve at most once per resolver.
func (r *ConflictResolver) Drop() {
	close(r.ch)
}

// Chan exposes the read side for the Receive Task to select on.
func (r *ConflictResolver) Chan() <-chan Resolution {
	return r.ch
}
