package sched

import "sync"

// Table is the id-keyed set of currently active task handles for one
// direction, gated at a fixed capacity.
type Table struct {
	mu      sync.Mutex
	limit   int
	handles map[string]Handle
}

// NewTable creates a Table admitting at most limit concurrent handles.
func NewTable(limit int) *Table {
	if limit < 1 {
		limit = 1
	}
	return &Table{limit: limit, handles: make(map[string]Handle)}
}

// HasRoom reports whether another handle can be admitted right now.
func (t *Table) HasRoom() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles) < t.limit
}

// Has reports whether id is currently active.
func (t *Table) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.handles[id]
	return ok
}

// Admit registers id's handle. Callers must have already checked HasRoom;
// Admit itself does not enforce the limit, since promotion decisions are
// made under the orchestrator's own loop with the queue consulted in the
// same step.
func (t *Table) Admit(id string, h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[id] = h
}

// Get returns the handle for id, if active.
func (t *Table) Get(id string) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[id]
	return h, ok
}

// Remove drops id from the table.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, id)
}

// ReapFinished removes and returns the ids of every handle whose Done
// channel has already closed (spec.md §4.5 step 1).
func (t *Table) ReapFinished() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var finished []string
	for id, h := range t.handles {
		select {
		case <-h.Done():
			finished = append(finished, id)
		default:
		}
	}
	for _, id := range finished {
		delete(t.handles, id)
	}
	return finished
}

// CancelAll fires every active handle's cancellation, used on Shutdown.
func (t *Table) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.handles {
		h.Cancel()
	}
}
