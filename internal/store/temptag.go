package store

import "sync"

// TempTag is a short-lived handle that keeps one or more blobs ineligible
// for garbage collection while held, per spec.md §3/§4.2. Release is
// idempotent; releasing an already-released tag is a no-op.
type TempTag struct {
	store    *Store
	hashes   []Hash
	once     sync.Once
	released bool
}

// Release drops this tag's hold on its referenced blobs.
func (t *TempTag) Release() {
	t.once.Do(func() {
		t.store.decref(t.hashes)
		t.released = true
	})
}

// Hashes returns the set of blobs this tag keeps alive.
func (t *TempTag) Hashes() []Hash {
	out := make([]Hash, len(t.hashes))
	copy(out, t.hashes)
	return out
}

func (s *Store) newTempTag(hashes []Hash) *TempTag {
	s.incref(hashes)
	return &TempTag{store: s, hashes: hashes}
}

func (s *Store) incref(hashes []Hash) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	for _, h := range hashes {
		s.refCounts[h]++
	}
}

func (s *Store) decref(hashes []Hash) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	for _, h := range hashes {
		if s.refCounts[h] <= 1 {
			delete(s.refCounts, h)
			continue
		}
		s.refCounts[h]--
	}
}

// refCount reports how many live temp tags reference h (0 means eligible
// for GC — this store does not implement an active GC sweep, only the
// liveness bookkeeping spec.md's invariant requires of any implementation).
func (s *Store) refCount(h Hash) int {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	return s.refCounts[h]
}
