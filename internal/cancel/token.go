// Package cancel implements the cancellation token spec.md §9 calls for: "a
// shared, monotonically-settable flag with async wakeup; cheap to poll and
// cheap to clone."
package cancel

import "sync"

// Token is a level-triggered cancellation flag. The zero value is not
// usable; construct with New. A *Token is safe to share across goroutines
// and cheap to pass by pointer.
type Token struct {
	once sync.Once
	done chan struct{}
}

// New returns an unfired Token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel fires the token. Safe to call more than once or concurrently;
// only the first call has effect.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Done returns a channel that closes when the token fires, for use in a
// select alongside other suspension points.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// IsCancelled reports whether the token has fired, without blocking.
func (t *Token) IsCancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
