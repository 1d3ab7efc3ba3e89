package cancel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenFiresOnce(t *testing.T) {
	tok := New()
	require.False(t, tok.IsCancelled())

	tok.Cancel()
	tok.Cancel() // must not panic or block

	require.True(t, tok.IsCancelled())
	select {
	case <-tok.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestTokenConcurrentCancel(t *testing.T) {
	tok := New()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			tok.Cancel()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("goroutine did not return")
		}
	}
	require.True(t, tok.IsCancelled())
}
