package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrBloodrune/tuit/internal/events"
	"github.com/MrBloodrune/tuit/internal/logging"
	"github.com/MrBloodrune/tuit/internal/store"
	"github.com/MrBloodrune/tuit/internal/ticket"
)

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// drainUntil reads events off sink until match returns true for one of
// them, failing the test if deadline elapses first. It returns every
// event observed along the way (including the match).
func drainUntil(t *testing.T, sink *events.Sink, deadline time.Duration, match func(events.Event) bool) []events.Event {
	t.Helper()
	var seen []events.Event
	timeout := time.After(deadline)
	for {
		select {
		case ev := <-sink.C():
			seen = append(seen, ev)
			if match(ev) {
				return seen
			}
		case <-timeout:
			t.Fatalf("deadline exceeded waiting for event; saw %d events: %+v", len(seen), seen)
			return nil
		}
	}
}

func TestOrchestratorQueuesAndPromotesOnCancel(t *testing.T) {
	dir := t.TempDir()
	log := logging.NewWithWriter(io.Discard, false)
	st, err := store.Open(filepath.Join(dir, "store"))
	require.NoError(t, err)

	fileA := writeTempFile(t, dir, "a.bin", 64)
	fileB := writeTempFile(t, dir, "b.bin", 64)

	sink := events.NewSink(128)
	orch := New(st, sink, log, 1, 1, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go orch.Run(ctx)

	orch.Commands() <- SendCommand("a", []string{fileA}, false)

	// First send should occupy the only slot and block at Connecting
	// (nobody ever connects to it in this test).
	drainUntil(t, sink, 10*time.Second, func(ev events.Event) bool {
		return ev.ID == "a" && ev.Kind == events.KindConnecting
	})

	orch.Commands() <- SendCommand("b", []string{fileB}, false)

	// Second send has no free slot; it must be queued at position 1.
	queuedEvents := drainUntil(t, sink, 5*time.Second, func(ev events.Event) bool {
		return ev.ID == "b" && ev.Kind == events.KindQueued
	})
	last := queuedEvents[len(queuedEvents)-1]
	require.Equal(t, 1, last.Position)
	for _, ev := range queuedEvents {
		if ev.ID == "b" {
			require.Equal(t, events.KindQueued, ev.Kind, "queued task must not start before promotion")
		}
	}

	orch.Commands() <- CancelCommand("a")
	drainUntil(t, sink, 5*time.Second, func(ev events.Event) bool {
		return ev.ID == "a" && ev.Kind == events.KindCancelled
	})

	// Within a couple of idle ticks, "b" should be promoted and start
	// preparing.
	drainUntil(t, sink, 5*time.Second, func(ev events.Event) bool {
		return ev.ID == "b" && ev.Kind == events.KindPreparing
	})

	orch.Commands() <- CancelCommand("b")
	drainUntil(t, sink, 5*time.Second, func(ev events.Event) bool {
		return ev.ID == "b" && ev.Kind == events.KindCancelled
	})

	orch.Commands() <- ShutdownCommand()
	select {
	case <-ctx.Done():
		t.Fatal("context expired before shutdown completed")
	case <-time.After(2 * time.Second):
	}
}

func TestOrchestratorRejectsDuplicateID(t *testing.T) {
	dir := t.TempDir()
	log := logging.NewWithWriter(io.Discard, false)
	st, err := store.Open(filepath.Join(dir, "store"))
	require.NoError(t, err)

	file := writeTempFile(t, dir, "f.bin", 64)

	sink := events.NewSink(128)
	orch := New(st, sink, log, 1, 1, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go orch.Run(ctx)

	orch.Commands() <- SendCommand("dup", []string{file}, false)
	drainUntil(t, sink, 10*time.Second, func(ev events.Event) bool {
		return ev.ID == "dup" && ev.Kind == events.KindConnecting
	})

	orch.Commands() <- SendCommand("dup", []string{file}, false)
	drainUntil(t, sink, 5*time.Second, func(ev events.Event) bool {
		return ev.ID == "dup" && ev.Kind == events.KindFailed
	})

	orch.Commands() <- CancelCommand("dup")
	drainUntil(t, sink, 5*time.Second, func(ev events.Event) bool {
		return ev.ID == "dup" && ev.Kind == events.KindCancelled
	})
}

func TestOrchestratorMalformedTicketNeverStartsTask(t *testing.T) {
	dir := t.TempDir()
	log := logging.NewWithWriter(io.Discard, false)
	st, err := store.Open(filepath.Join(dir, "store"))
	require.NoError(t, err)

	sink := events.NewSink(16)
	orch := New(st, sink, log, 1, 1, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go orch.Run(ctx)

	orch.Commands() <- ReceiveCommand("bad", "not a valid ticket", filepath.Join(dir, "out"))

	seen := drainUntil(t, sink, 5*time.Second, func(ev events.Event) bool {
		return ev.ID == "bad" && ev.Kind == events.KindFailed
	})
	require.Len(t, seen, 1, "a malformed ticket must produce exactly one synthetic Failed record")
}

func TestOrchestratorSendReceiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log := logging.NewWithWriter(io.Discard, false)

	senderStore, err := store.Open(filepath.Join(dir, "sender-store"))
	require.NoError(t, err)
	receiverStore, err := store.Open(filepath.Join(dir, "receiver-store"))
	require.NoError(t, err)

	content := writeTempFile(t, dir, "f.bin", 200*1024+7)

	sendSink := events.NewSink(128)
	sendOrch := New(senderStore, sendSink, log, 4, 4, 8)

	recvSink := events.NewSink(128)
	recvOrch := New(receiverStore, recvSink, log, 4, 4, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go sendOrch.Run(ctx)
	go recvOrch.Run(ctx)

	sendOrch.Commands() <- SendCommand("send-1", []string{content}, false)

	var tok string
	seen := drainUntil(t, sendSink, 10*time.Second, func(ev events.Event) bool {
		if ev.Kind == events.KindTicketReady {
			tok = ev.Ticket
			return true
		}
		return false
	})
	for _, ev := range seen {
		require.NotEqual(t, events.KindFailed, ev.Kind)
	}
	require.NotEmpty(t, tok)

	_, err = ticket.Decode(tok)
	require.NoError(t, err)

	outDir := filepath.Join(dir, "out")
	recvOrch.Commands() <- ReceiveCommand("recv-1", tok, outDir)

	seen = drainUntil(t, recvSink, 15*time.Second, func(ev events.Event) bool {
		return ev.ID == "recv-1" && ev.Kind == events.KindCompleted
	})
	for _, ev := range seen {
		require.NotEqual(t, events.KindFailed, ev.Kind)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "f.bin"))
	require.NoError(t, err)
	want, err := os.ReadFile(content)
	require.NoError(t, err)
	require.Equal(t, want, got)

	drainUntil(t, sendSink, 10*time.Second, func(ev events.Event) bool {
		return ev.ID == "send-1" && ev.Kind == events.KindCompleted
	})
}
