// Package sendtask implements the Send Task (spec.md §4.3): importing one
// or more filesystem paths into the shared store, publishing a ticket, and
// streaming the resulting collection to the first peer that connects.
package sendtask

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/MrBloodrune/tuit/internal/cancel"
	"github.com/MrBloodrune/tuit/internal/events"
	"github.com/MrBloodrune/tuit/internal/logging"
	"github.com/MrBloodrune/tuit/internal/speed"
	"github.com/MrBloodrune/tuit/internal/store"
	"github.com/MrBloodrune/tuit/internal/ticket"
	"github.com/MrBloodrune/tuit/internal/transport"
)

// onlineWait is how long the endpoint waits to report an address before
// proceeding anyway (spec.md §4.3 step 3, §5).
const onlineWait = 30 * time.Second

// Task is one in-progress upload.
type Task struct {
	ID             string
	Paths          []string
	FollowSymlinks bool

	store *store.Store
	sink  *events.Sink
	log   *logging.Logger
	token *cancel.Token

	done chan struct{}
}

// New constructs a Task ready to Run. The caller retains ownership of the
// returned Task only through the sched.Handle methods; Run must be started
// in its own goroutine.
func New(id string, paths []string, followSymlinks bool, st *store.Store, sink *events.Sink, log *logging.Logger) *Task {
	return &Task{
		ID:             id,
		Paths:          paths,
		FollowSymlinks: followSymlinks,
		store:          st,
		sink:           sink,
		log:            log.Component("sendtask"),
		token:          cancel.New(),
		done:           make(chan struct{}),
	}
}

// Done implements sched.Handle.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel implements sched.Handle.
func (t *Task) Cancel() { t.token.Cancel() }

// Run drives the task through every phase described in spec.md §4.3. It
// must be called exactly once, from its own goroutine, and emits exactly
// one terminal event before done closes, unless ctx is cancelled first, in
// which case it returns without one.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)
	start := time.Now()

	t.sink.Send(ctx, events.Preparing(t.ID, "Importing files..."))
	if t.token.IsCancelled() {
		t.sink.Send(ctx, events.Cancelled(t.ID))
		return
	}

	candidates, err := walkInputs(t.Paths, t.FollowSymlinks)
	if err != nil {
		t.fail(ctx, err)
		return
	}
	if len(candidates) == 0 {
		t.fail(ctx, errors.New("no files to send"))
		return
	}
	for _, c := range candidates {
		if err := validateName(c.Name); err != nil {
			t.fail(ctx, err)
			return
		}
	}

	imported, err := importCandidates(ctx, t.store, candidates)
	if err != nil {
		t.fail(ctx, err)
		return
	}
	sort.Slice(imported, func(i, j int) bool { return imported[i].name < imported[j].name })

	entries := make([]store.Entry, len(imported))
	tags := make([]*store.TempTag, len(imported))
	var totalSize int64
	for i, r := range imported {
		entries[i] = store.Entry{Name: r.name, Hash: r.hash, Size: r.size}
		tags[i] = r.tag
		totalSize += r.size
	}

	root, rootTag, err := t.store.StoreCollection(entries, tags)
	if err != nil {
		t.fail(ctx, err)
		return
	}
	defer rootTag.Release()

	if t.token.IsCancelled() {
		t.sink.Send(ctx, events.Cancelled(t.ID))
		return
	}

	t.sink.Send(ctx, events.Preparing(t.ID, "Creating endpoint..."))
	ep, err := transport.Bind(ctx)
	if err != nil {
		t.fail(ctx, err)
		return
	}
	defer ep.Close()

	t.sink.Send(ctx, events.Preparing(t.ID, "Joining relay network..."))
	onlineCtx, cancelOnline := context.WithTimeout(ctx, onlineWait)
	if err := ep.Online(onlineCtx, onlineWait); err != nil {
		t.log.Warn().Err(err).Str("id", t.ID).Msg("endpoint did not report an address before timeout; proceeding anyway")
	}
	cancelOnline()

	if t.token.IsCancelled() {
		t.sink.Send(ctx, events.Cancelled(t.ID))
		return
	}

	tok, err := ticket.Encode(ticket.New(root, ep.AddrInfo()))
	if err != nil {
		t.fail(ctx, err)
		return
	}
	t.sink.Send(ctx, events.TicketReady(t.ID, tok))
	t.sink.Send(ctx, events.Started(t.ID, t.displayName(), totalSize))
	t.sink.Send(ctx, events.Connecting(t.ID))

	// The receiver may need the collection in up to two requests (the
	// metadata blob, then every payload entry it doesn't already have),
	// each over its own stream. The sender only has one terminal event to
	// emit, so it tracks cumulative served blobs against the full
	// collection size rather than reacting to the first stream to finish.
	totalBlobs := int64(len(entries) + 1)
	var servedBlobs int64
	var transferred int64
	var connectedSent int32
	var progressMu sync.Mutex
	tracker := speed.New()
	doneCh := make(chan error, 1)
	var finishOnce sync.Once
	finish := func(err error) {
		finishOnce.Do(func() { doneCh <- err })
	}
	ep.Host.SetStreamHandler(transport.ProtocolID, func(s network.Stream) {
		defer s.Close()
		req, err := transport.ReadGetRequest(s)
		if err != nil {
			finish(fmt.Errorf("read get request: %w", err))
			return
		}
		src := transport.StoreSource{Store: t.store}
		err = transport.WriteBlobs(s, src, req.WantHashes, func(n int64) {
			progressMu.Lock()
			transferred += n
			tracker.AddSample(transferred)
			progressMu.Unlock()
			// The stream handler can fire before the WaitFirstConnection
			// goroutine observes the connection and the Connected event is
			// sent (spec.md §4.6 requires Progress only between Connected
			// and a terminal event); drop these best-effort samples until
			// Connected has gone out.
			if atomic.LoadInt32(&connectedSent) == 1 {
				t.sink.TrySend(events.Progress(t.ID, transferred, tracker.SpeedBPS()))
			}
		})
		if err != nil {
			finish(fmt.Errorf("serve blobs: %w", err))
			return
		}
		if atomic.AddInt64(&servedBlobs, int64(len(req.WantHashes))) >= totalBlobs {
			finish(nil)
		}
	})

	connectCtx, cancelConnect := context.WithCancel(ctx)
	connected := make(chan struct{})
	go func() {
		_, _ = ep.WaitFirstConnection(connectCtx)
		close(connected)
	}()

	select {
	case <-connected:
	case <-t.token.Done():
		cancelConnect()
		t.sink.Send(ctx, events.Cancelled(t.ID))
		return
	case <-ctx.Done():
		cancelConnect()
		return
	}
	cancelConnect()

	// Once a client has connected, its connection closing also ends the
	// transfer, even if not every blob was requested.
	ep.Host.Network().Notify(&network.NotifyBundle{
		DisconnectedF: func(n network.Network, _ network.Conn) {
			if len(n.Peers()) == 0 {
				finish(nil)
			}
		},
	})
	if len(ep.Host.Network().Peers()) == 0 {
		finish(nil)
	}

	// The sender cannot authoritatively classify its own transport; it
	// reports false optimistically and leaves real classification to the
	// receiver (spec.md §9).
	t.sink.Send(ctx, events.Connected(t.ID, false))
	atomic.StoreInt32(&connectedSent, 1)

	select {
	case err := <-doneCh:
		if err != nil {
			t.fail(ctx, err)
			return
		}
	case <-t.token.Done():
		t.sink.Send(ctx, events.Cancelled(t.ID))
		return
	case <-ctx.Done():
		return
	}

	t.sink.Send(ctx, events.Completed(t.ID, totalSize, time.Since(start)))
}

func (t *Task) displayName() string {
	if len(t.Paths) == 1 {
		return filepath.Base(t.Paths[0])
	}
	return fmt.Sprintf("%d items", len(t.Paths))
}

func (t *Task) fail(ctx context.Context, err error) {
	t.log.Error().Err(err).Str("id", t.ID).Msg("send task failed")
	t.sink.Send(ctx, events.Failed(t.ID, err))
}
