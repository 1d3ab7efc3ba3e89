// Package receivetask implements the Receive Task (spec.md §4.4): binding
// a fresh endpoint per receive, connecting to a ticket's peer, fetching and
// verifying the collection, resolving filesystem conflicts, and exporting
// every entry to the output directory.
package receivetask

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/MrBloodrune/tuit/internal/cancel"
	"github.com/MrBloodrune/tuit/internal/events"
	"github.com/MrBloodrune/tuit/internal/logging"
	"github.com/MrBloodrune/tuit/internal/speed"
	"github.com/MrBloodrune/tuit/internal/store"
	"github.com/MrBloodrune/tuit/internal/ticket"
	"github.com/MrBloodrune/tuit/internal/transport"
)

// connectTimeout bounds the initial connect to the ticket's peer
// (spec.md §4.4 step 1, §5).
const connectTimeout = 30 * time.Second

// diskSpaceMargin is the fixed headroom spec.md §4.4 step 3 requires on
// top of the payload size.
const diskSpaceMargin = 1 << 30 // 1 GiB

// Task is one in-progress download.
type Task struct {
	ID        string
	Ticket    ticket.Ticket
	OutputDir string

	store    *store.Store
	sink     *events.Sink
	log      *logging.Logger
	token    *cancel.Token
	resolver *events.ConflictResolver

	done chan struct{}
}

// New constructs a Task ready to Run.
func New(id string, tk ticket.Ticket, outputDir string, st *store.Store, sink *events.Sink, log *logging.Logger, resolver *events.ConflictResolver) *Task {
	return &Task{
		ID:        id,
		Ticket:    tk,
		OutputDir: outputDir,
		store:     st,
		sink:      sink,
		log:       log.Component("receivetask"),
		token:     cancel.New(),
		resolver:  resolver,
		done:      make(chan struct{}),
	}
}

// Done implements sched.Handle.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel implements sched.Handle.
func (t *Task) Cancel() { t.token.Cancel() }

// Run drives the task through every phase in spec.md §4.4. It must be
// called exactly once, from its own goroutine.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)
	start := time.Now()
	var exportedFiles []string

	cleanupPartial := func() {
		for _, p := range exportedFiles {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				t.log.Warn().Err(err).Str("path", p).Msg("failed to remove partial file during cancellation")
			}
		}
	}

	t.sink.Send(ctx, events.Preparing(t.ID, "Creating endpoint..."))
	ep, err := transport.Bind(ctx)
	if err != nil {
		t.fail(ctx, err)
		return
	}
	defer ep.Close()

	t.sink.Send(ctx, events.Connecting(t.ID))
	if err := ep.Connect(ctx, t.Ticket.Peer, connectTimeout); err != nil {
		t.fail(ctx, err)
		return
	}
	if t.token.IsCancelled() {
		t.sink.Send(ctx, events.Cancelled(t.ID))
		return
	}

	isRelay := ep.IsRelayed(t.Ticket.Peer.ID)
	t.sink.Send(ctx, events.Connected(t.ID, isRelay))

	root := t.Ticket.Hash
	if has, err := t.store.Has(root); err != nil {
		t.fail(ctx, err)
		return
	} else if !has {
		if err := t.fetch(ctx, ep, []string{root.String()}, nil); err != nil {
			t.fail(ctx, err)
			return
		}
	}

	coll, err := t.store.LoadCollection(root)
	if err != nil {
		t.fail(ctx, err)
		return
	}
	var payloadSize int64
	for _, e := range coll.Entries {
		payloadSize += e.Size
	}

	if err := os.MkdirAll(t.OutputDir, 0o755); err != nil {
		t.fail(ctx, err)
		return
	}
	if free, err := availableBytes(t.OutputDir); err == nil {
		required := payloadSize + diskSpaceMargin
		if free < required {
			t.fail(ctx, fmt.Errorf("insufficient disk space: need %s, have %s", humanSize(required), humanSize(free)))
			return
		}
	}

	files := make([]events.FileEntry, len(coll.Entries))
	for i, e := range coll.Entries {
		files[i] = events.FileEntry{Name: path.Base(e.Name), Size: e.Size}
	}
	t.sink.Send(ctx, events.FileList(t.ID, files))

	destPaths := make([]string, len(coll.Entries))
	var conflicts []events.Conflict
	for i, e := range coll.Entries {
		dest, err := sanitizePath(t.OutputDir, e.Name)
		if err != nil {
			t.fail(ctx, err)
			return
		}
		destPaths[i] = dest
		if _, err := os.Stat(dest); err == nil {
			conflicts = append(conflicts, events.Conflict{Name: e.Name, ExistingPath: dest})
		}
	}

	// Fetch every payload blob the store doesn't already have in a single
	// batched request rather than one stream per entry: the sender serves
	// a get-request's hashes back to back on one stream, so this keeps the
	// sender's job of recognizing "transfer complete" a single event
	// instead of one per file.
	var missing []string
	for _, e := range coll.Entries {
		if has, err := t.store.Has(e.Hash); err != nil {
			t.fail(ctx, err)
			return
		} else if !has {
			missing = append(missing, e.Hash.String())
		}
	}
	if len(missing) > 0 {
		if err := t.fetch(ctx, ep, missing, nil); err != nil {
			t.fail(ctx, err)
			return
		}
	}

	resolution := events.ResolveRename
	if len(conflicts) > 0 {
		t.sink.Send(ctx, events.FileConflicts(t.ID, conflicts, payloadSize))
		select {
		case res, ok := <-t.resolver.Chan():
			if !ok {
				t.sink.Send(ctx, events.Cancelled(t.ID))
				return
			}
			resolution = res
		case <-t.token.Done():
			t.sink.Send(ctx, events.Cancelled(t.ID))
			return
		case <-ctx.Done():
			return
		}
	}
	if resolution == events.ResolveCancel {
		t.sink.Send(ctx, events.Cancelled(t.ID))
		return
	}

	t.sink.Send(ctx, events.Started(t.ID, displayName(coll.Entries), payloadSize))

	tracker := speed.New()
	var cumulativeBase int64
	for i, e := range coll.Entries {
		if t.token.IsCancelled() {
			cleanupPartial()
			t.sink.Send(ctx, events.Cancelled(t.ID))
			return
		}

		dest := destPaths[i]
		if _, err := os.Stat(dest); err == nil {
			switch resolution {
			case events.ResolveRename:
				renamed, err := renameCandidate(dest)
				if err != nil {
					t.fail(ctx, err)
					return
				}
				dest = renamed
			case events.ResolveOverwrite:
				if err := os.Remove(dest); err != nil {
					t.log.Warn().Err(err).Str("path", dest).Msg("failed to remove existing file before overwrite")
				}
			case events.ResolveSkip:
				cumulativeBase += e.Size
				continue
			}
		}

		// Track dest as in-progress before the export stream starts and drop
		// it again on clean completion, so exportedFiles only ever names the
		// partial file a cancellation (or error) should remove — never the
		// files already fully written (spec.md §4.4 step 11; receiver.rs:411,458
		// push the target before export and pop it after Done the same way).
		exportedFiles = append(exportedFiles, dest)
		base := cumulativeBase
		exportFailed := false
		cancelled := false
		for ev := range t.store.Export(e.Hash, dest) {
			if t.token.IsCancelled() {
				cancelled = true
				break
			}
			switch ev.Kind {
			case store.ExportProgress:
				transferred := base + ev.Offset
				tracker.AddSample(transferred)
				t.sink.TrySend(events.Progress(t.ID, transferred, tracker.SpeedBPS()))
			case store.ExportError:
				t.fail(ctx, ev.Err)
				exportFailed = true
			case store.ExportDone:
				exportedFiles = exportedFiles[:len(exportedFiles)-1]
				cumulativeBase = base + e.Size
			}
		}
		if cancelled {
			cleanupPartial()
			t.sink.Send(ctx, events.Cancelled(t.ID))
			return
		}
		if exportFailed {
			cleanupPartial()
			return
		}
	}

	t.sink.Send(ctx, events.Completed(t.ID, payloadSize, time.Since(start)))
}

// fetch requests hashes over a fresh stream to the ticket's peer and
// writes the results into the store. A new stream is opened per request
// since the sender's protocol handler serves exactly one get-request per
// stream (spec.md §4.3 step 7).
func (t *Task) fetch(ctx context.Context, ep *transport.Endpoint, hashes []string, onChunk func(int64)) error {
	s, err := ep.Host.NewStream(ctx, t.Ticket.Peer.ID, transport.ProtocolID)
	if err != nil {
		return fmt.Errorf("open fetch stream: %w", err)
	}
	defer s.Close()

	if err := transport.WriteGetRequest(s, transport.GetRequest{WantHashes: hashes}); err != nil {
		return err
	}
	sink := transport.StoreSink{Store: t.store}
	return transport.ReadBlobs(s, sink, hashes, onChunk, nil)
}

func (t *Task) fail(ctx context.Context, err error) {
	t.log.Error().Err(err).Str("id", t.ID).Msg("receive task failed")
	t.sink.Send(ctx, events.Failed(t.ID, err))
}

// displayName implements spec.md §4.4 step 8: the single entry's name, or
// the common top-level directory if every entry shares one, else "N files".
func displayName(entries []store.Entry) string {
	if len(entries) == 1 {
		return entries[0].Name
	}
	if top := commonTopLevelDir(entries); top != "" {
		return top
	}
	return fmt.Sprintf("%d files", len(entries))
}

func commonTopLevelDir(entries []store.Entry) string {
	var common string
	for i, e := range entries {
		idx := strings.IndexByte(e.Name, '/')
		if idx < 0 {
			return ""
		}
		dir := e.Name[:idx]
		if i == 0 {
			common = dir
		} else if dir != common {
			return ""
		}
	}
	return common
}
