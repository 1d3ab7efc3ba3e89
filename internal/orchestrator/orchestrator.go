// Package orchestrator implements the Transfer Orchestrator (spec.md
// §4.5): it owns the shared blob store, accepts commands from the outer
// application, schedules Send and Receive Tasks under per-direction
// concurrency limits with FIFO queues, and routes conflict resolutions to
// the receive task awaiting one. Its event loop follows the same
// select-with-idle-ticker shape the teacher uses in
// pkg/announce/aggregator.go's background refresh loop, generalized to
// two scheduling directions instead of one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrBloodrune/tuit/internal/events"
	"github.com/MrBloodrune/tuit/internal/logging"
	"github.com/MrBloodrune/tuit/internal/receivetask"
	"github.com/MrBloodrune/tuit/internal/sched"
	"github.com/MrBloodrune/tuit/internal/sendtask"
	"github.com/MrBloodrune/tuit/internal/store"
	"github.com/MrBloodrune/tuit/internal/ticket"
)

// idleTick is how often the loop reaps and promotes even without a
// command (spec.md §4.5 point 4).
const idleTick = 100 * time.Millisecond

// errDuplicateID is reported as a synthetic Failed event when a Send or
// Receive command names an id already active, active-queued, or queued
// in either direction (spec.md §9's open question, resolved: reject).
var errDuplicateID = errors.New("transfer id already in use")

type queuedSend struct {
	paths          []string
	followSymlinks bool
}

type queuedReceive struct {
	ticket    ticket.Ticket
	outputDir string
}

// Orchestrator is the long-lived scheduler. Construct with New, then run
// its loop exactly once via Run; submit commands through Commands().
type Orchestrator struct {
	store *store.Store
	sink  *events.Sink
	log   *logging.Logger

	cmdCh chan Command

	sendTable *sched.Table
	sendQueue *sched.Queue
	recvTable *sched.Table
	recvQueue *sched.Queue

	mu             sync.Mutex
	queuedSends    map[string]queuedSend
	queuedReceives map[string]queuedReceive
	resolvers      map[string]*events.ConflictResolver

	wg sync.WaitGroup
}

// New constructs an Orchestrator over an already-opened store. cmdBuffer
// sizes the bounded command channel (spec.md §4.5's "e.g. 32").
func New(st *store.Store, sink *events.Sink, log *logging.Logger, maxConcurrentSends, maxConcurrentReceives, cmdBuffer int) *Orchestrator {
	return &Orchestrator{
		store:          st,
		sink:           sink,
		log:            log.Component("orchestrator"),
		cmdCh:          make(chan Command, cmdBuffer),
		sendTable:      sched.NewTable(maxConcurrentSends),
		sendQueue:      sched.NewQueue(),
		recvTable:      sched.NewTable(maxConcurrentReceives),
		recvQueue:      sched.NewQueue(),
		queuedSends:    make(map[string]queuedSend),
		queuedReceives: make(map[string]queuedReceive),
		resolvers:      make(map[string]*events.ConflictResolver),
	}
}

// Commands returns the send side of the bounded command channel; the
// outer application awaits send on it (spec.md §4.5's back-pressure
// note), never try-send.
func (o *Orchestrator) Commands() chan<- Command { return o.cmdCh }

// Run drives the event loop until ctx is cancelled or a Shutdown command
// is processed. It blocks; callers start it in its own goroutine. Run
// waits for every task goroutine it started to finish before returning,
// so no event is lost by an early return.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()

	for {
		select {
		case cmd, ok := <-o.cmdCh:
			if !ok {
				o.shutdown(ctx)
				return
			}
			o.reapAndPromote(ctx)
			if cmd.Kind == CmdShutdown {
				o.shutdown(ctx)
				return
			}
			o.handle(ctx, cmd)

		case <-ticker.C:
			o.reapAndPromote(ctx)

		case <-ctx.Done():
			o.shutdown(ctx)
			return
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdSend:
		o.handleSend(ctx, cmd)
	case CmdReceive:
		o.handleReceive(ctx, cmd)
	case CmdResolveConflict:
		o.handleResolveConflict(cmd)
	case CmdCancel:
		o.handleCancel(ctx, cmd)
	}
}

// handleSend implements the Send row of spec.md §4.5's command table:
// start immediately if a slot is free, else enqueue.
func (o *Orchestrator) handleSend(ctx context.Context, cmd Command) {
	o.mu.Lock()
	if o.idInUseLocked(cmd.ID) {
		o.mu.Unlock()
		o.log.Warn().Str("id", cmd.ID).Msg("rejecting duplicate transfer id")
		o.sink.Send(ctx, events.Failed(cmd.ID, fmt.Errorf("%q: %w", cmd.ID, errDuplicateID)))
		return
	}

	if o.sendTable.HasRoom() {
		o.mu.Unlock()
		o.startSend(ctx, cmd.ID, cmd.Paths, cmd.FollowSymlinks)
		return
	}
	o.queuedSends[cmd.ID] = queuedSend{paths: cmd.Paths, followSymlinks: cmd.FollowSymlinks}
	pos := o.sendQueue.Push(cmd.ID)
	o.mu.Unlock()
	o.sink.Send(ctx, events.Queued(cmd.ID, pos))
}

// handleReceive mirrors handleSend, but first parses the ticket: a
// malformed ticket produces exactly one synthetic Failed record and no
// task (and no endpoint) is ever created (spec.md §7, §8 boundary
// behaviors).
func (o *Orchestrator) handleReceive(ctx context.Context, cmd Command) {
	tk, err := ticket.Decode(cmd.Ticket)
	if err != nil {
		o.sink.Send(ctx, events.Failed(cmd.ID, err))
		return
	}

	o.mu.Lock()
	if o.idInUseLocked(cmd.ID) {
		o.mu.Unlock()
		o.log.Warn().Str("id", cmd.ID).Msg("rejecting duplicate transfer id")
		o.sink.Send(ctx, events.Failed(cmd.ID, fmt.Errorf("%q: %w", cmd.ID, errDuplicateID)))
		return
	}

	if o.recvTable.HasRoom() {
		o.mu.Unlock()
		o.startReceive(ctx, cmd.ID, tk, cmd.OutputDir)
		return
	}
	o.queuedReceives[cmd.ID] = queuedReceive{ticket: tk, outputDir: cmd.OutputDir}
	pos := o.recvQueue.Push(cmd.ID)
	o.mu.Unlock()
	o.sink.Send(ctx, events.Queued(cmd.ID, pos))
}

// idInUseLocked reports whether id names an active, queued send or
// receive. Callers must hold o.mu. Duplicate ids are rejected outright
// (spec.md §9's open question, resolved: reject).
func (o *Orchestrator) idInUseLocked(id string) bool {
	if o.sendTable.Has(id) || o.recvTable.Has(id) {
		return true
	}
	if _, ok := o.queuedSends[id]; ok {
		return true
	}
	if _, ok := o.queuedReceives[id]; ok {
		return true
	}
	return false
}

func (o *Orchestrator) handleResolveConflict(cmd Command) {
	o.mu.Lock()
	r, ok := o.resolvers[cmd.ID]
	if ok {
		delete(o.resolvers, cmd.ID)
	}
	o.mu.Unlock()

	if !ok {
		o.log.Warn().Str("id", cmd.ID).Msg("resolve conflict for unknown or already-resolved id")
		return
	}
	r.Resolve(cmd.Resolution)
}

// handleCancel implements spec.md §4.5's Cancel row: drop a queued id
// immediately with a synthetic Cancelled, or fire the active task's
// token and drop its resolver if any.
func (o *Orchestrator) handleCancel(ctx context.Context, cmd Command) {
	o.mu.Lock()
	if o.sendQueue.Remove(cmd.ID) {
		delete(o.queuedSends, cmd.ID)
		o.mu.Unlock()
		o.sink.Send(ctx, events.Cancelled(cmd.ID))
		return
	}
	if o.recvQueue.Remove(cmd.ID) {
		delete(o.queuedReceives, cmd.ID)
		o.mu.Unlock()
		o.sink.Send(ctx, events.Cancelled(cmd.ID))
		return
	}

	var handle sched.Handle
	var ok bool
	if handle, ok = o.sendTable.Get(cmd.ID); !ok {
		handle, ok = o.recvTable.Get(cmd.ID)
	}
	resolver, hasResolver := o.resolvers[cmd.ID]
	if hasResolver {
		delete(o.resolvers, cmd.ID)
	}
	o.mu.Unlock()

	if !ok {
		o.log.Warn().Str("id", cmd.ID).Msg("cancel for unknown id")
		return
	}
	handle.Cancel()
	if hasResolver {
		resolver.Drop()
	}
}

// reapAndPromote performs spec.md §4.5 points 1 and 2: drop finished
// tasks (and their resolvers), then start queued tasks while slots are
// free, re-announcing queue positions after every promotion.
func (o *Orchestrator) reapAndPromote(ctx context.Context) {
	o.mu.Lock()
	o.sendTable.ReapFinished()
	finishedReceives := o.recvTable.ReapFinished()
	for _, id := range finishedReceives {
		delete(o.resolvers, id)
	}
	o.mu.Unlock()

	o.promoteSends(ctx)
	o.promoteReceives(ctx)
}

func (o *Orchestrator) promoteSends(ctx context.Context) {
	for {
		o.mu.Lock()
		if !o.sendTable.HasRoom() {
			o.mu.Unlock()
			return
		}
		id, ok := o.sendQueue.Pop()
		if !ok {
			o.mu.Unlock()
			return
		}
		q := o.queuedSends[id]
		delete(o.queuedSends, id)
		o.mu.Unlock()

		o.startSend(ctx, id, q.paths, q.followSymlinks)
		o.reannouncePositions(ctx, o.sendQueue)
	}
}

func (o *Orchestrator) promoteReceives(ctx context.Context) {
	for {
		o.mu.Lock()
		if !o.recvTable.HasRoom() {
			o.mu.Unlock()
			return
		}
		id, ok := o.recvQueue.Pop()
		if !ok {
			o.mu.Unlock()
			return
		}
		q := o.queuedReceives[id]
		delete(o.queuedReceives, id)
		o.mu.Unlock()

		o.startReceive(ctx, id, q.ticket, q.outputDir)
		o.reannouncePositions(ctx, o.recvQueue)
	}
}

func (o *Orchestrator) reannouncePositions(ctx context.Context, q *sched.Queue) {
	for _, ip := range q.Positions() {
		o.sink.Send(ctx, events.Queued(ip.ID, ip.Position))
	}
}

func (o *Orchestrator) startSend(ctx context.Context, id string, paths []string, followSymlinks bool) {
	task := sendtask.New(id, paths, followSymlinks, o.store, o.sink, o.log)

	o.mu.Lock()
	o.sendTable.Admit(id, task)
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		task.Run(ctx)
	}()
}

func (o *Orchestrator) startReceive(ctx context.Context, id string, tk ticket.Ticket, outputDir string) {
	resolver := events.NewConflictResolver()
	task := receivetask.New(id, tk, outputDir, o.store, o.sink, o.log, resolver)

	o.mu.Lock()
	o.recvTable.Admit(id, task)
	o.resolvers[id] = resolver
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		task.Run(ctx)
	}()
}

// shutdown implements spec.md §4.5's Shutdown row: fire every active
// token, drop every resolver, and wait for all task goroutines to finish
// emitting their terminal events before returning.
func (o *Orchestrator) shutdown(ctx context.Context) {
	o.mu.Lock()
	for _, id := range o.sendQueue.PopAll() {
		delete(o.queuedSends, id)
	}
	for _, id := range o.recvQueue.PopAll() {
		delete(o.queuedReceives, id)
	}
	o.sendTable.CancelAll()
	o.recvTable.CancelAll()
	for _, r := range o.resolvers {
		r.Drop()
	}
	o.resolvers = make(map[string]*events.ConflictResolver)
	o.mu.Unlock()

	o.wg.Wait()
}
