// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package timer implements a deadline-ordered timer service.
//
// An Instance owns a deadline-sorted list of entries and two
// goroutines. The main goroutine does nothing but track the nearest
// deadline and decide when to fire; it never calls a user callback
// directly. Instead serviceExpired hands the entry to a dispatcher
// goroutine through a spscqueue — the natural single-producer,
// single-consumer shape for a (callback, ctx, handle) record moving
// from exactly one writer to exactly one reader — so a slow or
// misbehaving callback can never stall the deadline-tracking loop.
// Entries themselves are allocated from a pool rather than the heap,
// bounding steady-state allocation to the configured pool budget.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/atomix"

	"github.com/cdi-go/kernel/kernelerr"
	"github.com/cdi-go/kernel/pool"
	"github.com/cdi-go/kernel/spscqueue"
	"github.com/cdi-go/kernel/waitset"
)

// Callback is invoked by the dispatcher goroutine once an entry's
// deadline has passed. handle is the same value add returned; the
// callback must not call Remove on its own handle (it has already
// fired and been unlinked).
type Callback func(handle Handle, ctx any)

type entry struct {
	deadline time.Time
	cb       Callback
	ctx      any
	linked   bool
	prev     Handle
	next     Handle
}

// Handle identifies a scheduled entry, returned by Add and consumed by
// Remove. Its zero value is not a valid handle.
type Handle = *pool.Item[entry]

type dispatchRecord struct {
	handle Handle
	cb     Callback
	ctx    any
}

// Instance is a single timer service: one deadline list, one entry
// pool, one dispatcher queue, two goroutines.
type Instance struct {
	name string

	mu   sync.Mutex
	head Handle
	tail Handle

	entries  *pool.Pool[entry]
	dispatch *spscqueue.Queue[dispatchRecord]

	goSig       *waitset.Signal
	stopSig     *waitset.Signal
	shutdownSig *waitset.Signal

	fired atomix.Uint64

	wg sync.WaitGroup
}

// New creates a timer instance and starts its main and dispatcher
// goroutines. poolInitial/poolGrow/poolMaxGrow size the entry pool;
// dispatchCapacity/dispatchGrow/dispatchMaxGrow size the dispatcher
// queue the same way. Call Close to stop both goroutines.
func New(name string, poolInitial, poolGrow, poolMaxGrow, dispatchCapacity, dispatchGrow, dispatchMaxGrow int) (*Instance, error) {
	entries, err := pool.New[entry](name+"-entries", poolInitial, poolGrow, poolMaxGrow, true, nil)
	if err != nil {
		return nil, fmt.Errorf("timer %q: %w", name, err)
	}
	dispatch, err := spscqueue.Create[dispatchRecord](name+"-dispatch", dispatchCapacity, dispatchGrow, dispatchMaxGrow, spscqueue.WakeBoth)
	if err != nil {
		return nil, fmt.Errorf("timer %q: %w", name, err)
	}

	inst := &Instance{
		name:        name,
		entries:     entries,
		dispatch:    dispatch,
		goSig:       waitset.New(),
		stopSig:     waitset.New(),
		shutdownSig: waitset.New(),
	}
	inst.wg.Add(2)
	go inst.mainLoop()
	go inst.dispatcherLoop()
	return inst, nil
}

// Name returns the instance's diagnostic name.
func (inst *Instance) Name() string { return inst.name }

// FiredCount reports how many callbacks the dispatcher has completed
// since the instance started.
func (inst *Instance) FiredCount() uint64 { return inst.fired.LoadAcquire() }

// Add schedules cb to run at deadline with ctx, returning a handle
// that can later be passed to Remove. Ordering among entries sharing a
// deadline is stable: later Add calls for the same deadline run after
// earlier ones.
func (inst *Instance) Add(deadline time.Time, cb Callback, ctx any) (Handle, error) {
	h, err := inst.entries.Get()
	if err != nil {
		return nil, fmt.Errorf("timer %q: add: %w", inst.name, err)
	}
	h.Value = entry{
		deadline: deadline,
		cb:       cb,
		ctx:      ctx,
		linked:   true,
	}

	inst.mu.Lock()
	inst.insertLocked(h)
	becameHead := inst.head == h
	wasEmpty := inst.head == h && inst.tail == h
	inst.mu.Unlock()

	// An empty list means the main loop is parked on go, not in a timed
	// wait, so go alone suffices; stop is only for shortening a sleep
	// already in progress against a previous head.
	if wasEmpty {
		inst.goSig.Set()
	} else if becameHead {
		inst.stopSig.Set()
	}
	return h, nil
}

// insertLocked walks from head to find the first entry with a
// strictly greater deadline and inserts before it, else appends at
// the tail. Caller holds mu.
func (inst *Instance) insertLocked(h Handle) {
	if inst.head == nil {
		h.Value.prev, h.Value.next = nil, nil
		inst.head, inst.tail = h, h
		return
	}
	cur := inst.head
	for cur != nil && !cur.Value.deadline.After(h.Value.deadline) {
		cur = cur.Value.next
	}
	if cur == nil {
		// append at tail
		h.Value.prev = inst.tail
		h.Value.next = nil
		inst.tail.Value.next = h
		inst.tail = h
		return
	}
	h.Value.next = cur
	h.Value.prev = cur.Value.prev
	if cur.Value.prev != nil {
		cur.Value.prev.Value.next = h
	} else {
		inst.head = h
	}
	cur.Value.prev = h
}

// unlinkLocked removes h from the list. Caller holds mu.
func (inst *Instance) unlinkLocked(h Handle) {
	if h.Value.prev != nil {
		h.Value.prev.Value.next = h.Value.next
	} else {
		inst.head = h.Value.next
	}
	if h.Value.next != nil {
		h.Value.next.Value.prev = h.Value.prev
	} else {
		inst.tail = h.Value.prev
	}
	h.Value.prev, h.Value.next = nil, nil
	h.Value.linked = false
}

// Remove cancels a scheduled entry. It succeeds if and only if the
// entry was still in the ordered list; an entry already handed to the
// dispatcher may still fire after Remove returns an error, so callers
// must treat callbacks as racing with cancellation and re-check
// idempotently. Removing a recycled handle is a caller error and
// returns ErrInvalidParameter rather than corrupting the list.
func (inst *Instance) Remove(h Handle) error {
	inst.mu.Lock()
	if !h.Value.linked {
		inst.mu.Unlock()
		return fmt.Errorf("timer %q: remove: %w", inst.name, kernelerr.ErrInvalidParameter)
	}
	isHead := inst.head == h
	inst.unlinkLocked(h)
	// Clear under the lock: a concurrent Add that re-populates the list
	// cannot interleave between the unlink and the Clear, so its Set is
	// never erased.
	if inst.head == nil {
		inst.goSig.Clear()
	}
	inst.mu.Unlock()

	if isHead {
		inst.stopSig.Set()
	}
	inst.entries.Put(h)
	return nil
}

func (inst *Instance) mainLoop() {
	defer inst.wg.Done()
	ctx := context.Background()
	for {
		idx, _ := waitset.WaitMany(ctx, 0, inst.shutdownSig, inst.goSig)
		if idx == 0 {
			return
		}

		inst.mu.Lock()
		if inst.head == nil {
			inst.goSig.Clear()
			inst.mu.Unlock()
			continue
		}
		deadline := inst.head.Value.deadline
		now := time.Now()
		if !deadline.After(now) {
			inst.mu.Unlock()
			inst.serviceExpired()
			continue
		}
		inst.mu.Unlock()

		idx2, _ := waitset.WaitMany(ctx, deadline.Sub(now), inst.shutdownSig, inst.stopSig)
		switch idx2 {
		case 0:
			return
		case 1:
			inst.stopSig.Clear()
		case waitset.TimeoutIndex:
			inst.serviceExpired()
		}
	}
}

// serviceExpired pops the current head under the list lock, then hands
// it to the dispatcher queue outside the lock. The pool slot is not
// recycled here: the dispatcher owns that until the callback returns.
func (inst *Instance) serviceExpired() {
	inst.mu.Lock()
	h := inst.head
	if h == nil {
		inst.mu.Unlock()
		return
	}
	inst.unlinkLocked(h)
	if inst.head == nil {
		inst.goSig.Clear()
	}
	inst.mu.Unlock()

	rec := dispatchRecord{handle: h, cb: h.Value.cb, ctx: h.Value.ctx}
	_, _ = inst.dispatch.PushWait(context.Background(), 0, &rec, inst.shutdownSig)
}

func (inst *Instance) dispatcherLoop() {
	defer inst.wg.Done()
	ctx := context.Background()
	for {
		var rec dispatchRecord
		idx, _ := inst.dispatch.PopWait(ctx, 0, &rec, inst.shutdownSig)
		if idx == 0 {
			return
		}
		if rec.cb != nil {
			rec.cb(rec.handle, rec.ctx)
		}
		inst.fired.AddAcqRel(1)
		inst.entries.Put(rec.handle)
	}
}

// Close signals shutdown and waits for both goroutines to exit. It
// does not fire or dispatch any entries still pending; callers that
// need pending callbacks to run should drain via Remove/Add discipline
// before calling Close.
func (inst *Instance) Close() error {
	inst.shutdownSig.Set()
	inst.wg.Wait()
	return nil
}
