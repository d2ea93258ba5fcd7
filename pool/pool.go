// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pool implements a fixed-capacity, growable object pool: a
// free-list/in-use-list pair with synchronous, chunked growth and an
// optional per-item init hook.
//
// An Item[T] plays the role a hidden slot header would in a manual
// allocator: the linkage lives in the Item wrapper, the payload is T,
// and there is no item-size parameter to thread through because the
// compiler already knows sizeof(T).
package pool

import (
	"fmt"
	"sync"

	"github.com/cdi-go/kernel/kernelerr"
)

// ErrExhausted is returned by Get when the free list is empty and
// growth is disabled, exhausted, or itself failed. It is not fatal:
// exhaustion is an operating condition the caller drops or retries on,
// never something that blocks or panics.
var ErrExhausted = fmt.Errorf("pool: exhausted: %w", kernelerr.ErrWouldBlock)

// Item is a pool slot: the value plus the bookkeeping needed to return
// it to the right pool.
type Item[T any] struct {
	Value T

	pool   *Pool[T]
	inUse  bool
	prev   *Item[T]
	next   *Item[T]
}

// InitFunc initializes a freshly grown slot. Returning an error aborts
// the rest of that growth chunk: a failed init means no slot from the
// chunk is linked in.
type InitFunc[T any] func(item *T) error

// Pool is a fixed-capacity, growable object pool.
//
// Every slot is in exactly one of {free list, in-use list, handed out}
// at any time; Destroy asserts the in-use list is empty.
type Pool[T any] struct {
	name string

	threadSafe bool
	mu         sync.Mutex

	growChunk     int
	maxGrowChunks int
	grownChunks   int
	initFn        InitFunc[T]

	all       []*Item[T]
	freeHead  *Item[T] // singly-linked free stack via next
	inUseHead *Item[T] // doubly-linked in-use list
	inUseLen  int
}

// New creates a pool with initial capacity items already allocated and
// initialized. Growth proceeds in chunks of growChunk items, up to
// maxGrowChunks additional chunks (0 disables growth). When
// threadSafe is true every mutating operation is serialized by an
// internal critical section; when false the caller certifies
// single-goroutine use and pays no locking cost.
func New[T any](name string, initial, growChunk, maxGrowChunks int, threadSafe bool, initFn InitFunc[T]) (*Pool[T], error) {
	if initial < 0 || growChunk < 0 || maxGrowChunks < 0 {
		return nil, fmt.Errorf("pool %q: %w", name, kernelerr.ErrInvalidParameter)
	}
	p := &Pool[T]{
		name:          name,
		threadSafe:    threadSafe,
		growChunk:     growChunk,
		maxGrowChunks: maxGrowChunks,
		initFn:        initFn,
	}
	if initial > 0 {
		if err := p.growBy(initial); err != nil {
			return nil, fmt.Errorf("pool %q: initial allocation: %w", name, err)
		}
		p.grownChunks = 0 // initial capacity does not count against maxGrowChunks
	}
	return p, nil
}

// Name returns the pool's diagnostic name.
func (p *Pool[T]) Name() string { return p.name }

func (p *Pool[T]) lock() {
	if p.threadSafe {
		p.mu.Lock()
	}
}

func (p *Pool[T]) unlock() {
	if p.threadSafe {
		p.mu.Unlock()
	}
}

// growBy allocates n new slots, runs initFn over each, and pushes them
// onto the free list. If initFn fails partway through, the slots
// allocated so far in this call are discarded (not linked into either
// list) and the error is returned — growth is all-or-nothing per call.
func (p *Pool[T]) growBy(n int) error {
	fresh := make([]*Item[T], 0, n)
	for i := 0; i < n; i++ {
		it := &Item[T]{pool: p}
		if p.initFn != nil {
			if err := p.initFn(&it.Value); err != nil {
				return fmt.Errorf("init slot %d/%d: %w", i+1, n, err)
			}
		}
		fresh = append(fresh, it)
	}
	for _, it := range fresh {
		it.next = p.freeHead
		p.freeHead = it
	}
	p.all = append(p.all, fresh...)
	return nil
}

// Get removes a slot from the free list, growing the pool first if the
// free list is empty and growth budget remains. Returns ErrExhausted
// (not a fatal error) if no slot could be produced.
func (p *Pool[T]) Get() (*Item[T], error) {
	p.lock()
	defer p.unlock()

	if p.freeHead == nil {
		if p.grownChunks >= p.maxGrowChunks || p.growChunk == 0 {
			return nil, ErrExhausted
		}
		if err := p.growBy(p.growChunk); err != nil {
			return nil, fmt.Errorf("pool %q: grow: %w: %w", p.name, err, ErrExhausted)
		}
		p.grownChunks++
	}

	it := p.freeHead
	p.freeHead = it.next
	it.next = nil

	it.inUse = true
	it.next = p.inUseHead
	if p.inUseHead != nil {
		p.inUseHead.prev = it
	}
	p.inUseHead = it
	p.inUseLen++

	return it, nil
}

// Put returns a slot to the free list. Putting a slot that is not
// currently in use is a caller error and is a no-op: an extra Put must
// not corrupt the lists.
func (p *Pool[T]) Put(item *Item[T]) {
	if item == nil {
		return
	}
	p.lock()
	defer p.unlock()
	p.putLocked(item)
}

func (p *Pool[T]) putLocked(item *Item[T]) {
	if !item.inUse {
		return
	}
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		p.inUseHead = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	}
	item.prev = nil
	item.inUse = false
	p.inUseLen--

	item.next = p.freeHead
	p.freeHead = item
}

// PutAll forces every in-use slot back to the free list. Intended for
// teardown and error recovery, not steady-state operation: it does not
// check that outstanding holders have finished with their slots.
func (p *Pool[T]) PutAll() {
	p.lock()
	defer p.unlock()
	for p.inUseHead != nil {
		p.putLocked(p.inUseHead)
	}
}

// PeekInUse returns the most recently handed-out slot without removing
// it from the in-use list, for diagnostics. ok is false if nothing is
// in use.
func (p *Pool[T]) PeekInUse() (item *Item[T], ok bool) {
	p.lock()
	defer p.unlock()
	if p.inUseHead == nil {
		return nil, false
	}
	return p.inUseHead, true
}

// ForEach invokes fn for every slot the pool owns, free or in use, in
// unspecified order. fn must not call Get/Put/Destroy on p.
func (p *Pool[T]) ForEach(fn func(item *Item[T])) {
	p.lock()
	defer p.unlock()
	for _, it := range p.all {
		fn(it)
	}
}

// InUseCount reports how many slots are currently handed out.
func (p *Pool[T]) InUseCount() int {
	p.lock()
	defer p.unlock()
	return p.inUseLen
}

// Cap reports the total number of slots the pool currently owns
// (free + in use), i.e. initial capacity plus everything grown so far.
func (p *Pool[T]) Cap() int {
	p.lock()
	defer p.unlock()
	return len(p.all)
}

// Destroy releases the pool. It is a programmer error, reported as
// fatal, to destroy a pool with outstanding (in-use) slots; callers
// must Put every slot they are holding first.
func (p *Pool[T]) Destroy() error {
	p.lock()
	defer p.unlock()
	if p.inUseLen != 0 {
		return fmt.Errorf("pool %q: destroy with %d outstanding slots: %w", p.name, p.inUseLen, kernelerr.ErrFatal)
	}
	p.all = nil
	p.freeHead = nil
	p.inUseHead = nil
	return nil
}
