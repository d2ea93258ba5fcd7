// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fifo implements a bounded FIFO with an overflow callback
// that lets the producer fold a rejected item into the oldest queued
// one instead of blocking.
//
// Unlike spscqueue, this is not a growable ring: it is a two-lock
// linked queue (Michael & Scott's classic concurrent-queue shape) with
// a dummy head node so the enqueue and dequeue ends can be locked
// independently. Push takes the writer lock for the
// whole call and, only when full, additionally takes the reader lock
// just long enough to hand the registered callback a consistent view
// of both ends plus the item that didn't fit.
package fifo

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cdi-go/kernel/kernelerr"
)

// FullFunc is invoked when Push finds the FIFO at capacity. headItem is
// the most recently written item (nil if the FIFO is empty), tailItem
// is the next item that would be popped (nil if empty), and newItem is
// the item that could not be enqueued. The callback may mutate
// *tailItem in place — the documented use is folding the new item's
// data into the item about to be delivered — after which newItem is
// always discarded.
type FullFunc[T any] func(headItem, tailItem, newItem *T)

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// FIFO is a bounded, two-lock concurrent queue with overflow handling.
type FIFO[T any] struct {
	name     string
	capacity int64
	count    atomic.Int64
	fullFn   FullFunc[T]

	headMu sync.Mutex // serializes pop-side access (reader lock)
	head   *node[T]   // dummy; head.next is the next item to pop

	tailMu sync.Mutex // serializes push-side access (writer lock)
	tail   *node[T]   // last real node, or == head when empty
}

// New creates a bounded FIFO of the given capacity. fullFn may be nil,
// in which case Push on a full FIFO simply reports ErrWouldBlock
// without giving the caller a chance to absorb the new item.
func New[T any](name string, capacity int, fullFn FullFunc[T]) (*FIFO[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("fifo %q: %w", name, kernelerr.ErrInvalidParameter)
	}
	dummy := &node[T]{}
	return &FIFO[T]{
		name:     name,
		capacity: int64(capacity),
		fullFn:   fullFn,
		head:     dummy,
		tail:     dummy,
	}, nil
}

// Name returns the FIFO's diagnostic name.
func (f *FIFO[T]) Name() string { return f.name }

// Cap returns the FIFO's fixed capacity.
func (f *FIFO[T]) Cap() int { return int(f.capacity) }

// Push enqueues item. If the FIFO is full and a FullFunc is
// registered, the callback runs under the reader lock with a pinned
// view of both ends, and item is discarded regardless of what the
// callback does. Either way a full FIFO returns ErrWouldBlock.
func (f *FIFO[T]) Push(item *T) error {
	f.tailMu.Lock()
	defer f.tailMu.Unlock()

	if f.count.Load() >= f.capacity {
		if f.fullFn != nil {
			f.headMu.Lock()
			var headItem, tailItem *T
			if f.tail != f.head {
				headItem = &f.tail.value
			}
			if next := f.head.next.Load(); next != nil {
				tailItem = &next.value
			}
			f.fullFn(headItem, tailItem, item)
			f.headMu.Unlock()
		}
		return fmt.Errorf("fifo %q: %w", f.name, kernelerr.ErrWouldBlock)
	}

	n := &node[T]{value: *item}
	f.tail.next.Store(n)
	f.tail = n
	f.count.Add(1)
	return nil
}

// Pop removes and returns the oldest item. Returns ErrWouldBlock if the
// FIFO is empty.
func (f *FIFO[T]) Pop(out *T) error {
	f.headMu.Lock()
	defer f.headMu.Unlock()

	next := f.head.next.Load()
	if next == nil {
		return fmt.Errorf("fifo %q: %w", f.name, kernelerr.ErrWouldBlock)
	}
	*out = next.value
	next.value = *new(T) // release references held by the popped slot
	f.head = next
	f.count.Add(-1)
	return nil
}

// IsEmpty reports a best-effort emptiness snapshot.
func (f *FIFO[T]) IsEmpty() bool {
	return f.count.Load() == 0
}

// Len reports the current best-effort item count. Unlike ring's
// deliberate omission of a length method, the FIFO's count is already
// maintained for the capacity check, so exposing it costs nothing
// extra.
func (f *FIFO[T]) Len() int {
	return int(f.count.Load())
}

// Destroy releases the FIFO. Go's GC reclaims the node chain once the
// last reference drops.
func (f *FIFO[T]) Destroy() error {
	f.headMu.Lock()
	f.tailMu.Lock()
	defer f.tailMu.Unlock()
	defer f.headMu.Unlock()
	dummy := &node[T]{}
	f.head = dummy
	f.tail = dummy
	f.count.Store(0)
	return nil
}
