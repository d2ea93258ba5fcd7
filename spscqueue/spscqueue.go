// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package spscqueue builds a blocking, growable circular queue on top
// of ring's lock-free engines.
//
// ring.SPSC/ring.MPSC give push and pop, full stop: no blocking, no
// growth, no notification. spscqueue adds all three: push_wait/pop_wait
// block on a waitset.Signal pair (notEmpty/notFull) instead of
// spinning, and growth swaps the underlying ring engine for a larger
// one under a write lock rather than relinking a free chain in place —
// a flat Go slice has no pointer-stable slots to relink, so the
// idiomatic substitute is reallocate-and-drain, done once per grow
// chunk rather than per push.
package spscqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cdi-go/kernel/kernelerr"
	"github.com/cdi-go/kernel/ring"
	"github.com/cdi-go/kernel/waitset"
)

// SignalMode selects which of push/pop wake the other side's waiters,
// OR'able with MultipleWriters.
type SignalMode uint8

const (
	SignalNone SignalMode = 0
	// WakeOnPush sets the not-empty signal on every successful push, so
	// pop_wait callers unblock.
	WakeOnPush SignalMode = 1 << 0
	// WakeOnPop sets the not-full signal on every successful pop, so
	// push_wait callers unblock.
	WakeOnPop SignalMode = 1 << 1
	WakeBoth  SignalMode = WakeOnPush | WakeOnPop
	// MultipleWriters activates the writer-side critical section
	// (selects ring's MPSC engine) while the consumer stays lock-free.
	MultipleWriters SignalMode = 1 << 2
)

// PushResult reports the outcome of a non-blocking Push.
type PushResult int

const (
	PushOK PushResult = iota
	PushFull
	PushGrew
)

// PopResult reports the outcome of a non-blocking Pop.
type PopResult int

const (
	PopOK PopResult = iota
	PopEmpty
)

// Success is returned as the abort index from PushWait/PopWait when the
// operation completed normally (no abort signal fired). It is distinct
// from waitset.TimeoutIndex and from any valid 0-based abort index.
const Success = -2

// Queue is a blocking, optionally growable circular queue.
type Queue[T any] struct {
	name string

	mu       sync.RWMutex // RLock for push/pop, Lock while swapping the engine during growth
	cur      ring.Queue[T]
	capacity int

	growChunk     int
	maxGrowChunks int
	grownChunks   int

	signalMode      SignalMode
	multipleWriters bool
	notEmpty        *waitset.Signal // set when push succeeds, cleared on observed-empty pop
	notFull         *waitset.Signal // set when pop succeeds, cleared on observed-full push
}

// Create builds a queue with the given initial capacity, which must be
// at least 2 (ring's minimum); a smaller capacity returns
// ErrInvalidParameter. growChunk and
// maxGrowChunks bound how far Push/PushWait may grow the queue (0, 0
// disables growth). signalMode selects which waiters get woken and
// whether the write side is safe for multiple concurrent producers.
func Create[T any](name string, capacity, growChunk, maxGrowChunks int, signalMode SignalMode) (*Queue[T], error) {
	if capacity < 2 {
		return nil, fmt.Errorf("spscqueue %q: %w", name, kernelerr.ErrInvalidParameter)
	}
	b := ring.New(capacity)
	multipleWriters := signalMode&MultipleWriters != 0
	if multipleWriters {
		b = b.MultipleWriters()
	}
	q := &Queue[T]{
		name:            name,
		cur:             ring.Build[T](b),
		capacity:        capacity,
		growChunk:       growChunk,
		maxGrowChunks:   maxGrowChunks,
		signalMode:      signalMode &^ MultipleWriters,
		multipleWriters: multipleWriters,
	}
	if signalMode&WakeOnPush != 0 {
		q.notEmpty = waitset.New()
	}
	if signalMode&WakeOnPop != 0 {
		q.notFull = waitset.New()
	}
	return q, nil
}

// Name returns the queue's diagnostic name.
func (q *Queue[T]) Name() string { return q.name }

// Cap returns the queue's nominal capacity: the capacity given to
// Create plus growChunk for every grow so far. The ring engine rounds
// that up to a power of two, so the queue can hold more items than Cap
// reports (capacity 3 holds 4).
func (q *Queue[T]) Cap() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.capacity
}

// Push attempts a non-blocking enqueue, growing the queue first if it
// is full and growth budget remains.
func (q *Queue[T]) Push(item *T) (PushResult, error) {
	q.mu.RLock()
	err := q.cur.Enqueue(item)
	q.mu.RUnlock()
	if err == nil {
		q.signalPushed()
		return PushOK, nil
	}
	if !kernelerr.IsWouldBlock(err) {
		return PushFull, err
	}

	grew, growErr := q.tryGrow()
	if growErr != nil {
		return PushFull, fmt.Errorf("spscqueue %q: grow: %w", q.name, growErr)
	}
	if !grew {
		return PushFull, err
	}

	q.mu.RLock()
	err = q.cur.Enqueue(item)
	q.mu.RUnlock()
	if err != nil {
		// Growth just happened and should have made room; a second
		// failure means something else filled it in the interim.
		return PushFull, err
	}
	q.signalPushed()
	return PushGrew, nil
}

// Pop attempts a non-blocking dequeue.
func (q *Queue[T]) Pop(out *T) (PopResult, error) {
	q.mu.RLock()
	v, err := q.cur.Dequeue()
	q.mu.RUnlock()
	if err != nil {
		return PopEmpty, err
	}
	*out = v
	q.signalPopped()
	return PopOK, nil
}

func (q *Queue[T]) signalPushed() {
	if q.notEmpty != nil {
		q.notEmpty.Set()
	}
}

func (q *Queue[T]) signalPopped() {
	if q.notFull != nil {
		q.notFull.Set()
	}
	if q.notEmpty != nil && q.IsEmpty() {
		q.notEmpty.Clear()
	}
}

// tryGrow adds growChunk capacity if growth is configured and budget
// remains. It re-creates the underlying ring engine at the larger
// capacity and drains the old one into the new one in order, which is
// the flat-slice equivalent of relinking a free chain at the write
// cursor: every currently queued item survives at the same relative
// position, nothing is reordered or dropped.
func (q *Queue[T]) tryGrow() (grew bool, err error) {
	if q.growChunk <= 0 {
		return false, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.grownChunks >= q.maxGrowChunks {
		return false, nil
	}

	newCap := q.capacity + q.growChunk
	b := ring.New(newCap)
	if q.multipleWriters {
		b = b.MultipleWriters()
	}
	next := ring.Build[T](b)
	for {
		v, derr := q.cur.Dequeue()
		if derr != nil {
			break
		}
		if eerr := next.Enqueue(&v); eerr != nil {
			return false, fmt.Errorf("spscqueue %q: grow: new capacity %d could not hold drained items: %w", q.name, newCap, eerr)
		}
	}
	q.cur = next
	q.capacity = newCap
	q.grownChunks++
	return true, nil
}

// PushWait blocks until item is pushed, an abort signal fires, ctx
// ends, or timeout elapses. Requires the queue to have been created
// with WakeOnPop (the signal push_wait blocks on). Returns Success and
// nil on a successful push; the 0-based index into aborts if an abort
// signal fired; or waitset.TimeoutIndex with the wait's error if ctx
// ended or the timeout elapsed.
func (q *Queue[T]) PushWait(ctx context.Context, timeout time.Duration, item *T, aborts ...*waitset.Signal) (int, error) {
	if q.notFull == nil {
		return Success, fmt.Errorf("spscqueue %q: push_wait requires WakeOnPop: %w", q.name, kernelerr.ErrInvalidParameter)
	}
	for {
		res, err := q.Push(item)
		if res == PushOK || res == PushGrew {
			return Success, nil
		}
		if !kernelerr.IsWouldBlock(err) {
			return Success, err
		}

		// Clear, then poll once more before sleeping: a pop that lands
		// between the failed push above and the Clear would otherwise
		// take its Set with it and leave us waiting on a queue with room.
		q.notFull.Clear()
		res, err = q.Push(item)
		if res == PushOK || res == PushGrew {
			return Success, nil
		}
		if !kernelerr.IsWouldBlock(err) {
			return Success, err
		}

		signals := make([]*waitset.Signal, 0, len(aborts)+1)
		signals = append(signals, aborts...)
		signals = append(signals, q.notFull)

		idx, werr := waitset.WaitMany(ctx, timeout, signals...)
		switch {
		case idx == len(aborts):
			continue // notFull fired: retry the push
		case idx == waitset.TimeoutIndex:
			return waitset.TimeoutIndex, werr
		default:
			return idx, nil
		}
	}
}

// PopWait blocks until an item is popped into out, an abort signal
// fires, ctx ends, or timeout elapses. Requires the queue to have been
// created with WakeOnPush. Return semantics mirror PushWait.
func (q *Queue[T]) PopWait(ctx context.Context, timeout time.Duration, out *T, aborts ...*waitset.Signal) (int, error) {
	if q.notEmpty == nil {
		return Success, fmt.Errorf("spscqueue %q: pop_wait requires WakeOnPush: %w", q.name, kernelerr.ErrInvalidParameter)
	}
	for {
		res, err := q.Pop(out)
		if res == PopOK {
			return Success, nil
		}
		if !kernelerr.IsWouldBlock(err) {
			return Success, err
		}

		// Same clear-then-repoll discipline as PushWait, against a push
		// whose Set raced with the Clear.
		q.notEmpty.Clear()
		res, err = q.Pop(out)
		if res == PopOK {
			return Success, nil
		}
		if !kernelerr.IsWouldBlock(err) {
			return Success, err
		}

		signals := make([]*waitset.Signal, 0, len(aborts)+1)
		signals = append(signals, aborts...)
		signals = append(signals, q.notEmpty)

		idx, werr := waitset.WaitMany(ctx, timeout, signals...)
		switch {
		case idx == len(aborts):
			continue // notEmpty fired: retry the pop
		case idx == waitset.TimeoutIndex:
			return waitset.TimeoutIndex, werr
		default:
			return idx, nil
		}
	}
}

// Flush discards every currently queued item without delivering it.
func (q *Queue[T]) Flush() {
	q.mu.Lock()
	for {
		if _, err := q.cur.Dequeue(); err != nil {
			break
		}
	}
	q.mu.Unlock()
	if q.notEmpty != nil {
		q.notEmpty.Clear()
	}
	if q.notFull != nil {
		q.notFull.Set()
	}
}

// IsEmpty reports a best-effort emptiness snapshot.
func (q *Queue[T]) IsEmpty() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.cur.(ring.Emptier).IsEmpty()
}

// Destroy releases the queue. Go's GC reclaims the backing buffer once
// the last reference drops; Destroy's job is to stop delivering to
// anyone still waiting on its signals. The caller certifies no further
// pushes will be attempted, which Destroy relays to engines that can
// use the hint.
func (q *Queue[T]) Destroy() error {
	q.mu.RLock()
	if d, ok := q.cur.(ring.Drainer); ok {
		d.Drain()
	}
	q.mu.RUnlock()
	q.Flush()
	return nil
}
