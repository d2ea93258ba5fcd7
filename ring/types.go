// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

// Queue is the combined producer-consumer interface for a FIFO ring queue.
//
// Queue provides non-blocking Enqueue and Dequeue operations. Both
// operations return ErrWouldBlock when they cannot proceed (queue full
// or empty). Blocking variants live one layer up, in spscqueue, which
// pairs a Queue with waitset signals.
type Queue[T any] interface {
	Producer[T]
	Consumer[T]
	Cap() int
}

// Producer is the interface for enqueueing elements.
//
// The element is passed by pointer to avoid copying large structs; the
// queue stores a copy of the pointed-to value, so the original can be
// modified after Enqueue returns.
type Producer[T any] interface {
	// Enqueue adds an element to the queue (non-blocking).
	// Returns nil on success, ErrWouldBlock if the queue is full.
	Enqueue(elem *T) error
}

// Consumer is the interface for dequeueing elements.
//
// The element is returned by value (copied from the queue's internal
// buffer); the original slot is cleared so the GC can reclaim anything
// it referenced.
type Consumer[T any] interface {
	// Dequeue removes and returns an element (non-blocking).
	// Returns (zero-value, ErrWouldBlock) if the queue is empty.
	Dequeue() (T, error)
}

// Emptier reports a best-effort emptiness snapshot. Both SPSC and MPSC
// implement it; spscqueue type-asserts for it the same way it does for
// Drainer.
type Emptier interface {
	// IsEmpty reports whether the queue held no elements at the moment
	// of the call. The result can be stale by the time the caller acts
	// on it.
	IsEmpty() bool
}

// Drainer signals that no more enqueues will occur.
//
// MPSC implements this interface; SPSC does not, since it has no
// producer-side threshold mechanism to relax. Use a type assertion to
// discover support, as spscqueue does on Destroy.
type Drainer interface {
	// Drain is a hint: the caller must ensure no further Enqueue will be
	// attempted after calling Drain. MPSC records the hint only; its
	// Enqueue and Dequeue behave the same before and after Drain.
	Drain()
}
