// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package delaybuffer implements the receive delay buffer: it holds
// arriving payloads until their presentation timestamp, translated
// through a recalibrating clock offset, says they are due, then
// forwards them to an output queue in send-time order.
//
// Arrivals enter through an input queue and leave through an output
// queue; everything in between — the clock-offset recalibration, the
// ordered delay list, and all forwarding — happens on one drain
// goroutine. The list therefore needs no lock, and the output queue
// keeps a single producer, so both queues stay on the plain SPSC
// engine. The drain goroutine sleeps on a blocking input read with a
// timeout computed from the nearest send time, the same
// single-thread, computed-timeout discipline timer's main loop uses
// against a different ordering key.
package delaybuffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cdi-go/kernel/kernelerr"
	"github.com/cdi-go/kernel/pool"
	"github.com/cdi-go/kernel/spscqueue"
	"github.com/cdi-go/kernel/waitset"
)

// FreeFunc is invoked with a payload's value when it could not be
// delivered — the output queue rejected it, the entry pool was
// exhausted, or the input queue was full — so the caller can release
// whatever buffer that value owns.
type FreeFunc[T any] func(value T)

// arrival is one queued input record: the payload plus its
// presentation timestamp, carried to the drain goroutine untouched.
type arrival[T any] struct {
	ts    int64
	value T
}

type delayEntry[T any] struct {
	value    T
	sendTime time.Time
	prev     *pool.Item[delayEntry[T]]
	next     *pool.Item[delayEntry[T]]
}

// Buffer is a single receive delay buffer instance.
type Buffer[T any] struct {
	name string

	d         time.Duration
	maxMissed int

	input   *spscqueue.Queue[arrival[T]]
	output  *spscqueue.Queue[T]
	entries *pool.Pool[delayEntry[T]]
	freeFn  FreeFunc[T]

	// Owned by the drain goroutine; never touched from Push.
	tOffsetUS   int64
	missedCount int
	head        *pool.Item[delayEntry[T]]
	tail        *pool.Item[delayEntry[T]]

	shutdownSig *waitset.Signal
	wg          sync.WaitGroup
}

// New creates a receive delay buffer and starts its drain goroutine.
// d is the configured delay; maxMissed bounds how many consecutive
// out-of-window arrivals are tolerated before the clock offset is
// reset from scratch. The pool sizing parameters configure the entry
// pool and also size the input queue (an arrival occupies at most one
// list entry, so the two share a budget); the output parameters
// configure the output spscqueue the same way its own package does.
func New[T any](name string, d time.Duration, maxMissed int, poolInitial, poolGrow, poolMaxGrow, outputCapacity, outputGrow, outputMaxGrow int, freeFn FreeFunc[T]) (*Buffer[T], error) {
	if d <= 0 || maxMissed < 1 {
		return nil, fmt.Errorf("delaybuffer %q: %w", name, kernelerr.ErrInvalidParameter)
	}
	entries, err := pool.New[delayEntry[T]](name+"-entries", poolInitial, poolGrow, poolMaxGrow, true, nil)
	if err != nil {
		return nil, fmt.Errorf("delaybuffer %q: %w", name, err)
	}
	input, err := spscqueue.Create[arrival[T]](name+"-input", poolInitial, poolGrow, poolMaxGrow, spscqueue.WakeOnPush)
	if err != nil {
		return nil, fmt.Errorf("delaybuffer %q: %w", name, err)
	}
	output, err := spscqueue.Create[T](name+"-output", outputCapacity, outputGrow, outputMaxGrow, spscqueue.WakeBoth)
	if err != nil {
		return nil, fmt.Errorf("delaybuffer %q: %w", name, err)
	}

	b := &Buffer[T]{
		name:        name,
		d:           d,
		maxMissed:   maxMissed,
		input:       input,
		output:      output,
		entries:     entries,
		freeFn:      freeFn,
		shutdownSig: waitset.New(),
	}
	b.wg.Add(1)
	go b.drainLoop()
	return b, nil
}

// Name returns the buffer's diagnostic name.
func (b *Buffer[T]) Name() string { return b.name }

// Output returns the queue payloads are forwarded to once due.
func (b *Buffer[T]) Output() *spscqueue.Queue[T] { return b.output }

// Push admits an arriving payload with presentation timestamp ts
// (microseconds) by handing it to the drain goroutine through the
// input queue; recalibration, ordering, and forwarding all happen
// over there. A full input queue drops the payload through the
// registered FreeFunc; the caller should treat the returned error as
// a critical, logged condition, not a retryable one.
func (b *Buffer[T]) Push(ts int64, value T) error {
	rec := arrival[T]{ts: ts, value: value}
	if _, err := b.input.Push(&rec); err != nil {
		if b.freeFn != nil {
			b.freeFn(value)
		}
		return fmt.Errorf("delaybuffer %q: input queue full, payload dropped: %w", b.name, err)
	}
	return nil
}

// admit runs the clock-offset recalibration for one arrival and either
// forwards it immediately (already due) or inserts it into the delay
// list at its computed send time. A pool exhaustion drops the payload
// through the FreeFunc rather than blocking the pipeline. Drain
// goroutine only.
func (b *Buffer[T]) admit(rec arrival[T], dUS int64) {
	nowUS := time.Now().UnixMicro()
	switch {
	case b.missedCount >= b.maxMissed:
		b.tOffsetUS = nowUS - rec.ts
		b.missedCount = 0
	case b.tOffsetUS+rec.ts < nowUS-dUS || b.tOffsetUS+rec.ts > nowUS:
		b.missedCount++
	default:
		b.missedCount = 0
	}
	sendUS := rec.ts + dUS + b.tOffsetUS

	if sendUS <= nowUS {
		b.forward(rec.value)
		return
	}

	if maxUS := nowUS + dUS; sendUS > maxUS {
		sendUS = maxUS
	}

	item, err := b.entries.Get()
	if err != nil {
		if b.freeFn != nil {
			b.freeFn(rec.value)
		}
		return
	}
	item.Value = delayEntry[T]{value: rec.value, sendTime: time.UnixMicro(sendUS)}
	b.insertSorted(item)
}

func (b *Buffer[T]) insertSorted(item *pool.Item[delayEntry[T]]) {
	if b.head == nil {
		item.Value.prev, item.Value.next = nil, nil
		b.head, b.tail = item, item
		return
	}
	cur := b.head
	for cur != nil && !cur.Value.sendTime.After(item.Value.sendTime) {
		cur = cur.Value.next
	}
	if cur == nil {
		item.Value.prev = b.tail
		item.Value.next = nil
		b.tail.Value.next = item
		b.tail = item
		return
	}
	item.Value.next = cur
	item.Value.prev = cur.Value.prev
	if cur.Value.prev != nil {
		cur.Value.prev.Value.next = item
	} else {
		b.head = item
	}
	cur.Value.prev = item
}

func (b *Buffer[T]) unlink(item *pool.Item[delayEntry[T]]) {
	if item.Value.prev != nil {
		item.Value.prev.Value.next = item.Value.next
	} else {
		b.head = item.Value.next
	}
	if item.Value.next != nil {
		item.Value.next.Value.prev = item.Value.prev
	} else {
		b.tail = item.Value.prev
	}
	item.Value.prev, item.Value.next = nil, nil
}

func (b *Buffer[T]) forward(value T) {
	if _, err := b.output.Push(&value); err != nil {
		if b.freeFn != nil {
			b.freeFn(value)
		}
	}
}

func (b *Buffer[T]) drainLoop() {
	defer b.wg.Done()
	ctx := context.Background()
	dUS := b.d.Microseconds()

	for {
		// Admit every arrival already queued before computing the next
		// sleep, so a burst settles into the list in one pass.
		for {
			var rec arrival[T]
			res, _ := b.input.Pop(&rec)
			if res != spscqueue.PopOK {
				break
			}
			b.admit(rec, dUS)
		}

		// Emit everything due, plus anything whose send time sits past
		// now+D (host clock rewound since insertion).
		for b.head != nil {
			nowUS := time.Now().UnixMicro()
			headUS := b.head.Value.sendTime.UnixMicro()
			if headUS <= nowUS || headUS > nowUS+dUS {
				h := b.head
				b.unlink(h)
				b.forward(h.Value.value)
				b.entries.Put(h)
				continue
			}
			break
		}

		var wait time.Duration
		if b.head != nil {
			nowUS := time.Now().UnixMicro()
			wait = time.Duration(b.head.Value.sendTime.UnixMicro()-nowUS) * time.Microsecond
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
		}

		var rec arrival[T]
		idx, _ := b.input.PopWait(ctx, wait, &rec, b.shutdownSig)
		switch {
		case idx == 0:
			b.flushAll()
			return
		case idx == spscqueue.Success:
			b.admit(rec, dUS)
		default:
			// Timeout: loop to emit the now-due head.
		}
	}
}

// flushAll forwards every remaining entry to the output queue: first
// the delay list in send-time order, then any arrivals still queued on
// the input side. Drain goroutine only, on shutdown.
func (b *Buffer[T]) flushAll() {
	for b.head != nil {
		h := b.head
		b.unlink(h)
		b.forward(h.Value.value)
		b.entries.Put(h)
	}
	for {
		var rec arrival[T]
		res, _ := b.input.Pop(&rec)
		if res != spscqueue.PopOK {
			break
		}
		b.forward(rec.value)
	}
}

// Close signals shutdown, flushes every remaining entry to the output
// queue, and waits for the drain goroutine to exit.
func (b *Buffer[T]) Close() error {
	b.shutdownSig.Set()
	b.wg.Wait()
	return nil
}
