// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ring provides the two lock-free bounded-queue engines the
// rest of the kernel builds its blocking, growable queues on top of:
//
//   - SPSC: Single-Producer Single-Consumer, Lamport ring buffer.
//   - MPSC: Multi-Producer Single-Consumer, FAA-based SCQ-style queue.
//
// Neither engine blocks, grows, or exposes wake signals on its own —
// spscqueue layers push_wait/pop_wait, abort signals and optional
// growth on top of these engines; fifo uses a conventional mutex
// instead, since its full-callback contract needs a pinned tail under
// a held lock rather than a lock-free cursor.
//
// # Choosing an engine
//
//	q := ring.NewSPSC[Event](1024)                              // one writer
//	q := ring.NewMPSC[Event](1024)                               // many writers
//
// Or via the builder, which spscqueue uses internally to honor the
// caller's signal_mode:
//
//	q := ring.Build[Event](ring.New(1024))                      // SPSC
//	q := ring.Build[Event](ring.New(1024).MultipleWriters())    // MPSC
//
// # Capacity
//
// Capacity rounds up to the next power of 2. Minimum capacity is 2.
// Panics if capacity < 2.
//
// Length is intentionally not provided (beyond the best-effort IsEmpty
// both engines offer) because an accurate count on a lock-free queue requires
// expensive cross-core synchronization; track counts in the caller
// when one is needed.
//
// # Thread safety
//
//   - SPSC: one producer goroutine, one consumer goroutine.
//   - MPSC: multiple producer goroutines, one consumer goroutine.
//
// Violating these constraints causes undefined behavior including data
// corruption and races.
//
// # Errors
//
// Enqueue/Dequeue return [ErrWouldBlock] when they cannot proceed. This
// error is sourced from [code.hybscloud.com/iox] for ecosystem
// consistency; use [IsWouldBlock] to check it, including through
// wrapped errors.
//
// # Race detection
//
// Go's race detector tracks explicit synchronization primitives (mutex,
// channel, WaitGroup) but not the acquire/release orderings these
// engines use directly on the cursor fields, so it can report false
// positives on otherwise-correct concurrent access. Tests that would
// trip this skip themselves when [RaceEnabled] is true.
package ring
