// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

// Options configures queue creation.
type Options struct {
	// MultipleWriters selects the FAA-based MPSC engine instead of the
	// plain Lamport SPSC ring. Set by spscqueue when the caller ORs the
	// multiple-writers flag into its signal mode.
	multipleWriters bool

	// Capacity (rounds up to next power of 2).
	capacity int
}

// Builder creates a Queue with fluent configuration.
//
// Example:
//
//	q := ring.Build[Event](ring.New(1024))                     // SPSC
//	q := ring.Build[Event](ring.New(1024).MultipleWriters())   // MPSC
type Builder struct {
	opts Options
}

// New creates a queue builder with the given capacity.
//
// Capacity rounds up to the next power of 2. Panics if capacity < 2.
func New(capacity int) *Builder {
	if capacity < 2 {
		panic("ring: capacity must be >= 2")
	}
	return &Builder{opts: Options{capacity: capacity}}
}

// MultipleWriters declares that more than one goroutine will enqueue.
func (b *Builder) MultipleWriters() *Builder {
	b.opts.multipleWriters = true
	return b
}

// Build creates a Queue[T], selecting SPSC or MPSC per MultipleWriters().
func Build[T any](b *Builder) Queue[T] {
	if b.opts.multipleWriters {
		return NewMPSC[T](b.opts.capacity)
	}
	return NewSPSC[T](b.opts.capacity)
}

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// padShort is padding to fill a cache line after an 8-byte field.
type padShort [64 - 8]byte
