// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logkit is the kernel's minimal logging skeleton: just enough
// to let every component emit structured records and participate in
// process lifetime.
//
// Go has no thread-local storage that survives goroutine handoff
// safely, so there is no ambient per-thread log pointer here: Handle
// is an explicit parameter, a zerolog.Logger wrapper each goroutine or
// component carries and passes down, not a package-level lookup keyed
// by goroutine identity.
//
// The logger backend is github.com/rs/zerolog, used directly rather
// than through an abstraction layer: this kernel has exactly one
// logging backend, so the indirection a multi-backend facade buys
// would be unused machinery here.
package logkit

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Handle is a lightweight logging handle each goroutine or component
// holds and passes to the functions it calls, rather than a global the
// runtime resolves implicitly per-thread.
type Handle struct {
	z     zerolog.Logger
	multi *multilineBuffer

	// lastFail is shared across copies of the handle so the
	// failed/recovered dedup state follows the handle wherever it is
	// passed, and so Handle itself stays freely copyable.
	lastFail *atomic.Bool
}

// NewHandle wraps an existing zerolog.Logger, attaching a multiline
// buffer that holds up to lines lines before it flushes.
func NewHandle(z zerolog.Logger, lines int) Handle {
	return Handle{z: z, multi: newMultilineBuffer(lines), lastFail: new(atomic.Bool)}
}

// Debug, Info, Warn, and Error return zerolog event builders scoped to
// this handle's logger, for callers that want structured fields.
func (h Handle) Debug() *zerolog.Event { return h.z.Debug() }
func (h Handle) Info() *zerolog.Event  { return h.z.Info() }
func (h Handle) Warn() *zerolog.Event  { return h.z.Warn() }
func (h Handle) Error() *zerolog.Event { return h.z.Error() }

// Buffer returns the handle's multiline buffer for components that
// accumulate several related lines (e.g. a pool's growth report)
// before flushing them as one record.
func (h Handle) Buffer() *multilineBuffer { return h.multi }

// FailureOnce logs a "failed" record at Warn the first time it is
// called after a success (or after construction), and suppresses
// repeats until RecoveredOnce is called, so a transient send/receive
// error excursion produces one failed/recovered pair rather than a
// line per retry.
func (h Handle) FailureOnce(component string, err error) {
	if h.lastFail.CompareAndSwap(false, true) {
		h.z.Warn().Err(err).Str("component", component).Msg("failed")
	}
}

// RecoveredOnce logs "recovered" at Info exactly once, the first call
// after a FailureOnce that has not yet been matched by one.
func (h Handle) RecoveredOnce(component string) {
	if h.lastFail.CompareAndSwap(true, false) {
		h.z.Info().Str("component", component).Msg("recovered")
	}
}

// multilineBuffer accumulates formatted lines up to a configured
// count, flushing them as one Info record. The buffer itself is reused
// across Flush calls rather than reallocated.
type multilineBuffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newMultilineBuffer(capLines int) *multilineBuffer {
	if capLines <= 0 {
		capLines = 1
	}
	return &multilineBuffer{lines: make([]string, 0, capLines), cap: capLines}
}

// Append adds one formatted line, flushing eagerly via flush if the
// buffer has reached capacity.
func (b *multilineBuffer) Append(z zerolog.Logger, line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	full := len(b.lines) >= b.cap
	b.mu.Unlock()
	if full {
		b.Flush(z)
	}
}

// Flush emits every accumulated line as one multi-line Info record and
// resets the buffer for reuse.
func (b *multilineBuffer) Flush(z zerolog.Logger) {
	b.mu.Lock()
	if len(b.lines) == 0 {
		b.mu.Unlock()
		return
	}
	joined := make([]byte, 0, 64*len(b.lines))
	for i, l := range b.lines {
		if i > 0 {
			joined = append(joined, '\n')
		}
		joined = append(joined, l...)
	}
	b.lines = b.lines[:0]
	b.mu.Unlock()
	z.Info().Msg(string(joined))
}

// global is the process-wide logger context: reference-counted on
// Acquire/Release, modeled as an explicit resource with a refcount
// rather than ad-hoc package globals initialized by side effect.
type global struct {
	mu       sync.Mutex
	refcount int
	root     zerolog.Logger
}

var g global

// Acquire increments the process-wide logger's reference count,
// initializing it on the first call. w defaults to os.Stderr if nil
// and this is the first Acquire; later calls ignore w.
func Acquire(w io.Writer) Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refcount == 0 {
		if w == nil {
			w = os.Stderr
		}
		g.root = zerolog.New(w).With().Timestamp().Logger()
	}
	g.refcount++
	return NewHandle(g.root, 8)
}

// Release decrements the process-wide logger's reference count. A
// force-shutdown path (refcount already at 0) is tolerated rather than
// treated as an error.
func Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refcount > 0 {
		g.refcount--
	}
}

// Refcount reports the current reference count, for tests and
// diagnostics.
func Refcount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refcount
}

// Critical logs a critical-path drop (pool exhaustion mid-operation,
// output-queue push failure) at Error.
func (h Handle) Critical(component, reason string, err error) {
	h.z.Error().Err(err).Str("component", component).Msg(reason)
}

// Sprintf is a convenience matching call sites that build a message
// before attaching it to a field; kept trivial on purpose since this
// package carries no string-formatting machinery beyond what fmt and
// zerolog already provide.
func Sprintf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
