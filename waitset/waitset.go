// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package waitset provides the signal primitive every blocking
// component in the kernel (spscqueue, timer, delaybuffer, endpoint)
// waits on.
//
// Signal represents a manual-reset event as a channel that is closed
// on Set and replaced on Clear, so any number of goroutines can wait
// on any number of signals at once with select (or, for a
// caller-supplied slice whose length isn't known at compile time, with
// reflect.Select) — no subscriber bookkeeping, no cap on how many
// signals one wait can cover.
package waitset

import (
	"context"
	"reflect"
	"time"
)

// TimeoutIndex is returned by Wait/WaitMany when the wait ends because
// the deadline elapsed rather than because a signal was set.
const TimeoutIndex = -1

// Signal is a level-triggered, many-reader event.
//
// Zero value is not usable; construct with New. A Signal set while no
// one is waiting stays set until Clear — unlike a Go channel send, Set
// never blocks and never loses the "something happened" state.
type Signal struct {
	mu  chan struct{} // 1-buffered mutex; avoids sync.Mutex import cost for two fields
	set bool
	ch  chan struct{}
}

// New creates a Signal in the cleared state.
func New() *Signal {
	s := &Signal{
		mu: make(chan struct{}, 1),
		ch: make(chan struct{}),
	}
	s.mu <- struct{}{}
	return s
}

func (s *Signal) lock()   { <-s.mu }
func (s *Signal) unlock() { s.mu <- struct{}{} }

// Set puts the signal into the set state, waking every current and
// future waiter until Clear is called. Idempotent.
func (s *Signal) Set() {
	s.lock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
	s.unlock()
}

// Clear returns the signal to the cleared state. A goroutine already
// unblocked by a prior Set is unaffected; only subsequent waits block
// again. Idempotent.
func (s *Signal) Clear() {
	s.lock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
	s.unlock()
}

// Get reports the current state without waiting.
func (s *Signal) Get() bool {
	s.lock()
	v := s.set
	s.unlock()
	return v
}

// waitChan returns the channel that is closed exactly while the signal is
// set. The returned channel may be superseded by a later Clear; callers
// select on it once per wait attempt, which is exactly what Wait and
// WaitMany do.
func (s *Signal) waitChan() <-chan struct{} {
	s.lock()
	ch := s.ch
	s.unlock()
	return ch
}

// Wait blocks until the signal is set, ctx is done, or timeout elapses
// (timeout <= 0 means no timeout). Returns nil if the signal fired,
// ctx.Err() if ctx ended first, and context.DeadlineExceeded if the
// timeout elapsed first.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) error {
	var timer *time.Timer
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	select {
	case <-s.waitChan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeoutC:
		return context.DeadlineExceeded
	}
}

// WaitMany blocks until one of signals is set, ctx ends, or timeout
// elapses. It returns the index of the signal that fired (in the order
// given — by convention the shutdown signal is index 0). If ctx ends or
// the timeout elapses first, it returns TimeoutIndex along with the
// reason (ctx.Err() or context.DeadlineExceeded, respectively); callers
// that need to distinguish caller-cancellation from a real timeout can
// inspect the returned error. There is no fixed cap on len(signals):
// select is native to the runtime and scales to whatever the caller
// passes.
func WaitMany(ctx context.Context, timeout time.Duration, signals ...*Signal) (int, error) {
	cases := make([]reflect.SelectCase, 0, len(signals)+2)
	for _, sig := range signals {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(sig.waitChan()),
		})
	}
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(timer.C),
		})
	}

	chosen, _, _ := reflect.Select(cases)
	switch {
	case chosen < len(signals):
		return chosen, nil
	case chosen == len(signals):
		return TimeoutIndex, ctx.Err()
	default:
		return TimeoutIndex, context.DeadlineExceeded
	}
}
