// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timer

import (
	"sync"
	"testing"
	"time"
)

func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	inst, err := New("t", 8, 8, 4, 8, 8, 4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func TestInstance_FiresInDeadlineOrder(t *testing.T) {
	inst := newTestInstance(t)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	base := time.Now()
	deadlines := []time.Duration{20 * time.Millisecond, 15 * time.Millisecond, 10 * time.Millisecond, 5 * time.Millisecond, time.Millisecond}
	for i, d := range deadlines {
		i := i
		_, err := inst.Add(base.Add(d), func(Handle, any) {
			mu.Lock()
			order = append(order, i)
			if len(order) == len(deadlines) {
				close(done)
			}
			mu.Unlock()
		}, nil)
		if err != nil {
			t.Fatalf("Add(%d) error = %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callbacks")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{4, 3, 2, 1, 0} // sorted by deadline: 1ms, 5ms, 10ms, 15ms, 20ms
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	// FiredCount is incremented after each callback returns, so it may
	// trail the close(done) inside the last callback briefly.
	deadline := time.Now().Add(time.Second)
	for inst.FiredCount() != uint64(len(deadlines)) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := inst.FiredCount(); got != uint64(len(deadlines)) {
		t.Fatalf("FiredCount() = %d, want %d", got, len(deadlines))
	}
}

func TestInstance_StableOrderingOnEqualDeadlines(t *testing.T) {
	inst := newTestInstance(t)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	deadline := time.Now().Add(10 * time.Millisecond)
	const n = 5
	for i := 0; i < n; i++ {
		i := i
		_, err := inst.Add(deadline, func(Handle, any) {
			mu.Lock()
			order = append(order, i)
			if len(order) == n {
				close(done)
			}
			mu.Unlock()
		}, nil)
		if err != nil {
			t.Fatalf("Add(%d) error = %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callbacks")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		if order[i] != i {
			t.Fatalf("order = %v, want insertion order 0..%d", order, n-1)
		}
	}
}

func TestInstance_RemoveCancelsBeforeFiring(t *testing.T) {
	inst := newTestInstance(t)

	fired := make(chan struct{}, 16)
	deadline := time.Now().Add(15 * time.Millisecond)
	handles := make([]Handle, 0, 10)
	for i := 0; i < 10; i++ {
		h, err := inst.Add(deadline, func(Handle, any) {
			fired <- struct{}{}
		}, nil)
		if err != nil {
			t.Fatalf("Add(#%d) error = %v", i, err)
		}
		handles = append(handles, h)
	}
	for i, h := range handles {
		if err := inst.Remove(h); err != nil {
			t.Fatalf("Remove(#%d) error = %v", i, err)
		}
	}

	select {
	case <-fired:
		t.Fatal("callback fired after Remove")
	case <-time.After(50 * time.Millisecond):
	}
	if got := inst.FiredCount(); got != 0 {
		t.Fatalf("FiredCount() after cancelling everything = %d, want 0", got)
	}
}

func TestInstance_RemoveAlreadyFiredIsError(t *testing.T) {
	inst := newTestInstance(t)

	done := make(chan struct{})
	h, err := inst.Add(time.Now().Add(5*time.Millisecond), func(Handle, any) {
		close(done)
	}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}
	// Give the dispatcher a moment to recycle the slot.
	time.Sleep(10 * time.Millisecond)

	if err := inst.Remove(h); err == nil {
		t.Fatal("Remove() on already-fired handle = nil error, want error")
	}
}

func TestInstance_AddAfterEarlierDeadlineWakesPromptly(t *testing.T) {
	inst := newTestInstance(t)

	// Schedule a far-future entry first so the main loop is sleeping on
	// a long timeout, then add one that should fire much sooner.
	_, err := inst.Add(time.Now().Add(time.Hour), func(Handle, any) {}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	done := make(chan struct{})
	start := time.Now()
	_, err = inst.Add(time.Now().Add(10*time.Millisecond), func(Handle, any) {
		close(done)
	}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	select {
	case <-done:
		if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
			t.Fatalf("callback fired after %v, want well under 200ms", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out: stop signal did not wake the main loop")
	}
}
