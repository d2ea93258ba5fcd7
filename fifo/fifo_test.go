// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fifo

import (
	"sync"
	"testing"

	"github.com/cdi-go/kernel/kernelerr"
)

func TestFIFO_PushPopOrdering(t *testing.T) {
	f, err := New[int]("t", 4, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 4; i++ {
		v := i
		if err := f.Push(&v); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		var out int
		if err := f.Pop(&out); err != nil || out != i {
			t.Fatalf("Pop() #%d = (%d, %v), want (%d, nil)", i, out, err, i)
		}
	}
	var out int
	if err := f.Pop(&out); !kernelerr.IsWouldBlock(err) {
		t.Fatalf("Pop() on empty = %v, want would-block", err)
	}
}

func TestFIFO_PushWithoutCallbackReportsFull(t *testing.T) {
	f, err := New[int]("t", 2, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a, b, c := 1, 2, 3
	if err := f.Push(&a); err != nil {
		t.Fatalf("Push(a) error = %v", err)
	}
	if err := f.Push(&b); err != nil {
		t.Fatalf("Push(b) error = %v", err)
	}
	if err := f.Push(&c); !kernelerr.IsWouldBlock(err) {
		t.Fatalf("Push() on full FIFO = %v, want would-block", err)
	}
	if got := f.Len(); got != 2 {
		t.Fatalf("Len() after rejected push = %d, want 2", got)
	}
}

func TestFIFO_FullCallbackAbsorbsNewItem(t *testing.T) {
	type stat struct {
		value int
		drops int
	}
	f, err := New[stat]("t", 2, func(headItem, tailItem, newItem *stat) {
		if tailItem == nil {
			t.Fatal("tailItem = nil on a full (non-empty) FIFO")
		}
		tailItem.drops++
		tailItem.value += newItem.value
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a := stat{value: 10}
	b := stat{value: 20}
	if err := f.Push(&a); err != nil {
		t.Fatalf("Push(a) error = %v", err)
	}
	if err := f.Push(&b); err != nil {
		t.Fatalf("Push(b) error = %v", err)
	}

	overflow := stat{value: 5}
	if err := f.Push(&overflow); !kernelerr.IsWouldBlock(err) {
		t.Fatalf("Push() on full FIFO = %v, want would-block (item still discarded)", err)
	}
	if got := f.Len(); got != 2 {
		t.Fatalf("Len() after absorbed push = %d, want 2", got)
	}

	var out stat
	if err := f.Pop(&out); err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if out.value != 15 || out.drops != 1 {
		t.Fatalf("Pop() = %+v, want value=15 drops=1 (new item folded into oldest)", out)
	}
}

func TestFIFO_ConcurrentPushPop(t *testing.T) {
	f, err := New[int]("t", 16, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	const n = 2000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			v := i
			for f.Push(&v) != nil {
				// full: spin until the consumer makes room
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			var out int
			for f.Pop(&out) != nil {
			}
			if out != i {
				t.Errorf("Pop() #%d = %d, want %d (ordering violated)", i, out, i)
			}
		}
	}()

	wg.Wait()
}

func TestFIFO_DestroyResets(t *testing.T) {
	f, err := New[int]("t", 4, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	v := 1
	if err := f.Push(&v); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := f.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if !f.IsEmpty() {
		t.Fatal("IsEmpty() after Destroy = false, want true")
	}
}
