// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package delaybuffer

import (
	"testing"
	"time"
)

func TestBuffer_ForwardsImmediatelyWhenAlreadyDue(t *testing.T) {
	b, err := New[int]("t", 20*time.Millisecond, 5, 4, 4, 4, 8, 0, 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	// A presentation timestamp far enough in the past that send_time
	// already precedes now.
	ts := time.Now().Add(-time.Second).UnixMicro()
	if err := b.Push(ts, 42); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	var out int
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if res, _ := b.Output().Pop(&out); res == 0 {
			if out != 42 {
				t.Fatalf("Pop() = %d, want 42", out)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for immediate forward")
}

func TestBuffer_DelaysAndPreservesOrder(t *testing.T) {
	b, err := New[int]("t", 30*time.Millisecond, 5, 8, 8, 4, 8, 0, 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	now := time.Now().UnixMicro()
	// Presentation timestamps slightly in the past stay inside the
	// [now-D, now] calibration window, so send = ts + D lands in the
	// future unclamped and the list orders them by ts.
	for i, offsetUS := range []int64{-20000, -28000, -24000} {
		if err := b.Push(now+offsetUS, i); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	want := []int{1, 2, 0} // ordered by send time: now+2ms, now+6ms, now+10ms
	var got []int
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < len(want) && time.Now().Before(deadline) {
		var out int
		if res, _ := b.Output().Pop(&out); res == 0 {
			got = append(got, out)
			continue
		}
		time.Sleep(time.Millisecond)
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v (timed out)", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBuffer_MixedBurstDeliversEverything(t *testing.T) {
	b, err := New[int]("t", 20*time.Millisecond, 5, 8, 8, 4, 16, 0, 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	// Interleave already-due payloads (forwarded as soon as they are
	// admitted) with in-window ones (held on the delay list): both kinds
	// travel through the input queue and must all reach the output.
	now := time.Now().UnixMicro()
	for i := 0; i < 8; i++ {
		ts := now - time.Second.Microseconds()
		if i%2 == 1 {
			ts = now - 15000 + int64(i)*1000
		}
		if err := b.Push(ts, i); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	seen := make([]bool, 8)
	count := 0
	deadline := time.Now().Add(2 * time.Second)
	for count < 8 && time.Now().Before(deadline) {
		var out int
		if res, _ := b.Output().Pop(&out); res == 0 {
			if seen[out] {
				t.Fatalf("value %d delivered twice", out)
			}
			seen[out] = true
			count++
			continue
		}
		time.Sleep(time.Millisecond)
	}
	if count != 8 {
		t.Fatalf("delivered %d of 8 payloads: %v", count, seen)
	}
}

func TestBuffer_CloseFlushesRemaining(t *testing.T) {
	b, err := New[int]("t", time.Second, 5, 4, 4, 4, 8, 0, 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	now := time.Now().UnixMicro()
	if err := b.Push(now+500_000, 7); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var out int
	res, err := b.Output().Pop(&out)
	if res != 0 || err != nil || out != 7 {
		t.Fatalf("Pop() after Close = (%d, %v, %d), want (0, nil, 7)", res, err, out)
	}
}

func TestBuffer_FreeFnCalledOnDeliveryFailure(t *testing.T) {
	freed := make(chan int, 4)
	b, err := New[int]("t", 10*time.Millisecond, 5, 4, 0, 0, 2, 0, 0, func(v int) {
		freed <- v
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	// Fill the output queue directly so forwarded payloads must
	// overflow into the free hook.
	for _, filler := range []int{-1, -2} {
		f := filler
		if _, err := b.Output().Push(&f); err != nil {
			t.Fatalf("Push() to output error = %v", err)
		}
	}

	ts := time.Now().Add(-time.Second).UnixMicro()
	if err := b.Push(ts, 99); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	select {
	case v := <-freed:
		if v != 99 {
			t.Fatalf("freed value = %d, want 99", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for free hook")
	}
}
