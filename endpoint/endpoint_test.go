// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package endpoint

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cdi-go/kernel/pool"
)

func syscallGetsockoptSoRcvbuf(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
}

func mustLocalAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func TestOpen_SendReceiveRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var received []byte
	done := make(chan struct{}, 1)

	var rx *Endpoint
	rx, err := Open("rx", Receive, mustLocalAddr(t), nil, Config{RxPoolInitial: 4, RxPoolGrow: 4, RxPoolMaxGrow: 2}, func(m Message) {
		if m.Tag != PacketReceived {
			return
		}
		mu.Lock()
		received = append([]byte{}, m.SG[0].Bytes()...)
		mu.Unlock()
		rx.RxBuffersFree(m.SG)
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Open(rx) error = %v", err)
	}
	defer rx.Close()

	tx, err := Open("tx", Send, mustLocalAddr(t), rx.LocalAddr(), Config{SendOpenDelay: -1}, nil)
	if err != nil {
		t.Fatalf("Open(tx) error = %v", err)
	}
	defer tx.Close()

	txSlots, err := pool.New[Slot]("tx-slots", 1, 0, 0, true, nil)
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	slot, err := txSlots.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	n := copy(slot.Value.buf[:], payload)

	if err := tx.Send([]SGEntry{{Item: slot, Len: n}}, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for receive delivery")
	}

	mu.Lock()
	got := received
	mu.Unlock()
	if !bytes.Equal(got, payload) {
		t.Fatalf("received %d bytes, want the %d-byte payload back intact", len(got), len(payload))
	}

	if c := tx.Counters(); c.TxPackets != 1 || c.TxBytes != uint64(len(payload)) {
		t.Fatalf("tx Counters() = %+v, want 1 packet / %d bytes", c, len(payload))
	}
	if c := rx.Counters(); c.RxPackets != 1 || c.RxBytes != uint64(len(payload)) {
		t.Fatalf("rx Counters() = %+v, want 1 packet / %d bytes", c, len(payload))
	}
}

func TestOpen_AppliesSocketBufferSizes(t *testing.T) {
	ep, err := Open("rx-bufsize", Receive, mustLocalAddr(t), nil, Config{
		RxPoolInitial: 1,
		RxBufferBytes: 1 << 18,
	}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ep.Close()

	raw, err := ep.conn.SyscallConn()
	if err != nil {
		t.Fatalf("SyscallConn() error = %v", err)
	}
	var got int
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		got, sockErr = syscallGetsockoptSoRcvbuf(int(fd))
	}); err != nil {
		t.Fatalf("Control() error = %v", err)
	}
	if sockErr != nil {
		t.Fatalf("getsockopt(SO_RCVBUF) error = %v", sockErr)
	}
	// The kernel is free to round the requested size up (Linux doubles
	// it for bookkeeping overhead), so assert it was raised at all
	// rather than pinning an exact value.
	if got < (1 << 18) {
		t.Fatalf("SO_RCVBUF = %d, want at least %d", got, 1<<18)
	}
}

func TestOpen_SendAppliesDefaultOpenDelay(t *testing.T) {
	start := time.Now()
	ep, err := Open("tx-default-delay", Send, mustLocalAddr(t), nil, Config{}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ep.Close()
	if elapsed := time.Since(start); elapsed < DefaultSendOpenDelay {
		t.Fatalf("Open() with zero-value Config returned after %v, want at least %v (the send-open delay must apply by default)", elapsed, DefaultSendOpenDelay)
	}
}

func TestOpen_SendOpenDelayDisabledBySentinel(t *testing.T) {
	start := time.Now()
	ep, err := Open("tx-no-delay", Send, mustLocalAddr(t), nil, Config{SendOpenDelay: -1}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ep.Close()
	if elapsed := time.Since(start); elapsed >= DefaultSendOpenDelay {
		t.Fatalf("Open() with SendOpenDelay: -1 took %v, want well under %v", elapsed, DefaultSendOpenDelay)
	}
}

func TestDirection_Capabilities(t *testing.T) {
	if !Send.canSend() || Send.canReceive() {
		t.Fatalf("Send direction capabilities wrong")
	}
	if !Receive.canReceive() || Receive.canSend() {
		t.Fatalf("Receive direction capabilities wrong")
	}
	if !Bidirectional.canSend() || !Bidirectional.canReceive() {
		t.Fatalf("Bidirectional direction capabilities wrong")
	}
}

func TestSend_RejectsOversizedGatherVector(t *testing.T) {
	ep, err := Open("tx2", Send, mustLocalAddr(t), nil, Config{SendOpenDelay: -1}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ep.Close()

	dst := mustLocalAddr(t)
	sg := make([]SGEntry, MaxGatherEntries+1)
	if err := ep.Send(sg, dst); err == nil {
		t.Fatal("Send() with oversized gather vector = nil error, want fatal error")
	}
}

func TestClose_JoinsRxGoroutine(t *testing.T) {
	ep, err := Open("rx2", Receive, mustLocalAddr(t), nil, Config{RxPoolInitial: 2, RxPoolGrow: 0, RxPoolMaxGrow: 0}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestRxBuffersFree_ReturnsEverySlotExactlyOnce(t *testing.T) {
	ep, err := Open("rx3", Receive, mustLocalAddr(t), nil, Config{RxPoolInitial: 2, RxPoolGrow: 0, RxPoolMaxGrow: 0}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer ep.Close()

	a, err := ep.slots.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	b, err := ep.slots.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := ep.slots.InUseCount(); got != 2 {
		t.Fatalf("InUseCount() = %d, want 2", got)
	}

	ep.RxBuffersFree([]SGEntry{{Item: a, Len: 10}, {Item: b, Len: 20}})
	if got := ep.slots.InUseCount(); got != 0 {
		t.Fatalf("InUseCount() after free = %d, want 0", got)
	}
}
