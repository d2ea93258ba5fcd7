// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package endpoint implements the datagram endpoint: the boundary
// between the wire and the scatter-gather representation the rest of
// the kernel works in.
//
// Gather I/O is golang.org/x/net/ipv4's native job: ipv4.Message.Buffers
// is a [][]byte scatter-gather vector that PacketConn.WriteBatch hands
// straight to the kernel's sendmmsg/writev path, and ReadBatch is the
// batched-receive counterpart. Using it avoids hand-rolling iovec
// plumbing for the send path.
//
// There is no offset arithmetic between an SG entry and the buffer
// that backs it: an SGEntry carries its owning *pool.Item[Slot]
// directly, a typed, safe handle back to the slot, so freeing a
// received SG list is a straight walk-and-Put.
package endpoint

import (
	"fmt"
	"net"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/cdi-go/kernel/kernelerr"
	"github.com/cdi-go/kernel/logkit"
	"github.com/cdi-go/kernel/pool"
	"github.com/cdi-go/kernel/waitset"
)

// MTU is the largest UDP payload this endpoint ever reads or writes in
// one datagram: Ethernet's 1500-byte MTU less a 42-byte
// Ethernet/IP/UDP header allowance.
const MTU = 1458

// MaxGatherEntries bounds how many SG entries Send will convert into a
// single gather-vector. Exceeding it is a programmer error, not an
// operating condition, and is reported as fatal rather than as a
// retryable send failure.
const MaxGatherEntries = 16

// Direction selects which of the receive thread and the send-open
// delay a newly opened endpoint needs.
type Direction int

const (
	Send Direction = iota
	Receive
	Bidirectional
)

func (d Direction) canReceive() bool { return d == Receive || d == Bidirectional }
func (d Direction) canSend() bool    { return d == Send || d == Bidirectional }

// Slot is one MTU-sized receive buffer, the payload half of an
// "MTU-slot" (slot + descriptor) per the glossary.
type Slot struct {
	buf [MTU]byte
}

// SGEntry is one scatter-gather entry: a typed handle back to the pool
// slot that owns its bytes, plus how many of those bytes are valid.
type SGEntry struct {
	Item *pool.Item[Slot]
	Len  int
}

// Bytes returns the valid portion of the entry's underlying slot.
func (e SGEntry) Bytes() []byte { return e.Item.Value.buf[:e.Len] }

// MessageTag distinguishes the two upward delivery messages.
type MessageTag int

const (
	PacketReceived MessageTag = iota
	PacketSent
)

// AckStatus reports the outcome of a send, carried upward on every
// PacketSent message regardless of whether the write succeeded.
type AckStatus int

const (
	AckOk AckStatus = iota
	AckNotConnected
)

// Message is the single upward delivery shape: a tag, a
// scatter-gather list, and (for sends) an ack status.
type Message struct {
	Tag       MessageTag
	SG        []SGEntry
	TotalSize int
	Ack       AckStatus
}

// DeliverFunc is the upward message-delivery function the reassembly
// layer registers.
type DeliverFunc func(Message)

// Config holds the tunables Open needs beyond the socket addresses
// themselves.
type Config struct {
	RxPoolInitial int
	RxPoolGrow    int
	RxPoolMaxGrow int

	// SendOpenDelay: a send-capable endpoint sleeps this long after
	// opening to improve the odds that an in-process receiver is
	// already listening. A workaround, but callers depend on it
	// empirically, so the zero value means "apply
	// DefaultSendOpenDelay". Set to a negative value to disable the
	// sleep outright.
	SendOpenDelay time.Duration

	// Log, when non-nil, receives the receive goroutine's
	// once-per-excursion failed/recovered transitions. A nil Log is a
	// valid zero value: the endpoint runs silently.
	Log *logkit.Handle

	// RxBufferBytes and TxBufferBytes, when non-zero, request SO_RCVBUF
	// and SO_SNDBUF sizes on the underlying socket. Left at 0 they are
	// skipped entirely and the OS default stands.
	RxBufferBytes int
	TxBufferBytes int
}

// DefaultSendOpenDelay applies when a caller does not override
// Config.SendOpenDelay.
const DefaultSendOpenDelay = 50 * time.Millisecond

// Endpoint is one open UDP endpoint: a socket, optionally a receive
// goroutine and its MTU-slot pool, and the upward delivery callback.
type Endpoint struct {
	name      string
	direction Direction
	deliver   DeliverFunc

	conn  *net.UDPConn
	pconn *ipv4.PacketConn

	connected bool

	slots *pool.Pool[Slot]

	shutdownSig *waitset.Signal
	wg          sync.WaitGroup

	rxPackets atomix.Uint64
	rxBytes   atomix.Uint64
	txPackets atomix.Uint64
	txBytes   atomix.Uint64

	log *logkit.Handle
}

// Counters is a snapshot of the endpoint's packet and byte totals.
type Counters struct {
	RxPackets uint64
	RxBytes   uint64
	TxPackets uint64
	TxBytes   uint64
}

// Counters reports totals since Open: packets and bytes the receive
// goroutine delivered upward, and packets and bytes Send wrote with an
// Ok ack. The reads are individually atomic, not a consistent cut
// across all four.
func (e *Endpoint) Counters() Counters {
	return Counters{
		RxPackets: e.rxPackets.LoadAcquire(),
		RxBytes:   e.rxBytes.LoadAcquire(),
		TxPackets: e.txPackets.LoadAcquire(),
		TxBytes:   e.txBytes.LoadAcquire(),
	}
}

// Open creates the socket for direction and, for receive-capable
// directions, allocates the MTU-slot pool and starts the receive
// goroutine. For send-capable directions it applies Config's
// send-open delay. localAddr may be nil to let the OS choose a port;
// remoteAddr non-nil connects the socket to that peer.
func Open(name string, direction Direction, localAddr, remoteAddr *net.UDPAddr, cfg Config, deliver DeliverFunc) (*Endpoint, error) {
	var conn *net.UDPConn
	var err error
	connected := remoteAddr != nil
	if connected {
		conn, err = net.DialUDP("udp4", localAddr, remoteAddr)
	} else {
		conn, err = net.ListenUDP("udp4", localAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w: %v", name, kernelerr.ErrOpenFailed, err)
	}

	e := &Endpoint{
		name:        name,
		direction:   direction,
		deliver:     deliver,
		conn:        conn,
		pconn:       ipv4.NewPacketConn(conn),
		connected:   connected,
		shutdownSig: waitset.New(),
		log:         cfg.Log,
	}

	if cfg.RxBufferBytes > 0 {
		if serr := setSockoptInt(conn, unix.SO_RCVBUF, cfg.RxBufferBytes); serr != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("endpoint %q: %w: set SO_RCVBUF: %v", name, kernelerr.ErrOpenFailed, serr)
		}
	}
	if cfg.TxBufferBytes > 0 {
		if serr := setSockoptInt(conn, unix.SO_SNDBUF, cfg.TxBufferBytes); serr != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("endpoint %q: %w: set SO_SNDBUF: %v", name, kernelerr.ErrOpenFailed, serr)
		}
	}

	if direction.canReceive() {
		slots, err := pool.New[Slot](name+"-rx", cfg.RxPoolInitial, cfg.RxPoolGrow, cfg.RxPoolMaxGrow, true, nil)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("endpoint %q: %w", name, err)
		}
		e.slots = slots
		e.wg.Add(1)
		go e.rxLoop()
	}

	if direction.canSend() {
		delay := cfg.SendOpenDelay
		if delay == 0 {
			delay = DefaultSendOpenDelay
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	return e, nil
}

// setSockoptInt sets a SOL_SOCKET integer option on conn's underlying
// file descriptor via SyscallConn, the same rc.Control(func(fd
// uintptr){...}) indirection mdlayher/socket uses to reach
// setsockopt(2) without ever exposing the raw fd to the caller.
func setSockoptInt(conn *net.UDPConn, opt, value int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, value)
	}); err != nil {
		return err
	}
	return sockErr
}

// Name returns the endpoint's diagnostic name.
func (e *Endpoint) Name() string { return e.name }

// LocalAddr returns the bound local address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

func (e *Endpoint) rxLoop() {
	defer e.wg.Done()
	for {
		if e.shutdownSig.Get() {
			return
		}

		slot, err := e.slots.Get()
		if err != nil {
			time.Sleep(time.Millisecond)
			continue
		}

		_ = e.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, rerr := e.conn.ReadFromUDP(slot.Value.buf[:])
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				e.slots.Put(slot)
				continue
			}
			e.slots.Put(slot)
			if e.log != nil {
				e.log.FailureOnce("endpoint."+e.name+".rx", rerr)
			}
			if e.shutdownSig.Get() {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if e.log != nil {
			e.log.RecoveredOnce("endpoint." + e.name + ".rx")
		}

		if n <= 0 {
			e.slots.Put(slot)
			continue
		}

		e.rxPackets.AddAcqRel(1)
		e.rxBytes.AddAcqRel(uint64(n))

		sg := []SGEntry{{Item: slot, Len: n}}
		if e.deliver != nil {
			e.deliver(Message{Tag: PacketReceived, SG: sg, TotalSize: n, Ack: AckOk})
		}
	}
}

// Send converts sg into a gather-vector and writes it as one
// datagram: to peer if peer is non-nil and not the zero address,
// otherwise to the socket's connected remote. Once sg has passed the
// MaxGatherEntries check it always synthesizes a PacketSent message
// upward, regardless of the write's outcome; an oversized sg returns
// the fatal error without any upward message. The caller's SG buffers
// are free to reuse once Send returns.
func (e *Endpoint) Send(sg []SGEntry, peer *net.UDPAddr) error {
	if len(sg) > MaxGatherEntries {
		err := fmt.Errorf("endpoint %q: send: %d entries exceeds MaxGatherEntries %d: %w", e.name, len(sg), MaxGatherEntries, kernelerr.ErrFatal)
		return err
	}

	bufs := make([][]byte, len(sg))
	total := 0
	for i, ent := range sg {
		bufs[i] = ent.Bytes()
		total += ent.Len
	}

	addr := peer
	if addr != nil && addr.IP.To4() != nil && addr.IP.To4().IsUnspecified() {
		addr = nil
	}
	if addr == nil && !e.connected {
		err := fmt.Errorf("endpoint %q: send: %w", e.name, kernelerr.ErrSendFailed)
		e.deliverSent(sg, AckNotConnected)
		return err
	}

	msg := ipv4.Message{Buffers: bufs}
	if addr != nil {
		// Only a non-nil *net.UDPAddr goes into the net.Addr interface:
		// a typed nil there would not compare equal to nil.
		msg.Addr = addr
	}
	sent, werr := e.pconn.WriteBatch([]ipv4.Message{msg}, 0)

	ack := AckOk
	if werr != nil || sent == 0 {
		ack = AckNotConnected
	} else {
		e.txPackets.AddAcqRel(1)
		e.txBytes.AddAcqRel(uint64(total))
	}
	e.deliverSent(sg, ack)
	if werr != nil {
		return fmt.Errorf("endpoint %q: %w: %v", e.name, kernelerr.ErrSendFailed, werr)
	}
	return nil
}

func (e *Endpoint) deliverSent(sg []SGEntry, ack AckStatus) {
	if e.deliver == nil {
		return
	}
	total := 0
	for _, ent := range sg {
		total += ent.Len
	}
	e.deliver(Message{Tag: PacketSent, SG: sg, TotalSize: total, Ack: ack})
}

// RxBuffersFree walks sg and returns every entry's owning pool slot,
// exactly once each.
func (e *Endpoint) RxBuffersFree(sg []SGEntry) {
	for _, ent := range sg {
		e.slots.Put(ent.Item)
	}
}

// Close signals shutdown, joins the receive goroutine, destroys the
// slot pool, and closes the socket. Safe to call on a partially
// constructed Endpoint: nil sub-fields are skipped.
func (e *Endpoint) Close() error {
	if e == nil {
		return nil
	}
	if e.shutdownSig != nil {
		e.shutdownSig.Set()
	}
	e.wg.Wait()
	if e.slots != nil {
		e.slots.PutAll()
		_ = e.slots.Destroy()
	}
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}
