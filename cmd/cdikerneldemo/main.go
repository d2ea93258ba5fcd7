// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command cdikerneldemo wires pool, spscqueue, timer, delaybuffer,
// endpoint, and protocol together end to end: a small, runnable
// program rather than a test, because what it demonstrates (two real
// UDP sockets, a background timer, a background delay buffer) is
// infrastructure a benchmark or an Example function isn't the right
// shape for.
//
// It opens a receive endpoint and a send endpoint on loopback,
// negotiates a protocol version, encodes and sends a v2 header plus
// payload, receives it on the other side, feeds the decoded payload
// through a receive delay buffer, drains the delayed output through
// an spscqueue, and schedules a one-shot timer to print a final
// summary before shutting everything down.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/cdi-go/kernel/delaybuffer"
	"github.com/cdi-go/kernel/endpoint"
	"github.com/cdi-go/kernel/kernelconfig"
	"github.com/cdi-go/kernel/logkit"
	"github.com/cdi-go/kernel/pool"
	"github.com/cdi-go/kernel/protocol"
	"github.com/cdi-go/kernel/spscqueue"
	"github.com/cdi-go/kernel/timer"
)

// Version is the demo's version string, normally injected via ldflags.
var Version = "dev"

type decodedPayload struct {
	header protocol.Header
	data   []byte
}

func main() {
	log.SetFlags(0)

	cfg, err := kernelconfig.Load()
	if err != nil {
		log.Fatalf("cdikerneldemo %s: config: %v", Version, err)
	}
	// Send-buffer sizing is opt-in here: the demo runs with the OS
	// default SO_SNDBUF unless CDI_KERNEL_TX_BUFFER_SIZE_BYTES is set,
	// so tx buffer size is not required non-zero for this walkthrough.
	if err := cfg.Validate(false); err != nil {
		log.Fatalf("cdikerneldemo %s: config validate: %v", Version, err)
	}

	logHandle := logkit.Acquire(os.Stdout)
	defer logkit.Release()

	codec := protocol.Negotiate(protocol.ProtocolVersion{Version: 2, Minor: 1, Probe: 0})
	logHandle.Info().Str("wire_version", fmt.Sprintf("v%d", codec.Version())).Msg("negotiated protocol")

	delayBuf, err := delaybuffer.New[decodedPayload](
		"demo-delay",
		cfg.Delay(),
		3,
		cfg.MaxInFlightPayloads, 8, 4,
		cfg.MaxInFlightPayloads, 8, 4,
		func(decodedPayload) { logHandle.Warn().Msg("delay buffer: dropped undeliverable payload") },
	)
	if err != nil {
		log.Fatalf("cdikerneldemo %s: delaybuffer: %v", Version, err)
	}
	defer delayBuf.Close()

	received := make(chan struct{}, 1)

	// rx is declared before Open so the deliver closure below (which
	// runs asynchronously on the receive goroutine, always after Open
	// has returned and assigned rx) can call back into the very
	// endpoint that raised the message: every PacketReceived SG list
	// must eventually reach RxBuffersFree.
	var rx *endpoint.Endpoint
	rx, err = endpoint.Open("demo-rx", endpoint.Receive, mustLoopback(), nil, endpoint.Config{
		RxPoolInitial: cfg.RxPoolInitial,
		RxPoolGrow:    cfg.RxPoolGrow,
		RxPoolMaxGrow: cfg.RxPoolMaxGrow,
		Log:           &logHandle,
	}, func(msg endpoint.Message) {
		if msg.Tag != endpoint.PacketReceived {
			return
		}
		defer rx.RxBuffersFree(msg.SG)

		buf := msg.SG[0].Bytes()
		if len(buf) < codec.HeaderSize() {
			logHandle.Critical("demo", "short packet", nil)
			return
		}
		hdr, err := codec.DecodeHeader(buf[:codec.HeaderSize()])
		if err != nil {
			logHandle.Critical("demo", "header decode failed", err)
			return
		}
		payload := append([]byte(nil), buf[codec.HeaderSize():]...)

		if err := delayBuf.Push(time.Now().UnixMicro(), decodedPayload{header: hdr, data: payload}); err != nil {
			logHandle.Critical("demo", "delay buffer push failed", err)
		}
		select {
		case received <- struct{}{}:
		default:
		}
	})
	if err != nil {
		log.Fatalf("cdikerneldemo %s: open rx: %v", Version, err)
	}
	defer rx.Close()

	tx, err := endpoint.Open("demo-tx", endpoint.Send, nil, rx.LocalAddr(), endpoint.Config{
		TxBufferBytes: cfg.TxBufferSizeBytes,
	}, func(msg endpoint.Message) {
		if msg.Tag == endpoint.PacketSent {
			logHandle.Info().Int("ack", int(msg.Ack)).Int("bytes", msg.TotalSize).Msg("packet sent")
		}
	})
	if err != nil {
		log.Fatalf("cdikerneldemo %s: open tx: %v", Version, err)
	}
	defer tx.Close()

	timers, err := timer.New("demo-timer", cfg.TimerPoolSize, 8, 4, 8, 8, 4)
	if err != nil {
		log.Fatalf("cdikerneldemo %s: timer: %v", Version, err)
	}
	defer timers.Close()

	summaryDone := make(chan struct{})
	_, err = timers.Add(time.Now().Add(cfg.Delay()+100*time.Millisecond), func(_ timer.Handle, _ any) {
		defer close(summaryDone)
		var out decodedPayload
		res, perr := delayBuf.Output().Pop(&out)
		if perr != nil || res != spscqueue.PopOK {
			logHandle.Warn().Msg("summary timer: no delayed payload yet")
			return
		}
		logHandle.Info().
			Uint16("sequence_num", out.header.SequenceNum).
			Int("payload_len", len(out.data)).
			Msg("delivered payload after delay window")
	}, nil)
	if err != nil {
		log.Fatalf("cdikerneldemo %s: timer add: %v", Version, err)
	}

	if err := sendOnePacket(tx, codec); err != nil {
		log.Fatalf("cdikerneldemo %s: send: %v", Version, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-received:
	case <-ctx.Done():
		logHandle.Warn().Msg("timed out waiting for receive")
	}

	select {
	case <-summaryDone:
	case <-time.After(cfg.Delay() + time.Second):
		logHandle.Warn().Msg("summary timer did not fire in time")
	}

	fmt.Println("cdikerneldemo: wiring walkthrough complete")
}

func mustLoopback() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

// sendOnePacket encodes a v2 header in front of a fixed payload and
// sends it as one scatter-gather entry. Building the entry means
// obtaining a pool.Item[endpoint.Slot] of its own: endpoint keeps its
// receive-side pool private (callers only ever see entries it already
// raised upward), so a caller originating new outbound data allocates
// its own send-side pool the same way endpoint allocates its
// receive-side one.
func sendOnePacket(tx *endpoint.Endpoint, codec protocol.Codec) error {
	hdr := protocol.Header{PayloadNum: 1, SequenceNum: 42, PayloadType: 7, DataOffset: uint16(codec.HeaderSize())}
	var hb protocol.HeaderBuffer
	n, err := codec.EncodeHeader(hdr, hb[:])
	if err != nil {
		return err
	}

	payload := []byte("cdikerneldemo payload")
	frame := append(append([]byte(nil), hb[:n]...), payload...)
	if len(frame) > endpoint.MTU {
		return fmt.Errorf("cdikerneldemo: frame exceeds MTU")
	}

	sendPool, err := pool.New[endpoint.Slot]("demo-tx-pool", 1, 0, 0, false, nil)
	if err != nil {
		return err
	}
	item, err := sendPool.Get()
	if err != nil {
		return err
	}
	defer sendPool.Put(item)

	entry := endpoint.SGEntry{Item: item, Len: len(frame)}
	copy(entry.Bytes(), frame)

	return tx.Send([]endpoint.SGEntry{entry}, nil)
}
