// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package kernelerr is the shared error taxonomy for the kernel.
//
// Every component returns one of these sentinel errors (or wraps one
// with fmt.Errorf's %w) rather than inventing ad-hoc strings, so a
// caller anywhere in the kernel can classify a failure with
// errors.Is/errors.As regardless of which component produced it.
// Semantic conditions that code.hybscloud.com/iox already names
// (would-block) are sourced from there so classification composes
// with the wider ecosystem.
package kernelerr

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// Sentinel errors for every failure kind the kernel produces.
var (
	// ErrFatal marks a programmer-error condition: destroying a pool
	// with outstanding items, an SG list exceeding the gather-vector
	// cap, or any other invariant violation that indicates a bug rather
	// than an operating condition.
	ErrFatal = errors.New("kernel: fatal error")

	// ErrNotEnoughMemory is returned when an allocation could not be
	// satisfied by the host.
	ErrNotEnoughMemory = errors.New("kernel: not enough memory")

	// ErrAllocationFailed marks a lower-level allocation failure distinct
	// from outright memory exhaustion (e.g. huge-page reservation).
	ErrAllocationFailed = errors.New("kernel: allocation failed")

	// ErrCreateThreadFailed is returned when a long-lived goroutine could
	// not be started (reserved for parity with the host-thread model;
	// Go's runtime does not itself fail goroutine creation, but callers
	// that wrap real OS threads via a Thread abstraction may).
	ErrCreateThreadFailed = errors.New("kernel: create thread failed")

	// ErrOpenFailed marks failure to open a transport resource (socket).
	ErrOpenFailed = errors.New("kernel: open failed")

	// ErrGetPortFailed marks failure to resolve a bound socket's port.
	ErrGetPortFailed = errors.New("kernel: get port failed")

	// ErrSendFailed marks a failed write to the wire.
	ErrSendFailed = errors.New("kernel: send failed")

	// ErrInvalidParameter marks a caller-supplied argument that violates
	// a documented precondition.
	ErrInvalidParameter = errors.New("kernel: invalid parameter")

	// ErrInvalidPayload marks a payload that failed structural validation
	// (e.g. ancillary packet whose declared size disagrees with its
	// bytes).
	ErrInvalidPayload = errors.New("kernel: invalid payload")

	// ErrBufferOverflow marks an attempt to write past a fixed-size
	// buffer (header union, gather-vector).
	ErrBufferOverflow = errors.New("kernel: buffer overflow")

	// ErrProbePacketInvalidSize marks a probe packet whose length matches
	// neither the v1 nor v2 probe header size.
	ErrProbePacketInvalidSize = errors.New("kernel: probe packet invalid size")

	// ErrRxPayloadError marks a delivery-path failure that the external
	// PayloadErrorFreeBuffer hook must be given a chance to clean up
	// after.
	ErrRxPayloadError = errors.New("kernel: rx payload error")

	// ErrNonFatal is a generic non-fatal condition: logged, the
	// operation continues.
	ErrNonFatal = errors.New("kernel: non-fatal error")

	// ErrThrottling marks a condition where a caller should back off
	// (distinct from ErrWouldBlock: a policy decision, not a full
	// buffer).
	ErrThrottling = errors.New("kernel: throttling")

	// ErrWouldBlock re-exports iox's semantic "try again" signal so
	// every component in the kernel that wraps a ring/spscqueue/fifo
	// operation can classify it the same way.
	ErrWouldBlock = iox.ErrWouldBlock
)

// IsWouldBlock reports whether err is (or wraps) ErrWouldBlock.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsFatal reports whether err is (or wraps) ErrFatal. Fatal errors mark
// programmer-error invariant violations; production code should treat
// them as unrecoverable for the owning component.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// IsNonFatal reports whether err represents a condition the caller can
// log and continue past: ErrNonFatal, ErrThrottling, or ErrWouldBlock.
// A nil err also reports true.
func IsNonFatal(err error) bool {
	return err == nil ||
		errors.Is(err, ErrNonFatal) ||
		errors.Is(err, ErrThrottling) ||
		IsWouldBlock(err)
}

// Wrap annotates err with a component-local message while preserving
// errors.Is/As compatibility with the sentinel it wraps.
func Wrap(component string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", component, err)
}
