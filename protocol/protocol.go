// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package protocol implements wire-version dispatch: two fixed header
// formats (v1, v2) selected once at connection negotiation time and
// used for the life of the connection.
//
// Codec is an interface with exactly two implementations, v1Codec and
// v2Codec, and Negotiate picks one per connection, so every downstream
// operation (header encode/decode, reorder-info extraction, probe
// encode/decode) dispatches through one value with no per-call version
// branching.
//
// Within the fixed header and probe sizes, fields beyond the four
// identity-carrying ones (payload number, sequence number, payload
// type, data offset) are reserved: zeroed by Encode, ignored by
// Decode.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/cdi-go/kernel/kernelerr"
)

// Fixed wire sizes.
const (
	V1HeaderSize = 34
	V2HeaderSize = 47
	V1ProbeSize  = 257
	V2ProbeSize  = 253

	// MaxExtraData bounds MAX_CDI_PACKET_EXTRA_DATA: the largest extra
	// header payload a caller may append after the fixed portion.
	MaxExtraData = 256
)

// HeaderBuffer is large enough to hold either version's fixed header
// plus the maximum extra data, so callers can allocate one buffer type
// regardless of which version negotiation settles on.
type HeaderBuffer [V2HeaderSize + MaxExtraData]byte

// ProbeBuffer is large enough to hold either version's probe.
type ProbeBuffer [V1ProbeSize]byte

// Version identifies a wire format.
type Version uint8

const (
	V1 Version = 1
	V2 Version = 2
)

// ProtocolVersion is the three-byte {version, minor, probe} triple
// carried in the first bytes of any probe packet.
type ProtocolVersion struct {
	Version byte
	Minor   byte
	Probe   byte
}

// IsV2Compatible reports whether a remote-advertised version qualifies
// for the v2 wire format. The triple 2.0.0 is unsupported even though
// Version == 2, so negotiation falls back to v1 for that specific
// remote.
func (v ProtocolVersion) IsV2Compatible() bool {
	if v.Version != 2 {
		return false
	}
	if v.Minor == 0 && v.Probe == 0 {
		return false
	}
	return true
}

// Header is the version-independent view of a payload header: the
// four fields encode∘decode round-trips exactly. A codec's on-wire
// layout may reserve additional bytes for version-specific fields;
// those are zeroed by Encode and ignored by Decode.
type Header struct {
	PayloadNum  uint16
	SequenceNum uint16
	PayloadType uint8
	DataOffset  uint16
}

// ReorderInfo is what the reassembly layer needs to place a payload
// back in order, extracted from a decoded Header.
type ReorderInfo struct {
	SequenceNum uint16
	PayloadNum  uint16
}

// Probe is the version-independent view of a probe packet's identity
// fields.
type Probe struct {
	Version ProtocolVersion
	Name    [32]byte // null-padded connection/endpoint identity string
}

// Codec dispatches header and probe encode/decode for one wire
// version. The two implementations, v1Codec and v2Codec, are the
// tagged union's variants.
type Codec interface {
	Version() Version
	HeaderSize() int
	ProbeSize() int

	EncodeHeader(h Header, buf []byte) (int, error)
	DecodeHeader(buf []byte) (Header, error)
	ReorderInfo(h Header) ReorderInfo

	EncodeProbe(p Probe, buf []byte) (int, error)
	DecodeProbe(buf []byte) (Probe, error)
}

// Negotiate selects a Codec for a connection given the remote's
// advertised protocol version: v2 if IsV2Compatible reports true,
// otherwise v1. Negotiation never fails outright; v1 is always a
// valid fallback.
func Negotiate(remote ProtocolVersion) Codec {
	if remote.IsV2Compatible() {
		return v2Codec{}
	}
	return v1Codec{}
}

// CodecFor returns the codec for an explicitly chosen version, for
// callers that already know which wire format a connection uses
// (e.g. after negotiation has been persisted) rather than negotiating
// fresh.
func CodecFor(v Version) (Codec, error) {
	switch v {
	case V1:
		return v1Codec{}, nil
	case V2:
		return v2Codec{}, nil
	default:
		return nil, fmt.Errorf("protocol: version %d: %w", v, kernelerr.ErrInvalidParameter)
	}
}

type v1Codec struct{}

func (v1Codec) Version() Version { return V1 }
func (v1Codec) HeaderSize() int  { return V1HeaderSize }
func (v1Codec) ProbeSize() int   { return V1ProbeSize }

func (v1Codec) EncodeHeader(h Header, buf []byte) (int, error) {
	if len(buf) < V1HeaderSize {
		return 0, fmt.Errorf("protocol: v1 header: %w", kernelerr.ErrBufferOverflow)
	}
	binary.BigEndian.PutUint16(buf[0:2], h.PayloadNum)
	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNum)
	buf[4] = h.PayloadType
	binary.BigEndian.PutUint16(buf[5:7], h.DataOffset)
	for i := 7; i < V1HeaderSize; i++ {
		buf[i] = 0
	}
	return V1HeaderSize, nil
}

func (v1Codec) DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < V1HeaderSize {
		return Header{}, fmt.Errorf("protocol: v1 header: %w", kernelerr.ErrInvalidPayload)
	}
	return Header{
		PayloadNum:  binary.BigEndian.Uint16(buf[0:2]),
		SequenceNum: binary.BigEndian.Uint16(buf[2:4]),
		PayloadType: buf[4],
		DataOffset:  binary.BigEndian.Uint16(buf[5:7]),
	}, nil
}

func (v1Codec) ReorderInfo(h Header) ReorderInfo {
	return ReorderInfo{SequenceNum: h.SequenceNum, PayloadNum: h.PayloadNum}
}

func (v1Codec) EncodeProbe(p Probe, buf []byte) (int, error) {
	return encodeProbe(p, buf, V1ProbeSize)
}

func (v1Codec) DecodeProbe(buf []byte) (Probe, error) {
	return decodeProbe(buf, V1ProbeSize)
}

type v2Codec struct{}

func (v2Codec) Version() Version { return V2 }
func (v2Codec) HeaderSize() int  { return V2HeaderSize }
func (v2Codec) ProbeSize() int   { return V2ProbeSize }

func (v2Codec) EncodeHeader(h Header, buf []byte) (int, error) {
	if len(buf) < V2HeaderSize {
		return 0, fmt.Errorf("protocol: v2 header: %w", kernelerr.ErrBufferOverflow)
	}
	binary.BigEndian.PutUint16(buf[0:2], h.PayloadNum)
	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNum)
	buf[4] = h.PayloadType
	binary.BigEndian.PutUint16(buf[5:7], h.DataOffset)
	for i := 7; i < V2HeaderSize; i++ {
		buf[i] = 0
	}
	return V2HeaderSize, nil
}

func (v2Codec) DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < V2HeaderSize {
		return Header{}, fmt.Errorf("protocol: v2 header: %w", kernelerr.ErrInvalidPayload)
	}
	return Header{
		PayloadNum:  binary.BigEndian.Uint16(buf[0:2]),
		SequenceNum: binary.BigEndian.Uint16(buf[2:4]),
		PayloadType: buf[4],
		DataOffset:  binary.BigEndian.Uint16(buf[5:7]),
	}, nil
}

func (v2Codec) ReorderInfo(h Header) ReorderInfo {
	return ReorderInfo{SequenceNum: h.SequenceNum, PayloadNum: h.PayloadNum}
}

func (v2Codec) EncodeProbe(p Probe, buf []byte) (int, error) {
	return encodeProbe(p, buf, V2ProbeSize)
}

func (v2Codec) DecodeProbe(buf []byte) (Probe, error) {
	return decodeProbe(buf, V2ProbeSize)
}

func encodeProbe(p Probe, buf []byte, size int) (int, error) {
	if len(buf) < size {
		return 0, fmt.Errorf("protocol: probe: %w", kernelerr.ErrBufferOverflow)
	}
	buf[0] = p.Version.Version
	buf[1] = p.Version.Minor
	buf[2] = p.Version.Probe
	n := copy(buf[3:3+len(p.Name)], p.Name[:])
	for i := 3 + n; i < size; i++ {
		buf[i] = 0
	}
	return size, nil
}

func decodeProbe(buf []byte, size int) (Probe, error) {
	if len(buf) != size {
		return Probe{}, fmt.Errorf("protocol: probe: %w", kernelerr.ErrProbePacketInvalidSize)
	}
	var p Probe
	p.Version = ProtocolVersion{Version: buf[0], Minor: buf[1], Probe: buf[2]}
	copy(p.Name[:], buf[3:3+len(p.Name)])
	return p, nil
}
