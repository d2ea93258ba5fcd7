// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ancillary implements the packetize/unpacketize round trip
// for ancillary-data payloads: packing application packets
// (DID/SDID/data) into 4-byte aligned wire payloads and counting
// parity errors on the way back. Packetize∘Unpacketize is the identity
// on the packet structure when no transmission errors are introduced.
//
// The 10-bit user-data-word layout follows the SMPTE 291M ancillary
// data convention: each word is 8 data bits plus an even-parity bit
// and its complement. A 4-byte payload header carries the packet count
// and field kind; each packet carries DID, SDID, a data count, its
// data words, and a checksum word.
package ancillary

import (
	"fmt"

	"github.com/cdi-go/kernel/kernelerr"
)

// FieldKind distinguishes the video field the ancillary data is
// associated with, carried in the payload header.
type FieldKind uint8

const (
	FieldLuma FieldKind = iota
	FieldChroma
	FieldProgressive
)

// Word is one 10-bit SMPTE-291M-style user-data word: 8 data bits,
// a parity bit, and its complement, packed into the low 10 bits of a
// uint16.
type Word uint16

// NewWord builds a parity-correct Word from an 8-bit data value.
func NewWord(data byte) Word {
	parity := byte(0)
	for b := data; b != 0; b &= b - 1 {
		parity ^= 1
	}
	return Word(uint16(data) | uint16(parity)<<8 | uint16(parity^1)<<9)
}

// Data returns the 8 data bits.
func (w Word) Data() byte { return byte(w & 0xFF) }

// Valid reports whether the word's parity and inverted-parity bits
// are internally consistent with its data bits — a single detected
// transmission-error word fails this check.
func (w Word) Valid() bool {
	parity := byte(0)
	for b := w.Data(); b != 0; b &= b - 1 {
		parity ^= 1
	}
	gotParity := byte((w >> 8) & 1)
	gotInverse := byte((w >> 9) & 1)
	return gotParity == parity && gotInverse == (parity^1)
}

// Packet is one application-level ancillary packet: a DID/SDID pair
// (data identifier / secondary data identifier) plus its data bytes.
type Packet struct {
	DID  byte
	SDID byte
	Data []byte
}

// Payload is the decoded form Unpacketize returns: the field kind
// carried in the 4-byte payload header, the packets it contained, and
// a count of parity errors detected while decoding user-data words.
type Payload struct {
	Kind         FieldKind
	Packets      []Packet
	ParityFailed int // number of words that failed Valid()
}

// wireChecksum folds a packet's DID, SDID, data-count, and every data
// byte into a single parity-carrying Word, the same role SMPTE 291M's
// checksum word plays: a single extra word that lets Unpacketize
// detect a corrupted packet body even when every individual word's own
// parity bits still check out.
func wireChecksum(did, sdid byte, data []byte) Word {
	sum := uint16(did) + uint16(sdid) + uint16(len(data))
	for _, b := range data {
		sum += uint16(b)
	}
	return NewWord(byte(sum))
}

// Packetize assembles packets into one ancillary-data wire payload:
// a 4-byte payload header (packet count, field kind, 2 bytes
// reserved/padding) followed, per packet, by DID, SDID, data-count,
// every data byte encoded as a parity Word, and a checksum Word.
// Payloads are always multiples of 4 bytes: Packetize pads the final
// packet's word stream to a 4-byte boundary with zero padding (itself
// parity-encoded) regardless of how many data bytes each packet
// carries.
func Packetize(kind FieldKind, packets []Packet) ([]byte, error) {
	if len(packets) == 0 || len(packets) > 255 {
		return nil, fmt.Errorf("ancillary: packetize: %w", kernelerr.ErrInvalidParameter)
	}

	out := make([]byte, 4)
	out[0] = byte(len(packets))
	out[1] = byte(kind)

	for _, p := range packets {
		if len(p.Data) > 255 {
			return nil, fmt.Errorf("ancillary: packetize: packet data too long: %w", kernelerr.ErrInvalidPayload)
		}
		out = appendWord(out, NewWord(p.DID))
		out = appendWord(out, NewWord(p.SDID))
		out = appendWord(out, NewWord(byte(len(p.Data))))
		for _, b := range p.Data {
			out = appendWord(out, NewWord(b))
		}
		out = appendWord(out, wireChecksum(p.DID, p.SDID, p.Data))
	}

	for len(out)%4 != 0 {
		out = appendWordByte(out, 0)
	}
	return out, nil
}

// appendWord appends a Word as 2 little-endian bytes.
func appendWord(buf []byte, w Word) []byte {
	return append(buf, byte(w), byte(w>>8))
}

func appendWordByte(buf []byte, b byte) []byte {
	return appendWord(buf, NewWord(b))
}

// Unpacketize is Packetize's inverse: it reads the 4-byte payload
// header, then walks each packet's DID/SDID/data-count/data/checksum
// words, validating every word's parity and counting failures in
// Payload.ParityFailed rather than aborting on the first one, so a
// caller sees the exact error count for a corrupted payload.
func Unpacketize(buf []byte) (Payload, error) {
	if len(buf) < 4 || len(buf)%4 != 0 {
		return Payload{}, fmt.Errorf("ancillary: unpacketize: %w", kernelerr.ErrInvalidPayload)
	}
	count := int(buf[0])
	kind := FieldKind(buf[1])

	r := wordReader{buf: buf[4:]}
	out := Payload{Kind: kind, Packets: make([]Packet, 0, count)}

	for i := 0; i < count; i++ {
		didW, ok := r.next()
		if !ok {
			return Payload{}, fmt.Errorf("ancillary: unpacketize: truncated: %w", kernelerr.ErrInvalidPayload)
		}
		if !didW.Valid() {
			out.ParityFailed++
		}
		sdidW, ok := r.next()
		if !ok {
			return Payload{}, fmt.Errorf("ancillary: unpacketize: truncated: %w", kernelerr.ErrInvalidPayload)
		}
		if !sdidW.Valid() {
			out.ParityFailed++
		}
		dcW, ok := r.next()
		if !ok {
			return Payload{}, fmt.Errorf("ancillary: unpacketize: truncated: %w", kernelerr.ErrInvalidPayload)
		}
		if !dcW.Valid() {
			out.ParityFailed++
		}
		n := int(dcW.Data())

		data := make([]byte, n)
		for j := 0; j < n; j++ {
			w, ok := r.next()
			if !ok {
				return Payload{}, fmt.Errorf("ancillary: unpacketize: truncated: %w", kernelerr.ErrInvalidPayload)
			}
			if !w.Valid() {
				out.ParityFailed++
			}
			data[j] = w.Data()
		}

		cksW, ok := r.next()
		if !ok {
			return Payload{}, fmt.Errorf("ancillary: unpacketize: truncated: %w", kernelerr.ErrInvalidPayload)
		}
		if !cksW.Valid() {
			out.ParityFailed++
		}
		want := wireChecksum(didW.Data(), sdidW.Data(), data)
		if want.Data() != cksW.Data() {
			out.ParityFailed++
		}

		out.Packets = append(out.Packets, Packet{DID: didW.Data(), SDID: sdidW.Data(), Data: data})
	}

	return out, nil
}

// wordReader walks 2-byte little-endian Words out of a byte slice.
type wordReader struct {
	buf []byte
	pos int
}

func (r *wordReader) next() (Word, bool) {
	if r.pos+2 > len(r.buf) {
		return 0, false
	}
	w := Word(uint16(r.buf[r.pos]) | uint16(r.buf[r.pos+1])<<8)
	r.pos += 2
	return w, true
}
