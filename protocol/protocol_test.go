// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package protocol

import "testing"

func TestNegotiate_PrefersV2WhenCompatible(t *testing.T) {
	c := Negotiate(ProtocolVersion{Version: 2, Minor: 1, Probe: 0})
	if c.Version() != V2 {
		t.Fatalf("Negotiate() version = %d, want V2", c.Version())
	}
}

func TestNegotiate_Rejects2_0_0FallsBackToV1(t *testing.T) {
	c := Negotiate(ProtocolVersion{Version: 2, Minor: 0, Probe: 0})
	if c.Version() != V1 {
		t.Fatalf("Negotiate() version = %d, want V1 (2.0.0 must be rejected)", c.Version())
	}
}

func TestNegotiate_FallsBackToV1ForUnknownVersion(t *testing.T) {
	c := Negotiate(ProtocolVersion{Version: 9, Minor: 0, Probe: 0})
	if c.Version() != V1 {
		t.Fatalf("Negotiate() version = %d, want V1", c.Version())
	}
}

func TestCodec_HeaderSizes(t *testing.T) {
	v1, _ := CodecFor(V1)
	v2, _ := CodecFor(V2)
	if v1.HeaderSize() != V1HeaderSize {
		t.Fatalf("v1 HeaderSize() = %d, want %d", v1.HeaderSize(), V1HeaderSize)
	}
	if v2.HeaderSize() != V2HeaderSize {
		t.Fatalf("v2 HeaderSize() = %d, want %d", v2.HeaderSize(), V2HeaderSize)
	}
	if v1.ProbeSize() != V1ProbeSize {
		t.Fatalf("v1 ProbeSize() = %d, want %d", v1.ProbeSize(), V1ProbeSize)
	}
	if v2.ProbeSize() != V2ProbeSize {
		t.Fatalf("v2 ProbeSize() = %d, want %d", v2.ProbeSize(), V2ProbeSize)
	}
}

func TestCodec_HeaderRoundTrip(t *testing.T) {
	for _, v := range []Version{V1, V2} {
		c, err := CodecFor(v)
		if err != nil {
			t.Fatalf("CodecFor(%d) error = %v", v, err)
		}
		want := Header{PayloadNum: 7, SequenceNum: 1234, PayloadType: 3, DataOffset: 4096}
		var buf HeaderBuffer
		n, err := c.EncodeHeader(want, buf[:])
		if err != nil {
			t.Fatalf("EncodeHeader() error = %v", err)
		}
		if n != c.HeaderSize() {
			t.Fatalf("EncodeHeader() wrote %d bytes, want %d", n, c.HeaderSize())
		}
		got, err := c.DecodeHeader(buf[:n])
		if err != nil {
			t.Fatalf("DecodeHeader() error = %v", err)
		}
		if got != want {
			t.Fatalf("version %d: round trip = %+v, want %+v", v, got, want)
		}
	}
}

func TestCodec_ReorderInfo(t *testing.T) {
	c, _ := CodecFor(V1)
	h := Header{PayloadNum: 5, SequenceNum: 9}
	info := c.ReorderInfo(h)
	if info.PayloadNum != 5 || info.SequenceNum != 9 {
		t.Fatalf("ReorderInfo() = %+v, want {PayloadNum:5 SequenceNum:9}", info)
	}
}

func TestCodec_ProbeRoundTrip(t *testing.T) {
	for _, v := range []Version{V1, V2} {
		c, _ := CodecFor(v)
		p := Probe{Version: ProtocolVersion{Version: byte(v), Minor: 2, Probe: 1}}
		copy(p.Name[:], "endpoint-a")

		var buf ProbeBuffer
		n, err := c.EncodeProbe(p, buf[:])
		if err != nil {
			t.Fatalf("EncodeProbe() error = %v", err)
		}
		if n != c.ProbeSize() {
			t.Fatalf("EncodeProbe() wrote %d, want %d", n, c.ProbeSize())
		}
		got, err := c.DecodeProbe(buf[:n])
		if err != nil {
			t.Fatalf("DecodeProbe() error = %v", err)
		}
		if got != p {
			t.Fatalf("version %d: probe round trip = %+v, want %+v", v, got, p)
		}
	}
}

func TestCodec_DecodeProbeRejectsWrongSize(t *testing.T) {
	c, _ := CodecFor(V1)
	_, err := c.DecodeProbe(make([]byte, 10))
	if err == nil {
		t.Fatal("DecodeProbe() with wrong size = nil error, want ProbePacketInvalidSize")
	}
}
