package h3frame

import (
	"bytes"
	"testing"
)

func TestEncodeVarintUsesSmallestPrefixForEachRange(t *testing.T) {
	cases := []struct {
		v      uint64
		length int
	}{
		{0, 1},
		{0x3F, 1},
		{0x40, 2},
		{0x3FFF, 2},
		{0x4000, 4},
		{0x3FFFFFFF, 4},
		{0x40000000, 8},
	}
	for _, c := range cases {
		out := EncodeVarint(nil, c.v)
		if len(out) != c.length {
			t.Fatalf("EncodeVarint(%d) len = %d, want %d", c.v, len(out), c.length)
		}
	}
}

func TestVarintRoundTrips(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, 1 << 40}
	for _, v := range values {
		encoded := EncodeVarint(nil, v)
		decoded, consumed, err := DecodeVarint(encoded)
		if err != nil {
			t.Fatalf("DecodeVarint(%d): %v", v, err)
		}
		if consumed != len(encoded) {
			t.Fatalf("DecodeVarint(%d) consumed = %d, want %d", v, consumed, len(encoded))
		}
		if decoded != v {
			t.Fatalf("DecodeVarint(%d) = %d", v, decoded)
		}
	}
}

func TestDecodeVarintOnEmptyBufferReturnsZeroConsumedNoError(t *testing.T) {
	_, consumed, err := DecodeVarint(nil)
	if err != nil {
		t.Fatalf("DecodeVarint(nil) err = %v, want nil", err)
	}
	if consumed != 0 {
		t.Fatalf("consumed = %d, want 0", consumed)
	}
}

func TestDecodeVarintUnderrunReturnsProtocolError(t *testing.T) {
	// prefix bits 01 declare a 2-byte varint but only 1 byte is present.
	_, _, err := DecodeVarint([]byte{0x40})
	if err == nil {
		t.Fatal("expected a varint under-run error")
	}
}

func TestEncodeDecodeFrameRoundTrips(t *testing.T) {
	frame := Frame{Type: FrameHeaders, Payload: []byte("field section bytes")}
	encoded := Encode(frame)

	decoded, consumed, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != len(encoded) {
		t.Fatalf("consumed = %d, want %d", consumed, len(encoded))
	}
	if decoded.Type != frame.Type || !bytes.Equal(decoded.Payload, frame.Payload) {
		t.Fatalf("decoded = %+v, want %+v", decoded, frame)
	}
}

func TestEncodeDecodeFrameWithEmptyPayload(t *testing.T) {
	frame := Frame{Type: FrameGoaway, Payload: nil}
	encoded := Encode(frame)

	decoded, consumed, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != len(encoded) {
		t.Fatalf("consumed = %d, want %d", consumed, len(encoded))
	}
	if decoded.Type != FrameGoaway || len(decoded.Payload) != 0 {
		t.Fatalf("decoded = %+v, want empty GOAWAY", decoded)
	}
}

func TestEncodeDecodeFrameWithLargePayloadUsesExtendedLengthVarint(t *testing.T) {
	payload := make([]byte, 20000)
	frame := Frame{Type: FrameData, Payload: payload}
	encoded := Encode(frame)

	decoded, consumed, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != len(encoded) {
		t.Fatalf("consumed = %d, want %d", consumed, len(encoded))
	}
	if len(decoded.Payload) != len(payload) {
		t.Fatalf("payload len = %d, want %d", len(decoded.Payload), len(payload))
	}
}

func TestDecodeOnEmptyBufferReturnsZeroConsumedNoError(t *testing.T) {
	_, consumed, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil) err = %v, want nil", err)
	}
	if consumed != 0 {
		t.Fatalf("consumed = %d, want 0", consumed)
	}
}

func TestDecodeReturnsProtocolErrorOnTruncatedPayload(t *testing.T) {
	frame := Frame{Type: FrameSettings, Payload: []byte("0123456789")}
	encoded := Encode(frame)
	truncated := encoded[:len(encoded)-5]

	_, _, err := Decode(truncated)
	if err == nil {
		t.Fatal("expected a protocol error decoding a truncated frame")
	}
}

func TestDecodeAllEmitsEveryCompleteFrameAndLeavesTrailingPartialBuffered(t *testing.T) {
	f1 := Encode(Frame{Type: FrameData, Payload: []byte("one")})
	f2 := Encode(Frame{Type: FrameHeaders, Payload: []byte("two")})
	f3 := Encode(Frame{Type: FrameGoaway, Payload: []byte("three")})

	buf := append(append(append([]byte{}, f1...), f2...), f3[:len(f3)-2]...)

	frames, consumed, err := DecodeAll(buf)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("decoded %d frames, want 2", len(frames))
	}
	if consumed != len(f1)+len(f2) {
		t.Fatalf("consumed = %d, want %d", consumed, len(f1)+len(f2))
	}
	if frames[0].Type != FrameData || frames[1].Type != FrameHeaders {
		t.Fatalf("frame types = [%v, %v]", frames[0].Type, frames[1].Type)
	}
}

func TestDefaultSettingsMatchesSpecDefaults(t *testing.T) {
	s := DefaultSettings()
	if s.QPACKMaxTableCapacity != 4096 || s.MaxFieldSectionSize != 16384 || s.QPACKBlockedStreams != 100 {
		t.Fatalf("DefaultSettings = %+v", s)
	}
}
