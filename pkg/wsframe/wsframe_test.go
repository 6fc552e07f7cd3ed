package wsframe

import (
	"bytes"
	"testing"
)

func TestEncodeUnmaskedSmallFrameLayout(t *testing.T) {
	out, err := Encode(Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("hi")}, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x81, 0x02, 'h', 'i'}
	if !bytes.Equal(out, want) {
		t.Fatalf("Encode = % x, want % x", out, want)
	}
}

func TestEncodeMaskedFrameXORsPayloadWithKeyCyclically(t *testing.T) {
	payload := []byte("hello world")
	out, err := Encode(Frame{Fin: true, Opcode: OpcodeBinary, Payload: payload}, true)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out[1]&0x80 == 0 {
		t.Fatal("expected MASK bit set in masked frame")
	}

	var key [4]byte
	copy(key[:], out[2:6])
	masked := out[6:]
	unmasked := make([]byte, len(masked))
	copy(unmasked, masked)
	ApplyMask(unmasked, key)
	if !bytes.Equal(unmasked, payload) {
		t.Fatalf("unmasked payload = %q, want %q", unmasked, payload)
	}
}

func TestEncodeUsesExtended16LengthFieldAbove125Bytes(t *testing.T) {
	payload := make([]byte, 200)
	out, err := Encode(Frame{Fin: true, Opcode: OpcodeBinary, Payload: payload}, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out[1] != lenExtended16 {
		t.Fatalf("len field = %d, want 126 (extended16 marker)", out[1])
	}
}

func TestEncodeUsesExtended64LengthFieldAbove65535Bytes(t *testing.T) {
	payload := make([]byte, 70_000)
	out, err := Encode(Frame{Fin: true, Opcode: OpcodeBinary, Payload: payload}, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out[1] != lenExtended64 {
		t.Fatalf("len field = %d, want 127 (extended64 marker)", out[1])
	}
}

func TestDecodeRoundTripsUnmaskedFrame(t *testing.T) {
	frame := Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("round trip")}
	encoded, err := Encode(frame, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d := NewDecoder()
	frames, err := d.Feed(encoded)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, frame.Payload) || frames[0].Opcode != frame.Opcode || frames[0].Fin != frame.Fin {
		t.Fatalf("decoded frame = %+v, want %+v", frames[0], frame)
	}
}

func TestDecodeRoundTripsMaskedFrame(t *testing.T) {
	frame := Frame{Fin: true, Opcode: OpcodeBinary, Payload: []byte("client payload")}
	encoded, err := Encode(frame, true)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d := NewDecoder()
	frames, err := d.Feed(encoded)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, frame.Payload) {
		t.Fatalf("decoded payload = %q, want %q", frames[0].Payload, frame.Payload)
	}
}

func TestDecodeBuffersPartialFrameAcrossFeeds(t *testing.T) {
	frame := Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("partial delivery")}
	encoded, err := Encode(frame, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d := NewDecoder()
	split := len(encoded) / 2

	frames, err := d.Feed(encoded[:split])
	if err != nil {
		t.Fatalf("Feed (first half): %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("decoded %d frames from a partial feed, want 0", len(frames))
	}

	frames, err = d.Feed(encoded[split:])
	if err != nil {
		t.Fatalf("Feed (second half): %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("decoded %d frames after completing the frame, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, frame.Payload) {
		t.Fatalf("decoded payload = %q, want %q", frames[0].Payload, frame.Payload)
	}
}

func TestDecodeEmitsMultipleFramesFromOneFeed(t *testing.T) {
	f1, _ := Encode(Frame{Fin: true, Opcode: OpcodePing, Payload: nil}, false)
	f2, _ := Encode(Frame{Fin: true, Opcode: OpcodePong, Payload: nil}, false)

	d := NewDecoder()
	frames, err := d.Feed(append(f1, f2...))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("decoded %d frames, want 2", len(frames))
	}
	if frames[0].Opcode != OpcodePing || frames[1].Opcode != OpcodePong {
		t.Fatalf("opcodes = [%v, %v], want [ping, pong]", frames[0].Opcode, frames[1].Opcode)
	}
}

func TestDecodeRejectsUnknownOpcode(t *testing.T) {
	d := NewDecoder()
	_, err := d.Feed([]byte{0x83, 0x00}) // FIN + opcode 0x3, reserved/unassigned
	if err == nil {
		t.Fatal("expected an error decoding an unknown opcode")
	}
}
