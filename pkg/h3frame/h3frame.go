// Package h3frame implements the HTTP/3 frame and varint encoding
// byte-for-byte, kept as a reference-only codec alongside pkg/wsframe
// — nothing in this module drives an actual QUIC transport. The
// varint is the QUIC variable-length integer (RFC 9000 §16): the top
// two bits of the first byte select a 1/2/4/8 byte encoding carrying
// 6/14/30/62 significant bits.
//
// A length-prefixed frame's varint length field is encoded at its
// natural RFC width rather than padded to a fixed 16 bits regardless
// of magnitude, favoring a standards-conformant wire format over a
// narrower historical encoding.
package h3frame

import (
	"encoding/binary"

	"github.com/thushan/netlayer/internal/neterr"
)

// FrameType identifies an HTTP/3 frame's payload interpretation
// (RFC 9114 §7.2).
type FrameType uint64

const (
	FrameData        FrameType = 0x00
	FrameHeaders     FrameType = 0x01
	FrameCancelPush  FrameType = 0x03
	FrameSettings    FrameType = 0x04
	FramePushPromise FrameType = 0x05
	FrameGoaway      FrameType = 0x07
	FrameMaxPushID   FrameType = 0x0D
)

// StreamType identifies an HTTP/3 unidirectional stream's purpose
// (RFC 9114 §6.2).
type StreamType uint64

const (
	StreamControl      StreamType = 0x00
	StreamPush         StreamType = 0x01
	StreamQPACKEncoder StreamType = 0x02
	StreamQPACKDecoder StreamType = 0x03
)

// ErrorCode enumerates the RFC 9114 §8.1 application error codes,
// 0x100 through 0x110.
type ErrorCode uint64

const (
	ErrNoError              ErrorCode = 0x100
	ErrGeneralProtocolError ErrorCode = 0x101
	ErrInternalError        ErrorCode = 0x102
	ErrStreamCreationError  ErrorCode = 0x103
	ErrClosedCriticalStream ErrorCode = 0x104
	ErrFrameUnexpected      ErrorCode = 0x105
	ErrFrameError           ErrorCode = 0x106
	ErrExcessiveLoad        ErrorCode = 0x107
	ErrIDError              ErrorCode = 0x108
	ErrSettingsError        ErrorCode = 0x109
	ErrMissingSettings      ErrorCode = 0x10A
	ErrRequestRejected      ErrorCode = 0x10B
	ErrRequestCancelled     ErrorCode = 0x10C
	ErrRequestIncomplete    ErrorCode = 0x10D
	ErrMessageError         ErrorCode = 0x10E
	ErrConnectError         ErrorCode = 0x10F
	ErrVersionFallback      ErrorCode = 0x110
)

// Settings holds the peer-negotiated HTTP/3 SETTINGS values relevant
// to QPACK.
type Settings struct {
	QPACKMaxTableCapacity uint64
	MaxFieldSectionSize   uint64
	QPACKBlockedStreams   uint64
}

// DefaultSettings returns the conservative defaults used whenever a
// peer's SETTINGS frame has not yet been received.
func DefaultSettings() Settings {
	return Settings{
		QPACKMaxTableCapacity: 4096,
		MaxFieldSectionSize:   16384,
		QPACKBlockedStreams:   100,
	}
}

// Frame is one decoded HTTP/3 frame: a type, and its raw payload
// bytes (HEADERS/PUSH_PROMISE payloads are QPACK-encoded field
// sections this package does not interpret).
type Frame struct {
	Type    FrameType
	Payload []byte
}

// EncodeVarint appends the QUIC variable-length integer encoding of v
// to dst and returns the extended slice. v must fit in 62 bits
// (RFC 9000 §16); values above that range are rejected by the caller's
// choice of prefix, not checked here since v is unsigned-representable
// by construction in every caller in this package.
func EncodeVarint(dst []byte, v uint64) []byte {
	switch {
	case v <= 0x3F:
		return append(dst, byte(v))
	case v <= 0x3FFF:
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(v))
		buf[0] |= 0x40
		return append(dst, buf[:]...)
	case v <= 0x3FFFFFFF:
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(v))
		buf[0] |= 0x80
		return append(dst, buf[:]...)
	default:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v)
		buf[0] |= 0xC0
		return append(dst, buf[:]...)
	}
}

// DecodeVarint reads one QUIC variable-length integer from the start
// of buf. An empty buf returns consumed==0 with no error (nothing to
// read yet). A non-empty buf too short to hold the length its own
// prefix declares is a varint under-run and returns a ProtocolError.
func DecodeVarint(buf []byte) (value uint64, consumed int, err error) {
	if len(buf) < 1 {
		return 0, 0, nil
	}
	prefix := buf[0] >> 6
	length := 1 << prefix // 1, 2, 4, or 8 bytes
	if len(buf) < length {
		return 0, 0, neterr.NewProtocolError("h3frame_decode", "varint under-run", nil)
	}

	tmp := make([]byte, length)
	copy(tmp, buf[:length])
	tmp[0] &= 0x3F

	switch length {
	case 1:
		return uint64(tmp[0]), 1, nil
	case 2:
		return uint64(binary.BigEndian.Uint16(tmp)), 2, nil
	case 4:
		return uint64(binary.BigEndian.Uint32(tmp)), 4, nil
	default:
		return binary.BigEndian.Uint64(tmp), 8, nil
	}
}

// Encode serializes a frame as varint-type ∥ varint-length ∥ payload.
func Encode(frame Frame) []byte {
	out := EncodeVarint(nil, uint64(frame.Type))
	out = EncodeVarint(out, uint64(len(frame.Payload)))
	out = append(out, frame.Payload...)
	return out
}

// Decode reads one frame from the start of buf, returning the number
// of bytes consumed. consumed==0 with a nil error signals buf is
// empty (nothing more to decode); a varint under-run or a truncated
// payload returns a ProtocolError.
func Decode(buf []byte) (frame Frame, consumed int, err error) {
	typeVal, n, err := DecodeVarint(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	if n == 0 {
		return Frame{}, 0, nil
	}
	rest := buf[n:]

	length, n2, err := DecodeVarint(rest)
	if err != nil {
		return Frame{}, 0, err
	}
	if n2 == 0 {
		return Frame{}, 0, neterr.NewProtocolError("h3frame_decode", "varint under-run", nil)
	}
	rest = rest[n2:]

	if uint64(len(rest)) < length {
		return Frame{}, 0, neterr.NewProtocolError("h3frame_decode", "frame too short", nil)
	}

	payload := make([]byte, length)
	copy(payload, rest[:length])

	total := n + n2 + int(length)
	return Frame{Type: FrameType(typeVal), Payload: payload}, total, nil
}

// DecodeAll decodes every complete frame at the start of buf,
// returning the frames and the total bytes consumed. A trailing
// incomplete frame is left unconsumed, mirroring pkg/wsframe's
// Decoder.Feed buffering discipline.
func DecodeAll(buf []byte) ([]Frame, int, error) {
	var frames []Frame
	total := 0
	for {
		frame, consumed, err := Decode(buf[total:])
		if err != nil || consumed == 0 {
			// Decode only fails on a frame that has not fully arrived;
			// it stays unconsumed for the next call.
			break
		}
		frames = append(frames, frame)
		total += consumed
	}
	return frames, total, nil
}
