// Package mux implements the TCP-multiplexing layer used by the /tcp-mux
// WebSocket upgrade (spec.md §4.7/§4.8): a varint-framed binary protocol
// carrying many independent TCP streams over one WebSocket connection, with
// credit-based flow control per stream. The frame codec mirrors the small,
// explicit encode/decode-function style of the teacher's internal/dns
// package, generalized from fixed DNS record shapes to a general varint
// frame header; the varint itself reuses the protobuf wire format rather
// than a hand-rolled LEB128 implementation living next to dnswire's.
package mux

import (
	"errors"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// FrameType is the single-byte frame discriminant (spec.md §4.7's table).
type FrameType byte

const (
	FrameOpen         FrameType = 0x01
	FrameOpenAck      FrameType = 0x02
	FrameData         FrameType = 0x03
	FrameWindowUpdate FrameType = 0x04
	FrameCloseWrite   FrameType = 0x05
	FrameReset        FrameType = 0x06
	FramePing         FrameType = 0x07
	FramePong         FrameType = 0x08
)

// FlagError marks an OPEN_ACK frame as carrying an error (code + reason)
// instead of a successful initial send window.
const FlagError byte = 0x01

// DefaultMaxFramePayloadBytes is TCP_MUX_MAX_FRAME_PAYLOAD_BYTES' default
// (spec.md §4.7): 16 MiB.
const DefaultMaxFramePayloadBytes = 16 * 1024 * 1024

// maxVarintBytes bounds every varint in a frame header to spec.md's "max 9
// bytes; values > 2^32-1 rejected."
const maxVarintBytes = 9

var (
	// ErrMalformedFrame signals the byte stream is not a valid frame
	// sequence (bad varint, reserved bits, truncated header).
	ErrMalformedFrame = errors.New("mux: malformed frame")
	// ErrOversizeFrame signals a frame's declared payload length exceeds
	// the configured cap. Session.Serve then terminates the session with
	// WebSocket close code 1009; it sends no RESET frame first.
	ErrOversizeFrame = errors.New("mux: oversize frame payload")
)

// Frame is a single decoded mux frame.
type Frame struct {
	Type     FrameType
	Flags    byte
	StreamID uint64
	Payload  []byte
}

// EncodeFrame serializes f to wire format: type(1) flags(1) streamId(varint)
// payloadLen(varint) payload(bytes). Deterministic and the exact inverse of
// the parser (satisfies P1: parse(encode(f)) == f).
func EncodeFrame(f Frame) []byte {
	out := make([]byte, 0, 2+maxVarintBytes*2+len(f.Payload))
	out = append(out, byte(f.Type), f.Flags)
	out = protowire.AppendVarint(out, f.StreamID)
	out = protowire.AppendVarint(out, uint64(len(f.Payload)))
	out = append(out, f.Payload...)
	return out
}

// consumeBoundedVarint decodes one varint from the front of b, enforcing
// spec.md §4.7's 9-byte/2^32-1 bound.
//
// protowire.ConsumeVarint returns a negative n both for a truncated varint
// (continuation bit set on the last byte present, more bytes not arrived
// yet) and for a structurally invalid one (still continuing past protowire's
// own 10-byte limit). Those two cases must not be conflated: a truncated
// varint under our 9-byte bound is "wait for more bytes", not a protocol
// error. Only b actually having spec.md's maxVarintBytes by the time the
// varint still hasn't terminated is a genuine violation.
//
// Returns n == 0 when b does not yet contain a complete varint (the caller
// should wait for more bytes), n > 0 on success, and a non-nil error when b
// contains bytes that can never form a valid varint under the bound.
func consumeBoundedVarint(b []byte) (v uint64, n int, err error) {
	v, n = protowire.ConsumeVarint(b)
	if n < 0 {
		if len(b) < maxVarintBytes {
			return 0, 0, nil
		}
		return 0, 0, ErrMalformedFrame
	}
	if n == 0 {
		return 0, 0, nil
	}
	if n > maxVarintBytes {
		return 0, 0, ErrMalformedFrame
	}
	if v > math.MaxUint32 {
		return 0, 0, ErrMalformedFrame
	}
	return v, n, nil
}

// tryParseFrame attempts to decode one frame from the front of buf.
//
// Returns (frame, consumed, nil) on success, (zero, 0, nil) when buf holds
// an incomplete-but-possibly-valid prefix (caller should wait for more
// bytes, satisfying P2's "need more bytes" state), or (zero, 0, err) on a
// genuine protocol violation.
func tryParseFrame(buf []byte, maxPayload int) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, nil
	}
	off := 2

	streamID, n, err := consumeBoundedVarint(buf[off:])
	if err != nil {
		return Frame{}, 0, err
	}
	if n == 0 {
		return Frame{}, 0, nil
	}
	off += n

	payloadLen, n2, err := consumeBoundedVarint(buf[off:])
	if err != nil {
		return Frame{}, 0, err
	}
	if n2 == 0 {
		return Frame{}, 0, nil
	}
	off += n2

	if payloadLen > uint64(maxPayload) {
		return Frame{}, 0, ErrOversizeFrame
	}
	if uint64(len(buf)-off) < payloadLen {
		return Frame{}, 0, nil
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[off:off+int(payloadLen)])
	off += int(payloadLen)

	return Frame{Type: FrameType(buf[0]), Flags: buf[1], StreamID: streamID, Payload: payload}, off, nil
}
