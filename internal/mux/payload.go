package mux

import (
	"encoding/binary"
	"fmt"
)

// OpenPayload is FrameOpen's payload: "utf8 target host\0 | u16 port \0 |
// initial send window u32" (spec.md §4.7's table).
type OpenPayload struct {
	Host              string
	Port              uint16
	InitialSendWindow uint32
}

func EncodeOpenPayload(p OpenPayload) []byte {
	out := make([]byte, 0, len(p.Host)+1+2+1+4)
	out = append(out, p.Host...)
	out = append(out, 0)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], p.Port)
	out = append(out, portBuf[:]...)
	out = append(out, 0)
	var winBuf [4]byte
	binary.BigEndian.PutUint32(winBuf[:], p.InitialSendWindow)
	out = append(out, winBuf[:]...)
	return out
}

func DecodeOpenPayload(b []byte) (OpenPayload, error) {
	nulIdx := -1
	for i, c := range b {
		if c == 0 {
			nulIdx = i
			break
		}
	}
	if nulIdx < 0 {
		return OpenPayload{}, fmt.Errorf("mux: OPEN payload missing host terminator")
	}
	host := string(b[:nulIdx])
	rest := b[nulIdx+1:]
	if len(rest) != 2+1+4 {
		return OpenPayload{}, fmt.Errorf("mux: OPEN payload malformed length")
	}
	port := binary.BigEndian.Uint16(rest[0:2])
	if rest[2] != 0 {
		return OpenPayload{}, fmt.Errorf("mux: OPEN payload missing port terminator")
	}
	window := binary.BigEndian.Uint32(rest[3:7])
	return OpenPayload{Host: host, Port: port, InitialSendWindow: window}, nil
}

// OpenAckPayload is FrameOpenAck's payload: either a successful initial send
// window (IsError == false) or an error code + ascii reason.
type OpenAckPayload struct {
	IsError           bool
	InitialSendWindow uint32
	ErrorCode         uint16
	ErrorReason       string
}

func EncodeOpenAckPayload(p OpenAckPayload) (payload []byte, flags byte) {
	if p.IsError {
		out := make([]byte, 0, 2+len(p.ErrorReason))
		var codeBuf [2]byte
		binary.BigEndian.PutUint16(codeBuf[:], p.ErrorCode)
		out = append(out, codeBuf[:]...)
		out = append(out, p.ErrorReason...)
		return out, FlagError
	}
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, p.InitialSendWindow)
	return out, 0
}

func DecodeOpenAckPayload(b []byte, flags byte) (OpenAckPayload, error) {
	if flags&FlagError != 0 {
		if len(b) < 2 {
			return OpenAckPayload{}, fmt.Errorf("mux: OPEN_ACK error payload too short")
		}
		return OpenAckPayload{
			IsError:     true,
			ErrorCode:   binary.BigEndian.Uint16(b[0:2]),
			ErrorReason: string(b[2:]),
		}, nil
	}
	if len(b) != 4 {
		return OpenAckPayload{}, fmt.Errorf("mux: OPEN_ACK success payload must be 4 bytes")
	}
	return OpenAckPayload{InitialSendWindow: binary.BigEndian.Uint32(b)}, nil
}

// EncodeWindowUpdatePayload/DecodeWindowUpdatePayload: FrameWindowUpdate's
// payload is a single u32 credit increment.
func EncodeWindowUpdatePayload(increment uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, increment)
	return out
}

func DecodeWindowUpdatePayload(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("mux: WINDOW_UPDATE payload must be 4 bytes")
	}
	return binary.BigEndian.Uint32(b), nil
}

// ResetReason enumerates the ascii reason strings RESET frames carry.
type ResetReason string

const (
	ResetFlowControlViolation ResetReason = "flow-control-violation"
	ResetPolicyDenied         ResetReason = "policy-denied"
	ResetTargetUnavailable    ResetReason = "target-unavailable"
	ResetProtocolError        ResetReason = "protocol-error"
)

// EncodeResetPayload/DecodeResetPayload: FrameReset's payload is "error u16
// + ascii reason".
func EncodeResetPayload(code uint16, reason ResetReason) []byte {
	out := make([]byte, 0, 2+len(reason))
	var codeBuf [2]byte
	binary.BigEndian.PutUint16(codeBuf[:], code)
	out = append(out, codeBuf[:]...)
	out = append(out, reason...)
	return out
}

func DecodeResetPayload(b []byte) (code uint16, reason string, err error) {
	if len(b) < 2 {
		return 0, "", fmt.Errorf("mux: RESET payload too short")
	}
	return binary.BigEndian.Uint16(b[0:2]), string(b[2:]), nil
}

// PingNonceSize is the fixed nonce length PING/PONG frames carry.
const PingNonceSize = 8

func EncodePingPayload(nonce [PingNonceSize]byte) []byte {
	out := make([]byte, PingNonceSize)
	copy(out, nonce[:])
	return out
}

func DecodePingPayload(b []byte) ([PingNonceSize]byte, error) {
	var nonce [PingNonceSize]byte
	if len(b) != PingNonceSize {
		return nonce, fmt.Errorf("mux: PING/PONG payload must be %d bytes", PingNonceSize)
	}
	copy(nonce[:], b)
	return nonce, nil
}
