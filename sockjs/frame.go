// Package sockjs implements the subset of SockJS websocket framing used
// by the portal's streaming endpoint. Frames ride on websocket text
// messages: "o" opens the session, "h" is a server heartbeat, "a" carries
// a JSON array of string payloads, and "c" closes with a code and reason.
// Client payloads are sent as a JSON array of strings.
package sockjs

import (
	"encoding/json"

	"github.com/c360/collarkit/errors"
)

// FrameType identifies a decoded server frame.
type FrameType int

const (
	// FrameOpen is the "o" frame sent once after the transport connects.
	FrameOpen FrameType = iota
	// FrameHeartbeat is the "h" frame. It carries no payload.
	FrameHeartbeat
	// FrameArray is the "a" frame carrying one or more string payloads.
	FrameArray
	// FrameClose is the "c" frame. Payload holds the raw close body.
	FrameClose
	// FrameUnknown is any frame with an unrecognized leading byte.
	FrameUnknown
)

func (t FrameType) String() string {
	switch t {
	case FrameOpen:
		return "open"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameArray:
		return "array"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one decoded server frame.
type Frame struct {
	Type FrameType
	// Payloads holds the strings from an "a" frame.
	Payloads []string
	// Raw holds the close body for "c" frames and the whole message for
	// unknown frames.
	Raw string
}

// Encode wraps client payloads in the outer framing: a compact JSON
// array of strings.
func Encode(payloads ...string) ([]byte, error) {
	data, err := json.Marshal(payloads)
	if err != nil {
		return nil, errors.WrapInvalid(err, "sockjs", "Encode", "marshal payload array")
	}
	return data, nil
}

// Decode parses one websocket text message into a Frame. A malformed
// "a" frame body is a decode error; callers log it and keep reading.
func Decode(message []byte) (Frame, error) {
	if len(message) == 0 {
		return Frame{Type: FrameUnknown}, errors.WrapInvalid(errors.ErrProtocolDecode,
			"sockjs", "Decode", "empty message")
	}

	switch message[0] {
	case 'o':
		return Frame{Type: FrameOpen}, nil
	case 'h':
		return Frame{Type: FrameHeartbeat}, nil
	case 'a':
		var payloads []string
		if err := json.Unmarshal(message[1:], &payloads); err != nil {
			return Frame{Type: FrameUnknown, Raw: string(message)},
				errors.WrapInvalid(err, "sockjs", "Decode", "parse array frame")
		}
		return Frame{Type: FrameArray, Payloads: payloads}, nil
	case 'c':
		return Frame{Type: FrameClose, Raw: string(message[1:])}, nil
	default:
		return Frame{Type: FrameUnknown, Raw: string(message)}, nil
	}
}
