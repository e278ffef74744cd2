// Package stomp implements the STOMP 1.1 subset spoken over the SockJS
// transport: client CONNECT, SUBSCRIBE and SEND frames, the bare
// newline heartbeat, and parsing of server CONNECTED and MESSAGE frames.
package stomp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360/collarkit/errors"
)

// Destinations used by the portal's streaming endpoint.
const (
	DestMessages  = "/user/queue/messages"
	DestPortal    = "/user/queue/portal"
	DestSubscribe = "/app/subscribe"
)

// Server frame commands.
const (
	CommandConnected = "CONNECTED"
	CommandMessage   = "MESSAGE"
	CommandError     = "ERROR"
)

// frameTerminator ends every STOMP frame on the wire.
const frameTerminator = "\x00"

// Frame is one parsed server frame.
type Frame struct {
	Command string
	Headers map[string]string
	Body    string
}

// Header returns the named header, or "" when absent.
func (f Frame) Header(name string) string {
	return f.Headers[name]
}

// Connect builds the CONNECT frame. Heartbeat negotiation offers 10s in
// both directions; the session sends slightly faster than promised.
func Connect() string {
	return "CONNECT\naccept-version:1.1,1.0\nheart-beat:10000,10000\n\n" + frameTerminator
}

// Subscribe builds a SUBSCRIBE frame for the given subscription id and
// destination.
func Subscribe(id, destination string) string {
	return fmt.Sprintf("SUBSCRIBE\nid:%s\ndestination:%s\n\n%s", id, destination, frameTerminator)
}

// Send builds a SEND frame carrying a JSON body. The content-length
// header counts body bytes only, excluding the terminator.
func Send(destination string, body []byte) string {
	return fmt.Sprintf("SEND\ndestination:%s\ncontent-length:%d\n\n%s%s",
		destination, len(body), body, frameTerminator)
}

// Heartbeat is the client heartbeat: a bare newline, not NUL-terminated.
func Heartbeat() string {
	return "\n"
}

// DeviceFilter builds the body for the /app/subscribe SEND frame that
// narrows push updates to the given device ids.
func DeviceFilter(deviceIDs []int64) ([]byte, error) {
	data, err := json.Marshal(map[string][]int64{"deviceIds": deviceIDs})
	if err != nil {
		return nil, errors.WrapInvalid(err, "stomp", "DeviceFilter", "marshal device filter")
	}
	return data, nil
}

// Parse decodes one SockJS payload string into server frames. A payload
// may carry several NUL-terminated frames back to back; a bare newline
// payload is a server heartbeat and yields no frames. Frames that fail
// to parse are skipped and reported via the joined error so the caller
// can log and keep reading.
func Parse(payload string) ([]Frame, error) {
	if payload == "\n" || payload == "\r\n" {
		return nil, nil
	}

	var frames []Frame
	var errs []error
	for _, chunk := range strings.Split(payload, frameTerminator) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		frame, err := parseFrame(chunk)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frames = append(frames, frame)
	}
	return frames, errors.Join(errs...)
}

func parseFrame(chunk string) (Frame, error) {
	head, body, found := strings.Cut(chunk, "\n\n")
	if !found {
		// Whitespace trimming strips the blank line off body-less
		// frames, so only MESSAGE insists on a separator.
		if strings.HasPrefix(chunk, CommandMessage) {
			return Frame{}, errors.WrapInvalid(errors.ErrProtocolDecode,
				"stomp", "parseFrame", "missing header terminator")
		}
		head, body = chunk, ""
	}

	lines := strings.Split(head, "\n")
	command := strings.TrimSpace(lines[0])
	if command == "" {
		return Frame{}, errors.WrapInvalid(errors.ErrProtocolDecode,
			"stomp", "parseFrame", "empty command")
	}

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// First writer wins, per STOMP header semantics.
		if _, exists := headers[key]; !exists {
			headers[key] = value
		}
	}

	return Frame{Command: command, Headers: headers, Body: body}, nil
}
