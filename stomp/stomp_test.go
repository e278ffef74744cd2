package stomp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectFrame(t *testing.T) {
	frame := Connect()
	assert.True(t, strings.HasPrefix(frame, "CONNECT\n"))
	assert.Contains(t, frame, "accept-version:1.1,1.0\n")
	assert.Contains(t, frame, "heart-beat:10000,10000\n")
	assert.True(t, strings.HasSuffix(frame, "\n\n\x00"))
}

func TestSubscribeFrame(t *testing.T) {
	frame := Subscribe("sub-0", DestMessages)
	assert.Equal(t, "SUBSCRIBE\nid:sub-0\ndestination:/user/queue/messages\n\n\x00", frame)
}

func TestSendFrame(t *testing.T) {
	body := []byte(`{"deviceIds":[123]}`)
	frame := Send(DestSubscribe, body)
	assert.Equal(t,
		"SEND\ndestination:/app/subscribe\ncontent-length:19\n\n"+string(body)+"\x00",
		frame)

	// content-length counts body bytes, not the terminator.
	parsed, err := Parse(frame)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "19", parsed[0].Header("content-length"))
	assert.Len(t, parsed[0].Body, 19)
}

func TestHeartbeat(t *testing.T) {
	assert.Equal(t, "\n", Heartbeat())
}

func TestDeviceFilter(t *testing.T) {
	body, err := DeviceFilter([]int64{101, 202})
	require.NoError(t, err)
	assert.Equal(t, `{"deviceIds":[101,202]}`, string(body))
}

func TestDeviceFilterEmpty(t *testing.T) {
	body, err := DeviceFilter([]int64{})
	require.NoError(t, err)
	assert.Equal(t, `{"deviceIds":[]}`, string(body))
}

func TestParseConnected(t *testing.T) {
	frames, err := Parse("CONNECTED\nversion:1.1\nheart-beat:10000,10000\n\n\x00")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, CommandConnected, frames[0].Command)
	assert.Equal(t, "1.1", frames[0].Header("version"))
	assert.Empty(t, frames[0].Body)
}

func TestParseMessage(t *testing.T) {
	payload := "MESSAGE\ndestination:/user/queue/messages\nsubscription:sub-0\n\n{\"id\":7}\x00"
	frames, err := Parse(payload)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, CommandMessage, frames[0].Command)
	assert.Equal(t, DestMessages, frames[0].Header("destination"))
	assert.Equal(t, `{"id":7}`, frames[0].Body)
}

func TestParseMultipleFrames(t *testing.T) {
	payload := "MESSAGE\ndest:a\n\nfirst\x00MESSAGE\ndest:b\n\nsecond\x00"
	frames, err := Parse(payload)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "first", frames[0].Body)
	assert.Equal(t, "second", frames[1].Body)
}

func TestParseServerHeartbeat(t *testing.T) {
	for _, payload := range []string{"\n", "\r\n"} {
		frames, err := Parse(payload)
		require.NoError(t, err)
		assert.Empty(t, frames)
	}
}

func TestParseMissingHeaderTerminator(t *testing.T) {
	frames, err := Parse("MESSAGE\ndestination:/user/queue/messages\x00")
	assert.Error(t, err)
	assert.Empty(t, frames)
}

func TestParseTrimsSegmentWhitespace(t *testing.T) {
	// Trailing whitespace strips the blank line off a body-less frame;
	// it must still parse with its headers intact.
	frames, err := Parse("  \nCONNECTED\nversion:1.1\n\n \x00 \x00")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, CommandConnected, frames[0].Command)
	assert.Equal(t, "1.1", frames[0].Header("version"))
	assert.Empty(t, frames[0].Body)
}

func TestParseSkipsBadFrameKeepsGood(t *testing.T) {
	payload := "MESSAGE\nsubscription:sub-0\x00MESSAGE\nsubscription:sub-1\n\n{\"ok\":true}\x00"
	frames, err := Parse(payload)
	assert.Error(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, `{"ok":true}`, frames[0].Body)
}

func TestParseDuplicateHeaderFirstWins(t *testing.T) {
	frames, err := Parse("MESSAGE\nfoo:one\nfoo:two\n\nbody\x00")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "one", frames[0].Header("foo"))
}

func TestConnectRoundTrip(t *testing.T) {
	frames, err := Parse(Connect())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "CONNECT", frames[0].Command)
	assert.Equal(t, "1.1,1.0", frames[0].Header("accept-version"))
}
