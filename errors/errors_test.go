package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_StandardVariables(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"connection lost", ErrConnectionLost, ErrorTransient},
		{"connection timeout", ErrConnectionTimeout, ErrorTransient},
		{"context deadline", context.DeadlineExceeded, ErrorTransient},
		{"authentication", ErrAuthentication, ErrorFatal},
		{"token missing", ErrTokenMissing, ErrorFatal},
		{"invalid config", ErrInvalidConfig, ErrorFatal},
		{"protocol decode", ErrProtocolDecode, ErrorInvalid},
		{"invalid data", ErrInvalidData, ErrorInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrap_Format(t *testing.T) {
	base := New("boom")
	wrapped := Wrap(base, "Session", "connect", "dial transport")

	require.Error(t, wrapped)
	assert.Equal(t, "Session.connect: dial transport failed: boom", wrapped.Error())
	assert.True(t, Is(wrapped, base))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "C", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "C", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "C", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "C", "m", "a"))
}

func TestWrapTransient_PreservesClassThroughChain(t *testing.T) {
	inner := WrapTransient(New("flaky"), "Session", "read", "read frame")
	outer := fmt.Errorf("outer context: %w", inner)

	assert.True(t, IsTransient(outer))
	assert.False(t, IsFatal(outer))

	var ce *ClassifiedError
	require.True(t, As(outer, &ce))
	assert.Equal(t, "Session", ce.Component)
	assert.Equal(t, ErrorTransient, ce.Class)
}

func TestStatusError_Unauthorized(t *testing.T) {
	err := NewStatusError(http.StatusUnauthorized, "token expired")

	assert.True(t, IsUnauthorized(err))
	assert.True(t, Is(err, ErrUnauthorized))
	assert.Contains(t, err.Error(), "401")

	wrapped := Wrap(err, "Client", "Devices", "fetch device list")
	assert.True(t, IsUnauthorized(wrapped))
}

func TestStatusError_OtherStatus(t *testing.T) {
	err := NewStatusError(http.StatusBadGateway, "")

	assert.False(t, IsUnauthorized(err))
	assert.True(t, Is(err, ErrUnexpectedResponse))
	assert.Equal(t, "status 502", err.Error())
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
