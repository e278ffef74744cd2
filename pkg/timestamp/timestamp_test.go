package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSecondsAndMilliseconds(t *testing.T) {
	// Seconds are scaled up, milliseconds pass through.
	assert.Equal(t, int64(1725100000000), Parse(int64(1725100000)))
	assert.Equal(t, int64(1725100000123), Parse(int64(1725100000123)))
}

func TestParseShapes(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int64
	}{
		{"nil", nil, 0},
		{"zero int", int64(0), 0},
		{"empty string", "", 0},
		{"seconds string", "1725100000", 1725100000000},
		{"milliseconds string", "1725100000123", 1725100000123},
		{"float seconds", float64(1725100000), 1725100000000},
		{"rfc3339", "2024-08-31T10:26:40Z", 1725100000000},
		{"garbage", "not a time", 0},
		{"unsupported type", struct{}{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input))
		})
	}
}

func TestParseTimeValue(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now.UnixMilli(), Parse(now))
}

func TestRoundTrip(t *testing.T) {
	ms := Now()
	assert.Equal(t, ms, ToUnixMs(FromUnixMs(ms)))
}

func TestZeroHandling(t *testing.T) {
	assert.True(t, IsZero(0))
	assert.False(t, IsZero(1))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.Equal(t, "", Format(0))
	assert.Equal(t, time.Duration(0), Since(0))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2024-08-31T10:26:40Z", Format(1725100000000))
}

func TestSince(t *testing.T) {
	past := Now() - 1000
	assert.InDelta(t, time.Second, Since(past), float64(100*time.Millisecond))
}
