// Package timestamp normalizes the portal's loosely typed timestamps.
// Device records report last contact as Unix seconds or milliseconds,
// as a JSON number or a string, depending on the endpoint. The
// canonical form here is int64 milliseconds since the Unix epoch (UTC),
// with 0 meaning "not set".
package timestamp

import (
	"strconv"
	"time"
)

// millisecondFloor is the smallest value treated as milliseconds rather
// than seconds. It corresponds to September 2001 in milliseconds;
// plausible second counts stay far below it.
const millisecondFloor = 1e12

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time. Returns zero time
// when the timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format converts Unix milliseconds to an RFC3339 string for display.
// Returns "" when the timestamp is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Parse converts the portal's timestamp shapes to Unix milliseconds:
// integer or float counts in seconds or milliseconds, numeric strings,
// RFC3339 strings, and time.Time. Returns 0 for empty or unparseable
// input.
func Parse(input any) int64 {
	if input == nil {
		return 0
	}

	switch v := input.(type) {
	case int64:
		if v == 0 {
			return 0
		}
		if v > millisecondFloor {
			return v
		}
		return v * 1000

	case float64:
		if v == 0 {
			return 0
		}
		if v > millisecondFloor {
			return int64(v)
		}
		return int64(v * 1000)

	case int:
		return Parse(int64(v))

	case string:
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return ToUnixMs(t)
		}
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			return Parse(ts)
		}
		if ts, err := strconv.ParseFloat(v, 64); err == nil {
			return Parse(ts)
		}
		return 0

	case time.Time:
		return ToUnixMs(v)

	default:
		return 0
	}
}

// IsZero checks whether a timestamp is unset.
func IsZero(ms int64) bool {
	return ms == 0
}

// Since returns the duration since the given timestamp, or 0 when the
// timestamp is unset.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}
