package api

import (
	"strconv"
	"time"
)

// epochMillisThreshold separates second-resolution epochs from millisecond
// ones by magnitude.
const epochMillisThreshold = 1e12

// Expiry normalizes the token's stored expiry into a time. Returns false
// when the token carries no expiry or one that cannot be read; callers
// treat that as not expired.
func (t *Token) Expiry() (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	return ParseExpiry(t.ExpiresAt)
}

// ParseExpiry reads a stored expiry of unknown shape: an ISO-8601 string, a
// numeric epoch in seconds or milliseconds, or a numeric string. Anything
// else reports false.
func ParseExpiry(v interface{}) (time.Time, bool) {
	switch e := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return e, true
	case string:
		if ts, err := time.Parse(time.RFC3339, e); err == nil {
			return ts, true
		}
		return parseEpoch(e)
	default:
		return parseEpoch(e)
	}
}

func parseEpoch(v interface{}) (time.Time, bool) {
	var epoch float64
	switch n := v.(type) {
	case float64:
		epoch = n
	case float32:
		epoch = float64(n)
	case int:
		epoch = float64(n)
	case int64:
		epoch = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return time.Time{}, false
		}
		epoch = parsed
	default:
		return time.Time{}, false
	}

	if epoch <= 0 {
		return time.Time{}, false
	}
	if epoch >= epochMillisThreshold {
		return time.UnixMilli(int64(epoch)), true
	}
	return time.Unix(int64(epoch), 0), true
}
