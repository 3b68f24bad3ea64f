package flow

import (
	"encoding/json"
	"strconv"
	"time"
)

// epochMillisThreshold separates second-resolution epochs from millisecond
// ones by magnitude. Values at or above it are read as milliseconds; the
// cutover corresponds to 2001-09-09 in milliseconds and year 33658 in
// seconds, so no realistic token expiry is misread.
const epochMillisThreshold = 1e12

// normalizeExpiresAt converts an expires_at value of unknown resolution into
// a time. Token results cross process boundaries as JSON, so the value may
// arrive as float64, json.Number, any integer width, or a numeric string.
// Returns false when the value is absent or not numeric.
func normalizeExpiresAt(v interface{}) (time.Time, bool) {
	var epoch float64

	switch n := v.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		epoch = n
	case float32:
		epoch = float64(n)
	case int:
		epoch = float64(n)
	case int64:
		epoch = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		epoch = f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return time.Time{}, false
		}
		epoch = f
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
