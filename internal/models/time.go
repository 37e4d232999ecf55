package models

import (
	"encoding/json"
	"time"
)

// ParseTime normalizes the timestamp representations that show up in store
// documents: native time.Time from in-process writes, RFC3339 strings from
// JSON round-trips, and unix epoch numbers from device firmware. Every read
// boundary goes through this one function before comparing or subtracting
// timestamps.
func ParseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		return time.Time{}, false
	case float64:
		return fromEpoch(t), t > 0
	case int64:
		return fromEpoch(float64(t)), t > 0
	case int:
		return fromEpoch(float64(t)), t > 0
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f), f > 0
	default:
		return time.Time{}, false
	}
}

// fromEpoch guesses seconds vs milliseconds from magnitude. Millisecond
// epochs are 13 digits until the year 33658.
func fromEpoch(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}
