package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrBadTimestamp = errors.New("unrecognized timestamp")

// Timestamp is a document field holding an instant. It is written in the
// native {seconds, nanoseconds} shape and read from either that shape, an
// ISO-8601 string or a number of epoch milliseconds.
type Timestamp struct {
	time.Time
}

type nativeTimestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(nativeTimestamp{
		Seconds:     t.Unix(),
		Nanoseconds: int64(t.Nanosecond()),
	})
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp normalizes the representations a stored instant may take
// into a time.Time in the local zone.
func ParseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.Local(), nil
	case string:
		return parseTimestampString(val)
	case []byte:
		return parseTimestampString(string(val))
	case int64:
		return time.UnixMilli(val).Local(), nil
	case float64:
		return time.UnixMilli(int64(val)).Local(), nil
	case map[string]any:
		sec, ok := number(val["seconds"])
		if !ok {
			// Some exports use the underscore variant.
			sec, ok = number(val["_seconds"])
		}
		if !ok {
			return time.Time{}, fmt.Errorf("%w: object without seconds", ErrBadTimestamp)
		}
		nsec, _ := number(val["nanoseconds"])
		if nsec == 0 {
			nsec, _ = number(val["_nanoseconds"])
		}
		return time.Unix(sec, nsec).Local(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %T", ErrBadTimestamp, v)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Local(), nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).Local(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

func number(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
