package feature

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// epoch values at or above this magnitude are taken as milliseconds
const millisThreshold = 1e12

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
	"2006/01/02",
}

// ParseTimestamp interprets a raw timestamp value. It accepts date strings,
// Unix epoch numbers (seconds, or milliseconds for large values) and the
// {"$date": ...} wrapper, where numbers are milliseconds. Any value that
// cannot be interpreted yields the zero time.
func ParseTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}

	switch raw[0] {
	case '{':
		var w struct {
			Date json.RawMessage `json:"$date"`
		}
		if err := json.Unmarshal(raw, &w); err != nil || w.Date == nil {
			return time.Time{}
		}
		return parseWrappedDate(w.Date)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
		return parseDateString(s)
	default:
		v, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return time.Time{}
		}
		return fromEpoch(v, epochUnit(v))
	}
}

func parseWrappedDate(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return time.Time{}
	}

	switch raw[0] {
	case '{':
		var l struct {
			Long string `json:"$numberLong"`
		}
		if err := json.Unmarshal(raw, &l); err != nil || l.Long == "" {
			return time.Time{}
		}
		v, err := strconv.ParseFloat(l.Long, 64)
		if err != nil {
			return time.Time{}
		}
		return fromEpoch(v, time.Millisecond)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
		return parseDateString(s)
	default:
		v, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return time.Time{}
		}
		return fromEpoch(v, time.Millisecond)
	}
}

func parseDateString(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(v, epochUnit(v))
	}

	return time.Time{}
}

func epochUnit(v float64) time.Duration {
	if math.Abs(v) >= millisThreshold {
		return time.Millisecond
	}
	return time.Second
}

func fromEpoch(v float64, unit time.Duration) time.Time {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}
	}
	ns := v * float64(unit)
	if math.Abs(ns) >= math.MaxInt64 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC()
}

// CoerceAmount converts a raw amount into a number. Non-numeric, missing or
// non-finite values become 0.
func CoerceAmount(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	var s string
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
	case '{', '[', 't', 'f', 'n':
		return 0
	default:
		s = string(raw)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}

	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
