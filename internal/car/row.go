package car

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Row is a loosely typed backend row keyed by column name.
// Business code reads it through the typed helpers below, never directly.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Has reports whether the column is present in the row.
func (r Row) Has(column string) bool {
	_, ok := r[column]
	return ok
}

// String returns the first non-empty value among keys coerced to a trimmed string.
func (r Row) String(keys ...string) string {
	for _, key := range keys {
		if s := coerceString(r[key]); s != "" {
			return s
		}
	}
	return ""
}

// Int returns the first value among keys that coerces to a finite number, truncated.
func (r Row) Int(keys ...string) (int, bool) {
	for _, key := range keys {
		if f, ok := coerceFloat(r[key]); ok {
			return int(f), true
		}
	}
	return 0, false
}

// IntOr is Int with a fallback.
func (r Row) IntOr(fallback int, keys ...string) int {
	if v, ok := r.Int(keys...); ok {
		return v
	}
	return fallback
}

// Time returns the first value among keys that parses as a timestamp.
func (r Row) Time(keys ...string) (time.Time, bool) {
	for _, key := range keys {
		switch v := r[key].(type) {
		case time.Time:
			if !v.IsZero() {
				return v.UTC(), true
			}
		case *time.Time:
			if v != nil && !v.IsZero() {
				return v.UTC(), true
			}
		case string:
			if ts, ok := parseTimestamp(v); ok {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// StringMap returns the first value among keys that decodes to a flat string map.
// JSON text, raw JSON bytes and decoded maps are accepted; blank values are dropped.
func (r Row) StringMap(keys ...string) map[string]string {
	for _, key := range keys {
		var decoded map[string]any
		switch v := r[key].(type) {
		case map[string]any:
			decoded = v
		case map[string]string:
			decoded = make(map[string]any, len(v))
			for k, s := range v {
				decoded[k] = s
			}
		case string:
			if json.Unmarshal([]byte(v), &decoded) != nil {
				continue
			}
		case []byte:
			if json.Unmarshal(v, &decoded) != nil {
				continue
			}
		case json.RawMessage:
			if json.Unmarshal(v, &decoded) != nil {
				continue
			}
		default:
			continue
		}
		out := make(map[string]string, len(decoded))
		for k, raw := range decoded {
			k = strings.TrimSpace(k)
			if s := coerceString(raw); k != "" && s != "" {
				out[k] = s
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case [16]byte:
		return uuid.UUID(t).String()
	case uuid.UUID:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return coerceString(float64(t))
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	case json.Marshaler:
		raw, err := t.MarshalJSON()
		if err != nil {
			return ""
		}
		return strings.Trim(strings.TrimSpace(string(raw)), `"`)
	default:
		return ""
	}
}

func coerceFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case int:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case float32:
		f = float64(t)
	case float64:
		f = t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case json.Marshaler:
		// pgtype.Numeric and friends.
		raw, err := t.MarshalJSON()
		if err != nil {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.Trim(string(raw), `"`), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
