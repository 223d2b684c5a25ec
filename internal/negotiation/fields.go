package negotiation

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// lookup resolves a candidate key, allowing one level of nesting ("sender.id").
func lookup(raw map[string]any, key string) (any, bool) {
	if value, ok := raw[key]; ok {
		return value, value != nil
	}
	head, tail, nested := strings.Cut(key, ".")
	if !nested {
		return nil, false
	}
	inner, ok := raw[head].(map[string]any)
	if !ok {
		return nil, false
	}
	value, ok := inner[tail]
	return value, ok && value != nil
}

// readString returns the first non-empty candidate rendered as a string.
func readString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := lookup(raw, key)
		if !ok {
			continue
		}
		var s string
		switch v := value.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			s = v.String()
		case bool, map[string]any, []any:
			continue
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			s = strings.Trim(string(encoded), "\"")
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// readFloat returns the first candidate that parses as a number. Numeric strings may carry a
// currency sign and thousands separators.
func readFloat(raw map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		value, ok := lookup(raw, key)
		if !ok {
			continue
		}
		if f, ok := toFloat(value); ok {
			return f, true
		}
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// readTime returns the first candidate that parses as a timestamp: RFC3339 strings, or unix
// milliseconds / seconds as numbers or numeric strings.
func readTime(raw map[string]any, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		value, ok := lookup(raw, key)
		if !ok {
			continue
		}
		if s, isString := value.(string); isString {
			s = strings.TrimSpace(s)
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC(), true
			}
		}
		if f, ok := toFloat(value); ok && f > 0 {
			return unixTime(f), true
		}
	}
	return time.Time{}, false
}

// Values above 1e11 cannot be plausible unix seconds, so they are read as milliseconds.
func unixTime(f float64) time.Time {
	if f > 1e11 {
		return time.UnixMilli(int64(f)).UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}

// readBool reports whether any candidate is truthy.
func readBool(raw map[string]any, keys ...string) bool {
	for _, key := range keys {
		value, ok := lookup(raw, key)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil && b {
				return true
			}
		case float64:
			if v == 1 {
				return true
			}
		}
	}
	return false
}
