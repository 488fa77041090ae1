package config

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Options is an open-ended option bag for config sections whose keys depend on
// the selected kind (e.g. source.kind=s3 needs a region, source.kind=file does
// not). Accessors are forgiving: a missing or mistyped key yields the default.
type Options map[string]any

// String returns the option as a trimmed string, or def when absent/empty.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// Bool returns the option as a bool. Accepts JSON booleans and the strings
// "true"/"false" (case-insensitive).
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Float returns the option as a float64. Accepts JSON numbers (including
// json.Number) and numeric strings.
func (o Options) Float(key string, def float64) float64 {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return def
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// Any returns the raw option value, or nil when absent.
func (o Options) Any(key string) any {
	return o[key]
}
