package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeKey converts an identity-key value to a canonical string form,
// suitable for in-memory sets and cache keys (e.g. "SOABC12" or "42").
//
// Backends and fakes must not assume a particular underlying type for keys;
// this helper keeps key comparison consistent across them. Timestamps
// normalize to RFC3339Nano UTC so driver-level representation differences
// (time.Time vs TEXT) compare equal.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// CompositeKey joins the normalized forms of several values into one key.
func CompositeKey(vals ...any) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, NormalizeKey(v))
	}
	return strings.Join(parts, "\x00")
}
