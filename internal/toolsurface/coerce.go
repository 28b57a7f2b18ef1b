package toolsurface

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/claudia-memory/claudia/internal/debug"
)

// args is a decoded parameter map with per-kind coercers. Tool-calling
// clients are driven by a language model, so integers routinely arrive as
// numeric strings or whole-number floats and arrays arrive as JSON-encoded
// strings; each getter canonicalizes explicitly and leaves anything it
// cannot coerce alone.
type args map[string]any

func decodeArgs(raw json.RawMessage) (args, error) {
	if len(raw) == 0 {
		return args{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return args(m), nil
}

// String returns the named parameter as a string, empty when absent or not
// string-shaped.
func (a args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Int coerces the named parameter to an int: JSON numbers (including
// whole-number floats), numeric strings, and native ints all pass; unknown
// strings are logged and yield the fallback.
func (a args) Int(key string, fallback int) int {
	switch v := a[key].(type) {
	case nil:
		return fallback
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
		return fallback
	case int:
		return v
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			debug.Logf("toolsurface: parameter %q: cannot coerce %q to int", key, v)
			return fallback
		}
		return n
	case bool:
		// Booleans are never silently reinterpreted as integers.
		return fallback
	default:
		return fallback
	}
}

// Int64 is Int for identifier-sized values.
func (a args) Int64(key string, fallback int64) int64 {
	switch v := a[key].(type) {
	case nil:
		return fallback
	case float64:
		if v == math.Trunc(v) {
			return int64(v)
		}
		return fallback
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			debug.Logf("toolsurface: parameter %q: cannot coerce %q to int64", key, v)
			return fallback
		}
		return n
	default:
		return fallback
	}
}

// Float coerces the named parameter to a float64.
func (a args) Float(key string, fallback float64) float64 {
	switch v := a[key].(type) {
	case nil:
		return fallback
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			debug.Logf("toolsurface: parameter %q: cannot coerce %q to float", key, v)
			return fallback
		}
		return f
	default:
		return fallback
	}
}

// Bool returns the named parameter as a bool; booleans are passed through
// untouched per the coercion contract.
func (a args) Bool(key string) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return false
}

// StringArray coerces the named parameter to []string. A JSON string that
// parses to an array is unpacked; a string that parses to anything else is
// rejected silently (left as not-an-array), and a native array keeps only
// its string elements.
func (a args) StringArray(key string) []string {
	switch v := a[key].(type) {
	case nil:
		return nil
	case []any:
		return stringElements(v)
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil
		}
		arr, ok := parsed.([]any)
		if !ok {
			return nil
		}
		return stringElements(arr)
	default:
		return nil
	}
}

func stringElements(arr []any) []string {
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		if s, ok := el.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// objectArray coerces the named parameter to a slice of nested objects,
// unpacking a JSON-string-encoded array the same way StringArray does.
func (a args) objectArray(key string) []map[string]any {
	var arr []any
	switch v := a[key].(type) {
	case nil:
		return nil
	case []any:
		arr = v
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil
		}
		typed, ok := parsed.([]any)
		if !ok {
			return nil
		}
		arr = typed
	default:
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Map returns the named parameter as a nested object, nil otherwise.
func (a args) Map(key string) map[string]any {
	if v, ok := a[key].(map[string]any); ok {
		return v
	}
	return nil
}
