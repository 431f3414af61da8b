// Package tree reads values out of loosely-typed nested data such as decoded
// JSON documents and crash annotation maps.
//
// Every accessor returns a default (or false) on a missing key, a type
// mismatch or an out-of-range index. None of them panic.
package tree

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

var mapType = reflect.TypeOf(map[string]any{})

// Get walks a dot separated path through v. Numeric segments index into
// sequences.
func Get(v any, path string) (any, bool) {
	if path == "" {
		return v, v != nil
	}

	cur := v
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}

		cur = next
	}

	return cur, true
}

func step(cur any, seg string) (any, bool) {
	if m, ok := AsMap(cur); ok {
		val, found := m[seg]
		return val, found
	}

	if s, ok := AsSlice(cur); ok {
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(s) {
			return nil, false
		}

		return s[idx], true
	}

	return nil, false
}

// String returns the string at path or def.
func String(v any, path, def string) string {
	val, ok := Get(v, path)
	if !ok {
		return def
	}

	s, ok := val.(string)
	if !ok {
		return def
	}

	return s
}

// Int returns the integer at path or def. Integral floats and json.Number
// values are accepted, numeric strings are not.
func Int(v any, path string, def int64) int64 {
	val, ok := Get(v, path)
	if !ok {
		return def
	}

	switch n := val.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		if n == math.Trunc(n) {
			return int64(n)
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
	}

	return def
}

// Map returns the mapping at path.
func Map(v any, path string) (map[string]any, bool) {
	val, ok := Get(v, path)
	if !ok {
		return nil, false
	}

	return AsMap(val)
}

// Slice returns the sequence at path.
func Slice(v any, path string) ([]any, bool) {
	val, ok := Get(v, path)
	if !ok {
		return nil, false
	}

	return AsSlice(val)
}

// AsMap converts v to a string keyed mapping. Named map types such as
// models.ProcessedCrash are accepted.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return m, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().ConvertibleTo(mapType) {
		m, ok := rv.Convert(mapType).Interface().(map[string]any)
		return m, ok
	}

	return nil, false
}

// AsSlice converts v to a generic sequence.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case nil:
		return nil, false
	case []any:
		return s, true
	case []map[string]any:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}

		return out, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}

		return out, true
	}

	return nil, false
}

// AsInt converts an annotation value to an integer the way crash reporters
// send them: integers, floats (truncated) and base 10 strings.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}

		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}

		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err == nil {
			return i, true
		}
	case bool:
		if n {
			return 1, true
		}

		return 0, true
	}

	return 0, false
}

// Truthy reports whether an annotation value should be treated as set.
// "0", "", "false", zero numbers and nil are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "false") {
			return false
		}

		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i != 0
		}

		return true
	}

	if i, ok := AsInt(v); ok {
		return i != 0
	}

	return true
}
