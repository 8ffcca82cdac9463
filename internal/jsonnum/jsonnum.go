// Package jsonnum reads numbers out of untyped value trees produced by the
// JSON codec (json.Number) and the CBOR codec (int64, uint64, float64).
package jsonnum

import (
	"encoding/json"
	"math"
	"strconv"
)

// Is reports whether v is a number of any supported representation.
func Is(v any) bool {
	switch v.(type) {
	case json.Number, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// Float64 returns v as a float64.
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Int64 returns v as an int64 when it is an integer encoding in range. Floats
// are rejected even when integral, as is a json.Number written with a
// fraction or exponent, so 5.0 never binds to an int whatever the codec.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return 0, false
}

// Integral is Int64 that also accepts floats with no fractional part. It
// reads peer error codes, which some encoders emit as floats.
func Integral(v any) (int64, bool) {
	if i, ok := Int64(v); ok {
		return i, true
	}
	f, ok := Float64(v)
	if !ok {
		return 0, false
	}
	return floatToInt(f)
}

// Uint64 returns v as a uint64 when it is integral and non-negative.
func Uint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case json.Number:
		u, err := strconv.ParseUint(string(n), 10, 64)
		return u, err == nil
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	}
	i, ok := Int64(v)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Normalize replaces json.Number values anywhere in v with int64 when they
// are integers and float64 otherwise, and folds uint64 values that fit into
// int64, so a tree decoded by either codec compares equal to the one encoded.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return string(t)
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	}
	return v
}
