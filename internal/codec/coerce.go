// internal/codec/coerce.go
package codec

import (
	"encoding/json"
	"math"

	"github.com/tamzrod/plc-db-sync/internal/layout"
)

// Write requests arrive from JSON (float64, json.Number) as well as from
// Go callers (any integer kind). Coercion is strict about range: a value
// that does not fit the declared width is rejected, never truncated.

func coerceBool(v any) (Value, bool) {
	switch x := v.(type) {
	case bool:
		return Value{Type: layout.Bool, B: x}, true
	}
	if f, ok := asFloat(v); ok {
		return Value{Type: layout.Bool, B: f != 0}, true
	}
	return Value{}, false
}

func unsignedCoercer(t layout.Type, max uint64) func(any) (Value, bool) {
	return func(v any) (Value, bool) {
		i, ok := asInt(v)
		if !ok || i < 0 || uint64(i) > max {
			return Value{}, false
		}
		return Value{Type: t, U: uint32(i)}, true
	}
}

func signedCoercer(t layout.Type, min, max int64) func(any) (Value, bool) {
	return func(v any) (Value, bool) {
		i, ok := asInt(v)
		if !ok || i < min || i > max {
			return Value{}, false
		}
		return Value{Type: t, I: int32(i)}, true
	}
}

func coerceReal(v any) (Value, bool) {
	f, ok := asFloat(v)
	if !ok {
		return Value{}, false
	}
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return Value{}, false
	}
	return Value{Type: layout.Real, F: f}, true
}

// asInt accepts integer kinds and integral floats.
func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return integral(f)
	case float32:
		return integral(float64(x))
	case float64:
		return integral(x)
	}
	return 0, false
}

func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	return 0, false
}
