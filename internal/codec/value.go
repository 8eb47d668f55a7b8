// internal/codec/value.go
package codec

import (
	"math"
	"strconv"

	"github.com/tamzrod/plc-db-sync/internal/layout"
)

// Value is one decoded field. It is comparable with ==.
//
// Exactly one payload member is meaningful, chosen by Type:
//
//	Bool              -> B
//	Byte, Word, DWord -> U
//	Int, DInt, Time   -> I
//	Real              -> F (float32 widened, rounded to 4 decimals)
type Value struct {
	Type        layout.Type
	Unavailable bool

	B bool
	U uint32
	I int32
	F float64
}

// Unavailable marks a field that lies outside the frame.
func unavailable(t layout.Type) Value {
	return Value{Type: t, Unavailable: true}
}

// Interface returns the Go value a caller would expect for the type,
// or nil when unavailable.
func (v Value) Interface() any {
	if v.Unavailable {
		return nil
	}
	switch v.Type {
	case layout.Bool:
		return v.B
	case layout.Byte:
		return uint8(v.U)
	case layout.Word:
		return uint16(v.U)
	case layout.DWord:
		return v.U
	case layout.Int:
		return int16(v.I)
	case layout.DInt, layout.Time:
		return v.I
	case layout.Real:
		return v.F
	}
	return nil
}

// appendJSON writes the value as a JSON literal.
func (v Value) appendJSON(dst []byte) []byte {
	if v.Unavailable {
		return append(dst, "null"...)
	}
	switch v.Type {
	case layout.Bool:
		return strconv.AppendBool(dst, v.B)
	case layout.Byte, layout.Word, layout.DWord:
		return strconv.AppendUint(dst, uint64(v.U), 10)
	case layout.Int, layout.DInt, layout.Time:
		return strconv.AppendInt(dst, int64(v.I), 10)
	case layout.Real:
		return appendFloat(dst, v.F)
	}
	return append(dst, "null"...)
}

func (v Value) String() string {
	return string(v.appendJSON(nil))
}

// appendFloat renders a real the way the published snapshot carries it:
// shortest form, with a trailing ".0" for integral values.
// NaN and Inf are not valid JSON and are published as null.
func appendFloat(dst []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, "null"...)
	}
	start := len(dst)
	dst = strconv.AppendFloat(dst, f, 'g', -1, 64)
	for _, c := range dst[start:] {
		if c == '.' || c == 'e' {
			return dst
		}
	}
	return append(dst, ".0"...)
}
