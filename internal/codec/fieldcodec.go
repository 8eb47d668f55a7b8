// internal/codec/fieldcodec.go
package codec

import (
	"encoding/binary"
	"math"

	"github.com/tamzrod/plc-db-sync/internal/layout"
)

// fieldCodec is the decode/encode pair for one field type.
// encode writes an already coerced value; it never fails.
type fieldCodec struct {
	decode func(b []byte, f layout.Field) Value
	coerce func(v any) (Value, bool)
	encode func(b []byte, f layout.Field, v Value)
}

var codecs = [...]fieldCodec{
	layout.Bool: {
		decode: func(b []byte, f layout.Field) Value {
			return Value{Type: layout.Bool, B: (b[f.Offset]>>uint(f.Bit))&1 == 1}
		},
		coerce: coerceBool,
		encode: func(b []byte, f layout.Field, v Value) {
			mask := byte(1) << uint(f.Bit)
			if v.B {
				b[f.Offset] |= mask
			} else {
				b[f.Offset] &^= mask
			}
		},
	},
	layout.Byte: {
		decode: func(b []byte, f layout.Field) Value {
			return Value{Type: layout.Byte, U: uint32(b[f.Offset])}
		},
		coerce: unsignedCoercer(layout.Byte, math.MaxUint8),
		encode: func(b []byte, f layout.Field, v Value) {
			b[f.Offset] = byte(v.U)
		},
	},
	layout.Word: {
		decode: func(b []byte, f layout.Field) Value {
			return Value{Type: layout.Word, U: uint32(binary.BigEndian.Uint16(b[f.Offset:]))}
		},
		coerce: unsignedCoercer(layout.Word, math.MaxUint16),
		encode: func(b []byte, f layout.Field, v Value) {
			binary.BigEndian.PutUint16(b[f.Offset:], uint16(v.U))
		},
	},
	layout.Int: {
		decode: func(b []byte, f layout.Field) Value {
			return Value{Type: layout.Int, I: int32(int16(binary.BigEndian.Uint16(b[f.Offset:])))}
		},
		coerce: signedCoercer(layout.Int, math.MinInt16, math.MaxInt16),
		encode: func(b []byte, f layout.Field, v Value) {
			binary.BigEndian.PutUint16(b[f.Offset:], uint16(int16(v.I)))
		},
	},
	layout.DWord: {
		decode: func(b []byte, f layout.Field) Value {
			return Value{Type: layout.DWord, U: binary.BigEndian.Uint32(b[f.Offset:])}
		},
		coerce: unsignedCoercer(layout.DWord, math.MaxUint32),
		encode: func(b []byte, f layout.Field, v Value) {
			binary.BigEndian.PutUint32(b[f.Offset:], v.U)
		},
	},
	layout.DInt: {
		decode: decodeInt32(layout.DInt),
		coerce: signedCoercer(layout.DInt, math.MinInt32, math.MaxInt32),
		encode: encodeInt32,
	},
	layout.Time: {
		decode: decodeInt32(layout.Time),
		coerce: signedCoercer(layout.Time, math.MinInt32, math.MaxInt32),
		encode: encodeInt32,
	},
	layout.Real: {
		decode: func(b []byte, f layout.Field) Value {
			bits := binary.BigEndian.Uint32(b[f.Offset:])
			return Value{Type: layout.Real, F: round4(float64(math.Float32frombits(bits)))}
		},
		coerce: coerceReal,
		encode: func(b []byte, f layout.Field, v Value) {
			binary.BigEndian.PutUint32(b[f.Offset:], math.Float32bits(float32(v.F)))
		},
	},
}

func decodeInt32(t layout.Type) func(b []byte, f layout.Field) Value {
	return func(b []byte, f layout.Field) Value {
		return Value{Type: t, I: int32(binary.BigEndian.Uint32(b[f.Offset:]))}
	}
}

func encodeInt32(b []byte, f layout.Field, v Value) {
	binary.BigEndian.PutUint32(b[f.Offset:], uint32(v.I))
}

// round4 rounds to 4 decimal digits to hide float32 noise.
func round4(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	return math.Round(f*1e4) / 1e4
}

func codecFor(t layout.Type) (fieldCodec, bool) {
	if int(t) >= len(codecs) {
		return fieldCodec{}, false
	}
	return codecs[t], true
}
