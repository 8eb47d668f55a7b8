// internal/layout/types.go
package layout

import "strings"

// Type is the closed set of field types a Data Block may declare.
type Type uint8

const (
	Bool Type = iota
	Byte
	Word
	Int
	DWord
	DInt
	Real
	Time
)

// Alignment classes.
const (
	AlignBit  = 0 // bit-packed
	AlignByte = 1 // any byte offset
	AlignWord = 2 // even byte offset
)

type typeInfo struct {
	name  string
	size  int
	align int
}

var typeTable = [...]typeInfo{
	Bool:  {"Bool", 1, AlignBit},
	Byte:  {"Byte", 1, AlignByte},
	Word:  {"Word", 2, AlignWord},
	Int:   {"Int", 2, AlignWord},
	DWord: {"DWord", 4, AlignWord},
	DInt:  {"DInt", 4, AlignWord},
	Real:  {"Real", 4, AlignWord},
	Time:  {"Time", 4, AlignWord},
}

var byName = map[string]Type{
	"bool":  Bool,
	"byte":  Byte,
	"word":  Word,
	"int":   Int,
	"dword": DWord,
	"dint":  DInt,
	"real":  Real,
	"time":  Time,
}

// ParseType resolves a type token (case-insensitive).
func ParseType(s string) (Type, bool) {
	t, ok := byName[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

func (t Type) valid() bool { return int(t) < len(typeTable) }

func (t Type) String() string {
	if t.valid() {
		return typeTable[t].name
	}
	return "unknown"
}

// Size is the number of bytes the type occupies.
// Bool reports 1: it owns a bit, but touches one byte.
func (t Type) Size() int {
	if t.valid() {
		return typeTable[t].size
	}
	return 0
}

// Align returns the alignment class (AlignBit, AlignByte, AlignWord).
func (t Type) Align() int {
	if t.valid() {
		return typeTable[t].align
	}
	return AlignByte
}

// Field is one named location inside a Data Block.
type Field struct {
	Name   string
	Type   Type
	Offset int // byte offset
	Bit    int // 0..7, Bool only
	Size   int // 1, 2 or 4
}

// End returns the first byte offset past the field.
func (f Field) End() int {
	return f.Offset + f.Size
}
