// internal/layout/map.go
package layout

import (
	"fmt"
	"sort"
)

// Map is a compiled memory map of one Data Block.
// It is immutable once returned by Builder.Build.
type Map struct {
	Length int

	fields   []Field
	index    map[string]int
	shadowed []string
}

// Fields returns the fields in declaration order.
func (m *Map) Fields() []Field {
	if m == nil {
		return nil
	}
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Field looks up one field by name.
func (m *Map) Field(name string) (Field, bool) {
	if m == nil {
		return Field{}, false
	}
	i, ok := m.index[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

// At returns the i-th field in declaration order.
func (m *Map) At(i int) Field {
	return m.fields[i]
}

// Len returns the number of fields.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Empty reports a map with nothing to synchronize.
func (m *Map) Empty() bool {
	return m == nil || m.Length == 0 || len(m.fields) == 0
}

// Shadowed lists names that were declared more than once.
// The last declaration won.
func (m *Map) Shadowed() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.shadowed...)
}

// Validate checks that no two fields overlap.
// Bools may share a byte as long as their bits differ.
func (m *Map) Validate() error {
	if m == nil {
		return nil
	}

	fs := m.Fields()
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].Offset != fs[j].Offset {
			return fs[i].Offset < fs[j].Offset
		}
		return fs[i].Bit < fs[j].Bit
	})

	for i := 0; i < len(fs); i++ {
		a := fs[i]
		if a.Type == Bool && (a.Bit < 0 || a.Bit > 7) {
			return fmt.Errorf("layout: field %q bit %d out of range", a.Name, a.Bit)
		}
		for j := i + 1; j < len(fs); j++ {
			b := fs[j]
			if b.Offset >= a.End() {
				break
			}
			if a.Type == Bool && b.Type == Bool && a.Offset == b.Offset {
				if a.Bit == b.Bit {
					return fmt.Errorf("layout: fields %q and %q share bit %d.%d", a.Name, b.Name, a.Offset, a.Bit)
				}
				continue
			}
			return fmt.Errorf(
				"layout: field %q (%d..%d) overlaps %q (%d..%d)",
				a.Name, a.Offset, a.End()-1, b.Name, b.Offset, b.End()-1,
			)
		}
		if a.End() > m.Length {
			return fmt.Errorf("layout: field %q ends at %d past block length %d", a.Name, a.End(), m.Length)
		}
	}
	return nil
}

// ---- BUILDER ----

// Builder accumulates fields. A Builder must not be used after Build.
type Builder struct {
	fields   []Field
	index    map[string]int
	shadowed []string
}

func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// Add records a field. A repeated name replaces the earlier entry in place.
func (b *Builder) Add(f Field) {
	if f.Size == 0 {
		f.Size = f.Type.Size()
	}
	if i, ok := b.index[f.Name]; ok {
		b.fields[i] = f
		b.shadowed = append(b.shadowed, f.Name)
		return
	}
	b.index[f.Name] = len(b.fields)
	b.fields = append(b.fields, f)
}

// Build finalizes the map. Length is the furthest field end rounded up
// to an even byte, since non-optimized blocks always end on a word boundary.
func (b *Builder) Build() *Map {
	end := 0
	for _, f := range b.fields {
		if f.End() > end {
			end = f.End()
		}
	}
	if end%2 != 0 {
		end++
	}

	return &Map{
		Length:   end,
		fields:   b.fields,
		index:    b.index,
		shadowed: b.shadowed,
	}
}
