// internal/codec/codec.go
package codec

import (
	"fmt"
	"math"
	"sort"

	"github.com/tamzrod/plc-db-sync/internal/layout"
)

// Changes is a pending write set: field name -> new value.
type Changes map[string]any

// Entry is one named value of a snapshot.
type Entry struct {
	Name  string
	Value Value
}

// Snapshot is the decoded content of one frame, in map order.
type Snapshot struct {
	Entries []Entry
}

// Get returns the value of one field.
func (s Snapshot) Get(name string) (Value, bool) {
	for _, e := range s.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Equal is full value equality, order included.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.Entries) != len(o.Entries) {
		return false
	}
	for i := range s.Entries {
		a, b := s.Entries[i], o.Entries[i]
		if a.Name != b.Name || !a.Value.Equal(b.Value) {
			return false
		}
	}
	return true
}

// Equal compares two values. NaN reals compare equal to themselves so
// a NaN on the wire does not look like a change every cycle.
func (v Value) Equal(o Value) bool {
	if v.Type == layout.Real && o.Type == layout.Real && !v.Unavailable && !o.Unavailable {
		if math.IsNaN(v.F) && math.IsNaN(o.F) {
			return true
		}
	}
	return v == o
}

// ---- DECODE ----

// Decode reads every field of m out of frame (big-endian).
// Fields that fall outside a short frame decode as unavailable.
func Decode(frame []byte, m *layout.Map) Snapshot {
	n := m.Len()
	out := Snapshot{Entries: make([]Entry, 0, n)}

	for i := 0; i < n; i++ {
		f := m.At(i)
		c, ok := codecFor(f.Type)
		if !ok || f.Offset < 0 || f.End() > len(frame) {
			out.Entries = append(out.Entries, Entry{Name: f.Name, Value: unavailable(f.Type)})
			continue
		}
		out.Entries = append(out.Entries, Entry{Name: f.Name, Value: c.decode(frame, f)})
	}
	return out
}

// ---- ENCODE ----

// EncodeError aborts an Apply. No byte of the frame has been changed.
type EncodeError struct {
	Field  string
	Type   layout.Type
	Value  any
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("codec: field %q (%s): cannot encode %v (%T): %s", e.Field, e.Type, e.Value, e.Value, e.Reason)
}

type patch struct {
	field layout.Field
	codec fieldCodec
	value Value
}

// Known returns the subset of names in changes that exist in m, sorted.
func Known(m *layout.Map, changes Changes) []string {
	var out []string
	for name := range changes {
		if _, ok := m.Field(name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Apply returns a copy of frame with changes encoded at their field
// positions. Unknown names are ignored. Every value is validated before
// the copy is touched; on error nothing is returned.
func Apply(frame []byte, m *layout.Map, changes Changes) ([]byte, error) {
	patches := make([]patch, 0, len(changes))

	for _, name := range Known(m, changes) {
		f, _ := m.Field(name)
		raw := changes[name]

		c, ok := codecFor(f.Type)
		if !ok {
			return nil, &EncodeError{Field: name, Type: f.Type, Value: raw, Reason: "unsupported type"}
		}
		if f.Offset < 0 || f.End() > len(frame) {
			return nil, &EncodeError{Field: name, Type: f.Type, Value: raw, Reason: "field outside frame"}
		}
		v, ok := c.coerce(raw)
		if !ok {
			return nil, &EncodeError{Field: name, Type: f.Type, Value: raw, Reason: "value does not fit type"}
		}
		patches = append(patches, patch{field: f, codec: c, value: v})
	}

	out := make([]byte, len(frame))
	copy(out, frame)

	for _, p := range patches {
		p.codec.encode(out, p.field, p.value)
	}
	return out, nil
}
