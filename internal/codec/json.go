// internal/codec/json.go
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// MarshalJSON renders {"field":value,...} in map order, no whitespace.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return s.AppendJSON(make([]byte, 0, 32*len(s.Entries))), nil
}

// AppendJSON appends the compact encoding to dst.
func (s Snapshot) AppendJSON(dst []byte) []byte {
	dst = append(dst, '{')
	for i, e := range s.Entries {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendQuote(dst, e.Name)
		dst = append(dst, ':')
		dst = e.Value.appendJSON(dst)
	}
	return append(dst, '}')
}

// Field is one entry of a published snapshot as a reader sees it:
// the name and the raw JSON literal, order preserved.
type Field struct {
	Name string
	Raw  json.RawMessage
}

// Published is a snapshot read back from its published text.
type Published []Field

// ParseSnapshot reads a published payload. Trailing NUL padding is ignored.
// A torn or partial payload fails to parse; readers retry.
func ParseSnapshot(payload []byte) (Published, error) {
	payload = bytes.TrimRight(payload, "\x00")
	if len(payload) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("codec: snapshot: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("codec: snapshot: not an object")
	}

	var out Published
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("codec: snapshot: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, errors.New("codec: snapshot: expected key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("codec: snapshot: field %q: %w", name, err)
		}
		out = append(out, Field{Name: name, Raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("codec: snapshot: %w", err)
	}
	return out, nil
}

// Get returns the decoded value of one field (bool, json.Number or nil).
func (p Published) Get(name string) (any, bool) {
	for _, f := range p {
		if f.Name == name {
			return decodeRaw(f.Raw), true
		}
	}
	return nil, false
}

// Pick returns the subset of names that are present.
func (p Published) Pick(names ...string) map[string]any {
	out := make(map[string]any, len(names))
	for _, n := range names {
		if v, ok := p.Get(n); ok {
			out[n] = v
		}
	}
	return out
}

// All returns every field as a map.
func (p Published) All() map[string]any {
	out := make(map[string]any, len(p))
	for _, f := range p {
		out[f.Name] = decodeRaw(f.Raw)
	}
	return out
}

func decodeRaw(raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

// DecodeChanges parses a write request body ({"field": value, ...}).
// Numbers are kept as json.Number so integer fields keep full precision.
func DecodeChanges(body []byte) (Changes, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var c Changes
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("codec: write request: %w", err)
	}
	return c, nil
}
