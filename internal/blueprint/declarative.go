// internal/blueprint/declarative.go
package blueprint

import (
	"regexp"
	"strings"

	"github.com/tamzrod/plc-db-sync/internal/layout"
)

// name : type ;   with optional "quotes", { attributes } and := initial value
var reDeclField = regexp.MustCompile(
	`^\s*"?([A-Za-z_]\w*)"?\s*(?:\{[^}]*\})?\s*:\s*([A-Za-z_]\w*)\b[^;]*;`,
)

// cursor walks a non-optimized block the way the controller lays it out.
type cursor struct {
	byteIdx int
	bitIdx  int
}

// boundary closes any bool run and moves to the next word. Nested
// structures start and end on one.
func (c *cursor) boundary() {
	if c.bitIdx > 0 {
		c.byteIdx++
		c.bitIdx = 0
	}
	if c.byteIdx%2 != 0 {
		c.byteIdx++
	}
}

func (c *cursor) place(t layout.Type) (offset, bit int) {
	if t == layout.Bool {
		if c.bitIdx > 7 {
			c.byteIdx++
			c.bitIdx = 0
		}
		offset, bit = c.byteIdx, c.bitIdx
		c.bitIdx++
		return offset, bit
	}

	// close a partially filled bool byte
	if c.bitIdx > 0 {
		c.byteIdx++
		c.bitIdx = 0
	}
	if t.Align() == layout.AlignWord && c.byteIdx%2 != 0 {
		c.byteIdx++
	}
	offset = c.byteIdx
	c.byteIdx += t.Size()
	return offset, 0
}

func compileDeclarative(lines []string, start int) (*layout.Map, error) {
	b := layout.NewBuilder()
	var cur cursor

	// names of the open nested structures; members are "outer.inner.x"
	var path []string
	closed := false

	for i := start + 1; i < len(lines); i++ {
		ln := stripComment(lines[i])

		if reStructClose.MatchString(ln) {
			if len(path) == 0 {
				closed = true
				break
			}
			path = path[:len(path)-1]
			cur.boundary()
			continue
		}

		if m := reNestedStruct.FindStringSubmatch(ln); m != nil {
			path = append(path, m[1])
			cur.boundary()
			continue
		}

		m := reDeclField.FindStringSubmatch(ln)
		if m == nil {
			continue
		}

		t, ok := layout.ParseType(m[2])
		if !ok {
			continue
		}

		name := m[1]
		if len(path) > 0 {
			name = strings.Join(path, ".") + "." + name
		}

		off, bit := cur.place(t)
		b.Add(layout.Field{
			Name:   name,
			Type:   t,
			Offset: off,
			Bit:    bit,
			Size:   t.Size(),
		})
	}

	if !closed {
		return nil, &ParseError{Line: start + 1, Text: lines[start], Reason: "STRUCT without matching END_STRUCT"}
	}

	return b.Build(), nil
}

// a member opening a nested block: name : Struct
var reNestedStruct = regexp.MustCompile(
	`(?i)^\s*"?([A-Za-z_]\w*)"?\s*(?:\{[^}]*\})?\s*:\s*STRUCT\b`,
)
