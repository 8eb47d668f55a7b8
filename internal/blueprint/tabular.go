// internal/blueprint/tabular.go
package blueprint

import (
	"regexp"
	"strconv"

	"github.com/tamzrod/plc-db-sync/internal/layout"
)

// name  type  byte.bit   (remaining columns ignored)
var reTableRow = regexp.MustCompile(`^\s*"?([A-Za-z_]\w*)"?\s+([A-Za-z_]\w*)\s+(\d+)\.(\d+)\b`)

// compileTabular trusts the offsets stated in the table verbatim.
// No cursor arithmetic is performed.
func compileTabular(lines []string, start int) (*layout.Map, error) {
	b := layout.NewBuilder()

	for i := start; i < len(lines); i++ {
		m := reTableRow.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}

		t, ok := layout.ParseType(m[2])
		if !ok {
			continue
		}

		off, err := strconv.Atoi(m[3])
		if err != nil {
			return nil, &ParseError{Line: i + 1, Text: lines[i], Reason: "byte offset out of range"}
		}
		bit, err := strconv.Atoi(m[4])
		if err != nil || bit > 7 {
			return nil, &ParseError{Line: i + 1, Text: lines[i], Reason: "bit offset must be 0..7"}
		}
		if t != layout.Bool {
			bit = 0
		}

		b.Add(layout.Field{
			Name:   m[1],
			Type:   t,
			Offset: off,
			Bit:    bit,
			Size:   t.Size(),
		})
	}

	mm := b.Build()
	if err := mm.Validate(); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	return mm, nil
}
