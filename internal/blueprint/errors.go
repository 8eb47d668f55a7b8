// internal/blueprint/errors.go
package blueprint

import "fmt"

// ReadError means the blueprint file could not be read at all.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("blueprint: cannot read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ParseError means the blueprint text is malformed.
// Line is 1-based; 0 when the problem is not tied to a line.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("blueprint: line %d: %s (%q)", e.Line, e.Reason, e.Text)
	}
	return "blueprint: " + e.Reason
}
