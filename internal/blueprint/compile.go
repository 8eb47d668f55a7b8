// internal/blueprint/compile.go
package blueprint

import (
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tamzrod/plc-db-sync/internal/layout"
)

// Grammar identifies which export format a blueprint uses.
type Grammar int

const (
	GrammarNone        Grammar = iota
	GrammarDeclarative         // STRUCT ... END_STRUCT source export
	GrammarTabular             // "Static" table copy with explicit offsets
)

func (g Grammar) String() string {
	switch g {
	case GrammarDeclarative:
		return "declarative"
	case GrammarTabular:
		return "tabular"
	default:
		return "none"
	}
}

var (
	reStructOpen  = regexp.MustCompile(`(?i)^\s*STRUCT\b`)
	reStructClose = regexp.MustCompile(`(?i)^\s*END_STRUCT\b`)
	reStatic      = regexp.MustCompile(`^\s*Static\b`)
)

// CompileFile reads a blueprint from disk and compiles it.
func CompileFile(path string) (*layout.Map, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	return Compile(string(b))
}

// Compile turns blueprint text into a memory map.
//
// Text that carries neither grammar, or a block with no recognizable
// fields, compiles to an empty map with Length 0. That is not an error;
// callers treat it as nothing to synchronize.
func Compile(text string) (*layout.Map, error) {
	if !utf8.ValidString(text) {
		return nil, &ParseError{Reason: "text is not valid UTF-8"}
	}

	lines := splitLines(text)

	switch g, start := Detect(lines); g {
	case GrammarDeclarative:
		return compileDeclarative(lines, start)
	case GrammarTabular:
		return compileTabular(lines, start)
	default:
		return layout.NewBuilder().Build(), nil
	}
}

// Detect reports the grammar and the index of its marker line.
func Detect(lines []string) (Grammar, int) {
	for i, ln := range lines {
		if reStructOpen.MatchString(ln) {
			return GrammarDeclarative, i
		}
	}
	for i, ln := range lines {
		if reStatic.MatchString(ln) {
			return GrammarTabular, i
		}
	}
	return GrammarNone, -1
}

func splitLines(text string) []string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// stripComment drops a trailing // comment.
func stripComment(s string) string {
	if i := strings.Index(s, "//"); i >= 0 {
		return s[:i]
	}
	return s
}
