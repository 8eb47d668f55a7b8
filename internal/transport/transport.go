// internal/transport/transport.go
package transport

import (
	"regexp"
)

// Transport abstracts the controller link.
// It moves raw bytes of one Data Block; it knows nothing about fields.
type Transport interface {
	ReadBlock(block, start, length int) ([]byte, error)
	WriteBlock(block, start int, data []byte) error
	Connect(address string, rack, slot int) error
	Disconnect() error
	Connected() bool
}

// ---- RESULT CLASSIFICATION ----

// Outcome tells the caller how to react to one transport interaction.
type Outcome int

const (
	OK             Outcome = iota
	Transient              // controller busy, retry in place
	ConnectionLost         // anything else, reconnect
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Transient:
		return "transient"
	case ConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Result is the outcome of one exclusive transport sequence.
type Result struct {
	Outcome Outcome
	Err     error
}

// DefaultBusyPattern matches the "job pending" family reported by S7
// stacks and the Modbus "server device busy" exception.
const DefaultBusyPattern = `Job pending|CLI :|device busy`

// Classifier maps transport errors to outcomes by message only.
type Classifier struct {
	busy *regexp.Regexp
}

// NewClassifier compiles the busy pattern; empty means DefaultBusyPattern.
func NewClassifier(pattern string) (*Classifier, error) {
	if pattern == "" {
		pattern = DefaultBusyPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Classifier{busy: re}, nil
}

// Classify returns the result for err.
func (c *Classifier) Classify(err error) Result {
	if err == nil {
		return Result{Outcome: OK}
	}
	if c != nil && c.busy != nil && c.busy.MatchString(err.Error()) {
		return Result{Outcome: Transient, Err: err}
	}
	return Result{Outcome: ConnectionLost, Err: err}
}
