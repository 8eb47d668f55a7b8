// cmd/dbview/reader.go
package main

import (
	"fmt"
	"time"

	"github.com/tamzrod/plc-db-sync/internal/codec"
)

// payloadSource is the shared region as the viewer sees it.
type payloadSource interface {
	Payload() []byte
}

// reader re-reads the region until it gets a document that parses.
// The publisher does not lock, so a read can catch a write half done.
type reader struct {
	src      payloadSource
	attempts int
	pause    time.Duration

	torn uint64 // reads discarded so far
}

func newReader(src payloadSource) *reader {
	return &reader{src: src, attempts: 5, pause: time.Millisecond}
}

func (r *reader) read() (codec.Published, error) {
	var lastErr error
	for i := 0; i < r.attempts; i++ {
		p, err := codec.ParseSnapshot(r.src.Payload())
		if err == nil {
			return p, nil
		}
		lastErr = err
		r.torn++
		time.Sleep(r.pause)
	}
	return nil, fmt.Errorf("no consistent read after %d attempts: %w", r.attempts, lastErr)
}

// rows returns name/value pairs, restricted to names when given.
func rows(p codec.Published, names []string) [][2]string {
	if len(names) == 0 {
		out := make([][2]string, 0, len(p))
		for _, f := range p {
			out = append(out, [2]string{f.Name, string(f.Raw)})
		}
		return out
	}

	out := make([][2]string, 0, len(names))
	for _, n := range names {
		v := "(missing)"
		for _, f := range p {
			if f.Name == n {
				v = string(f.Raw)
				break
			}
		}
		out = append(out, [2]string{n, v})
	}
	return out
}
