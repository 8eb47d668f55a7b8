// internal/writer/writer.go
package writer

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/codec"
	"github.com/tamzrod/plc-db-sync/internal/layout"
	"github.com/tamzrod/plc-db-sync/internal/transport"
)

// ErrNoChanges is returned for an empty change set.
var ErrNoChanges = errors.New("writer: empty change set")

// Stage names the step of a write that failed.
type Stage string

const (
	StageRead   Stage = "read"
	StageEncode Stage = "encode"
	StageWrite  Stage = "write"
)

// Failure describes a write that did not reach the controller, or
// reached it only partially (StageWrite).
type Failure struct {
	Stage   Stage
	Fields  []string
	Outcome transport.Outcome
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("writer: %s failed for %v: %v", f.Stage, f.Fields, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Writer patches named fields of the Data Block with a
// read-patch-write sequence held under the session lock, so the
// polling loop never observes a half-applied change.
//
// It never touches the shared region; the next poll reflects the write.
type Writer struct {
	session *transport.Session
	m       *layout.Map
	log     *zap.Logger
}

func New(session *transport.Session, m *layout.Map, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{session: session, m: m, log: log}
}

// Write applies changes and reports success. Failures are logged.
func (w *Writer) Write(changes codec.Changes) bool {
	if err := w.Apply(changes); err != nil {
		if !errors.Is(err, ErrNoChanges) {
			w.log.Warn("write failed", zap.Error(err))
		}
		return false
	}
	return true
}

// Apply is Write with the failure detail.
//
// A change set naming only unknown fields succeeds without any
// transport traffic. Otherwise exactly one full-frame read and at most
// one full-frame write happen; a rejected value means no write at all.
func (w *Writer) Apply(changes codec.Changes) error {
	if len(changes) == 0 {
		return ErrNoChanges
	}

	known := codec.Known(w.m, changes)
	if len(known) == 0 {
		w.log.Debug("write ignored, no known fields", zap.Int("names", len(changes)))
		return nil
	}

	var failure *Failure

	res := w.session.Exclusive(func(b transport.Block) error {
		frame, err := b.Read(0, w.m.Length)
		if err != nil {
			failure = &Failure{Stage: StageRead, Err: err}
			return err
		}

		patched, err := codec.Apply(frame, w.m, changes)
		if err != nil {
			failure = &Failure{Stage: StageEncode, Err: err}
			return nil
		}

		if err := b.Write(0, patched); err != nil {
			failure = &Failure{Stage: StageWrite, Err: err}
			return err
		}
		return nil
	})

	if failure != nil {
		failure.Fields = known
		if failure.Stage != StageEncode {
			failure.Outcome = res.Outcome
		}
		return failure
	}

	w.log.Debug("write applied", zap.Strings("fields", known))
	return nil
}
