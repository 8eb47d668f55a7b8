// internal/engine/loop.go
package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/codec"
	"github.com/tamzrod/plc-db-sync/internal/sink"
	"github.com/tamzrod/plc-db-sync/internal/transport"
)

// run is the single polling goroutine. No overlap between cycles.
func (e *Engine) run(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var (
		last      codec.Snapshot
		published bool
	)

	for {
		select {
		case <-stop:
			return
		default:
		}

		t0 := time.Now()

		snap, res := e.readCycle()

		switch res.Outcome {
		case transport.Transient:
			e.tracker.Transient(res.Err)
			e.log.Debug("controller busy, retrying", zap.Error(res.Err))
			if !sleep(stop, e.cfg.Backoff) {
				return
			}
			continue

		case transport.ConnectionLost:
			if !e.recover(stop, res.Err) {
				return
			}
			continue
		}

		e.tracker.Cycle()

		if !published || !snap.Equal(last) {
			// A failed publish leaves last alone so the next cycle retries.
			if e.publish(snap) {
				last = snap
				published = true
			}
		}

		if rest := period - time.Since(t0); rest > 0 {
			if !sleep(stop, rest) {
				return
			}
		}
	}
}

// readCycle holds the session lock for read and decode only.
func (e *Engine) readCycle() (codec.Snapshot, transport.Result) {
	var snap codec.Snapshot
	res := e.session.Exclusive(func(b transport.Block) error {
		frame, err := b.Read(0, e.m.Length)
		if err != nil {
			return err
		}
		snap = codec.Decode(frame, e.m)
		return nil
	})
	return snap, res
}

// recover handles a lost connection: one best-effort disconnect, one
// reconnect attempt, back to polling either way. It returns false when
// stop was signalled during a backoff.
func (e *Engine) recover(stop <-chan struct{}, cause error) bool {
	e.state.CompareAndSwap(int32(Polling), int32(Reconnecting))
	e.tracker.Lost(cause)
	e.log.Warn("connection lost, reconnecting", zap.Error(cause))

	if err := e.session.Disconnect(); err != nil {
		e.log.Debug("disconnect failed", zap.Error(err))
	}
	if !sleep(stop, e.cfg.Backoff) {
		return false
	}

	if err := e.session.Reconnect(); err != nil {
		e.log.Warn("reconnect failed", zap.Error(err))
		if !sleep(stop, e.cfg.Backoff) {
			return false
		}
	} else {
		e.log.Info("reconnected", zap.Stringer("endpoint", e.session.Endpoint()))
	}

	e.state.CompareAndSwap(int32(Reconnecting), int32(Polling))
	return true
}

// publish writes the compact document at offset 0, truncated at the
// region capacity, and clears whatever a longer previous payload left.
// It reports whether the region now holds snap.
func (e *Engine) publish(snap codec.Snapshot) bool {
	payload := snap.AppendJSON(nil)

	n := len(payload)
	if size := e.buf.Size(); n > size {
		e.log.Warn("payload exceeds region, truncated", zap.Int("payload", n), zap.Int("capacity", size))
		n = size
	}

	if _, err := e.buf.WriteAt(payload[:n], 0); err != nil {
		e.log.Error("region write failed", zap.Error(err))
		return false
	}

	if tail := e.highWater - n; tail > 0 {
		if cap(e.zeros) < tail {
			e.zeros = make([]byte, tail)
		}
		if _, err := e.buf.WriteAt(e.zeros[:tail], int64(n)); err != nil {
			e.log.Error("region zero fill failed", zap.Error(err))
			return false
		}
	}
	e.highWater = n

	e.tracker.Published()

	if e.notify != nil {
		e.notify.Notify(sink.Update{
			At:       time.Now(),
			Snapshot: snap,
			Payload:  payload[:n],
		})
	}
	return true
}

// sleep waits d or until stop closes. It reports false on stop.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
