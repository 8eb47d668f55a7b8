// internal/status/tracker.go
package status

import (
	"sync"
	"time"
)

// StaleAfter is how long a connected engine may go without a good
// read before it reports HealthStale instead of HealthOK.
const StaleAfter = 5 * time.Second

// Tracker accumulates cycle outcomes into a Snapshot.
// It is safe for concurrent use: the engine records, anyone reads.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	s          Snapshot
	errorSince time.Time
	lastGood   time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Cycle records one completed read cycle.
func (t *Tracker) Cycle() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.s.Cycles++
	t.s.LastError = ""
	t.errorSince = time.Time{}
	t.lastGood = t.now()
}

// Published records one write into the shared region.
func (t *Tracker) Published() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.s.Publishes++
	t.s.LastPublish = t.now()
}

// Transient records a busy response that will be retried in place.
func (t *Tracker) Transient(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.s.TransientRetries++
	t.failLocked(err)
}

// Lost records a connection loss and the reconnect attempt that follows.
func (t *Tracker) Lost(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.s.Reconnects++
	t.failLocked(err)
}

// Failed records an error that is neither transient nor a loss,
// such as a failed initial connect.
func (t *Tracker) Failed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failLocked(err)
}

func (t *Tracker) failLocked(err error) {
	if err != nil {
		t.s.LastError = err.Error()
	}
	if t.errorSince.IsZero() {
		t.errorSince = t.now()
	}
}

// Snapshot returns the current view with health derived from state.
func (t *Tracker) Snapshot(state string, running bool) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.s
	s.State = state
	now := t.now()

	if !t.errorSince.IsZero() {
		secs := now.Sub(t.errorSince) / time.Second
		if secs > MaxSecondsInError {
			secs = MaxSecondsInError
		}
		s.SecondsInError = uint16(secs)
	}

	switch {
	case !running && s.Cycles > 0:
		s.Health = HealthDisabled
	case !t.errorSince.IsZero():
		s.Health = HealthError
	case t.lastGood.IsZero():
		s.Health = HealthUnknown
	case now.Sub(t.lastGood) > StaleAfter:
		s.Health = HealthStale
	default:
		s.Health = HealthOK
	}
	return s
}
