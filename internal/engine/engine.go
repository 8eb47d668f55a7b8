// internal/engine/engine.go
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/layout"
	"github.com/tamzrod/plc-db-sync/internal/sink"
	"github.com/tamzrod/plc-db-sync/internal/status"
	"github.com/tamzrod/plc-db-sync/internal/transport"
)

// Defaults.
const (
	DefaultPeriod      = 20 * time.Millisecond
	MinPeriod          = time.Millisecond
	DefaultBackoff     = 20 * time.Millisecond
	DefaultStopTimeout = 2 * time.Second
)

// ErrStopTimeout is returned by Stop when the loop did not finish in time.
// The loop keeps running until its in-flight transport call returns.
var ErrStopTimeout = errors.New("engine: loop did not stop within timeout")

// Buffer is the shared region the engine publishes into.
type Buffer interface {
	WriteAt(p []byte, off int64) (int, error)
	Size() int
}

// Notifier receives every publish after the region was written.
// Notify must not block.
type Notifier interface {
	Notify(u sink.Update)
}

type Config struct {
	Period      time.Duration // used when Start is given 0
	Backoff     time.Duration
	StopTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

// Engine mirrors one Data Block into a shared region.
type Engine struct {
	cfg     Config
	session *transport.Session
	m       *layout.Map
	buf     Buffer
	log     *zap.Logger
	notify  Notifier
	tracker *status.Tracker

	state atomic.Int32

	mu      sync.Mutex // serializes Start and Stop
	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool

	// loop-owned
	highWater int
	zeros     []byte
}

func New(cfg Config, session *transport.Session, m *layout.Map, buf Buffer, opts ...Option) (*Engine, error) {
	if session == nil {
		return nil, errors.New("engine: session required")
	}
	if m == nil {
		return nil, errors.New("engine: layout map required")
	}
	if buf == nil {
		return nil, errors.New("engine: buffer required")
	}
	cfg.defaults()

	e := &Engine{
		cfg:     cfg,
		session: session,
		m:       m,
		buf:     buf,
		log:     zap.NewNop(),
		tracker: status.NewTracker(),
	}
	for _, o := range opts {
		o(e)
	}
	e.state.Store(int32(Disconnected))
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Connect establishes the controller link, retrying once.
func (e *Engine) Connect() error {
	if err := e.session.Connect(); err != nil {
		e.tracker.Failed(err)
		e.log.Error("connect failed",
			zap.Stringer("endpoint", e.session.Endpoint()),
			zap.Error(err),
		)
		return fmt.Errorf("engine: connect: %w", err)
	}
	e.state.CompareAndSwap(int32(Disconnected), int32(Connected))
	e.log.Info("connected", zap.Stringer("endpoint", e.session.Endpoint()))
	return nil
}

// LastConnectError returns the error of the most recent connect attempt.
func (e *Engine) LastConnectError() error { return e.session.LastConnectError() }

// Start launches the polling loop. A second call while running is a no-op.
// A zero period means the configured period. After a Stop that timed out
// Start refuses until the old loop has returned, so at most one loop exists.
func (e *Engine) Start(period time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return
	}
	if e.loopAlive() {
		e.log.Warn("previous polling loop still busy, start refused")
		return
	}
	if e.m.Empty() {
		e.log.Warn("layout map is empty, polling not started")
		return
	}
	if period <= 0 {
		period = e.cfg.Period
	}
	if period < MinPeriod {
		period = MinPeriod
	}

	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.running.Store(true)
	e.state.Store(int32(Polling))

	e.log.Info("polling started",
		zap.Duration("period", period),
		zap.Int("length", e.m.Length),
		zap.Int("fields", e.m.Len()),
	)
	go e.run(period, e.stop, e.done)
}

// loopAlive reports whether a previously started loop has not returned yet.
func (e *Engine) loopAlive() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Stop signals the loop and waits up to StopTimeout.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return nil
	}
	close(e.stop)
	e.running.Store(false)
	e.state.Store(int32(Stopped))

	select {
	case <-e.done:
		e.log.Info("polling stopped")
		return nil
	case <-time.After(e.cfg.StopTimeout):
		e.log.Warn("polling loop still busy after stop timeout", zap.Duration("timeout", e.cfg.StopTimeout))
		return ErrStopTimeout
	}
}

// Running reports whether the loop was started and not stopped.
func (e *Engine) Running() bool { return e.running.Load() }

// Close stops polling and drops the controller link. When the buffer
// is a region this process owns it is closed and unlinked as well.
func (e *Engine) Close() error {
	err := e.Stop()
	err = multierr.Append(err, e.session.Close())

	if r, ok := e.buf.(interface {
		Close() error
		Unlink() error
	}); ok {
		err = multierr.Append(err, r.Close())
		err = multierr.Append(err, r.Unlink())
	}

	e.state.Store(int32(Disconnected))
	return err
}

// Status reports counters and health.
func (e *Engine) Status() status.Snapshot {
	return e.tracker.Snapshot(e.State().String(), e.Running())
}
