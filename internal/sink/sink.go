// internal/sink/sink.go
package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/codec"
)

// Update is one publish of the shared region, offered to the sinks
// after the region itself was written.
type Update struct {
	At       time.Time
	Snapshot codec.Snapshot
	Payload  []byte // exactly the bytes written at offset 0
}

// Sink receives updates. Deliver runs on the fan-out goroutine and
// must not hold it longer than a network round trip.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, u Update) error
}

// DefaultQueue is the fan-out queue depth.
const DefaultQueue = 64

// Fanout decouples the polling loop from slow consumers.
// Notify never blocks; when the queue is full the update is dropped.
type Fanout struct {
	queue chan Update
	log   *zap.Logger

	mu    sync.RWMutex
	sinks []Sink

	dropped atomic.Uint64
}

func NewFanout(depth int, log *zap.Logger, sinks ...Sink) *Fanout {
	if depth <= 0 {
		depth = DefaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{
		queue: make(chan Update, depth),
		log:   log,
		sinks: sinks,
	}
}

// Add registers a sink. Safe while running.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// Notify queues u for delivery.
func (f *Fanout) Notify(u Update) {
	select {
	case f.queue <- u:
	default:
		n := f.dropped.Add(1)
		f.log.Warn("sink queue full, update dropped", zap.Uint64("dropped_total", n))
	}
}

// Dropped reports how many updates were discarded.
func (f *Fanout) Dropped() uint64 { return f.dropped.Load() }

// Run delivers queued updates until ctx is done.
func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-f.queue:
			if err := f.deliver(ctx, u); err != nil {
				f.log.Warn("sink delivery failed", zap.Error(err))
			}
		}
	}
}

func (f *Fanout) deliver(ctx context.Context, u Update) error {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	var errs error
	for _, s := range sinks {
		if err := s.Deliver(ctx, u); err != nil {
			errs = multierr.Append(errs, &DeliveryError{Sink: s.Name(), Err: err})
		}
	}
	return errs
}

// DeliveryError names the sink that failed.
type DeliveryError struct {
	Sink string
	Err  error
}

func (e *DeliveryError) Error() string { return "sink " + e.Sink + ": " + e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }
