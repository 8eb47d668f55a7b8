// internal/engine/engine_test.go
package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tamzrod/plc-db-sync/internal/codec"
	"github.com/tamzrod/plc-db-sync/internal/layout"
	"github.com/tamzrod/plc-db-sync/internal/sink"
	"github.com/tamzrod/plc-db-sync/internal/transport"
	"github.com/tamzrod/plc-db-sync/internal/transport/memory"
	"github.com/tamzrod/plc-db-sync/internal/writer"
)

const testBlock = 100

// memBuffer stands in for the shared region.
type memBuffer struct {
	mu     sync.Mutex
	mem    []byte
	writes int
}

func newBuffer(size int) *memBuffer { return &memBuffer{mem: make([]byte, size)} }

func (b *memBuffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	return copy(b.mem[off:], p), nil
}

func (b *memBuffer) Size() int { return len(b.mem) }

func (b *memBuffer) bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.mem...)
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []string
}

func (r *recordingNotifier) Notify(u sink.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, string(u.Payload))
}

// level (Int @0), run (Bool @2.0), count (DInt @4)
func testMap() *layout.Map {
	b := layout.NewBuilder()
	b.Add(layout.Field{Name: "level", Type: layout.Int, Offset: 0})
	b.Add(layout.Field{Name: "run", Type: layout.Bool, Offset: 2, Bit: 0})
	b.Add(layout.Field{Name: "count", Type: layout.DInt, Offset: 4})
	return b.Build()
}

type rig struct {
	tr  *memory.Transport
	buf *memBuffer
	e   *Engine
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()

	tr := memory.New()
	tr.Define(testBlock, 8)

	s, err := transport.NewSession(tr, transport.Endpoint{Address: "sim", Slot: 1, Block: testBlock}, nil)
	if err != nil {
		t.Fatalf("NewSession err=%v", err)
	}
	s.RetryDelay = 0

	buf := newBuffer(64)
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)

	e, err := New(Config{Backoff: time.Millisecond}, s, testMap(), buf, opts...)
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	return &rig{tr: tr, buf: buf, e: e}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func payload(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// ---- tests ----

func TestNew_Rejects(t *testing.T) {
	s, _ := transport.NewSession(memory.New(), transport.Endpoint{Address: "sim"}, nil)

	if _, err := New(Config{}, nil, testMap(), newBuffer(1)); err == nil {
		t.Fatalf("expected error for nil session")
	}
	if _, err := New(Config{}, s, nil, newBuffer(1)); err == nil {
		t.Fatalf("expected error for nil map")
	}
	if _, err := New(Config{}, s, testMap(), nil); err == nil {
		t.Fatalf("expected error for nil buffer")
	}
}

func TestEngine_PublishesOnceWhileUnchanged(t *testing.T) {
	n := &recordingNotifier{}
	r := newRig(t, WithNotifier(n))
	r.tr.Poke(testBlock, 0, []byte{0x01, 0x2C, 0x01, 0x00, 0x00, 0x00, 0x00, 0x07})

	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	if r.e.State() != Connected {
		t.Fatalf("state=%v", r.e.State())
	}

	r.e.Start(time.Millisecond)
	waitFor(t, "10 cycles", func() bool { return r.e.Status().Cycles >= 10 })

	if err := r.e.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}

	st := r.e.Status()
	if st.Publishes != 1 {
		t.Fatalf("expected exactly 1 publish over %d cycles, got %d", st.Cycles, st.Publishes)
	}
	if r.buf.writes != 1 {
		t.Fatalf("expected 1 region write, got %d", r.buf.writes)
	}

	want := `{"level":300,"run":true,"count":7}`
	if got := payload(r.buf.bytes()); got != want {
		t.Fatalf("region=%s want %s", got, want)
	}
	if len(n.got) != 1 || n.got[0] != want {
		t.Fatalf("notifier got %v", n.got)
	}
	if r.e.State() != Stopped {
		t.Fatalf("state=%v", r.e.State())
	}
}

func TestEngine_RepublishesOnChange(t *testing.T) {
	r := newRig(t)
	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}

	r.e.Start(time.Millisecond)
	defer r.e.Stop()

	waitFor(t, "first publish", func() bool { return r.e.Status().Publishes == 1 })

	r.tr.Poke(testBlock, 4, []byte{0x00, 0x00, 0x01, 0x00})
	waitFor(t, "second publish", func() bool { return r.e.Status().Publishes == 2 })

	if got := payload(r.buf.bytes()); got != `{"level":0,"run":false,"count":256}` {
		t.Fatalf("region=%s", got)
	}
}

func TestPublish_ZeroFillsShrinkingPayload(t *testing.T) {
	r := newRig(t)
	m := testMap()

	long := make([]byte, 8)
	binary.BigEndian.PutUint32(long[4:], 123456789)
	r.e.publish(codec.Decode(long, m))
	first := len(payload(r.buf.bytes()))

	r.e.publish(codec.Decode(make([]byte, 8), m))

	mem := r.buf.bytes()
	got := payload(mem)
	if got != `{"level":0,"run":false,"count":0}` {
		t.Fatalf("region=%s", got)
	}
	for i := len(got); i < first; i++ {
		if mem[i] != 0 {
			t.Fatalf("stale byte at %d: %q", i, mem[i])
		}
	}
	if r.e.highWater != len(got) {
		t.Fatalf("highWater=%d want %d", r.e.highWater, len(got))
	}
}

func TestPublish_TruncatesAtCapacity(t *testing.T) {
	r := newRig(t)
	r.buf = newBuffer(10)
	r.e.buf = r.buf

	r.e.publish(codec.Decode(make([]byte, 8), testMap()))

	if got := string(r.buf.bytes()); got != `{"level":0` {
		t.Fatalf("region=%q", got)
	}
	if r.e.highWater != 10 {
		t.Fatalf("highWater=%d", r.e.highWater)
	}
}

func TestEngine_TransientRetriesWithoutDisconnect(t *testing.T) {
	r := newRig(t)
	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}

	busy := 3
	r.tr.Fault = func(op string) error {
		if op == "read" && busy > 0 {
			busy--
			return errors.New("CPU : Job pending")
		}
		return nil
	}

	r.e.Start(time.Millisecond)
	waitFor(t, "publish after busy", func() bool { return r.e.Status().Publishes == 1 })
	if err := r.e.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}

	st := r.e.Status()
	if st.TransientRetries != 3 {
		t.Fatalf("TransientRetries=%d", st.TransientRetries)
	}
	if r.tr.Disconnects != 0 || r.tr.Connects != 1 {
		t.Fatalf("connection touched: connects=%d disconnects=%d", r.tr.Connects, r.tr.Disconnects)
	}
}

func TestEngine_ConnectionLossReconnectsOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newRig(t, WithLogger(zap.New(core)))
	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}

	lost := 1
	r.tr.Fault = func(op string) error {
		if op == "read" && lost > 0 {
			lost--
			return errors.New("read tcp 10.0.0.5:102: connection reset by peer")
		}
		return nil
	}

	r.e.Start(time.Millisecond)
	waitFor(t, "publish after reconnect", func() bool { return r.e.Status().Publishes == 1 })
	if err := r.e.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}

	if r.tr.Disconnects != 1 {
		t.Fatalf("expected 1 disconnect, got %d", r.tr.Disconnects)
	}
	if r.tr.Connects != 2 {
		t.Fatalf("expected initial connect + 1 reconnect, got %d", r.tr.Connects)
	}
	if st := r.e.Status(); st.Reconnects != 1 {
		t.Fatalf("Reconnects=%d", st.Reconnects)
	}
	if logs.FilterMessage("reconnected").Len() != 1 {
		t.Fatalf("expected one reconnected log entry")
	}
}

func TestEngine_FailedReconnectKeepsPolling(t *testing.T) {
	r := newRig(t)
	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}

	down := true
	var mu sync.Mutex
	r.tr.Fault = func(op string) error {
		mu.Lock()
		defer mu.Unlock()
		if down && (op == "read" || op == "connect") {
			return errors.New("no route to host")
		}
		return nil
	}

	r.e.Start(time.Millisecond)
	waitFor(t, "several reconnects", func() bool { return r.e.Status().Reconnects >= 3 })

	mu.Lock()
	down = false
	mu.Unlock()

	waitFor(t, "recovery", func() bool { return r.e.Status().Publishes == 1 })
	if err := r.e.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}
	if st := r.e.Status(); st.LastError != "" {
		t.Fatalf("LastError not cleared: %q", st.LastError)
	}
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	r := newRig(t)
	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}

	r.e.Start(time.Millisecond)
	first := r.e.done
	r.e.Start(time.Millisecond)
	if r.e.done != first {
		t.Fatalf("second Start launched another loop")
	}

	if err := r.e.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}
	if err := r.e.Stop(); err != nil {
		t.Fatalf("second Stop err=%v", err)
	}
	if r.e.Running() {
		t.Fatalf("still running")
	}
}

func TestEngine_EmptyMapDoesNotStart(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	s, _ := transport.NewSession(memory.New(), transport.Endpoint{Address: "sim"}, nil)
	e, err := New(Config{}, s, layout.NewBuilder().Build(), newBuffer(8), WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("New err=%v", err)
	}

	e.Start(0)
	if e.Running() {
		t.Fatalf("engine started with empty map")
	}
	if logs.FilterMessage("layout map is empty, polling not started").Len() != 1 {
		t.Fatalf("expected warning")
	}
}

func TestEngine_StopTimeout(t *testing.T) {
	r := newRig(t)
	r.e.cfg.StopTimeout = 10 * time.Millisecond
	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	r.tr.Fault = func(op string) error {
		if op == "read" {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}

	r.e.Start(time.Millisecond)
	<-entered

	if err := r.e.Stop(); !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	close(release)

	select {
	case <-r.e.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not exit after release")
	}
}

func TestEngine_StartRefusedWhileOldLoopBusy(t *testing.T) {
	r := newRig(t)
	r.e.cfg.StopTimeout = 10 * time.Millisecond
	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	r.tr.Fault = func(op string) error {
		if op == "read" {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}

	r.e.Start(time.Millisecond)
	<-entered
	if err := r.e.Stop(); !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}

	old := r.e.done
	r.e.Start(time.Millisecond)
	if r.e.Running() || r.e.done != old {
		t.Fatalf("second loop launched while the first is still in a read")
	}

	close(release)
	select {
	case <-old:
	case <-time.After(2 * time.Second):
		t.Fatalf("old loop did not exit after release")
	}

	r.e.Start(time.Millisecond)
	if !r.e.Running() || r.e.done == old {
		t.Fatalf("Start after the old loop returned did not launch")
	}
	if err := r.e.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}
}

// flakyBuffer fails the first fail writes.
type flakyBuffer struct {
	*memBuffer
	fail atomic.Int32
}

func (f *flakyBuffer) WriteAt(p []byte, off int64) (int, error) {
	if f.fail.Add(-1) >= 0 {
		return 0, errors.New("region gone")
	}
	return f.memBuffer.WriteAt(p, off)
}

func TestEngine_FailedPublishRetriedNextCycle(t *testing.T) {
	r := newRig(t)
	fb := &flakyBuffer{memBuffer: r.buf}
	fb.fail.Store(2)
	r.e.buf = fb

	r.tr.Poke(testBlock, 0, []byte{0x00, 0x05})
	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}

	r.e.Start(time.Millisecond)
	waitFor(t, "publish after region recovers", func() bool { return r.e.Status().Publishes == 1 })
	if err := r.e.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}

	if got := payload(r.buf.bytes()); got != `{"level":5,"run":false,"count":0}` {
		t.Fatalf("region=%s", got)
	}
}

func TestPublish_ReportsWriteFailure(t *testing.T) {
	r := newRig(t)
	fb := &flakyBuffer{memBuffer: r.buf}
	fb.fail.Store(1)
	r.e.buf = fb

	snap := codec.Decode(make([]byte, 8), testMap())
	if r.e.publish(snap) {
		t.Fatalf("publish reported success on a failed write")
	}
	if r.e.Status().Publishes != 0 {
		t.Fatalf("failed publish counted")
	}
	if !r.e.publish(snap) {
		t.Fatalf("second publish failed")
	}
}

// serialTransport fails the test's check when two calls overlap.
type serialTransport struct {
	transport.Transport
	inFlight atomic.Int32
	overlap  atomic.Int32
	calls    atomic.Int32
}

func (s *serialTransport) enter() func() {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Add(1)
	}
	s.calls.Add(1)
	time.Sleep(20 * time.Microsecond)
	return func() { s.inFlight.Add(-1) }
}

func (s *serialTransport) ReadBlock(block, start, length int) ([]byte, error) {
	defer s.enter()()
	return s.Transport.ReadBlock(block, start, length)
}

func (s *serialTransport) WriteBlock(block, start int, data []byte) error {
	defer s.enter()()
	return s.Transport.WriteBlock(block, start, data)
}

func (s *serialTransport) Connect(address string, rack, slot int) error {
	defer s.enter()()
	return s.Transport.Connect(address, rack, slot)
}

func (s *serialTransport) Disconnect() error {
	defer s.enter()()
	return s.Transport.Disconnect()
}

func TestEngine_WritersNeverOverlapPolling(t *testing.T) {
	mem := memory.New()
	mem.Define(testBlock, 8)
	tr := &serialTransport{Transport: mem}

	s, err := transport.NewSession(tr, transport.Endpoint{Address: "sim", Slot: 1, Block: testBlock}, nil)
	if err != nil {
		t.Fatalf("NewSession err=%v", err)
	}
	m := testMap()

	e, err := New(Config{Backoff: time.Millisecond}, s, m, newBuffer(64), WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	if err := e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	e.Start(time.Millisecond)
	waitFor(t, "first cycle", func() bool { return e.Status().Cycles >= 1 })

	w := writer.New(s, m, zap.NewNop())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if !w.Write(codec.Changes{"count": g*100 + i}) {
					t.Errorf("writer %d write %d failed", g, i)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}
	if n := tr.overlap.Load(); n != 0 {
		t.Fatalf("%d transport calls overlapped another in flight (of %d)", n, tr.calls.Load())
	}
}

func TestEngine_ConnectFailure(t *testing.T) {
	r := newRig(t)
	r.tr.Fault = func(op string) error {
		if op == "connect" {
			return errors.New("connection refused")
		}
		return nil
	}

	if err := r.e.Connect(); err == nil {
		t.Fatalf("expected connect error")
	}
	if r.e.LastConnectError() == nil {
		t.Fatalf("LastConnectError should be set")
	}
	if r.e.State() != Disconnected {
		t.Fatalf("state=%v", r.e.State())
	}
	if st := r.e.Status(); st.Health.String() != "error" {
		t.Fatalf("health=%v", st.Health)
	}
}

type closingBuffer struct {
	*memBuffer
	closed, unlinked bool
}

func (c *closingBuffer) Close() error  { c.closed = true; return nil }
func (c *closingBuffer) Unlink() error { c.unlinked = true; return nil }

func TestEngine_CloseReleasesEverything(t *testing.T) {
	r := newRig(t)
	cb := &closingBuffer{memBuffer: r.buf}
	r.e.buf = cb

	if err := r.e.Connect(); err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	r.e.Start(time.Millisecond)

	if err := r.e.Close(); err != nil {
		t.Fatalf("Close err=%v", err)
	}
	if !cb.closed || !cb.unlinked {
		t.Fatalf("region not released: closed=%v unlinked=%v", cb.closed, cb.unlinked)
	}
	if r.tr.Connected() {
		t.Fatalf("transport still connected")
	}
}
