// internal/transport/session.go
package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Endpoint identifies one Data Block on one controller.
type Endpoint struct {
	Address string
	Rack    int
	Slot    int
	Block   int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s rack=%d slot=%d db=%d", e.Address, e.Rack, e.Slot, e.Block)
}

// Block is the view of the Data Block handed to an exclusive sequence.
type Block interface {
	Read(start, length int) ([]byte, error)
	Write(start int, data []byte) error
}

// Session owns the transport handle and the one lock that serializes
// every transport call. Poller and writer both go through it.
type Session struct {
	mu  sync.Mutex
	tr  Transport
	ep  Endpoint
	cls *Classifier

	// RetryDelay is the pause before the second connect attempt.
	RetryDelay time.Duration

	lastConnectErr error
}

// NewSession wires a transport to an endpoint.
func NewSession(tr Transport, ep Endpoint, cls *Classifier) (*Session, error) {
	if tr == nil {
		return nil, errors.New("transport: nil transport")
	}
	if ep.Address == "" {
		return nil, errors.New("transport: address required")
	}
	if cls == nil {
		var err error
		if cls, err = NewClassifier(""); err != nil {
			return nil, err
		}
	}
	return &Session{
		tr:         tr,
		ep:         ep,
		cls:        cls,
		RetryDelay: time.Second,
	}, nil
}

// Endpoint returns the session target.
func (s *Session) Endpoint() Endpoint { return s.ep }

// Exclusive runs fn while holding the transport lock.
// The error fn returns is classified into a Result.
func (s *Session) Exclusive(fn func(Block) error) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cls.Classify(fn(blockIO{s}))
}

// Connect establishes the link, trying once more after RetryDelay when
// the first attempt fails. The last failure is kept for LastConnectError.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.connectLocked()
	if err == nil {
		return nil
	}

	Logger().Warn("connect failed, retrying once",
		zap.Stringer("endpoint", s.ep),
		zap.Error(err),
	)
	_ = s.tr.Disconnect()
	time.Sleep(s.RetryDelay)

	return s.connectLocked()
}

// Reconnect makes exactly one connect attempt. The polling loop owns
// the backoff around it.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connectLocked()
}

func (s *Session) connectLocked() error {
	err := s.tr.Connect(s.ep.Address, s.ep.Rack, s.ep.Slot)
	if err == nil && !s.tr.Connected() {
		err = fmt.Errorf("transport: connect to %s reported no connection", s.ep.Address)
	}
	s.lastConnectErr = err
	return err
}

// Disconnect drops the link. Errors are returned but callers in the
// polling path treat disconnect as best effort.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tr.Disconnect()
}

// Close disconnects when still connected. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tr.Connected() {
		return nil
	}
	return s.tr.Disconnect()
}

// Connected reports the transport's own view of the link.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tr.Connected()
}

// LastConnectError returns the error of the most recent connect attempt,
// nil when it succeeded.
func (s *Session) LastConnectError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastConnectErr
}

// blockIO binds the session's Data Block number. It is only valid
// inside Exclusive.
type blockIO struct {
	s *Session
}

// Read may return fewer bytes than asked; decoding tolerates short frames.
func (b blockIO) Read(start, length int) ([]byte, error) {
	return b.s.tr.ReadBlock(b.s.ep.Block, start, length)
}

func (b blockIO) Write(start int, data []byte) error {
	return b.s.tr.WriteBlock(b.s.ep.Block, start, data)
}
