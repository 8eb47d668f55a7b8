// internal/transport/memory/memory.go
package memory

import (
	"errors"
	"fmt"
	"sync"
)

// Transport is an in-process controller holding Data Blocks in memory.
// It backs the "sim" protocol and the tests.
type Transport struct {
	mu        sync.Mutex
	blocks    map[int][]byte
	connected bool

	// Fault, when set, is consulted before every operation ("read",
	// "write", "connect", "disconnect"); a non-nil error fails it.
	Fault func(op string) error

	Reads       int
	Writes      int
	Connects    int
	Disconnects int
}

func New() *Transport {
	return &Transport{blocks: make(map[int][]byte)}
}

// Define creates (or resizes) a zeroed block.
func (t *Transport) Define(block, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocks[block] = make([]byte, size)
}

// Poke writes bytes directly, as the controller program would.
func (t *Transport) Poke(block, offset int, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	copy(t.blocks[block][offset:], data)
}

// Peek returns a copy of a block.
func (t *Transport) Peek(block int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.blocks[block]...)
}

func (t *Transport) fault(op string) error {
	if t.Fault == nil {
		return nil
	}
	return t.Fault(op)
}

// ---- transport.Transport ----

func (t *Transport) ReadBlock(block, start, length int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Reads++
	if err := t.fault("read"); err != nil {
		return nil, err
	}
	b, err := t.rangeLocked(block, start, length)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (t *Transport) WriteBlock(block, start int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Writes++
	if err := t.fault("write"); err != nil {
		return err
	}
	b, err := t.rangeLocked(block, start, len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (t *Transport) Connect(address string, rack, slot int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Connects++
	if err := t.fault("connect"); err != nil {
		t.connected = false
		return err
	}
	t.connected = true
	return nil
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Disconnects++
	t.connected = false
	return t.fault("disconnect")
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) rangeLocked(block, start, length int) ([]byte, error) {
	if !t.connected {
		return nil, errors.New("memory: not connected")
	}
	b, ok := t.blocks[block]
	if !ok {
		return nil, fmt.Errorf("memory: block %d not defined", block)
	}
	if start < 0 || length < 0 || start+length > len(b) {
		return nil, fmt.Errorf("memory: range %d+%d outside block %d (%d bytes)", start, length, block, len(b))
	}
	return b[start : start+length], nil
}
