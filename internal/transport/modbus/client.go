// internal/transport/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/transport"
)

// Protocol limits per request (Modbus application protocol v1.1b3).
const (
	maxReadRegisters  = 125
	maxWriteRegisters = 123
)

// Client implements transport.Transport against a Modbus/TCP gateway
// that exposes each Data Block as the holding registers of one unit:
//
//	block number -> unit (slave) id
//	byte offset  -> register address * 2, big-endian per register
//
// Offsets and lengths must therefore be even.
// It serializes requests because it mutates SlaveId per block.
type Client struct {
	mu        sync.Mutex
	timeout   time.Duration
	handler   *modbus.TCPClientHandler
	client    registers
	unit      func(id byte)
	connected bool
}

// registers is the subset of modbus.Client the block mapping needs.
type registers interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type Config struct {
	Timeout time.Duration
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Client{timeout: cfg.Timeout}
}

// ---- transport.Transport ----

// Connect dials the gateway. Rack and slot have no Modbus meaning.
func (c *Client) Connect(address string, rack, slot int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if address == "" {
		return errors.New("modbus transport: address required")
	}
	if c.handler != nil {
		_ = c.handler.Close()
	}

	h := modbus.NewTCPClientHandler(address)
	h.Timeout = c.timeout

	if err := h.Connect(); err != nil {
		c.handler, c.client, c.unit, c.connected = nil, nil, nil, false
		return err
	}

	c.handler = h
	c.client = modbus.NewClient(h)
	c.unit = func(id byte) { h.SlaveId = id }
	c.connected = true

	transport.Logger().Debug("modbus connected", zap.String("address", address))
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	c.client, c.unit = nil, nil
	if c.handler == nil {
		return nil
	}
	err := c.handler.Close()
	c.handler = nil
	return err
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) ReadBlock(block, start, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLocked(block, start, length); err != nil {
		return nil, err
	}
	c.unit(byte(block))

	out := make([]byte, 0, length)
	addr := start / 2
	remaining := length / 2

	for remaining > 0 {
		qty := remaining
		if qty > maxReadRegisters {
			qty = maxReadRegisters
		}
		res, err := c.client.ReadHoldingRegisters(uint16(addr), uint16(qty))
		if err != nil {
			return nil, err
		}
		if len(res) != qty*2 {
			return nil, fmt.Errorf("modbus transport: short register read: got=%d want=%d bytes", len(res), qty*2)
		}
		out = append(out, res...)
		addr += qty
		remaining -= qty
	}
	return out, nil
}

func (c *Client) WriteBlock(block, start int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLocked(block, start, len(data)); err != nil {
		return err
	}
	c.unit(byte(block))

	addr := start / 2
	for off := 0; off < len(data); {
		qty := (len(data) - off) / 2
		if qty > maxWriteRegisters {
			qty = maxWriteRegisters
		}
		chunk := data[off : off+qty*2]
		if _, err := c.client.WriteMultipleRegisters(uint16(addr), uint16(qty), chunk); err != nil {
			return err
		}
		addr += qty
		off += qty * 2
	}
	return nil
}

func (c *Client) checkLocked(block, start, length int) error {
	if !c.connected || c.client == nil {
		return errors.New("modbus transport: not connected")
	}
	if block < 0 || block > 255 {
		return fmt.Errorf("modbus transport: block %d does not map to a unit id", block)
	}
	if start < 0 || start%2 != 0 || length%2 != 0 {
		return fmt.Errorf("modbus transport: offset %d / length %d not register aligned", start, length)
	}
	if (start+length)/2 > 0x10000 {
		return fmt.Errorf("modbus transport: range %d+%d beyond register space", start, length)
	}
	return nil
}
