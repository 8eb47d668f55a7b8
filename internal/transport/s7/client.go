// internal/transport/s7/client.go
package s7

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robinson/gos7"
	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/transport"
)

// maxPDUPayload bounds one DB request. The negotiated PDU is at least
// 240 bytes; 222 leaves room for the S7 headers.
const maxPDUPayload = 222

type Config struct {
	Timeout     time.Duration
	IdleTimeout time.Duration
}

// Client implements transport.Transport over ISO-on-TCP (S7comm).
type Client struct {
	mu      sync.Mutex
	cfg     Config
	handler *gos7.TCPClientHandler
	client  gos7.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	return &Client{cfg: cfg}
}

func (c *Client) Connect(address string, rack, slot int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if address == "" {
		return errors.New("s7 transport: address required")
	}
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler, c.client = nil, nil
	}

	h := gos7.NewTCPClientHandler(address, rack, slot)
	h.Timeout = c.cfg.Timeout
	h.IdleTimeout = c.cfg.IdleTimeout

	if err := h.Connect(); err != nil {
		return err
	}

	c.handler = h
	c.client = gos7.NewClient(h)

	transport.Logger().Debug("s7 connected",
		zap.String("address", address),
		zap.Int("rack", rack),
		zap.Int("slot", slot),
	)
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler == nil {
		return nil
	}
	err := c.handler.Close()
	c.handler, c.client = nil, nil
	return err
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

func (c *Client) ReadBlock(block, start, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, errors.New("s7 transport: not connected")
	}
	if start < 0 || length < 0 {
		return nil, fmt.Errorf("s7 transport: invalid range %d+%d", start, length)
	}

	buf := make([]byte, length)
	for off := 0; off < length; off += maxPDUPayload {
		n := length - off
		if n > maxPDUPayload {
			n = maxPDUPayload
		}
		if err := c.client.AGReadDB(block, start+off, n, buf[off:off+n]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (c *Client) WriteBlock(block, start int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return errors.New("s7 transport: not connected")
	}
	if start < 0 {
		return fmt.Errorf("s7 transport: invalid offset %d", start)
	}

	for off := 0; off < len(data); off += maxPDUPayload {
		n := len(data) - off
		if n > maxPDUPayload {
			n = maxPDUPayload
		}
		if err := c.client.AGWriteDB(block, start+off, n, data[off:off+n]); err != nil {
			return err
		}
	}
	return nil
}
