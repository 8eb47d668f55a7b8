// cmd/dbsync/build.go
package main

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/config"
	"github.com/tamzrod/plc-db-sync/internal/layout"
	"github.com/tamzrod/plc-db-sync/internal/shm"
	"github.com/tamzrod/plc-db-sync/internal/transport"
	"github.com/tamzrod/plc-db-sync/internal/transport/memory"
	"github.com/tamzrod/plc-db-sync/internal/transport/modbus"
	"github.com/tamzrod/plc-db-sync/internal/transport/s7"
)

// buildTransport picks the adapter for the configured protocol.
// The sim transport gets one zeroed block sized to the layout.
func buildTransport(p config.PLCConfig, m *layout.Map) (transport.Transport, error) {
	switch p.Protocol {
	case config.ProtocolS7:
		return s7.New(s7.Config{Timeout: p.Timeout()}), nil
	case config.ProtocolModbus:
		return modbus.New(modbus.Config{Timeout: p.Timeout()}), nil
	case config.ProtocolSim:
		tr := memory.New()
		tr.Define(p.DB, m.Length)
		return tr, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", p.Protocol)
	}
}

// buildSession wires the transport, endpoint and busy classifier.
func buildSession(d config.DBSyncConfig, tr transport.Transport) (*transport.Session, error) {
	cls, err := transport.NewClassifier(d.BusyPattern)
	if err != nil {
		return nil, err
	}
	return transport.NewSession(tr, transport.Endpoint{
		Address: d.PLC.Address,
		Rack:    d.PLC.Rack,
		Slot:    *d.PLC.Slot,
		Block:   d.PLC.DB,
	}, cls)
}

// createRegion creates the shared region. A region left behind by a
// previous run that did not clean up is replaced.
func createRegion(c config.SHMConfig, log *zap.Logger) (*shm.Region, error) {
	r, err := shm.Create(c.Name, c.Size)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, err
	}

	log.Warn("stale shared region found, replacing", zap.String("name", c.Name))
	if err := shm.Remove(c.Name); err != nil {
		return nil, err
	}
	return shm.Create(c.Name, c.Size)
}

// releaseRegion closes and unlinks a region this process created.
func releaseRegion(r *shm.Region) error {
	return multierr.Append(r.Close(), r.Unlink())
}
