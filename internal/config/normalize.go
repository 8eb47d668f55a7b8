// internal/config/normalize.go
package config

import "github.com/tamzrod/plc-db-sync/internal/transport"

// Defaults applied by Normalize.
const (
	DefaultSlot          = 1
	DefaultTimeoutMs     = 1000
	DefaultCycleMs       = 20
	DefaultBackoffMs     = 20
	DefaultStopTimeoutMs = 2000
	DefaultSHMName       = "plc_shared_data"
	DefaultSHMSize       = 2048
	DefaultLogLevel      = "info"
	DefaultClientID      = "dbsync"
	DefaultRetention     = "24h"
	DefaultPruneCron     = "*/15 * * * *"
	SimAddress           = "sim"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	d := &cfg.DBSync

	// ------------------------------------------------------------
	// PLC
	// ------------------------------------------------------------

	if d.PLC.Protocol == "" {
		d.PLC.Protocol = ProtocolS7
	}
	if d.PLC.Protocol == ProtocolSim && d.PLC.Address == "" {
		d.PLC.Address = SimAddress
	}
	if d.PLC.Slot == nil {
		slot := DefaultSlot
		d.PLC.Slot = &slot
	}
	if d.PLC.TimeoutMs == 0 {
		d.PLC.TimeoutMs = DefaultTimeoutMs
	}

	// ------------------------------------------------------------
	// TIMING
	// ------------------------------------------------------------

	if d.CycleMs == 0 {
		d.CycleMs = DefaultCycleMs
	}
	if d.BackoffMs == 0 {
		d.BackoffMs = DefaultBackoffMs
	}
	if d.StopTimeoutMs == 0 {
		d.StopTimeoutMs = DefaultStopTimeoutMs
	}
	if d.BusyPattern == "" {
		d.BusyPattern = transport.DefaultBusyPattern
	}

	// ------------------------------------------------------------
	// SHARED REGION + LOGGING
	// ------------------------------------------------------------

	if d.SHM.Name == "" {
		d.SHM.Name = DefaultSHMName
	}
	if d.SHM.Size == 0 {
		d.SHM.Size = DefaultSHMSize
	}
	if d.Log.Level == "" {
		d.Log.Level = DefaultLogLevel
	}

	// ------------------------------------------------------------
	// OPTIONAL SURFACES
	// ------------------------------------------------------------

	if m := d.MQTT; m != nil {
		if m.ClientID == "" {
			m.ClientID = DefaultClientID
		}
		if m.Retain == nil {
			retain := true
			m.Retain = &retain
		}
	}

	if a := d.Archive; a != nil {
		if a.Retention == "" {
			a.Retention = DefaultRetention
		}
		if a.PruneCron == "" {
			a.PruneCron = DefaultPruneCron
		}
	}
}
