// internal/config/validate.go
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap/zapcore"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	d := cfg.DBSync

	// ------------------------------------------------------------
	// PLC
	// ------------------------------------------------------------

	switch d.PLC.Protocol {
	case "", ProtocolS7, ProtocolModbus, ProtocolSim:
	default:
		return fmt.Errorf("plc: unknown protocol %q (want s7, modbus or sim)", d.PLC.Protocol)
	}

	if d.PLC.Address == "" && d.PLC.Protocol != ProtocolSim {
		return fmt.Errorf("plc: address required")
	}
	if d.PLC.Rack < 0 || d.PLC.Rack > 7 {
		return fmt.Errorf("plc: rack %d out of range 0-7", d.PLC.Rack)
	}
	if d.PLC.Slot != nil && (*d.PLC.Slot < 0 || *d.PLC.Slot > 31) {
		return fmt.Errorf("plc: slot %d out of range 0-31", *d.PLC.Slot)
	}
	if d.PLC.DB < 0 || d.PLC.DB > 65535 {
		return fmt.Errorf("plc: db %d out of range", d.PLC.DB)
	}
	if d.PLC.Protocol == ProtocolModbus && d.PLC.DB > 255 {
		return fmt.Errorf("plc: db %d cannot be a modbus unit id (0-255)", d.PLC.DB)
	}
	if d.PLC.TimeoutMs < 0 {
		return fmt.Errorf("plc: timeout_ms must be >= 0")
	}

	// ------------------------------------------------------------
	// BLUEPRINT + TIMING
	// ------------------------------------------------------------

	if strings.TrimSpace(d.Blueprint) == "" {
		return fmt.Errorf("blueprint: path required")
	}
	if d.CycleMs < 0 || d.BackoffMs < 0 || d.StopTimeoutMs < 0 {
		return fmt.Errorf("timing: cycle_ms, backoff_ms and stop_timeout_ms must be >= 0")
	}
	if d.BusyPattern != "" {
		if _, err := regexp.Compile(d.BusyPattern); err != nil {
			return fmt.Errorf("busy_pattern: %w", err)
		}
	}

	// ------------------------------------------------------------
	// SHARED REGION
	// ------------------------------------------------------------

	if d.SHM.Name != "" && filepath.Base(d.SHM.Name) != d.SHM.Name {
		return fmt.Errorf("shm: name %q must not contain path separators", d.SHM.Name)
	}
	if d.SHM.Size < 0 {
		return fmt.Errorf("shm: size must be >= 0")
	}

	// ------------------------------------------------------------
	// LOGGING
	// ------------------------------------------------------------

	if d.Log.Level != "" {
		if _, err := zapcore.ParseLevel(d.Log.Level); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	// ------------------------------------------------------------
	// OPTIONAL SURFACES
	// ------------------------------------------------------------

	if m := d.MQTT; m != nil {
		if m.Broker == "" {
			return fmt.Errorf("mqtt: broker required")
		}
		if m.Topic == "" {
			return fmt.Errorf("mqtt: topic required")
		}
		if strings.ContainsAny(m.Topic, "+#") {
			return fmt.Errorf("mqtt: topic %q must not contain wildcards", m.Topic)
		}
		if m.WriteTopic != "" && m.WriteTopic == m.Topic {
			return fmt.Errorf("mqtt: write_topic must differ from topic")
		}
		if m.QoS > 2 {
			return fmt.Errorf("mqtt: qos %d out of range 0-2", m.QoS)
		}
	}

	if a := d.Archive; a != nil {
		if a.Path == "" {
			return fmt.Errorf("archive: path required")
		}
		if a.Retention != "" {
			r, err := time.ParseDuration(a.Retention)
			if err != nil {
				return fmt.Errorf("archive: retention: %w", err)
			}
			if r <= 0 {
				return fmt.Errorf("archive: retention must be > 0")
			}
		}
		if a.PruneCron != "" {
			if _, err := cronexpr.Parse(a.PruneCron); err != nil {
				return fmt.Errorf("archive: prune_cron: %w", err)
			}
		}
	}

	if f := d.Feed; f != nil && f.Listen == "" {
		return fmt.Errorf("feed: listen address required")
	}

	return nil
}
