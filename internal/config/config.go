// internal/config/config.go
package config

import "time"

type Config struct {
	DBSync DBSyncConfig `yaml:"dbsync"`
}

type DBSyncConfig struct {
	PLC       PLCConfig `yaml:"plc"`
	Blueprint string    `yaml:"blueprint"`

	CycleMs       int    `yaml:"cycle_ms"`
	BackoffMs     int    `yaml:"backoff_ms"`
	StopTimeoutMs int    `yaml:"stop_timeout_ms"`
	BusyPattern   string `yaml:"busy_pattern"`

	SHM SHMConfig `yaml:"shm"`
	Log LogConfig `yaml:"log"`

	// Optional surfaces; nil = disabled.
	MQTT    *MQTTConfig    `yaml:"mqtt"`
	Archive *ArchiveConfig `yaml:"archive"`
	Feed    *FeedConfig    `yaml:"feed"`
}

// ---- PLC ----

// Protocols understood by the daemon.
const (
	ProtocolS7     = "s7"
	ProtocolModbus = "modbus"
	ProtocolSim    = "sim"
)

type PLCConfig struct {
	Protocol  string `yaml:"protocol"`
	Address   string `yaml:"address"`
	Rack      int    `yaml:"rack"`
	Slot      *int   `yaml:"slot"` // nil => 1
	DB        int    `yaml:"db"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- SHARED REGION ----

type SHMConfig struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size"`
}

// ---- LOGGING ----

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ---- SURFACES ----

type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	Topic      string `yaml:"topic"`
	WriteTopic string `yaml:"write_topic"`
	QoS        byte   `yaml:"qos"`
	Retain     *bool  `yaml:"retain"` // nil => true
}

type ArchiveConfig struct {
	Path      string `yaml:"path"`
	Retention string `yaml:"retention"`
	PruneCron string `yaml:"prune_cron"`
}

type FeedConfig struct {
	Listen string `yaml:"listen"`
}

// ---- DURATIONS ----
// Valid only after Normalize.

func (c DBSyncConfig) Cycle() time.Duration {
	return time.Duration(c.CycleMs) * time.Millisecond
}

func (c DBSyncConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

func (c DBSyncConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMs) * time.Millisecond
}

func (p PLCConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// RetentionPeriod parses Retention; Validate has already checked it.
func (a ArchiveConfig) RetentionPeriod() time.Duration {
	d, _ := time.ParseDuration(a.Retention)
	return d
}
