// internal/status/snapshot.go
package status

import (
	"encoding/json"
	"time"
)

// Snapshot is a point-in-time view of the synchronization engine.
// It contains no logic.
type Snapshot struct {
	State  string `json:"state"`
	Health Health `json:"health"`

	Cycles           uint64 `json:"cycles"`
	Publishes        uint64 `json:"publishes"`
	TransientRetries uint64 `json:"transient_retries"`
	Reconnects       uint64 `json:"reconnects"`

	LastError      string    `json:"last_error,omitempty"`
	SecondsInError uint16    `json:"seconds_in_error"`
	LastPublish    time.Time `json:"last_publish,omitzero"`
}

// Encode renders the snapshot for the status topic and the feed.
// No IO. No side effects.
func Encode(s Snapshot) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		// Only plain fields; Marshal cannot fail.
		return []byte("{}")
	}
	return b
}
