// internal/engine/state.go
package engine

// State is the engine lifecycle position.
//
//	Disconnected -> Connected -> Polling
//	Polling -> Reconnecting -> Polling
//	Polling -> Stopped
type State int32

const (
	Disconnected State = iota
	Connected
	Polling
	Reconnecting
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Polling:
		return "polling"
	case Reconnecting:
		return "reconnecting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
