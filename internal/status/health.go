// internal/status/health.go
package status

// ---- HEALTH CODES ----

// Health summarizes the link to the controller in one code.
// Values are stable; dashboards compare them numerically.
type Health uint16

const (
	HealthUnknown  Health = 0 // boot, nothing attempted yet
	HealthOK       Health = 1
	HealthError    Health = 2 // last cycle failed
	HealthStale    Health = 3 // connected, but no successful read recently
	HealthDisabled Health = 4 // stopped
)

func (h Health) String() string {
	switch h {
	case HealthUnknown:
		return "unknown"
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStale:
		return "stale"
	case HealthDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}

// MaxSecondsInError caps the error timer; it never wraps.
const MaxSecondsInError = 65535
