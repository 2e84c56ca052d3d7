package session

// State is the broker connection state of a Supervisor.
type State int

// Connection states. Disconnected is terminal: a Supervisor is not reused
// after Shutdown.
const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateRenewing
	StateShuttingDown
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRenewing:
		return "renewing"
	case StateShuttingDown:
		return "shutting_down"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
