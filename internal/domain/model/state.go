package model

// ConnState is the transport connection lifecycle state. The transport client
// is the sole owner and mutator; other components only observe it.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	// StateDegraded is terminal for a connect lifecycle: the reconnect budget
	// is exhausted and no further attempts will be scheduled.
	StateDegraded
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}
