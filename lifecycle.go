package fsmcp

// LifecycleState is the protocol engine's position in the session.
type LifecycleState int32

const (
	// StateUninitialized: constructed, no message handled yet.
	StateUninitialized LifecycleState = iota
	// StateInitializing: initialize answered, waiting for the initialized notification.
	StateInitializing
	// StateReady: handshake complete.
	StateReady
	// StateShuttingDown: end of input, transport failure or signal; hooks are running.
	StateShuttingDown
	// StateStopped is terminal.
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
