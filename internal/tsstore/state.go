package tsstore

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type stateTransition struct {
	from State
	to   State
}

// validTransitions lists every allowed edge. Terminated is reachable from
// any state and handled separately in canTransition.
var validTransitions = map[stateTransition]bool{
	{StateDisconnected, StateConnecting}: true,

	{StateConnecting, StateAuthenticating}: true,
	{StateConnecting, StateFailed}:         true,

	{StateAuthenticating, StateReady}:  true,
	{StateAuthenticating, StateFailed}: true,

	{StateReady, StateReady}:  true,
	{StateReady, StateFailed}: true,

	{StateFailed, StateDisconnected}: true,
}

func canTransition(from, to State) bool {
	if from == StateTerminated {
		return false
	}
	if to == StateTerminated {
		return true
	}
	return validTransitions[stateTransition{from: from, to: to}]
}
