package mio

// ObjectState is the object-wide state derived from the states its layers
// individually report, per spec.md §4.3's state machine:
//
//	INIT → CONNECTING → CONNECTED → DISCONNECTING → DISCONNECTED
//	                               ↘ ERROR
//	LISTENING (server listeners) is a terminal-ish state reached from INIT.
type ObjectState int32

const (
	StateInit ObjectState = iota
	StateListening
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
	StateError
)

func (s ObjectState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateListening:
		return "LISTENING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// stateRank gives the total order used by AggregateState: the object's
// reported state is the lowest-ranked state across all its layers, so a
// layer still negotiating (e.g. a TLS handshake mid-flight) holds the
// whole object at its own rank even if layers beneath it have already
// reached CONNECTED.
func stateRank(s ObjectState) int {
	switch s {
	case StateInit:
		return 0
	case StateListening, StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateDisconnecting:
		return 3
	case StateDisconnected, StateError:
		return 4
	default:
		return 4
	}
}

// AggregateState computes the object-wide state as the lowest-ranked state
// among per-layer states. An object with no layers reporting state (none
// implement Stater) is StateInit.
func AggregateState(layerStates []ObjectState) ObjectState {
	if len(layerStates) == 0 {
		return StateInit
	}
	lowest := layerStates[0]
	lowestRank := stateRank(lowest)
	for _, s := range layerStates[1:] {
		if r := stateRank(s); r < lowestRank {
			lowest, lowestRank = s, r
		}
	}
	return lowest
}
