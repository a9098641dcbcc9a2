package clusterc

import "sync/atomic"

// State is the lifecycle state of a Connection. A Connection holds
// exactly one State at a time and every transition is a guarded
// compare-and-swap: when several goroutines race to trigger the same
// transition, exactly one wins and the others observe a failed swap.
type State uint32

// The possible states of a Connection.
const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Disconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// connState is the atomic holder for a Connection's State. It may be
// read and swapped from any goroutine; the zero value is Disconnected.
type connState struct {
	v atomic.Uint32
}

func (cs *connState) get() State {
	return State(cs.v.Load())
}

func (cs *connState) set(s State) {
	cs.v.Store(uint32(s))
}

// cas attempts the from→to transition and reports whether this call
// was the one that performed it.
func (cs *connState) cas(from, to State) bool {
	return cs.v.CompareAndSwap(uint32(from), uint32(to))
}
