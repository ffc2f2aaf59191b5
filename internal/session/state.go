package session

import "fmt"

// State is the connection lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Scanning
	Found
	Connecting
	Connected
	Disconnecting
	Disconnected
	// Failed is terminal. Session.Failure reports why: ErrNotFound, ErrConnect or ErrLinkLost.
	Failed
)

var stateNames = [...]string{
	Idle:          "idle",
	Scanning:      "scanning",
	Found:         "found",
	Connecting:    "connecting",
	Connected:     "connected",
	Disconnecting: "disconnecting",
	Disconnected:  "disconnected",
	Failed:        "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Disconnected || s == Failed
}

// transitions lists the allowed successors of each state. A requested disconnect
// aborts an attempt in progress, which is why the pre-connected states may reach Disconnected.
var transitions = map[State][]State{
	Idle:          {Scanning, Disconnected},
	Scanning:      {Found, Failed, Disconnected},
	Found:         {Connecting, Disconnected},
	Connecting:    {Connected, Failed, Disconnected},
	Connected:     {Disconnecting, Failed},
	Disconnecting: {Disconnected},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}
