package client

// State is the lifecycle stage of a Conn. A Conn only moves forward
// through the states; StateClosed is final.
type State uint8

const (
	StateDisconnected State = iota // Connect not called yet
	StateConnecting                // dialing or handshaking
	StateConnected
	StateClosing
	StateClosed
)

var stateNames = [...]string{
	StateDisconnected: "DISCONNECTED",
	StateConnecting:   "CONNECTING",
	StateConnected:    "CONNECTED",
	StateClosing:      "CLOSING",
	StateClosed:       "CLOSED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// StateChange is delivered to state observers. Err is the cause of an
// unrequested teardown.
type StateChange struct {
	Old State
	New State
	Err error
}
