package sandbox

// State is the session lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Running
	Closed
)

var stateNames = [...]string{"disconnected", "connecting", "connected", "running", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
