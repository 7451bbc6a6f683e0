package hub

// State is the lifecycle state of the live connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	// Stopped is terminal: the supervisor was closed and accepts no new sessions.
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
