package transport

import "fmt"

// State is the connection lifecycle state of a single adapter.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
	StateExhausted
)

// Status is the structured connection status reported to observers. Attempt
// and Max are populated only while reconnecting. Display strings are rendered
// here and nowhere else.
type Status struct {
	State   State
	Attempt int
	Max     int
}

func (s Status) String() string {
	switch s.State {
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return fmt.Sprintf("Reconnecting... (%d/%d)", s.Attempt, s.Max)
	case StateError:
		return "Error"
	case StateExhausted:
		return "Disconnected (Max retries exceeded)"
	default:
		return "Disconnected"
	}
}
