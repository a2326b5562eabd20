package session

// Status is the connection lifecycle state.
type Status string

// Session states.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// EventKind identifies a lifecycle event.
type EventKind int

// Lifecycle events.
const (
	EventDial        EventKind = iota // transport dial started
	EventOpened                       // transport open and capture started
	EventSetupFailed                  // audio context, microphone, output or capture failed
	EventClosed                       // transport closed
	EventDisconnect                   // local disconnect
)

var eventNames = [...]string{"dial", "opened", "setup_failed", "closed", "disconnect"}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is one input to the transition table. Intentional is fixed when the
// close is observed, not read back later.
type Event struct {
	Kind        EventKind
	Intentional bool
	Code        int // close code, EventClosed only
}

// Transition returns the next status for ev in from. ok is false when the
// event does not apply in that state, in which case next == from.
func Transition(from Status, ev Event) (next Status, ok bool) {
	switch ev.Kind {
	case EventDial:
		if from == StatusDisconnected || from == StatusError {
			return StatusConnecting, true
		}
	case EventOpened:
		if from == StatusConnecting {
			return StatusConnected, true
		}
	case EventSetupFailed:
		return StatusError, true
	case EventClosed:
		if from == StatusConnecting || from == StatusConnected {
			if ev.Intentional {
				return StatusDisconnected, true
			}
			// Any unsolicited close is fatal; reconnecting is the caller's call.
			return StatusError, true
		}
	case EventDisconnect:
		return StatusDisconnected, true
	}
	return from, false
}
