package contracts

import "time"

// ConnectionState is the manager-tracked lifecycle state of the single
// broker connection. Transitions are driven by transport events only.
type ConnectionState int

const (
	// StateDisconnected means no live connection exists.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a connection attempt is in flight.
	StateConnecting
	// StateConnected means the transport reported an established connection.
	StateConnected
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Event identifies a transport lifecycle event.
type Event int

const (
	// EventConnected fires when the transport establishes (or re-establishes) the connection.
	EventConnected Event = iota
	// EventDisconnected fires when an established connection closes.
	EventDisconnected
	// EventReconnecting fires when the transport begins a reconnection attempt.
	EventReconnecting
	// EventOffline fires when the transport gives up reconnecting (broker unreachable).
	EventOffline
	// EventError reports a transport-level error; it does not imply a state change.
	EventError
)

// String returns the lowercase event name.
func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventOffline:
		return "offline"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StateChange is a typed lifecycle notification. Err is set for
// EventDisconnected (the close reason, when known) and EventError; Attempt
// is set for EventReconnecting.
type StateChange struct {
	Event     Event
	Err       error
	Attempt   int
	Timestamp time.Time
}

// NewStateChange creates a timestamped notification for an event.
func NewStateChange(event Event) StateChange {
	return StateChange{Event: event, Timestamp: time.Now().UTC()}
}
