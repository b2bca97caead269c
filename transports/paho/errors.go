package paho

import "errors"

// Sentinel errors for transport operations. Callers match them with
// errors.Is; operation failures wrap the underlying paho error.
var (
	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("paho: client not connected")

	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("paho: transport closed")

	// ErrConnectFailed is returned when the broker connection cannot be established.
	ErrConnectFailed = errors.New("paho: connect failed")

	// ErrPublishFailed is returned when a publish is not acknowledged.
	ErrPublishFailed = errors.New("paho: publish failed")

	// ErrSubscribeFailed is returned when a subscribe is not acknowledged.
	ErrSubscribeFailed = errors.New("paho: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe is not acknowledged.
	ErrUnsubscribeFailed = errors.New("paho: unsubscribe failed")

	// ErrTimeout is returned when a broker acknowledgment does not arrive
	// within the configured connect timeout.
	ErrTimeout = errors.New("paho: operation timed out")

	// ErrNilHandler is returned when Subscribe is called without a handler.
	ErrNilHandler = errors.New("paho: message handler cannot be nil")
)
