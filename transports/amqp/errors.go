package amqp

import (
	"errors"
	"net/url"
)

// Sentinel errors for transport operations. Callers match them with
// errors.Is; operation failures wrap the underlying amqp091 error.
var (
	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("amqp: transport not connected")

	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("amqp: transport closed")

	// ErrConnectFailed is returned when the broker connection cannot be established.
	ErrConnectFailed = errors.New("amqp: connect failed")

	// ErrConnectTimeout is returned when the dial does not complete in time.
	ErrConnectTimeout = errors.New("amqp: connection timed out")

	// ErrPublishFailed is returned when a publish cannot be handed to the broker.
	ErrPublishFailed = errors.New("amqp: publish failed")

	// ErrPublishNotConfirmed is returned when the broker nacks a confirmed publish.
	ErrPublishNotConfirmed = errors.New("amqp: publish not confirmed by broker")

	// ErrConfirmTimeout is returned when a publisher confirm does not arrive in time.
	ErrConfirmTimeout = errors.New("amqp: timeout waiting for publish confirmation")

	// ErrSubscribeFailed is returned when a subscription cannot be established.
	ErrSubscribeFailed = errors.New("amqp: subscribe failed")

	// ErrNilHandler is returned when Subscribe is called without a handler.
	ErrNilHandler = errors.New("amqp: message handler cannot be nil")
)

// sanitizeURL strips credentials from a broker URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
