package messaging

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotInitialized is returned when no transport exists yet or the
	// client has been closed
	ErrNotInitialized = errors.New("messaging: client not initialized")

	// ErrNotReady is returned by subscribe operations while the connection
	// is down; subscriptions are never queued
	ErrNotReady = errors.New("messaging: connection not ready")
)

// PublishError represents a transport send failure for a single message
type PublishError struct {
	Topic     string    // Destination topic
	MessageID string    // Message identifier
	Err       error     // Underlying transport error
	Timestamp time.Time // When the failure occurred
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("messaging: publish to %q failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError reports a message dropped after the retry ceiling.
// It is delivered through the message's Receipt, never synchronously.
type RetryExhaustedError struct {
	Topic     string // Destination topic
	MessageID string // Message identifier
	Attempts  int    // Total failed send attempts
	LastErr   error  // Error from the final attempt
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("messaging: delivery to %q abandoned after %d attempts: %v", e.Topic, e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}
