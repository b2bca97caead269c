package messaging

import (
	"context"
	"time"

	"github.com/glimte/mqmate-go/contracts"
)

// Transport is the capability interface over a broker connection. The
// connection manager and delivery queue treat the broker as opaque: anything
// that can connect, send, subscribe and report state changes can back them.
type Transport interface {
	// Connect establishes the broker connection, blocking until the
	// connection is up or the context expires
	Connect(ctx context.Context) error

	// Send delivers one message, blocking until the broker acknowledges it
	// or reports failure
	Send(ctx context.Context, msg contracts.Message) error

	// Subscribe registers a handler for the given subscriptions and returns
	// the grants negotiated with the broker
	Subscribe(ctx context.Context, handler MessageHandler, subscriptions ...contracts.Subscription) ([]contracts.Grant, error)

	// Unsubscribe removes subscriptions by topic filter
	Unsubscribe(ctx context.Context, filters ...string) error

	// OnStateChange registers the single callback that receives connection
	// lifecycle events. The connection manager owns this registration.
	OnStateChange(fn func(contracts.StateChange))

	// Connected reports whether the underlying connection is currently live
	Connected() bool

	// Close tears down the connection and releases resources
	Close() error
}

// MessageHandler consumes one inbound message delivery
type MessageHandler func(topic string, payload []byte)

// StateListener observes connection lifecycle events. Listeners are invoked
// on their own goroutines, so implementations must be safe for concurrent use
// and must not assume ordering across events.
type StateListener interface {
	OnStateChange(change contracts.StateChange)
}

// StateListenerFunc adapts a function to StateListener. Function values are
// not comparable, so a listener registered through this adapter cannot be
// removed with RemoveStateListener.
type StateListenerFunc func(change contracts.StateChange)

// OnStateChange implements StateListener
func (f StateListenerFunc) OnStateChange(change contracts.StateChange) {
	f(change)
}

// ReadyChecker reports whether a direct send is possible right now. The
// ConnectionManager is the canonical implementation.
type ReadyChecker interface {
	IsReady() bool
}

// RetryPolicy decides whether a failed delivery is attempted again and how
// long to wait first. attempt is the zero-based index of the attempt that
// just failed. The policies in internal/reliability satisfy this interface.
type RetryPolicy interface {
	// ShouldRetry determines if a retry should be attempted
	ShouldRetry(attempt int, err error) (bool, time.Duration)

	// MaxRetries returns the maximum number of retries
	MaxRetries() int

	// NextDelay calculates the next retry delay
	NextDelay(attempt int) time.Duration
}

// MetricsCollector collects delivery metrics
type MetricsCollector interface {
	// RecordPublish records the latency and outcome of one delivery attempt
	RecordPublish(topic string, duration time.Duration, success bool)

	// RecordEnqueue records a message entering the pending queue
	RecordEnqueue(topic string, depth int)

	// RecordRetry records a scheduled retry
	RecordRetry(topic string, attempt int)

	// RecordDrop records a message abandoned after its final attempt
	RecordDrop(topic string, attempts int)

	// RecordSubscribe records a granted subscription
	RecordSubscribe(filter string)

	// RecordError records a component-level error
	RecordError(component string, err error)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordPublish does nothing
func (n *NoOpMetricsCollector) RecordPublish(topic string, duration time.Duration, success bool) {}

// RecordEnqueue does nothing
func (n *NoOpMetricsCollector) RecordEnqueue(topic string, depth int) {}

// RecordRetry does nothing
func (n *NoOpMetricsCollector) RecordRetry(topic string, attempt int) {}

// RecordDrop does nothing
func (n *NoOpMetricsCollector) RecordDrop(topic string, attempts int) {}

// RecordSubscribe does nothing
func (n *NoOpMetricsCollector) RecordSubscribe(filter string) {}

// RecordError does nothing
func (n *NoOpMetricsCollector) RecordError(component string, err error) {}

// QueueStats is a point-in-time snapshot of delivery queue counters
type QueueStats struct {
	// Depth is the number of messages currently pending
	Depth int

	// Enqueued counts messages that entered the queue since creation
	Enqueued uint64

	// Delivered counts successful transport sends, direct and queued
	Delivered uint64

	// Retried counts scheduled retry attempts
	Retried uint64

	// Dropped counts messages abandoned after their final attempt
	Dropped uint64
}
