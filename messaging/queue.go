package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/glimte/mqmate-go/interceptors"
	"github.com/glimte/mqmate-go/internal/reliability"
)

// DeliveryQueue guarantees that every accepted publish eventually resolves:
// messages submitted while disconnected are queued and flushed when the
// connection returns, failed sends are retried with backoff up to a ceiling,
// and a message that exhausts its attempts resolves its Receipt with
// RetryExhaustedError.
//
// The queue is unbounded and memory-resident: nothing survives a process
// restart, and Close on the surrounding client leaves queued messages
// unresolved.
type DeliveryQueue struct {
	transport Transport
	ready     ReadyChecker
	policy    RetryPolicy
	logger    *slog.Logger
	metrics   MetricsCollector
	chain     *interceptors.Chain

	mu      sync.Mutex
	pending []*pendingMessage

	enqueued  uint64
	delivered uint64
	retried   uint64
	dropped   uint64
}

// pendingMessage pairs a queued message with its retry accounting and the
// receipt bound to the original publish call.
type pendingMessage struct {
	msg      contracts.Message
	receipt  *Receipt
	attempts int // transport send failures so far
	lastErr  error
}

// QueueOption configures the DeliveryQueue
type QueueOption func(*DeliveryQueue)

// WithQueueLogger sets the logger
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *DeliveryQueue) {
		q.logger = logger
	}
}

// WithRetryPolicy sets the retry policy applied to failed sends
func WithRetryPolicy(policy RetryPolicy) QueueOption {
	return func(q *DeliveryQueue) {
		q.policy = policy
	}
}

// WithQueueMetrics sets the metrics collector
func WithQueueMetrics(collector MetricsCollector) QueueOption {
	return func(q *DeliveryQueue) {
		q.metrics = collector
	}
}

// WithPublishInterceptors sets the interceptor chain every delivery attempt
// runs through
func WithPublishInterceptors(chain *interceptors.Chain) QueueOption {
	return func(q *DeliveryQueue) {
		q.chain = chain
	}
}

// NewDeliveryQueue creates a delivery queue in front of the given transport.
// The ready checker decides between direct sends and queuing; the
// ConnectionManager is the usual implementation. The default retry policy is
// linear backoff with a one second base and a ceiling of five retries.
func NewDeliveryQueue(transport Transport, ready ReadyChecker, options ...QueueOption) *DeliveryQueue {
	q := &DeliveryQueue{
		transport: transport,
		ready:     ready,
		policy:    reliability.NewLinearBackoff(time.Second, 5),
		logger:    slog.Default(),
		metrics:   &NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(q)
	}

	return q
}

// Publish attempts delivery of one message. While the connection is not
// ready the message is queued and the call succeeds immediately: queuing is
// acceptance for delivery, not delivery, and the returned Receipt carries the
// eventual outcome. While ready the send happens directly; if that direct
// send fails the message is queued for retry AND the failure is returned
// synchronously, so the caller sees the first error while the Receipt tracks
// the recovery attempt. The queued retry is scheduled after the policy's
// base delay rather than waiting for a reconnect.
func (q *DeliveryQueue) Publish(ctx context.Context, msg contracts.Message) (*Receipt, error) {
	if !q.ready.IsReady() {
		receipt := newReceipt(msg)
		depth := q.enqueue(&pendingMessage{msg: msg, receipt: receipt})

		q.logger.Debug("message queued while disconnected",
			"messageId", msg.ID,
			"topic", msg.Topic,
			"depth", depth)

		return receipt, nil
	}

	err := q.send(ctx, msg)
	if err == nil {
		q.mu.Lock()
		q.delivered++
		q.mu.Unlock()

		return newResolvedReceipt(msg), nil
	}

	pubErr := &PublishError{
		Topic:     msg.Topic,
		MessageID: msg.ID,
		Err:       err,
		Timestamp: time.Now(),
	}

	receipt := newReceipt(msg)
	depth := q.enqueue(&pendingMessage{msg: msg, receipt: receipt, lastErr: pubErr})

	q.logger.Warn("direct send failed, message queued for retry",
		"messageId", msg.ID,
		"topic", msg.Topic,
		"depth", depth,
		"error", err)

	// The queued copy must not wait for the next connected event; its first
	// retry follows the policy's base delay.
	time.AfterFunc(q.policy.NextDelay(0), func() {
		if q.ready.IsReady() {
			q.Flush()
		}
	})

	return receipt, pubErr
}

// Subscribe registers the handler for the given subscriptions. Subscriptions
// are never queued: while the connection is not ready the call fails
// immediately with ErrNotReady, since re-registering is cheaper for the
// caller than a silently deferred subscription.
func (q *DeliveryQueue) Subscribe(ctx context.Context, handler MessageHandler, subscriptions ...contracts.Subscription) ([]contracts.Grant, error) {
	if handler == nil {
		return nil, fmt.Errorf("messaging: subscribe requires a handler")
	}
	if len(subscriptions) == 0 {
		return nil, fmt.Errorf("messaging: subscribe requires at least one subscription")
	}
	for _, sub := range subscriptions {
		if err := sub.Validate(); err != nil {
			return nil, err
		}
	}

	if !q.ready.IsReady() {
		return nil, ErrNotReady
	}

	grants, err := q.transport.Subscribe(ctx, handler, subscriptions...)
	if err != nil {
		q.metrics.RecordError("subscribe", err)
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	for _, grant := range grants {
		q.metrics.RecordSubscribe(grant.TopicFilter)
	}

	return grants, nil
}

// Unsubscribe removes subscriptions by topic filter. Like Subscribe it
// requires a ready connection.
func (q *DeliveryQueue) Unsubscribe(ctx context.Context, filters ...string) error {
	if len(filters) == 0 {
		return nil
	}
	if !q.ready.IsReady() {
		return ErrNotReady
	}
	return q.transport.Unsubscribe(ctx, filters...)
}

// Flush attempts delivery of every currently queued message. Each pass
// atomically snapshots and clears the live queue, so a message is attempted
// at most once per pass and messages arriving mid-pass wait for the next
// one. Deliveries run independently and concurrently; failures requeue after
// backoff or resolve the receipt once the retry ceiling is hit. Flush is a
// no-op while the queue is empty or the connection is not ready.
func (q *DeliveryQueue) Flush() {
	if !q.ready.IsReady() {
		return
	}

	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	snapshot := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.logger.Debug("flushing delivery queue", "messages", len(snapshot))

	for _, pm := range snapshot {
		go q.attempt(pm)
	}
}

// OnStateChange implements StateListener: every connected event triggers
// exactly one flush pass.
func (q *DeliveryQueue) OnStateChange(change contracts.StateChange) {
	if change.Event == contracts.EventConnected {
		q.Flush()
	}
}

// Depth returns the number of messages currently pending
func (q *DeliveryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a snapshot of the queue counters
func (q *DeliveryQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Depth:     len(q.pending),
		Enqueued:  q.enqueued,
		Delivered: q.delivered,
		Retried:   q.retried,
		Dropped:   q.dropped,
	}
}

// enqueue appends to the live queue and returns the new depth
func (q *DeliveryQueue) enqueue(pm *pendingMessage) int {
	q.mu.Lock()
	q.pending = append(q.pending, pm)
	q.enqueued++
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.RecordEnqueue(pm.msg.Topic, depth)
	return depth
}

// send runs one transport delivery through the publish pipeline
func (q *DeliveryQueue) send(ctx context.Context, msg contracts.Message) error {
	final := interceptors.PublishHandlerFunc(func(ctx context.Context, msg contracts.Message) error {
		return q.transport.Send(ctx, msg)
	})

	if q.chain == nil {
		return final.Handle(ctx, msg)
	}
	return q.chain.Execute(ctx, msg, final)
}

// attempt runs one delivery attempt for a queued message and applies the
// retry policy to the result.
func (q *DeliveryQueue) attempt(pm *pendingMessage) {
	err := q.send(context.Background(), pm.msg)
	if err == nil {
		q.mu.Lock()
		q.delivered++
		q.mu.Unlock()

		pm.receipt.resolve(nil)

		q.logger.Debug("queued message delivered",
			"messageId", pm.msg.ID,
			"topic", pm.msg.Topic,
			"attempts", pm.attempts+1)
		return
	}

	retry, delay := q.policy.ShouldRetry(pm.attempts, err)
	pm.attempts++
	pm.lastErr = err

	if !retry {
		q.drop(pm, err)
		return
	}

	q.mu.Lock()
	q.retried++
	q.mu.Unlock()

	q.metrics.RecordRetry(pm.msg.Topic, pm.attempts)
	q.logger.Warn("delivery failed, retry scheduled",
		"messageId", pm.msg.ID,
		"topic", pm.msg.Topic,
		"attempt", pm.attempts,
		"delay", delay,
		"error", err)

	time.AfterFunc(delay, func() {
		q.requeue(pm)
	})
}

// requeue returns a message to the live queue once its backoff has elapsed
// and immediately drains again when the connection is ready, rather than
// waiting for the next connected event.
func (q *DeliveryQueue) requeue(pm *pendingMessage) {
	q.mu.Lock()
	q.pending = append(q.pending, pm)
	q.mu.Unlock()

	if q.ready.IsReady() {
		q.Flush()
	}
}

// drop removes a message permanently and resolves its receipt with the
// terminal error.
func (q *DeliveryQueue) drop(pm *pendingMessage, err error) {
	q.mu.Lock()
	q.dropped++
	q.mu.Unlock()

	var terminal error
	if pm.attempts > q.policy.MaxRetries() {
		terminal = &RetryExhaustedError{
			Topic:     pm.msg.Topic,
			MessageID: pm.msg.ID,
			Attempts:  pm.attempts,
			LastErr:   err,
		}
		q.logger.Error("message dropped after retry ceiling",
			"messageId", pm.msg.ID,
			"topic", pm.msg.Topic,
			"attempts", pm.attempts,
			"error", err)
	} else {
		// Policy classified the error as permanent before the ceiling
		terminal = &PublishError{
			Topic:     pm.msg.Topic,
			MessageID: pm.msg.ID,
			Err:       err,
			Timestamp: time.Now(),
		}
		q.logger.Error("message dropped, permanent failure",
			"messageId", pm.msg.ID,
			"topic", pm.msg.Topic,
			"attempts", pm.attempts,
			"error", err)
	}

	pm.receipt.resolve(terminal)
	q.metrics.RecordDrop(pm.msg.Topic, pm.attempts)
}
