package amqp

import (
	"context"
	"fmt"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/glimte/mqmate-go/messaging"
)

// consumer is one tracked subscription: its filter, handler, and the
// dedicated channel plus server-named queue it consumes from. The channel
// is replaced on reconnect and nilled on stop.
type consumer struct {
	sub     contracts.Subscription
	handler messaging.MessageHandler
	autoAck bool

	mu      sync.Mutex
	channel *amqp091.Channel
	queue   string
}

func (c *consumer) stop() {
	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()

	// Closing the channel ends the delivery stream and cancels the
	// consumer; the exclusive queue is auto-deleted by the broker.
	if ch != nil {
		ch.Close()
	}
}

// Subscribe binds one server-named exclusive queue per topic filter and
// starts a consume loop feeding the handler. AMQP has no grant negotiation,
// so the returned grants mirror the requested QoS levels. Subscribing to an
// already-tracked filter replaces its handler.
func (t *Transport) Subscribe(ctx context.Context, handler messaging.MessageHandler, subscriptions ...contracts.Subscription) ([]contracts.Grant, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if len(subscriptions) == 0 {
		return nil, fmt.Errorf("%w: no subscriptions given", ErrSubscribeFailed)
	}
	for _, sub := range subscriptions {
		if err := sub.Validate(); err != nil {
			return nil, err
		}
	}
	if !t.Connected() {
		return nil, ErrNotConnected
	}

	started := make([]*consumer, 0, len(subscriptions))
	for _, sub := range subscriptions {
		c := &consumer{
			sub:     sub,
			handler: handler,
			autoAck: sub.QoS == contracts.AtMostOnce,
		}
		if err := t.startConsumer(c); err != nil {
			// Roll back the consumers this call already started.
			for _, prev := range started {
				t.untrackConsumer(prev.sub.TopicFilter)
				prev.stop()
			}
			return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
		t.trackConsumer(c)
		started = append(started, c)
	}

	grants := make([]contracts.Grant, 0, len(subscriptions))
	for _, sub := range subscriptions {
		grants = append(grants, contracts.Grant{TopicFilter: sub.TopicFilter, QoS: sub.QoS})
	}
	return grants, nil
}

// Unsubscribe stops the consumers for the given filters and forgets them,
// so they are not restored after a reconnect. Unknown filters are ignored.
// The teardown is local channel closure, so it works even while the broker
// is unreachable.
func (t *Transport) Unsubscribe(ctx context.Context, topicFilters ...string) error {
	for _, filter := range topicFilters {
		t.subMu.Lock()
		c, ok := t.consumers[filter]
		delete(t.consumers, filter)
		t.subMu.Unlock()

		if ok {
			c.stop()
			t.cfg.Logger.Debug("unsubscribed", "filter", filter)
		}
	}
	return nil
}

// startConsumer declares the queue and binding for one subscription and
// launches its consume loop.
func (t *Transport) startConsumer(c *consumer) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	if err := ch.Qos(t.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}

	// Server-named exclusive auto-delete queue: the AMQP analogue of a
	// clean-session subscription. It lives and dies with this consumer.
	queue, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, bindingPattern(c.sub.TopicFilter), t.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("bind queue to %s: %w", t.cfg.Exchange, err)
	}

	deliveries, err := ch.Consume(
		queue.Name,
		"",        // server-generated consumer tag
		c.autoAck, // QoS 0 deliveries need no ack
		true,      // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("start consuming: %w", err)
	}

	c.mu.Lock()
	c.channel = ch
	c.queue = queue.Name
	c.mu.Unlock()

	go t.consume(c, deliveries)

	t.cfg.Logger.Info("subscribed",
		"filter", c.sub.TopicFilter,
		"queue", queue.Name,
		"qos", c.sub.QoS.String())
	return nil
}

// consume drains one delivery stream. The stream ends on unsubscribe or
// connection loss; tracked consumers are restarted by the reconnect loop.
func (t *Transport) consume(c *consumer, deliveries <-chan amqp091.Delivery) {
	for delivery := range deliveries {
		t.dispatch(c, delivery)
	}
}

// dispatch runs the handler for one delivery, translating the routing key
// back to topic form. A panicking handler is logged and the delivery is
// rejected without requeue.
func (t *Transport) dispatch(c *consumer, delivery amqp091.Delivery) {
	topic := topicFromRoutingKey(delivery.RoutingKey)

	defer func() {
		if r := recover(); r != nil {
			t.cfg.Logger.Error("message handler panicked",
				"topic", topic,
				"panic", r)
			if !c.autoAck {
				_ = delivery.Nack(false, false)
			}
		}
	}()

	c.handler(topic, delivery.Body)

	if !c.autoAck {
		if err := delivery.Ack(false); err != nil {
			t.cfg.Logger.Error("failed to ack delivery",
				"topic", topic,
				"error", err)
		}
	}
}

func (t *Transport) trackConsumer(c *consumer) {
	t.subMu.Lock()
	old, replaced := t.consumers[c.sub.TopicFilter]
	t.consumers[c.sub.TopicFilter] = c
	t.subMu.Unlock()

	if replaced {
		old.stop()
	}
}

func (t *Transport) untrackConsumer(filter string) {
	t.subMu.Lock()
	delete(t.consumers, filter)
	t.subMu.Unlock()
}

// restoreConsumers restarts every tracked consumer on a fresh connection.
// Failures are logged and skipped; the subscription stays tracked for the
// next reconnect.
func (t *Transport) restoreConsumers() {
	t.subMu.Lock()
	tracked := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		tracked = append(tracked, c)
	}
	t.subMu.Unlock()

	for _, c := range tracked {
		if err := t.startConsumer(c); err != nil {
			t.cfg.Logger.Warn("failed to restore subscription",
				"filter", c.sub.TopicFilter,
				"error", err)
		}
	}
}

func (t *Transport) stopAllConsumers() {
	t.subMu.Lock()
	tracked := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		tracked = append(tracked, c)
	}
	t.consumers = make(map[string]*consumer)
	t.subMu.Unlock()

	for _, c := range tracked {
		c.stop()
	}
}
