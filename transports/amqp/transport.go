// Package amqp implements messaging.Transport over RabbitMQ via amqp091-go.
// MQTT-style topics are mapped onto a single durable topic exchange, QoS 1
// and 2 publishes await publisher confirms, and a supervisor goroutine
// redials dropped connections on an exponential backoff schedule.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mqmate-go/contracts"
)

// Transport implements messaging.Transport for RabbitMQ. One Transport owns
// one broker connection plus a publisher channel in confirm mode; each
// subscription consumes from its own server-named queue.
type Transport struct {
	cfg *Config

	mu        sync.RWMutex
	conn      *amqp091.Connection
	pubCh     *amqp091.Channel
	connected bool
	closed    bool
	dialing   bool

	subMu     sync.Mutex
	consumers map[string]*consumer

	stateMu sync.RWMutex
	stateFn func(contracts.StateChange)

	done chan struct{}
}

// NewTransport creates a transport for the given broker URL. A bare
// host:port gets an amqp:// scheme. No connection is made until Connect.
func NewTransport(url string, options ...Option) (*Transport, error) {
	cfg, err := newConfig(url, options...)
	if err != nil {
		return nil, err
	}

	return &Transport{
		cfg:       cfg,
		consumers: make(map[string]*consumer),
		done:      make(chan struct{}),
	}, nil
}

// Connect dials the broker, declares the topic exchange, and starts the
// connection supervisor. A failed dial also surfaces as an error event to
// the registered state callback.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	if t.dialing {
		// A concurrent Connect is already in flight; the connected event
		// will announce its outcome.
		t.mu.Unlock()
		return nil
	}
	t.dialing = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.dialing = false
		t.mu.Unlock()
	}()

	conn, err := t.dial(ctx)
	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrConnectFailed, err)
		change := contracts.NewStateChange(contracts.EventError)
		change.Err = wrapped
		t.emit(change)
		return wrapped
	}

	if err := t.setup(conn); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	t.cfg.Logger.Info("connected to broker",
		"url", sanitizeURL(t.cfg.URL),
		"exchange", t.cfg.Exchange)
	t.emit(contracts.NewStateChange(contracts.EventConnected))

	return nil
}

// Send publishes one message to the topic exchange. QoS 0 is fire and
// forget; QoS 1 and 2 block until the broker confirms the publish.
func (t *Transport) Send(ctx context.Context, msg contracts.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	t.mu.RLock()
	ch := t.pubCh
	connected := t.connected
	t.mu.RUnlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}

	headers := amqp091.Table{}
	if msg.Options.Retain {
		headers[retainedHeader] = true
	}

	deliveryMode := amqp091.Transient
	if msg.Options.QoS >= contracts.AtLeastOnce {
		deliveryMode = amqp091.Persistent
	}

	publishing := amqp091.Publishing{
		Headers:      headers,
		ContentType:  "application/octet-stream",
		DeliveryMode: deliveryMode,
		MessageId:    msg.ID,
		Timestamp:    time.Now(),
		Body:         msg.Payload,
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		t.cfg.Exchange,
		routingKey(msg.Topic),
		false, // mandatory
		false, // immediate
		publishing,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	if msg.Options.QoS == contracts.AtMostOnce || confirmation == nil {
		return nil
	}

	select {
	case <-confirmation.Done():
		if !confirmation.Acked() {
			return ErrPublishNotConfirmed
		}
		return nil
	case <-time.After(t.cfg.ConfirmTimeout):
		return ErrConfirmTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnStateChange registers the callback that receives connection lifecycle
// events. Only one callback is held; registering replaces the previous one.
func (t *Transport) OnStateChange(fn func(contracts.StateChange)) {
	t.stateMu.Lock()
	t.stateFn = fn
	t.stateMu.Unlock()
}

// Connected reports whether the connection is currently live.
func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.conn != nil && !t.conn.IsClosed()
}

// Close stops the supervisor, cancels all consumers, and closes the
// connection. Close is idempotent and the transport cannot be reused.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	t.conn = nil
	t.pubCh = nil
	t.mu.Unlock()

	close(t.done)
	t.stopAllConsumers()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// dial attempts one connection within the connect timeout, honoring caller
// cancellation.
func (t *Transport) dial(ctx context.Context) (*amqp091.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	connCh := make(chan *amqp091.Connection)
	errCh := make(chan error, 1)

	go func() {
		conn, err := amqp091.DialConfig(t.cfg.URL, amqp091.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp091.DefaultDial(t.cfg.ConnectTimeout),
		})
		if err != nil {
			errCh <- err
			return
		}
		select {
		case connCh <- conn:
		case <-dialCtx.Done():
			// Abandoned dial; nobody will take the connection.
			conn.Close()
		}
	}()

	select {
	case conn := <-connCh:
		return conn, nil
	case err := <-errCh:
		return nil, err
	case <-dialCtx.Done():
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrConnectTimeout
		}
		return nil, dialCtx.Err()
	}
}

// setup installs a fresh connection: publisher channel in confirm mode,
// durable topic exchange, and the close watch for the supervisor.
func (t *Transport) setup(conn *amqp091.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		t.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %s: %w", t.cfg.Exchange, err)
	}

	notify := conn.NotifyClose(make(chan *amqp091.Error, 1))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ch.Close()
		return ErrClosed
	}
	t.conn = conn
	t.pubCh = ch
	t.connected = true
	t.mu.Unlock()

	go t.watch(notify)
	return nil
}

// watch monitors one connection for closure and hands off to the reconnect
// loop. Each connection gets its own watch goroutine.
func (t *Transport) watch(notify chan *amqp091.Error) {
	select {
	case amqpErr := <-notify:
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.connected = false
		t.conn = nil
		t.pubCh = nil
		t.mu.Unlock()

		var cause error
		if amqpErr != nil {
			cause = amqpErr
		}
		t.cfg.Logger.Warn("connection to broker lost", "error", cause)

		change := contracts.NewStateChange(contracts.EventDisconnected)
		change.Err = cause
		t.emit(change)

		t.reconnect()

	case <-t.done:
		return
	}
}

// reconnect redials on the configured backoff schedule until it succeeds,
// the budget runs out, or the transport closes. On success the topology is
// redeclared and tracked consumers are restored before the connected event.
func (t *Transport) reconnect() {
	policy := t.cfg.ReconnectPolicy
	budget := policy.MaxRetries()

	for attempt := 0; ; attempt++ {
		select {
		case <-t.done:
			return
		default:
		}

		if budget > 0 && attempt >= budget {
			t.cfg.Logger.Error("reconnection budget exhausted, broker offline",
				"attempts", attempt,
				"url", sanitizeURL(t.cfg.URL))
			t.emit(contracts.NewStateChange(contracts.EventOffline))
			return
		}

		change := contracts.NewStateChange(contracts.EventReconnecting)
		change.Attempt = attempt + 1
		t.emit(change)

		select {
		case <-time.After(policy.NextDelay(attempt)):
		case <-t.done:
			return
		}

		conn, err := t.dial(context.Background())
		if err != nil {
			t.cfg.Logger.Warn("reconnection attempt failed",
				"attempt", attempt+1,
				"error", err)
			continue
		}

		if err := t.setup(conn); err != nil {
			conn.Close()
			t.cfg.Logger.Warn("reconnection setup failed",
				"attempt", attempt+1,
				"error", err)
			continue
		}

		t.restoreConsumers()

		t.cfg.Logger.Info("reconnected to broker", "attempts", attempt+1)
		t.emit(contracts.NewStateChange(contracts.EventConnected))
		return
	}
}

// emit delivers a state change to the registered callback, if any.
func (t *Transport) emit(change contracts.StateChange) {
	t.stateMu.RLock()
	fn := t.stateFn
	t.stateMu.RUnlock()
	if fn != nil {
		fn(change)
	}
}
