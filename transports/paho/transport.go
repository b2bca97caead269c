package paho

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/glimte/mqmate-go/messaging"
)

// subscribeResulter is implemented by paho's SubscribeToken and exposes the
// per-filter QoS granted in the broker's SUBACK.
type subscribeResulter interface {
	Result() map[string]byte
}

// trackedSubscription is a granted subscription kept for restoration after
// a reconnect.
type trackedSubscription struct {
	sub     contracts.Subscription
	handler messaging.MessageHandler
}

// Transport implements messaging.Transport over the Eclipse Paho MQTT
// client. One Transport owns one broker connection.
type Transport struct {
	cfg    *Config
	client mqtt.Client

	mu                sync.RWMutex
	connected         bool
	closed            bool
	reconnectAttempts int

	subMu         sync.RWMutex
	subscriptions map[string]trackedSubscription

	stateMu sync.RWMutex
	stateFn func(contracts.StateChange)
}

// NewTransport creates a transport for the given broker URL. A bare
// host:port gets a tcp:// scheme. No connection is made until Connect.
func NewTransport(brokerURL string, options ...Option) (*Transport, error) {
	cfg, err := newConfig(brokerURL, options...)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:           cfg,
		subscriptions: make(map[string]trackedSubscription),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		t.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		t.handleReconnecting()
	})

	t.client = mqtt.NewClient(opts)
	return t, nil
}

// Connect dials the broker, blocking until the connection is up, the
// context expires, or the connect timeout elapses. A failed dial also
// surfaces as an error event to the registered state callback.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if t.Connected() {
		return nil
	}

	token := t.client.Connect()
	if err := t.wait(ctx, token); err != nil {
		change := contracts.NewStateChange(contracts.EventError)
		change.Err = err
		t.emit(change)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	// The OnConnect callback runs asynchronously and may not have fired
	// yet; mark connected here so Connected reports true on return.
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	return nil
}

// Send publishes one message, blocking until the broker acknowledges it at
// the message's QoS level.
func (t *Transport) Send(ctx context.Context, msg contracts.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if !t.Connected() {
		return ErrNotConnected
	}

	token := t.client.Publish(msg.Topic, byte(msg.Options.QoS), msg.Options.Retain, msg.Payload)
	if err := t.wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers the handler for the given subscriptions and returns
// the QoS grants from the broker's SUBACK. Granted subscriptions are
// tracked and restored automatically after a reconnect. The handler runs on
// the client's router goroutine, so long work should be handed off.
func (t *Transport) Subscribe(ctx context.Context, handler messaging.MessageHandler, subscriptions ...contracts.Subscription) ([]contracts.Grant, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if len(subscriptions) == 0 {
		return nil, fmt.Errorf("%w: no subscriptions given", ErrSubscribeFailed)
	}

	filters := make(map[string]byte, len(subscriptions))
	for _, sub := range subscriptions {
		if err := sub.Validate(); err != nil {
			return nil, err
		}
		filters[sub.TopicFilter] = byte(sub.QoS)
	}

	if !t.Connected() {
		return nil, ErrNotConnected
	}

	token := t.client.SubscribeMultiple(filters, t.wrapHandler(handler))
	if err := t.wait(ctx, token); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	results := map[string]byte{}
	if st, ok := token.(subscribeResulter); ok {
		results = st.Result()
	}

	grants := make([]contracts.Grant, 0, len(subscriptions))
	for _, sub := range subscriptions {
		granted := sub.QoS
		if code, ok := results[sub.TopicFilter]; ok {
			granted = contracts.QoS(code)
		}
		grants = append(grants, contracts.Grant{TopicFilter: sub.TopicFilter, QoS: granted})
	}

	t.subMu.Lock()
	for i, sub := range subscriptions {
		if grants[i].Rejected() {
			continue
		}
		t.subscriptions[sub.TopicFilter] = trackedSubscription{sub: sub, handler: handler}
	}
	t.subMu.Unlock()

	return grants, nil
}

// Unsubscribe removes subscriptions by topic filter and stops tracking them
// for reconnect restoration.
func (t *Transport) Unsubscribe(ctx context.Context, filters ...string) error {
	if len(filters) == 0 {
		return nil
	}
	if !t.Connected() {
		return ErrNotConnected
	}

	t.subMu.Lock()
	for _, filter := range filters {
		delete(t.subscriptions, filter)
	}
	t.subMu.Unlock()

	token := t.client.Unsubscribe(filters...)
	if err := t.wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// OnStateChange registers the callback that receives connection lifecycle
// events. Only one callback is held; registering replaces the previous one.
func (t *Transport) OnStateChange(fn func(contracts.StateChange)) {
	t.stateMu.Lock()
	t.stateFn = fn
	t.stateMu.Unlock()
}

// Connected reports whether the connection is currently live. Both the
// transport's own flag and the paho client agree before this returns true,
// since the loss callback lags the actual drop.
func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client.IsConnected()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (t *Transport) SubscriptionCount() int {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	return len(t.subscriptions)
}

// Close disconnects from the broker after a quiesce period for in-flight
// operations. Close is idempotent and the transport cannot be reused.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	t.client.Disconnect(uint(t.cfg.DisconnectQuiesce / time.Millisecond))
	return nil
}

// handleConnect runs on every successful connect and reconnect.
func (t *Transport) handleConnect() {
	t.mu.Lock()
	t.connected = true
	t.reconnectAttempts = 0
	t.mu.Unlock()

	t.restoreSubscriptions()

	t.cfg.Logger.Debug("mqtt connection established", "broker", t.cfg.BrokerURL, "clientId", t.cfg.ClientID)
	t.emit(contracts.NewStateChange(contracts.EventConnected))
}

// handleConnectionLost runs when an established connection drops.
func (t *Transport) handleConnectionLost(err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	t.cfg.Logger.Debug("mqtt connection lost", "broker", t.cfg.BrokerURL, "error", err)

	change := contracts.NewStateChange(contracts.EventDisconnected)
	change.Err = err
	t.emit(change)

	// With reconnection disabled no recovery follows, so the broker is
	// now unreachable for good.
	if !t.cfg.AutoReconnect {
		t.emit(contracts.NewStateChange(contracts.EventOffline))
	}
}

// handleReconnecting runs when paho begins a reconnection cycle.
func (t *Transport) handleReconnecting() {
	t.mu.Lock()
	t.reconnectAttempts++
	attempt := t.reconnectAttempts
	t.mu.Unlock()

	change := contracts.NewStateChange(contracts.EventReconnecting)
	change.Attempt = attempt
	t.emit(change)
}

// restoreSubscriptions re-subscribes every tracked filter after a
// reconnect. Failures are logged rather than returned since no caller is
// waiting on this path.
func (t *Transport) restoreSubscriptions() {
	t.subMu.RLock()
	defer t.subMu.RUnlock()

	for _, tracked := range t.subscriptions {
		token := t.client.Subscribe(tracked.sub.TopicFilter, byte(tracked.sub.QoS), t.wrapHandler(tracked.handler))
		if !token.WaitTimeout(t.cfg.ConnectTimeout) {
			t.cfg.Logger.Warn("subscription restore timed out", "filter", tracked.sub.TopicFilter)
		} else if err := token.Error(); err != nil {
			t.cfg.Logger.Warn("subscription restore failed", "filter", tracked.sub.TopicFilter, "error", err)
		}
	}
}

// wrapHandler adapts a messaging handler to paho's callback signature with
// panic recovery, so one bad handler cannot kill the router goroutine.
func (t *Transport) wrapHandler(handler messaging.MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				t.cfg.Logger.Error("message handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		handler(msg.Topic(), msg.Payload())
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

// wait blocks until the token completes, the context expires, or the
// connect timeout elapses. Paho tokens do not observe contexts themselves.
func (t *Transport) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
