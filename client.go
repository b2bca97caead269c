// Copyright 2025 Mqmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mqmate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/glimte/mqmate-go/interceptors"
	"github.com/glimte/mqmate-go/internal/reliability"
	"github.com/glimte/mqmate-go/messaging"
	"github.com/glimte/mqmate-go/transports/paho"
)

// Client is the main entry point for mqmate: a connection-resilient
// publish/subscribe client. It wires one Transport (MQTT by default) to a
// ConnectionManager for lifecycle tracking and a DeliveryQueue so publishes
// survive broker outages.
type Client struct {
	transport messaging.Transport
	manager   *messaging.ConnectionManager
	queue     *messaging.DeliveryQueue
	logger    *slog.Logger
}

// NewClient creates a client with the default MQTT transport.
func NewClient(brokerURL string) (*Client, error) {
	return NewClientWithOptions(brokerURL, WithDefaultLogger())
}

// NewClientWithOptions creates a client with options. The broker URL is
// handed to the default MQTT transport unless WithTransport injects another
// one, in which case the URL and all transport-level options are ignored.
func NewClientWithOptions(brokerURL string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:       slog.Default(),
		cleanSession: true,
	}

	for _, opt := range options {
		opt(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		pahoOptions := []paho.Option{
			paho.WithLogger(cfg.logger),
			paho.WithCleanSession(cfg.cleanSession),
		}
		if cfg.clientID != "" {
			pahoOptions = append(pahoOptions, paho.WithClientID(cfg.clientID))
		}
		if cfg.username != "" {
			pahoOptions = append(pahoOptions, paho.WithCredentials(cfg.username, cfg.password))
		}
		if cfg.reconnectPeriod > 0 {
			pahoOptions = append(pahoOptions, paho.WithReconnectPeriod(cfg.reconnectPeriod))
		}
		if cfg.connectTimeout > 0 {
			pahoOptions = append(pahoOptions, paho.WithConnectTimeout(cfg.connectTimeout))
		}
		for _, hook := range cfg.pahoHooks {
			pahoOptions = append(pahoOptions, paho.WithPahoOptions(hook))
		}

		var err error
		transport, err = paho.NewTransport(brokerURL, pahoOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
	}

	manager := messaging.NewConnectionManager(transport,
		messaging.WithConnectionLogger(cfg.logger))

	queueOptions := []messaging.QueueOption{
		messaging.WithQueueLogger(cfg.logger),
	}
	switch {
	case cfg.retryPolicy != nil:
		queueOptions = append(queueOptions, messaging.WithRetryPolicy(cfg.retryPolicy))
	case cfg.maxRetries > 0:
		queueOptions = append(queueOptions,
			messaging.WithRetryPolicy(reliability.NewLinearBackoff(time.Second, cfg.maxRetries)))
	}
	if cfg.metrics != nil {
		queueOptions = append(queueOptions, messaging.WithQueueMetrics(cfg.metrics))
	}
	if cfg.interceptorChain != nil {
		queueOptions = append(queueOptions, messaging.WithPublishInterceptors(cfg.interceptorChain))
	}

	queue := messaging.NewDeliveryQueue(transport, manager, queueOptions...)

	// Every connected event flushes the pending queue.
	manager.AddStateListener(queue)

	return &Client{
		transport: transport,
		manager:   manager,
		queue:     queue,
		logger:    cfg.logger,
	}, nil
}

// Connect opens the broker connection. The client moves to Connecting
// immediately; Connected is reported only once the transport confirms the
// connection through its event stream.
func (c *Client) Connect(ctx context.Context) error {
	if c.manager == nil {
		return messaging.ErrNotInitialized
	}
	return c.manager.Connect(ctx)
}

// IsReady reports whether a publish would be sent directly right now rather
// than queued.
func (c *Client) IsReady() bool {
	return c.manager != nil && c.manager.IsReady()
}

// State returns the tracked connection state.
func (c *Client) State() contracts.ConnectionState {
	if c.manager == nil {
		return contracts.StateDisconnected
	}
	return c.manager.State()
}

// Publish delivers payload to topic. While disconnected the message is
// queued and flushed on reconnect; a failed direct send is queued for retry
// while the failure is also returned. The Receipt resolves exactly once with
// the final outcome either way.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, options contracts.PublishOptions) (*messaging.Receipt, error) {
	if c.queue == nil {
		return nil, messaging.ErrNotInitialized
	}

	msg := contracts.NewMessage(topic, payload, options)
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return c.queue.Publish(ctx, msg)
}

// Subscribe registers handler for the given subscriptions and returns the
// broker grants. Subscriptions are not queued: while disconnected the call
// fails with ErrNotReady.
func (c *Client) Subscribe(ctx context.Context, handler messaging.MessageHandler, subscriptions ...contracts.Subscription) ([]contracts.Grant, error) {
	if c.queue == nil {
		return nil, messaging.ErrNotInitialized
	}
	return c.queue.Subscribe(ctx, handler, subscriptions...)
}

// Unsubscribe removes subscriptions by topic filter.
func (c *Client) Unsubscribe(ctx context.Context, topicFilters ...string) error {
	if c.queue == nil {
		return messaging.ErrNotInitialized
	}
	return c.queue.Unsubscribe(ctx, topicFilters...)
}

// AddStateListener registers a listener for connection lifecycle events.
func (c *Client) AddStateListener(listener messaging.StateListener) {
	if c.manager != nil {
		c.manager.AddStateListener(listener)
	}
}

// RemoveStateListener removes a previously registered listener.
func (c *Client) RemoveStateListener(listener messaging.StateListener) {
	if c.manager != nil {
		c.manager.RemoveStateListener(listener)
	}
}

// Transport returns the underlying transport.
func (c *Client) Transport() messaging.Transport {
	return c.transport
}

// Manager returns the connection manager for direct state inspection.
func (c *Client) Manager() *messaging.ConnectionManager {
	return c.manager
}

// Queue returns the delivery queue for direct inspection.
func (c *Client) Queue() *messaging.DeliveryQueue {
	return c.queue
}

// QueueStats returns a snapshot of the delivery queue counters.
func (c *Client) QueueStats() messaging.QueueStats {
	if c.queue == nil {
		return messaging.QueueStats{}
	}
	return c.queue.Stats()
}

// Close shuts the connection down. Messages still pending in the delivery
// queue are not resolved; their receipts stay open.
func (c *Client) Close() error {
	if c.manager == nil {
		return nil
	}
	return c.manager.Close()
}

// clientConfig holds client configuration
type clientConfig struct {
	logger           *slog.Logger
	clientID         string
	username         string
	password         string
	cleanSession     bool
	reconnectPeriod  time.Duration
	connectTimeout   time.Duration
	transport        messaging.Transport
	retryPolicy      messaging.RetryPolicy
	maxRetries       int
	metrics          messaging.MetricsCollector
	interceptorChain *interceptors.Chain
	pahoHooks        []func(*mqtt.ClientOptions)
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithClientID sets the MQTT client identifier instead of a generated one
func WithClientID(clientID string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.clientID = clientID
	}
}

// WithCredentials sets the broker username and password
func WithCredentials(username, password string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.username = username
		cfg.password = password
	}
}

// WithCleanSession controls whether broker session state is discarded on
// connect. Defaults to true.
func WithCleanSession(clean bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.cleanSession = clean
	}
}

// WithReconnectPeriod sets the cadence of the transport's reconnection
// attempts after a connection loss
func WithReconnectPeriod(period time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.reconnectPeriod = period
	}
}

// WithConnectTimeout bounds the initial dial and broker acknowledgments
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectTimeout = timeout
	}
}

// WithTransport injects a custom transport (the AMQP transport, or a fake in
// tests). Transport-level options such as credentials are ignored when set.
func WithTransport(transport messaging.Transport) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transport = transport
	}
}

// WithRetryPolicy sets the delivery queue retry policy
func WithRetryPolicy(policy messaging.RetryPolicy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.retryPolicy = policy
	}
}

// WithMaxRetries is shorthand for a linear backoff policy with a one second
// base and the given retry ceiling
func WithMaxRetries(maxRetries int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.maxRetries = maxRetries
	}
}

// WithMetricsCollector sets the metrics collector for delivery accounting
func WithMetricsCollector(collector messaging.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = collector
	}
}

// WithPublishInterceptors sets the middleware chain every delivery attempt
// runs through
func WithPublishInterceptors(chain *interceptors.Chain) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptorChain = chain
	}
}

// WithPahoOptions exposes the raw paho client options for settings the
// typed options do not cover. Hooks run after all other configuration.
func WithPahoOptions(hooks ...func(*mqtt.ClientOptions)) ClientOption {
	return func(cfg *clientConfig) {
		cfg.pahoHooks = append(cfg.pahoHooks, hooks...)
	}
}
