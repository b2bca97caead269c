package amqp

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glimte/mqmate-go/internal/reliability"
	"github.com/glimte/mqmate-go/messaging"
)

const (
	// defaultExchange is the durable topic exchange all traffic flows through.
	defaultExchange = "mqmate.topic"

	// retainedHeader carries the MQTT retain flag. AMQP has no retained
	// delivery, so the flag travels as metadata for consumers that care.
	retainedHeader = "x-mqmate-retained"

	defaultConnectTimeout = 30 * time.Second
	defaultConfirmTimeout = 5 * time.Second
	defaultPrefetchCount  = 10
)

// Config holds transport configuration. Zero values are filled with
// defaults by NewTransport; adjust through Options.
type Config struct {
	// URL is the broker address. A bare host:port gets an amqp:// scheme.
	URL string

	// Exchange is the topic exchange traffic flows through. It is declared
	// durable on connect. Defaults to "mqmate.topic".
	Exchange string

	// ConnectTimeout bounds each dial attempt. Defaults to 30s.
	ConnectTimeout time.Duration

	// ConfirmTimeout bounds the wait for a publisher confirm on QoS 1 and 2
	// sends. Defaults to 5s.
	ConfirmTimeout time.Duration

	// PrefetchCount limits unacknowledged deliveries per consumer. Defaults to 10.
	PrefetchCount int

	// ReconnectPolicy schedules reconnection attempts after a connection
	// drop. Its MaxRetries is the budget before the transport reports the
	// broker offline and stops. Defaults to exponential backoff from 1s to
	// 30s with a budget of 10 attempts.
	ReconnectPolicy messaging.RetryPolicy

	// Logger receives transport diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Option configures the transport.
type Option func(*Config)

// WithExchange sets the topic exchange name.
func WithExchange(name string) Option {
	return func(cfg *Config) {
		if name != "" {
			cfg.Exchange = name
		}
	}
}

// WithConnectTimeout bounds each dial attempt.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.ConnectTimeout = timeout
	}
}

// WithConfirmTimeout bounds the wait for publisher confirms.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.ConfirmTimeout = timeout
	}
}

// WithPrefetchCount limits unacknowledged deliveries per consumer.
func WithPrefetchCount(count int) Option {
	return func(cfg *Config) {
		cfg.PrefetchCount = count
	}
}

// WithReconnectPolicy sets the reconnection schedule and budget.
func WithReconnectPolicy(policy messaging.RetryPolicy) Option {
	return func(cfg *Config) {
		if policy != nil {
			cfg.ReconnectPolicy = policy
		}
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) {
		if logger != nil {
			cfg.Logger = logger
		}
	}
}

// newConfig builds a validated Config with defaults applied.
func newConfig(url string, options ...Option) (*Config, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: broker URL cannot be empty", ErrConnectFailed)
	}
	if !strings.Contains(url, "://") {
		url = "amqp://" + url
	}

	cfg := &Config{
		URL:             url,
		Exchange:        defaultExchange,
		ConnectTimeout:  defaultConnectTimeout,
		ConfirmTimeout:  defaultConfirmTimeout,
		PrefetchCount:   defaultPrefetchCount,
		ReconnectPolicy: reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, 10),
		Logger:          slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	return cfg, nil
}
