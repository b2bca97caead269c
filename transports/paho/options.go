package paho

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Environment variables consulted when no credentials are configured.
const (
	EnvUsername = "MQMATE_USERNAME"
	EnvPassword = "MQMATE_PASSWORD"
)

const (
	// defaultConnectTimeout bounds the initial dial and every broker
	// acknowledgment wait (publish, subscribe, unsubscribe tokens).
	defaultConnectTimeout = 30 * time.Second

	// defaultReconnectPeriod is the steady interval between reconnect attempts.
	defaultReconnectPeriod = 1 * time.Second

	// defaultKeepAlive is the PINGREQ interval for dead connection detection.
	defaultKeepAlive = 60 * time.Second

	// defaultDisconnectQuiesce is how long Close waits for in-flight work.
	defaultDisconnectQuiesce = 1 * time.Second

	// clientIDPrefix namespaces generated client identifiers on the broker.
	clientIDPrefix = "mqmate-"
)

// Config holds transport configuration. Zero values are filled with
// defaults by NewTransport; adjust through Options.
type Config struct {
	// BrokerURL is the broker address. A bare host:port gets a tcp:// scheme.
	BrokerURL string

	// ClientID identifies this client on the broker. Defaults to
	// "mqmate-" plus a random UUID.
	ClientID string

	// Username and Password authenticate with the broker. When Username is
	// empty both fall back to the MQMATE_USERNAME and MQMATE_PASSWORD
	// environment variables.
	Username string
	Password string

	// CleanSession starts a fresh broker session on connect. Defaults to true.
	CleanSession bool

	// KeepAlive is the PING interval. Defaults to 60s.
	KeepAlive time.Duration

	// ConnectTimeout bounds the dial and all acknowledgment waits. Defaults to 30s.
	ConnectTimeout time.Duration

	// AutoReconnect re-dials dropped connections. Defaults to true. When
	// disabled a connection loss additionally emits an offline event, since
	// no recovery will follow.
	AutoReconnect bool

	// ReconnectPeriod caps the interval between reconnect attempts. Paho
	// ramps from one second up to this cap. Defaults to 1s, a constant
	// one-second retry cadence.
	ReconnectPeriod time.Duration

	// DisconnectQuiesce is how long Close waits for pending operations.
	DisconnectQuiesce time.Duration

	// TLSConfig enables TLS when set. Use an ssl:// broker URL with it.
	TLSConfig *tls.Config

	// Logger receives transport diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// hooks are raw paho option mutators applied after everything above.
	hooks []func(*mqtt.ClientOptions)
}

// Option configures the transport.
type Option func(*Config)

// WithClientID sets the broker client identifier.
func WithClientID(id string) Option {
	return func(cfg *Config) {
		cfg.ClientID = id
	}
}

// WithCredentials sets the broker username and password.
func WithCredentials(username, password string) Option {
	return func(cfg *Config) {
		cfg.Username = username
		cfg.Password = password
	}
}

// WithCleanSession controls whether the broker session starts fresh on connect.
func WithCleanSession(clean bool) Option {
	return func(cfg *Config) {
		cfg.CleanSession = clean
	}
}

// WithKeepAlive sets the PING interval.
func WithKeepAlive(interval time.Duration) Option {
	return func(cfg *Config) {
		cfg.KeepAlive = interval
	}
}

// WithConnectTimeout bounds the dial and all broker acknowledgment waits.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.ConnectTimeout = timeout
	}
}

// WithAutoReconnect toggles automatic reconnection of dropped connections.
func WithAutoReconnect(enabled bool) Option {
	return func(cfg *Config) {
		cfg.AutoReconnect = enabled
	}
}

// WithReconnectPeriod caps the interval between reconnect attempts.
func WithReconnectPeriod(period time.Duration) Option {
	return func(cfg *Config) {
		cfg.ReconnectPeriod = period
	}
}

// WithTLS enables TLS with the given configuration.
func WithTLS(tlsConfig *tls.Config) Option {
	return func(cfg *Config) {
		cfg.TLSConfig = tlsConfig
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

// WithPahoOptions registers a raw mutator over the underlying paho client
// options. Mutators run after the Config is applied, so they can override
// anything; settings the transport relies on for its own behavior, such as
// AutoReconnect, should be changed through Config options instead.
func WithPahoOptions(fn func(*mqtt.ClientOptions)) Option {
	return func(cfg *Config) {
		if fn != nil {
			cfg.hooks = append(cfg.hooks, fn)
		}
	}
}

// newConfig builds a validated Config with defaults applied.
func newConfig(brokerURL string, options ...Option) (*Config, error) {
	if brokerURL == "" {
		return nil, fmt.Errorf("%w: broker URL cannot be empty", ErrConnectFailed)
	}
	if !strings.Contains(brokerURL, "://") {
		brokerURL = "tcp://" + brokerURL
	}

	cfg := &Config{
		BrokerURL:         brokerURL,
		ClientID:          clientIDPrefix + uuid.NewString(),
		CleanSession:      true,
		KeepAlive:         defaultKeepAlive,
		ConnectTimeout:    defaultConnectTimeout,
		AutoReconnect:     true,
		ReconnectPeriod:   defaultReconnectPeriod,
		DisconnectQuiesce: defaultDisconnectQuiesce,
		Logger:            slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	if cfg.Username == "" {
		cfg.Username = os.Getenv(EnvUsername)
		cfg.Password = os.Getenv(EnvPassword)
	}

	return cfg, nil
}

// buildClientOptions translates the Config into paho client options.
func buildClientOptions(cfg *Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(cfg.CleanSession)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	// Reconnection covers established connections that drop. The initial
	// dial fails fast instead of retrying, so Connect can report the error.
	opts.SetAutoReconnect(cfg.AutoReconnect)
	opts.SetMaxReconnectInterval(cfg.ReconnectPeriod)
	opts.SetConnectRetry(false)

	if cfg.TLSConfig != nil {
		opts.SetTLSConfig(cfg.TLSConfig)
	}

	for _, hook := range cfg.hooks {
		hook(opts)
	}

	return opts
}
