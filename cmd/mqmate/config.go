package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	mqmate "github.com/glimte/mqmate-go"
	"github.com/glimte/mqmate-go/internal/reliability"
)

// Config is the CLI configuration. Values are layered: defaults, then the
// YAML file, then environment variables, with command line flags applied on
// top by the commands themselves.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BrokerConfig contains broker connection settings.
type BrokerConfig struct {
	URL                 string `yaml:"url"`
	ClientID            string `yaml:"client_id"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	CleanSession        bool   `yaml:"clean_session"`
	ConnectTimeoutMS    int    `yaml:"connect_timeout_ms"`
	ReconnectPeriodMS   int    `yaml:"reconnect_period_ms"`
	ConnectRetries      int    `yaml:"connect_retries"`
	ConnectRetryDelayMS int    `yaml:"connect_retry_delay_ms"`
}

// DeliveryConfig tunes the pending-message retry engine.
type DeliveryConfig struct {
	MaxRetries      int `yaml:"max_retries"`
	RetryIntervalMS int `yaml:"retry_interval_ms"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig builds the CLI configuration. An empty path skips the file and
// uses defaults plus environment overrides.
//
// Environment variables follow the pattern MQMATE_KEY:
// MQMATE_BROKER_URL, MQMATE_CLIENT_ID, MQMATE_USERNAME, MQMATE_PASSWORD.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the library's documented defaults.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:                 "tcp://localhost:1883",
			CleanSession:        true,
			ConnectTimeoutMS:    30000,
			ReconnectPeriodMS:   1000,
			ConnectRetries:      2,
			ConnectRetryDelayMS: 2000,
		},
		Delivery: DeliveryConfig{
			MaxRetries:      5,
			RetryIntervalMS: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MQMATE_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("MQMATE_CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv("MQMATE_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("MQMATE_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Broker.URL == "" {
		errs = append(errs, "broker.url is required")
	}
	if c.Broker.ConnectTimeoutMS <= 0 {
		errs = append(errs, "broker.connect_timeout_ms must be positive")
	}
	if c.Broker.ReconnectPeriodMS <= 0 {
		errs = append(errs, "broker.reconnect_period_ms must be positive")
	}
	if c.Broker.ConnectRetries < 0 {
		errs = append(errs, "broker.connect_retries cannot be negative")
	}
	if c.Broker.ConnectRetryDelayMS <= 0 {
		errs = append(errs, "broker.connect_retry_delay_ms must be positive")
	}
	if c.Delivery.MaxRetries < 0 {
		errs = append(errs, "delivery.max_retries cannot be negative")
	}
	if c.Delivery.RetryIntervalMS <= 0 {
		errs = append(errs, "delivery.retry_interval_ms must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ConnectTimeout returns the connect timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Broker.ConnectTimeoutMS) * time.Millisecond
}

// ReconnectPeriod returns the reconnect period as a Duration.
func (c *Config) ReconnectPeriod() time.Duration {
	return time.Duration(c.Broker.ReconnectPeriodMS) * time.Millisecond
}

// ConnectRetryDelay returns the pause between initial dial attempts.
func (c *Config) ConnectRetryDelay() time.Duration {
	return time.Duration(c.Broker.ConnectRetryDelayMS) * time.Millisecond
}

// RetryInterval returns the delivery retry base interval as a Duration.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Delivery.RetryIntervalMS) * time.Millisecond
}

// ClientOptions translates the configuration into mqmate client options.
func (c *Config) ClientOptions(logger *slog.Logger) []mqmate.ClientOption {
	options := []mqmate.ClientOption{
		mqmate.WithLogger(logger),
		mqmate.WithCleanSession(c.Broker.CleanSession),
		mqmate.WithReconnectPeriod(c.ReconnectPeriod()),
		mqmate.WithConnectTimeout(c.ConnectTimeout()),
		mqmate.WithRetryPolicy(reliability.NewLinearBackoff(c.RetryInterval(), c.Delivery.MaxRetries)),
	}

	if c.Broker.ClientID != "" {
		options = append(options, mqmate.WithClientID(c.Broker.ClientID))
	}
	if c.Broker.Username != "" {
		options = append(options, mqmate.WithCredentials(c.Broker.Username, c.Broker.Password))
	}

	return options
}

// BuildLogger creates the slog logger described by the logging section.
// Diagnostics go to stderr so message output on stdout stays clean.
func (c *Config) BuildLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Logging.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
