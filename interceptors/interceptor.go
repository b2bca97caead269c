package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/mqmate-go/contracts"
)

// PublishHandler is the terminal operation of the publish pipeline
type PublishHandler interface {
	Handle(ctx context.Context, msg contracts.Message) error
}

// PublishHandlerFunc is a function adapter for PublishHandler
type PublishHandlerFunc func(ctx context.Context, msg contracts.Message) error

// Handle implements PublishHandler
func (f PublishHandlerFunc) Handle(ctx context.Context, msg contracts.Message) error {
	return f(ctx, msg)
}

// Interceptor processes messages before they reach the transport
type Interceptor interface {
	// Intercept processes a message and calls the next handler in the chain
	Intercept(ctx context.Context, msg contracts.Message, next PublishHandler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, msg contracts.Message, next PublishHandler) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, msg contracts.Message, next PublishHandler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, msg contracts.Message, next PublishHandler) error {
	return i.fn(ctx, msg, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// Chain manages an ordered list of interceptors wrapped around a send
type Chain struct {
	interceptors []Interceptor
}

// NewChain creates a new interceptor chain
func NewChain(interceptors ...Interceptor) *Chain {
	return &Chain{interceptors: interceptors}
}

// Add appends an interceptor to the chain
func (c *Chain) Add(interceptor Interceptor) *Chain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Execute runs the message through every interceptor and finally the handler
func (c *Chain) Execute(ctx context.Context, msg contracts.Message, finalHandler PublishHandler) error {
	if len(c.interceptors) == 0 {
		return finalHandler.Handle(ctx, msg)
	}

	// Build the chain in reverse order
	handler := finalHandler
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		currentHandler := handler
		handler = PublishHandlerFunc(func(ctx context.Context, msg contracts.Message) error {
			return interceptor.Intercept(ctx, msg, currentHandler)
		})
	}

	return handler.Handle(ctx, msg)
}

// Built-in interceptors

// LoggingInterceptor logs every delivery attempt
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, msg contracts.Message, next PublishHandler) error {
	start := time.Now()

	i.logger.Debug("sending message",
		"messageId", msg.ID,
		"topic", msg.Topic,
		"qos", msg.Options.QoS,
	)

	err := next.Handle(ctx, msg)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("send failed",
			"messageId", msg.ID,
			"topic", msg.Topic,
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Debug("message sent",
			"messageId", msg.ID,
			"topic", msg.Topic,
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsCollector defines the interface for collecting delivery metrics
type MetricsCollector interface {
	RecordPublish(topic string, duration time.Duration, success bool)
}

// MetricsInterceptor records latency and outcome of every delivery attempt
type MetricsInterceptor struct {
	collector MetricsCollector
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, msg contracts.Message, next PublishHandler) error {
	start := time.Now()

	err := next.Handle(ctx, msg)

	i.collector.RecordPublish(msg.Topic, time.Since(start), err == nil)

	return err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// TimeoutInterceptor bounds each delivery attempt with a deadline
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(ctx context.Context, msg contracts.Message, next PublishHandler) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	return next.Handle(ctx, msg)
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}
