package interceptors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// Mock handler
type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) Handle(ctx context.Context, msg contracts.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// Mock collector
type mockMetricsCollector struct {
	mock.Mock
}

func (m *mockMetricsCollector) RecordPublish(topic string, duration time.Duration, success bool) {
	m.Called(topic, duration, success)
}

func testMessage(topic string) contracts.Message {
	return contracts.NewMessage(topic, []byte("payload"), contracts.PublishOptions{QoS: contracts.AtLeastOnce})
}

func TestChain(t *testing.T) {
	t.Run("NewChain creates empty chain", func(t *testing.T) {
		chain := NewChain()

		assert.NotNil(t, chain)
		assert.Empty(t, chain.interceptors)
	})

	t.Run("Add adds interceptor to chain", func(t *testing.T) {
		chain := NewChain()
		interceptor := NewLoggingInterceptor(nil)

		result := chain.Add(interceptor)

		assert.Equal(t, chain, result) // Fluent interface
		assert.Len(t, chain.interceptors, 1)
	})

	t.Run("Execute calls final handler when no interceptors", func(t *testing.T) {
		chain := NewChain()
		handler := &mockHandler{}
		msg := testMessage("sensors/1")

		handler.On("Handle", mock.Anything, msg).Return(nil)

		err := chain.Execute(context.Background(), msg, handler)

		assert.NoError(t, err)
		handler.AssertExpectations(t)
	})

	t.Run("Execute runs interceptors in correct order", func(t *testing.T) {
		var order []string

		interceptor1 := NewInterceptorFunc("first", func(ctx context.Context, msg contracts.Message, next PublishHandler) error {
			order = append(order, "first-start")
			err := next.Handle(ctx, msg)
			order = append(order, "first-end")
			return err
		})

		interceptor2 := NewInterceptorFunc("second", func(ctx context.Context, msg contracts.Message, next PublishHandler) error {
			order = append(order, "second-start")
			err := next.Handle(ctx, msg)
			order = append(order, "second-end")
			return err
		})

		handler := PublishHandlerFunc(func(ctx context.Context, msg contracts.Message) error {
			order = append(order, "handler")
			return nil
		})

		chain := NewChain().
			Add(interceptor1).
			Add(interceptor2)

		err := chain.Execute(context.Background(), testMessage("sensors/1"), handler)

		assert.NoError(t, err)
		expected := []string{
			"first-start",
			"second-start",
			"handler",
			"second-end",
			"first-end",
		}
		assert.Equal(t, expected, order)
	})

	t.Run("Execute propagates handler error through chain", func(t *testing.T) {
		sendErr := errors.New("broker rejected")

		observed := NewInterceptorFunc("observer", func(ctx context.Context, msg contracts.Message, next PublishHandler) error {
			return next.Handle(ctx, msg)
		})

		handler := PublishHandlerFunc(func(ctx context.Context, msg contracts.Message) error {
			return sendErr
		})

		chain := NewChain(observed)

		err := chain.Execute(context.Background(), testMessage("sensors/1"), handler)

		assert.Equal(t, sendErr, err)
	})

	t.Run("interceptor can short-circuit the chain", func(t *testing.T) {
		blocked := errors.New("blocked")
		blocker := NewInterceptorFunc("blocker", func(ctx context.Context, msg contracts.Message, next PublishHandler) error {
			return blocked
		})

		handler := &mockHandler{}
		chain := NewChain(blocker)

		err := chain.Execute(context.Background(), testMessage("sensors/1"), handler)

		assert.Equal(t, blocked, err)
		handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})
}

func TestInterceptorFunc(t *testing.T) {
	t.Run("Name returns configured name", func(t *testing.T) {
		i := NewInterceptorFunc("custom", func(ctx context.Context, msg contracts.Message, next PublishHandler) error {
			return next.Handle(ctx, msg)
		})

		assert.Equal(t, "custom", i.Name())
	})
}

func TestLoggingInterceptor(t *testing.T) {
	t.Run("NewLoggingInterceptor defaults nil logger", func(t *testing.T) {
		i := NewLoggingInterceptor(nil)

		assert.NotNil(t, i)
		assert.NotNil(t, i.logger)
	})

	t.Run("passes message through and returns handler result", func(t *testing.T) {
		i := NewLoggingInterceptor(nil)
		handler := &mockHandler{}
		msg := testMessage("sensors/1")

		handler.On("Handle", mock.Anything, msg).Return(nil)

		err := i.Intercept(context.Background(), msg, handler)

		assert.NoError(t, err)
		handler.AssertExpectations(t)
	})

	t.Run("returns handler error", func(t *testing.T) {
		i := NewLoggingInterceptor(nil)
		handler := &mockHandler{}
		msg := testMessage("sensors/1")
		sendErr := errors.New("send failed")

		handler.On("Handle", mock.Anything, msg).Return(sendErr)

		err := i.Intercept(context.Background(), msg, handler)

		assert.Equal(t, sendErr, err)
	})

	t.Run("Name identifies interceptor", func(t *testing.T) {
		assert.Equal(t, "LoggingInterceptor", NewLoggingInterceptor(nil).Name())
	})
}

func TestMetricsInterceptor(t *testing.T) {
	t.Run("records successful delivery", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		i := NewMetricsInterceptor(collector)
		handler := &mockHandler{}
		msg := testMessage("sensors/1")

		handler.On("Handle", mock.Anything, msg).Return(nil)
		collector.On("RecordPublish", "sensors/1", mock.Anything, true).Return()

		err := i.Intercept(context.Background(), msg, handler)

		assert.NoError(t, err)
		collector.AssertExpectations(t)
	})

	t.Run("records failed delivery", func(t *testing.T) {
		collector := &mockMetricsCollector{}
		i := NewMetricsInterceptor(collector)
		handler := &mockHandler{}
		msg := testMessage("sensors/1")

		handler.On("Handle", mock.Anything, msg).Return(errors.New("send failed"))
		collector.On("RecordPublish", "sensors/1", mock.Anything, false).Return()

		err := i.Intercept(context.Background(), msg, handler)

		assert.Error(t, err)
		collector.AssertExpectations(t)
	})

	t.Run("Name identifies interceptor", func(t *testing.T) {
		assert.Equal(t, "MetricsInterceptor", NewMetricsInterceptor(nil).Name())
	})
}

func TestTimeoutInterceptor(t *testing.T) {
	t.Run("applies deadline to handler context", func(t *testing.T) {
		i := NewTimeoutInterceptor(50 * time.Millisecond)

		var deadlineSet bool
		handler := PublishHandlerFunc(func(ctx context.Context, msg contracts.Message) error {
			_, deadlineSet = ctx.Deadline()
			return nil
		})

		err := i.Intercept(context.Background(), testMessage("sensors/1"), handler)

		assert.NoError(t, err)
		assert.True(t, deadlineSet)
	})

	t.Run("cancels slow handler", func(t *testing.T) {
		i := NewTimeoutInterceptor(20 * time.Millisecond)

		handler := PublishHandlerFunc(func(ctx context.Context, msg contracts.Message) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		})

		err := i.Intercept(context.Background(), testMessage("sensors/1"), handler)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Name identifies interceptor", func(t *testing.T) {
		assert.Equal(t, "TimeoutInterceptor", NewTimeoutInterceptor(time.Second).Name())
	})
}
