package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/glimte/mqmate-go/messaging"
)

// flakyBroker fails a fixed number of calls before succeeding.
type flakyBroker struct {
	connectFailures   int
	connectCalls      int
	subscribeFailures int
	subscribeCalls    int
}

func (b *flakyBroker) Connect(ctx context.Context) error {
	b.connectCalls++
	if b.connectCalls <= b.connectFailures {
		return errors.New("connection refused")
	}
	return nil
}

func (b *flakyBroker) Subscribe(ctx context.Context, handler messaging.MessageHandler, subscriptions ...contracts.Subscription) ([]contracts.Grant, error) {
	b.subscribeCalls++
	if b.subscribeCalls <= b.subscribeFailures {
		return nil, messaging.ErrNotReady
	}
	grants := make([]contracts.Grant, 0, len(subscriptions))
	for _, sub := range subscriptions {
		grants = append(grants, contracts.Grant{TopicFilter: sub.TopicFilter, QoS: sub.QoS})
	}
	return grants, nil
}

func retryTestConfig() *Config {
	cfg := defaultConfig()
	cfg.Broker.ConnectRetries = 2
	cfg.Broker.ConnectRetryDelayMS = 5
	return cfg
}

func TestConnectWithRetry(t *testing.T) {
	t.Run("returns once a dial attempt succeeds", func(t *testing.T) {
		broker := &flakyBroker{connectFailures: 2}

		err := connectWithRetry(context.Background(), broker, retryTestConfig())

		require.NoError(t, err)
		assert.Equal(t, 3, broker.connectCalls)
	})

	t.Run("gives up after the configured retries", func(t *testing.T) {
		broker := &flakyBroker{connectFailures: 10}

		err := connectWithRetry(context.Background(), broker, retryTestConfig())

		require.Error(t, err)
		assert.Equal(t, 3, broker.connectCalls) // first attempt plus two retries
	})

	t.Run("zero retries means a single attempt", func(t *testing.T) {
		cfg := retryTestConfig()
		cfg.Broker.ConnectRetries = 0
		broker := &flakyBroker{connectFailures: 10}

		err := connectWithRetry(context.Background(), broker, cfg)

		require.Error(t, err)
		assert.Equal(t, 1, broker.connectCalls)
	})

	t.Run("cancelled context stops the attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		broker := &flakyBroker{connectFailures: 10}

		err := connectWithRetry(ctx, broker, retryTestConfig())

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, broker.connectCalls)
	})
}

func TestSubscribeWithRetry(t *testing.T) {
	handler := func(topic string, payload []byte) {}
	subs := []contracts.Subscription{{TopicFilter: "sensors/+/temperature", QoS: contracts.AtLeastOnce}}

	t.Run("registers on the first attempt when ready", func(t *testing.T) {
		broker := &flakyBroker{}

		grants, err := subscribeWithRetry(context.Background(), broker, handler, subs)

		require.NoError(t, err)
		require.Len(t, grants, 1)
		assert.Equal(t, "sensors/+/temperature", grants[0].TopicFilter)
		assert.Equal(t, 1, broker.subscribeCalls)
	})

	t.Run("retries a registration that raced a drop", func(t *testing.T) {
		broker := &flakyBroker{subscribeFailures: 1}

		grants, err := subscribeWithRetry(context.Background(), broker, handler, subs)

		require.NoError(t, err)
		assert.Len(t, grants, 1)
		assert.Equal(t, 2, broker.subscribeCalls)
	})

	t.Run("cancelled context stops the attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		broker := &flakyBroker{subscribeFailures: 10}

		grants, err := subscribeWithRetry(ctx, broker, handler, subs)

		require.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, grants)
	})
}
