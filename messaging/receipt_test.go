package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/stretchr/testify/assert"
)

func TestReceipt(t *testing.T) {
	msg := contracts.NewMessage("sensors/1", []byte("42"), contracts.PublishOptions{QoS: contracts.AtLeastOnce})

	t.Run("new receipt is unresolved", func(t *testing.T) {
		r := newReceipt(msg)

		assert.False(t, r.Resolved())
		assert.NoError(t, r.Err())
		assert.Equal(t, msg.ID, r.MessageID())
		assert.Equal(t, "sensors/1", r.Topic())

		select {
		case <-r.Done():
			t.Fatal("done channel closed before resolution")
		default:
		}
	})

	t.Run("resolve closes done and records outcome", func(t *testing.T) {
		r := newReceipt(msg)
		failure := errors.New("broker rejected")

		assert.True(t, r.resolve(failure))

		select {
		case <-r.Done():
		case <-time.After(time.Second):
			t.Fatal("done channel not closed")
		}

		assert.True(t, r.Resolved())
		assert.Equal(t, failure, r.Err())
	})

	t.Run("resolve fires exactly once", func(t *testing.T) {
		r := newReceipt(msg)

		assert.True(t, r.resolve(nil))
		assert.False(t, r.resolve(errors.New("late failure")))

		// First outcome wins
		assert.NoError(t, r.Err())
	})

	t.Run("resolved receipt reports success immediately", func(t *testing.T) {
		r := newResolvedReceipt(msg)

		assert.True(t, r.Resolved())
		assert.NoError(t, r.Err())

		select {
		case <-r.Done():
		default:
			t.Fatal("done channel should already be closed")
		}
	})

	t.Run("Wait returns outcome once resolved", func(t *testing.T) {
		r := newReceipt(msg)
		failure := errors.New("permanent failure")

		go func() {
			time.Sleep(10 * time.Millisecond)
			r.resolve(failure)
		}()

		err := r.Wait(context.Background())
		assert.Equal(t, failure, err)
	})

	t.Run("Wait respects context cancellation", func(t *testing.T) {
		r := newReceipt(msg)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := r.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, r.Resolved())
	})

	t.Run("concurrent resolvers settle on one outcome", func(t *testing.T) {
		r := newReceipt(msg)

		results := make(chan bool, 2)
		go func() { results <- r.resolve(nil) }()
		go func() { results <- r.resolve(errors.New("failed")) }()

		first := <-results
		second := <-results
		assert.NotEqual(t, first, second, "exactly one resolve call should win")
	})
}
