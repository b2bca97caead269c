package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingListener collects lifecycle events on a channel
type recordingListener struct {
	events chan contracts.StateChange
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan contracts.StateChange, 16)}
}

func (l *recordingListener) OnStateChange(change contracts.StateChange) {
	l.events <- change
}

func (l *recordingListener) next(t *testing.T) contracts.StateChange {
	t.Helper()
	select {
	case change := <-l.events:
		return change
	case <-time.After(time.Second):
		t.Fatal("no event received in time")
		return contracts.StateChange{}
	}
}

func (l *recordingListener) expectNone(t *testing.T) {
	t.Helper()
	select {
	case change := <-l.events:
		t.Fatalf("unexpected event: %v", change.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewConnectionManager(t *testing.T) {
	t.Run("starts disconnected and owns the transport callback", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		assert.Equal(t, contracts.StateDisconnected, cm.State())
		assert.False(t, cm.IsReady())
		assert.NotNil(t, transport.stateFn)
		assert.Equal(t, transport, cm.Transport())
	})
}

func TestConnectionManagerConnect(t *testing.T) {
	t.Run("dials the transport and moves to connecting", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		err := cm.Connect(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, transport.totalConnectCalls())
		// Connected is reported by the transport event, not by Connect
		assert.Equal(t, contracts.StateConnecting, cm.State())
	})

	t.Run("is idempotent while connecting", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		require.NoError(t, cm.Connect(context.Background()))
		require.NoError(t, cm.Connect(context.Background()))

		assert.Equal(t, 1, transport.totalConnectCalls(), "no second connection attempt")
	})

	t.Run("is idempotent while connected", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		require.NoError(t, cm.Connect(context.Background()))
		transport.connectUp()
		require.Equal(t, contracts.StateConnected, cm.State())

		require.NoError(t, cm.Connect(context.Background()))
		assert.Equal(t, 1, transport.totalConnectCalls())
	})

	t.Run("rolls back to disconnected on dial failure", func(t *testing.T) {
		transport := newFakeTransport()
		transport.connectErr = errors.New("dial tcp: connection refused")
		cm := NewConnectionManager(transport)

		err := cm.Connect(context.Background())

		require.Error(t, err)
		assert.ErrorContains(t, err, "connection refused")
		assert.Equal(t, contracts.StateDisconnected, cm.State())

		// A later attempt is allowed again
		transport.connectErr = nil
		require.NoError(t, cm.Connect(context.Background()))
		assert.Equal(t, 2, transport.totalConnectCalls())
	})

	t.Run("fails after close", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		require.NoError(t, cm.Close())

		err := cm.Connect(context.Background())
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}

func TestConnectionManagerStateTransitions(t *testing.T) {
	setup := func(t *testing.T) (*fakeTransport, *ConnectionManager) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)
		require.NoError(t, cm.Connect(context.Background()))
		transport.connectUp()
		require.Equal(t, contracts.StateConnected, cm.State())
		return transport, cm
	}

	t.Run("connected event moves state to connected", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		transport.connectUp()

		assert.Equal(t, contracts.StateConnected, cm.State())
	})

	t.Run("disconnected event moves state to disconnected", func(t *testing.T) {
		transport, cm := setup(t)

		transport.dropConnection(errors.New("connection reset"))

		assert.Equal(t, contracts.StateDisconnected, cm.State())
	})

	t.Run("offline event moves state to disconnected", func(t *testing.T) {
		transport, cm := setup(t)

		transport.setConnected(false)
		transport.emit(contracts.NewStateChange(contracts.EventOffline))

		assert.Equal(t, contracts.StateDisconnected, cm.State())
	})

	t.Run("reconnecting event leaves state alone", func(t *testing.T) {
		transport, cm := setup(t)

		transport.emit(contracts.StateChange{Event: contracts.EventReconnecting, Attempt: 3, Timestamp: time.Now()})

		assert.Equal(t, contracts.StateConnected, cm.State())
	})

	t.Run("error event leaves state alone", func(t *testing.T) {
		transport, cm := setup(t)

		change := contracts.NewStateChange(contracts.EventError)
		change.Err = errors.New("protocol violation")
		transport.emit(change)

		assert.Equal(t, contracts.StateConnected, cm.State())
	})

	t.Run("events after close are ignored", func(t *testing.T) {
		transport, cm := setup(t)
		listener := newRecordingListener()
		cm.AddStateListener(listener)

		require.NoError(t, cm.Close())
		transport.emit(contracts.NewStateChange(contracts.EventConnected))

		assert.Equal(t, contracts.StateDisconnected, cm.State())
		listener.expectNone(t)
	})
}

func TestConnectionManagerIsReady(t *testing.T) {
	t.Run("requires connected state and live transport", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		require.NoError(t, cm.Connect(context.Background()))
		assert.False(t, cm.IsReady(), "connecting is not ready")

		transport.connectUp()
		assert.True(t, cm.IsReady())
	})

	t.Run("stale connected state is not ready", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		require.NoError(t, cm.Connect(context.Background()))
		transport.connectUp()
		require.True(t, cm.IsReady())

		// Transport lost the socket but no event has arrived yet
		transport.setConnected(false)

		assert.False(t, cm.IsReady())
		assert.Equal(t, contracts.StateConnected, cm.State())
	})

	t.Run("not ready after close", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)
		require.NoError(t, cm.Connect(context.Background()))
		transport.connectUp()

		require.NoError(t, cm.Close())

		assert.False(t, cm.IsReady())
	})
}

func TestConnectionManagerClose(t *testing.T) {
	t.Run("closes transport and clears the handle", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)
		require.NoError(t, cm.Connect(context.Background()))
		transport.connectUp()

		require.NoError(t, cm.Close())

		assert.True(t, transport.closed)
		assert.Nil(t, cm.Transport())
		assert.Equal(t, contracts.StateDisconnected, cm.State())
	})

	t.Run("is idempotent", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		require.NoError(t, cm.Close())
		require.NoError(t, cm.Close())
	})
}

func TestConnectionManagerListeners(t *testing.T) {
	t.Run("fans events out to every listener", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		first := newRecordingListener()
		second := newRecordingListener()
		cm.AddStateListener(first)
		cm.AddStateListener(second)

		transport.connectUp()

		assert.Equal(t, contracts.EventConnected, first.next(t).Event)
		assert.Equal(t, contracts.EventConnected, second.next(t).Event)
	})

	t.Run("removed listener stops receiving events", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)

		kept := newRecordingListener()
		removed := newRecordingListener()
		cm.AddStateListener(kept)
		cm.AddStateListener(removed)

		cm.RemoveStateListener(removed)
		transport.connectUp()

		assert.Equal(t, contracts.EventConnected, kept.next(t).Event)
		removed.expectNone(t)
	})

	t.Run("event payload carries the transport error", func(t *testing.T) {
		transport := newFakeTransport()
		cm := NewConnectionManager(transport)
		listener := newRecordingListener()
		cm.AddStateListener(listener)

		cause := errors.New("connection reset by peer")
		transport.dropConnection(cause)

		change := listener.next(t)
		assert.Equal(t, contracts.EventDisconnected, change.Event)
		assert.Equal(t, cause, change.Err)
	})
}
