package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/mqmate-go/contracts"
)

// ConnectionManager owns the single Transport instance, tracks connection
// state and fans out lifecycle events. It is the authority on whether a send
// is possible right now. Connection retry and backoff belong to the
// Transport; the manager only reflects what the Transport reports.
type ConnectionManager struct {
	mu        sync.RWMutex
	transport Transport
	state     contracts.ConnectionState
	closed    bool

	logger *slog.Logger

	listenersMu sync.RWMutex
	listeners   []StateListener
}

// ConnectionManagerOption configures the ConnectionManager
type ConnectionManagerOption func(*ConnectionManager)

// WithConnectionLogger sets the logger
func WithConnectionLogger(logger *slog.Logger) ConnectionManagerOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// NewConnectionManager creates a manager around the given transport and
// registers itself for the transport's state change events.
func NewConnectionManager(transport Transport, options ...ConnectionManagerOption) *ConnectionManager {
	cm := &ConnectionManager{
		transport: transport,
		state:     contracts.StateDisconnected,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	transport.OnStateChange(cm.handleStateChange)

	return cm
}

// Connect opens the transport connection. It is idempotent: while the
// manager is Connected or Connecting it returns immediately without starting
// a second connection attempt, so concurrent callers cannot create duplicate
// connections.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return ErrNotInitialized
	}
	if cm.state == contracts.StateConnected || cm.state == contracts.StateConnecting {
		cm.mu.Unlock()
		return nil
	}
	cm.state = contracts.StateConnecting
	transport := cm.transport
	cm.mu.Unlock()

	cm.logger.Info("connecting to broker")

	if err := transport.Connect(ctx); err != nil {
		cm.mu.Lock()
		// Roll back only if no transport event moved the state meanwhile
		if cm.state == contracts.StateConnecting {
			cm.state = contracts.StateDisconnected
		}
		cm.mu.Unlock()

		cm.logger.Error("connection attempt failed", "error", err)
		return fmt.Errorf("connect: %w", err)
	}

	return nil
}

// State returns the current connection state
func (cm *ConnectionManager) State() contracts.ConnectionState {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// IsReady reports whether a send is possible right now: the tracked state
// must be Connected and the transport must independently confirm a live
// connection. The double-check guards against stale state.
func (cm *ConnectionManager) IsReady() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.closed || cm.transport == nil {
		return false
	}
	return cm.state == contracts.StateConnected && cm.transport.Connected()
}

// Transport returns the underlying transport as an escape hatch for advanced
// callers. It returns nil after Close.
func (cm *ConnectionManager) Transport() Transport {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.transport
}

// Close ends the transport connection, resets the state to Disconnected and
// clears the held transport reference. Calling Close on an already-closed
// manager is a no-op.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return nil
	}
	cm.closed = true
	cm.state = contracts.StateDisconnected
	transport := cm.transport
	cm.transport = nil
	cm.mu.Unlock()

	cm.logger.Info("connection manager shutting down")

	if transport != nil {
		return transport.Close()
	}
	return nil
}

// AddStateListener registers a listener for lifecycle events
func (cm *ConnectionManager) AddStateListener(listener StateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// RemoveStateListener removes a previously registered listener. Listeners
// are compared by interface equality, so the listener value must be
// comparable.
func (cm *ConnectionManager) RemoveStateListener(listener StateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()

	for i, l := range cm.listeners {
		if l == listener {
			cm.listeners = append(cm.listeners[:i], cm.listeners[i+1:]...)
			break
		}
	}
}

// handleStateChange is the transport event callback. State transitions are
// driven exclusively from here: connected moves the state to Connected,
// disconnected and offline move it to Disconnected, reconnecting and error
// carry information but leave the state to the transport's next report.
func (cm *ConnectionManager) handleStateChange(change contracts.StateChange) {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return
	}

	switch change.Event {
	case contracts.EventConnected:
		cm.state = contracts.StateConnected
	case contracts.EventDisconnected, contracts.EventOffline:
		cm.state = contracts.StateDisconnected
	}
	cm.mu.Unlock()

	switch change.Event {
	case contracts.EventConnected:
		cm.logger.Info("connected to broker")
	case contracts.EventDisconnected:
		cm.logger.Warn("disconnected from broker", "error", change.Err)
	case contracts.EventReconnecting:
		cm.logger.Info("reconnecting to broker", "attempt", change.Attempt)
	case contracts.EventOffline:
		cm.logger.Warn("broker offline", "error", change.Err)
	case contracts.EventError:
		cm.logger.Error("transport error", "error", change.Err)
	}

	cm.notifyListeners(change)
}

// notifyListeners fans the event out, each listener on its own goroutine so
// a slow listener cannot stall the transport callback.
func (cm *ConnectionManager) notifyListeners(change contracts.StateChange) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.listeners {
		go listener.OnStateChange(change)
	}
}
