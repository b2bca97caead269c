package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/glimte/mqmate-go/internal/reliability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport implements Transport for testing: connection state, send
// results and lifecycle events are all driven by the test.
type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	closed       bool
	connectErr   error
	connectCalls int

	sendErr   error   // returned by every Send while set
	sendErrs  []error // per-call results consumed first, nil entries succeed
	sent      []contracts.Message
	sendCalls int

	subscribeErr error
	grants       []contracts.Grant
	subscribed   []contracts.Subscription
	unsubscribed []string

	stateFn func(contracts.StateChange)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, msg contracts.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sendCalls++

	var err error
	if len(f.sendErrs) > 0 {
		err = f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
	} else {
		err = f.sendErr
	}
	if err != nil {
		return err
	}

	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, handler MessageHandler, subscriptions ...contracts.Subscription) ([]contracts.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}

	f.subscribed = append(f.subscribed, subscriptions...)

	if f.grants != nil {
		return f.grants, nil
	}

	// Mirror the request like a broker granting everything as asked
	grants := make([]contracts.Grant, 0, len(subscriptions))
	for _, sub := range subscriptions {
		grants = append(grants, contracts.Grant{TopicFilter: sub.TopicFilter, QoS: sub.QoS})
	}
	return grants, nil
}

func (f *fakeTransport) Unsubscribe(ctx context.Context, filters ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, filters...)
	return nil
}

func (f *fakeTransport) OnStateChange(fn func(contracts.StateChange)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateFn = fn
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

// emit fires a lifecycle event the way a broker callback would
func (f *fakeTransport) emit(change contracts.StateChange) {
	f.mu.Lock()
	fn := f.stateFn
	f.mu.Unlock()

	if fn != nil {
		fn(change)
	}
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) totalSendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

func (f *fakeTransport) totalConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// connectUp moves the fake into the connected state and fires the connected
// event, the way a real transport reports a successful dial.
func (f *fakeTransport) connectUp() {
	f.setConnected(true)
	f.emit(contracts.NewStateChange(contracts.EventConnected))
}

// dropConnection simulates a connection loss reported by the broker.
func (f *fakeTransport) dropConnection(err error) {
	f.setConnected(false)
	change := contracts.NewStateChange(contracts.EventDisconnected)
	change.Err = err
	f.emit(change)
}

func waitResolved(t *testing.T, r *Receipt) error {
	t.Helper()
	select {
	case <-r.Done():
		return r.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("receipt not resolved in time")
		return nil
	}
}

// End-to-end scenarios wiring manager, queue and fake transport together the
// way the client does.

func newWiredQueue(t *testing.T, options ...QueueOption) (*fakeTransport, *ConnectionManager, *DeliveryQueue) {
	t.Helper()

	transport := newFakeTransport()
	manager := NewConnectionManager(transport)
	queue := NewDeliveryQueue(transport, manager, options...)
	manager.AddStateListener(queue)
	return transport, manager, queue
}

func TestDisconnectedPublishDeliveredOnConnect(t *testing.T) {
	transport, manager, queue := newWiredQueue(t)

	require.NoError(t, manager.Connect(context.Background()))

	// The dial succeeded but no connected event has fired yet, so the
	// manager is not ready and the publish is queued.
	transport.setConnected(false)
	msg := contracts.NewMessage("sensors/1", []byte("42"), contracts.PublishOptions{QoS: contracts.AtLeastOnce})

	receipt, err := queue.Publish(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Depth())
	assert.False(t, receipt.Resolved())
	assert.Equal(t, 0, transport.totalSendCalls())

	// Broker comes up: the connected event triggers the flush.
	transport.connectUp()

	assert.NoError(t, waitResolved(t, receipt))
	assert.Equal(t, 0, queue.Depth())
	assert.Equal(t, 1, transport.sentCount())
}

func TestDirectSendFailureQueuesAndResolvesLater(t *testing.T) {
	transport, manager, queue := newWiredQueue(t,
		WithRetryPolicy(reliability.NewLinearBackoff(time.Millisecond, 5)))

	require.NoError(t, manager.Connect(context.Background()))
	transport.connectUp()

	// First send fails, everything after succeeds.
	transport.mu.Lock()
	transport.sendErrs = []error{errors.New("broker unavailable")}
	transport.mu.Unlock()

	msg := contracts.NewMessage("sensors/1", []byte("42"), contracts.PublishOptions{QoS: contracts.AtLeastOnce})
	receipt, err := queue.Publish(context.Background(), msg)

	// The caller sees the first failure synchronously...
	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "sensors/1", pubErr.Topic)

	// ...while the receipt tracks the queued retry to eventual success.
	queue.Flush()
	assert.NoError(t, waitResolved(t, receipt))
	assert.Equal(t, 0, queue.Depth())
}

func TestCloseLeavesQueuedMessagesUnresolved(t *testing.T) {
	transport, manager, queue := newWiredQueue(t)

	require.NoError(t, manager.Connect(context.Background()))
	transport.setConnected(false)

	var receipts []*Receipt
	for i := 0; i < 3; i++ {
		msg := contracts.NewMessage("sensors/1", []byte("42"), contracts.PublishOptions{})
		r, err := queue.Publish(context.Background(), msg)
		require.NoError(t, err)
		receipts = append(receipts, r)
	}
	assert.Equal(t, 3, queue.Depth())

	require.NoError(t, manager.Close())

	assert.Equal(t, contracts.StateDisconnected, manager.State())
	assert.True(t, transport.closed)
	for _, r := range receipts {
		assert.False(t, r.Resolved(), "queued messages stay pending after close")
	}
	assert.Equal(t, 3, queue.Depth())
}

func TestReconnectCycleDeliversBacklog(t *testing.T) {
	transport, manager, queue := newWiredQueue(t)

	require.NoError(t, manager.Connect(context.Background()))
	transport.connectUp()
	require.Eventually(t, manager.IsReady, time.Second, time.Millisecond)

	// Connection drops; publishes start queuing.
	transport.dropConnection(errors.New("connection reset"))
	require.Eventually(t, func() bool { return !manager.IsReady() }, time.Second, time.Millisecond)

	var receipts []*Receipt
	for i := 0; i < 5; i++ {
		msg := contracts.NewMessage("sensors/backlog", []byte("v"), contracts.PublishOptions{})
		r, err := queue.Publish(context.Background(), msg)
		require.NoError(t, err)
		receipts = append(receipts, r)
	}
	assert.Equal(t, 5, queue.Depth())
	assert.Equal(t, 0, transport.totalSendCalls())

	// Transport reconnects on its own and reports it.
	transport.emit(contracts.StateChange{Event: contracts.EventReconnecting, Attempt: 1, Timestamp: time.Now()})
	transport.connectUp()

	for _, r := range receipts {
		assert.NoError(t, waitResolved(t, r))
	}
	assert.Equal(t, 0, queue.Depth())
	assert.Equal(t, 5, transport.sentCount())
}
