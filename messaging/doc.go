// Package messaging provides the connection supervision and delivery engine
// at the core of mqmate.
//
// This package implements the resilient publishing pipeline:
//   - ConnectionManager: owns the single Transport, tracks connection state,
//     and fans out lifecycle events to registered listeners
//   - DeliveryQueue: holds messages that cannot be sent right now and retries
//     them with linear backoff once the connection returns
//   - Receipt: the exactly-once outcome bound to every accepted publish
//   - Transport: the capability interface concrete brokers implement
//
// Key features:
//   - Publishes submitted while disconnected are queued, not rejected
//   - Flush on every connected event, with snapshot semantics so a message is
//     attempted at most once per pass
//   - Retry ceiling with terminal failure reporting through the Receipt
//   - Thread-safe implementations suitable for concurrent use
//
// Example usage:
//
//	manager := messaging.NewConnectionManager(transport)
//	queue := messaging.NewDeliveryQueue(transport, manager)
//	manager.AddStateListener(queue)
//
//	if err := manager.Connect(ctx); err != nil {
//	    return err
//	}
//
//	receipt, err := queue.Publish(ctx, contracts.NewMessage("sensors/1", payload, opts))
//	if err != nil {
//	    // direct send failed; the receipt still tracks the queued retry
//	}
//	if err := receipt.Wait(ctx); err != nil {
//	    // delivery permanently failed
//	}
//
// The messaging package integrates with the interceptors package so logging,
// metrics and timeout enforcement observe every delivery attempt.
package messaging
