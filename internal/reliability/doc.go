// Package reliability provides retry policies for transient failures.
//
// This package implements the retry strategies used across mqmate:
//   - Linear Backoff: delay grows by a fixed step per attempt (delivery queue default)
//   - Exponential Backoff: delay doubles per attempt with an upper bound (reconnect loops)
//   - Fixed Delay: constant delay between attempts
//
// Key features:
//   - Thread-safe implementations suitable for concurrent use
//   - Configurable attempt ceilings and delay bounds
//   - Support for custom error classification (retryable vs non-retryable)
//
// Example usage:
//
//	policy := NewLinearBackoff(time.Second, 5)
//
//	err := Retry(ctx, policy, func() error {
//	    return flakyOperation()
//	})
package reliability
