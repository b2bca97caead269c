package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/mqmate-go/contracts"
	"github.com/glimte/mqmate-go/messaging"
)

const (
	defaultWarningDepth  = 100
	defaultCriticalDepth = 1000

	defaultWarningGoroutines  = 500
	defaultCriticalGoroutines = 1000
)

// ConnectionChecker reports the broker connection state as tracked by the
// connection manager, cross-checked against what the transport itself says.
type ConnectionChecker struct {
	manager *messaging.ConnectionManager
}

// NewConnectionChecker creates a checker for the given connection manager.
func NewConnectionChecker(manager *messaging.ConnectionManager) *ConnectionChecker {
	return &ConnectionChecker{manager: manager}
}

func (c *ConnectionChecker) Name() string {
	return "connection"
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	state := c.manager.State()
	transport := c.manager.Transport()
	// Transport() is nil once the manager is closed.
	transportUp := transport != nil && transport.Connected()
	result.Details["state"] = state.String()
	result.Details["transport_connected"] = transportUp

	switch {
	case state == contracts.StateConnected && transportUp:
		result.Status = StatusHealthy
		result.Message = "connection is up"
	case state == contracts.StateConnected:
		// The manager has not yet processed the transport's loss event.
		result.Status = StatusDegraded
		result.Message = "manager reports connected but transport disagrees"
	case state == contracts.StateConnecting:
		result.Status = StatusDegraded
		result.Message = "connection attempt in flight"
	default:
		result.Status = StatusUnhealthy
		result.Message = "disconnected from broker"
	}

	result.Duration = time.Since(start)
	return result
}

// DeliveryQueueChecker watches the pending queue depth. A depth that keeps
// climbing means the broker has been unreachable for longer than the retry
// schedule absorbs.
type DeliveryQueueChecker struct {
	queue         *messaging.DeliveryQueue
	warningDepth  int
	criticalDepth int
}

// NewDeliveryQueueChecker creates a checker with the given depth thresholds.
// Non-positive thresholds fall back to 100 (warning) and 1000 (critical).
func NewDeliveryQueueChecker(queue *messaging.DeliveryQueue, warningDepth, criticalDepth int) *DeliveryQueueChecker {
	if warningDepth <= 0 {
		warningDepth = defaultWarningDepth
	}
	if criticalDepth <= 0 {
		criticalDepth = defaultCriticalDepth
	}
	return &DeliveryQueueChecker{
		queue:         queue,
		warningDepth:  warningDepth,
		criticalDepth: criticalDepth,
	}
}

func (c *DeliveryQueueChecker) Name() string {
	return "delivery_queue"
}

func (c *DeliveryQueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	stats := c.queue.Stats()
	result.Details["depth"] = stats.Depth
	result.Details["enqueued"] = stats.Enqueued
	result.Details["delivered"] = stats.Delivered
	result.Details["retried"] = stats.Retried
	result.Details["dropped"] = stats.Dropped

	switch {
	case stats.Depth >= c.criticalDepth:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%d messages pending delivery", stats.Depth)
	case stats.Depth >= c.warningDepth:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d messages pending delivery", stats.Depth)
	default:
		result.Status = StatusHealthy
		result.Message = "queue is draining normally"
	}

	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker flags runaway goroutine counts, which in this library
// usually mean leaked retry timers or consumer loops.
type GoroutineChecker struct {
	warningCount  int
	criticalCount int
}

// NewGoroutineChecker creates a checker with the given count thresholds.
// Non-positive thresholds fall back to 500 (warning) and 1000 (critical).
func NewGoroutineChecker(warningCount, criticalCount int) *GoroutineChecker {
	if warningCount <= 0 {
		warningCount = defaultWarningGoroutines
	}
	if criticalCount <= 0 {
		criticalCount = defaultCriticalGoroutines
	}
	return &GoroutineChecker{
		warningCount:  warningCount,
		criticalCount: criticalCount,
	}
}

func (c *GoroutineChecker) Name() string {
	return "runtime"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	goroutines := runtime.NumGoroutine()
	result.Details["goroutines"] = goroutines
	result.Details["memory_sys_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC

	switch {
	case goroutines >= c.criticalCount:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines >= c.warningCount:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}
