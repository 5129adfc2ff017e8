package adapter

import (
	"sync/atomic"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// HealthTracker implements the advisory health counters shared by every
// adapter variant: consecutive failures increment, any success resets them.
// This is independent of circuit-breaker state — an adapter can report
// unhealthy while its breaker is still closed, and vice versa.
type HealthTracker struct {
	consecutiveFailures atomic.Int32
	threshold           int32
}

// NewHealthTracker creates a tracker using threshold consecutive failures to
// flip from degraded to unhealthy. A threshold of 0 uses the default of 3.
func NewHealthTracker(threshold int) *HealthTracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &HealthTracker{threshold: int32(threshold)}
}

// RecordSuccess resets the consecutive-failure counter.
func (h *HealthTracker) RecordSuccess() {
	h.consecutiveFailures.Store(0)
}

// RecordFailure increments the consecutive-failure counter.
func (h *HealthTracker) RecordFailure() {
	h.consecutiveFailures.Add(1)
}

// Status derives the advisory health status from the current streak:
// healthy at zero, degraded below threshold, unhealthy at or above it.
func (h *HealthTracker) Status() types.HealthStatus {
	n := h.consecutiveFailures.Load()
	switch {
	case n == 0:
		return types.HealthHealthy
	case n < h.threshold:
		return types.HealthDegraded
	default:
		return types.HealthUnhealthy
	}
}
