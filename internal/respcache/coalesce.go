package respcache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/types"
	"golang.org/x/sync/singleflight"
)

// CoalesceStats is a point-in-time view of single-flight counters.
type CoalesceStats struct {
	GroupsCreated     int64 `json:"groups_created"`
	RequestsCoalesced int64 `json:"requests_coalesced"`
	Timeouts          int64 `json:"timeouts"`
	InFlight          int64 `json:"in_flight"`
}

// ResponseCache combines the LRU cache with single-flight coalescing: for a
// given fingerprint, at most one adapter execution is in progress, and late
// arrivals attach to the in-flight result instead of dispatching again.
type ResponseCache struct {
	cache   *Cache
	group   singleflight.Group
	timeout time.Duration

	groupsCreated     atomic.Int64
	requestsCoalesced atomic.Int64
	timeouts          atomic.Int64
	inFlight          atomic.Int64
}

// NewResponseCache creates a ResponseCache with the given LRU bound and
// single-flight wait timeout.
func NewResponseCache(maxEntries int, singleFlightTimeout time.Duration) *ResponseCache {
	if singleFlightTimeout <= 0 {
		singleFlightTimeout = 30 * time.Second
	}
	return &ResponseCache{
		cache:   NewCache(maxEntries),
		timeout: singleFlightTimeout,
	}
}

// Get returns a cached, non-expired response for fingerprint.
func (rc *ResponseCache) Get(fingerprint string) (*types.ExecuteResponse, bool) {
	e, ok := rc.cache.Get(fingerprint)
	if !ok {
		return nil, false
	}
	return e.Response, true
}

// Execute looks up fingerprint; on a miss it runs fn via singleflight so
// concurrent callers for the same fingerprint share one adapter execution.
// shared reports whether this caller attached to another caller's in-flight
// execution rather than triggering it. cacheFailures controls whether an
// unsuccessful response gets stored for future hits.
func (rc *ResponseCache) Execute(ctx context.Context, fingerprint string, ttl time.Duration, cacheFailures bool, fn func(context.Context) (*types.ExecuteResponse, error)) (resp *types.ExecuteResponse, cacheHit bool, shared bool, err error) {
	if e, ok := rc.cache.Get(fingerprint); ok {
		return e.Response, true, false, nil
	}

	rc.inFlight.Add(1)
	defer rc.inFlight.Add(-1)

	// Detach from caller cancellation so one event's deadline doesn't cancel
	// a shared in-flight execution that other events are waiting on.
	detached := context.WithoutCancel(ctx)

	// singleflight marks the leader as Shared too once others joined, so the
	// leader is recognised by having run fn itself.
	var led bool
	ch := rc.group.DoChan(fingerprint, func() (interface{}, error) {
		led = true
		rc.groupsCreated.Add(1)
		r, err := fn(detached)
		if err != nil {
			return nil, err
		}
		if r.Success || cacheFailures {
			rc.cache.Set(fingerprint, r, ttl)
		}
		return r, nil
	})

	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, false, false, result.Err
		}
		resp = result.Val.(*types.ExecuteResponse)
		joined := !led
		if joined {
			rc.requestsCoalesced.Add(1)
		}
		return resp, false, joined, nil

	case <-time.After(rc.timeout):
		rc.group.Forget(fingerprint)
		rc.timeouts.Add(1)
		r, err := fn(ctx)
		return r, false, false, err

	case <-ctx.Done():
		return nil, false, false, ctx.Err()
	}
}

// Invalidate drops a fingerprint from the cache, e.g. after an adapter marks
// its response as non-cacheable.
func (rc *ResponseCache) Invalidate(fingerprint string) {
	rc.cache.Invalidate(fingerprint)
}

// Stats returns the underlying cache's counters.
func (rc *ResponseCache) Stats() Stats {
	return rc.cache.Stats()
}

// CoalesceStats returns single-flight counters.
func (rc *ResponseCache) CoalesceStats() CoalesceStats {
	return CoalesceStats{
		GroupsCreated:     rc.groupsCreated.Load(),
		RequestsCoalesced: rc.requestsCoalesced.Load(),
		Timeouts:          rc.timeouts.Load(),
		InFlight:          rc.inFlight.Load(),
	}
}
