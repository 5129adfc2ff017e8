// Package ratelimit implements the router's token-bucket rate limiter:
// two buckets per dispatch, (community, module) and (community, principal),
// checked and consumed atomically together.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/redis/go-redis/v9"
)

// BucketKey names a single token bucket and its refill parameters.
type BucketKey struct {
	Key    string
	Rate   int
	Period time.Duration
	Burst  int
}

// Decision is the outcome of a rate-limit check against both buckets.
type Decision struct {
	Allowed       bool
	TrippedBucket string // populated when !Allowed; "module", "principal" or "store-unavailable"
}

// Limiter applies the router's per-dispatch rate-limit classes.
type Limiter struct {
	memory   *MemoryStore
	redis    *RedisStore
	shared   bool
	failOpen bool
	classes  map[string]config.RateLimitClass
}

// New constructs a Limiter from configuration. When cfg.Store == "shared",
// client must be non-nil.
func New(cfg config.RateLimitConfig, client *redis.Client) *Limiter {
	l := &Limiter{
		memory:   NewMemoryStore(),
		shared:   cfg.Store == "shared",
		failOpen: cfg.FailOpen,
		classes:  cfg.Classes,
	}
	if l.shared && client != nil {
		l.redis = NewRedisStore(client, cfg.FailOpen)
	}
	return l
}

// Allow checks the two applicable buckets for a dispatch — (community,
// module) then (community, principal) — using the named rate-limit class.
// Both succeed or neither consumes a token: per spec, a denial never
// reserves tokens from the other bucket.
func (l *Limiter) Allow(ctx context.Context, class, communityID, moduleID, principalID string) (Decision, error) {
	shape, ok := l.classes[class]
	if !ok {
		// No class configured: treat as unlimited.
		return Decision{Allowed: true}, nil
	}

	keys := []BucketKey{
		{Key: fmt.Sprintf("mod:%s:%s", communityID, moduleID), Rate: shape.Rate, Period: shape.Period, Burst: shape.Burst},
		{Key: fmt.Sprintf("usr:%s:%s", communityID, principalID), Rate: shape.Rate, Period: shape.Period, Burst: shape.Burst},
	}
	names := []string{"module", "principal"}

	if l.shared && l.redis != nil {
		idx, _, err := l.redis.TryConsumeAll(ctx, keys)
		if err != nil {
			if l.failOpen {
				return Decision{Allowed: true}, nil
			}
			return Decision{Allowed: false, TrippedBucket: "store-unavailable"}, err
		}
		if idx < 0 {
			return Decision{Allowed: true}, nil
		}
		return Decision{Allowed: false, TrippedBucket: names[idx]}, nil
	}

	idx, _ := l.memory.TryConsumeAll(keys)
	if idx < 0 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, TrippedBucket: names[idx]}, nil
}

// Sweep releases idle process-local buckets; a no-op when the shared store
// is in use.
func (l *Limiter) Sweep(maxIdle time.Duration) {
	if l.memory != nil {
		l.memory.Sweep(maxIdle)
	}
}
