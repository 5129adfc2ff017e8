package permission

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/penguintechinc/waddlebot-router/internal/logging"
)

// Revoker answers whether a scope-envelope jti has been revoked.
type Revoker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	Close()
}

// MemoryRevocationList is a process-local Revoker with background cleanup
// of expired entries.
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	cancel  context.CancelFunc
}

// NewMemoryRevocationList creates a revocation list that sweeps expired
// entries every cleanupInterval (capped at one minute).
func NewMemoryRevocationList(cleanupInterval time.Duration) *MemoryRevocationList {
	if cleanupInterval <= 0 || cleanupInterval > time.Minute {
		cleanupInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &MemoryRevocationList{entries: make(map[string]time.Time), cancel: cancel}
	go l.sweep(ctx, cleanupInterval)
	return l
}

func (l *MemoryRevocationList) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for jti, expiry := range l.entries {
				if now.After(expiry) {
					delete(l.entries, jti)
				}
			}
			l.mu.Unlock()
		}
	}
}

// IsRevoked reports whether jti is on the list and not yet expired.
func (l *MemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, ok := l.entries[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(l.entries, jti)
		return false, nil
	}
	return true, nil
}

// Revoke adds jti to the list for ttl.
func (l *MemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	l.mu.Lock()
	l.entries[jti] = time.Now().Add(ttl)
	l.mu.Unlock()
	return nil
}

// Close stops the cleanup goroutine.
func (l *MemoryRevocationList) Close() {
	l.cancel()
}

const redisRevocationPrefix = "router:revoked:"

// RedisRevocationList is a Redis-backed Revoker shared across replicas.
// It fails open: a lookup error is logged and treated as "not revoked"
// rather than blocking every dispatch on a Redis outage.
type RedisRevocationList struct {
	client *redis.Client
}

// NewRedisRevocationList wraps a Redis client as a shared revocation list.
func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

// IsRevoked checks Redis for the jti key, failing open on error.
func (l *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.client.Exists(ctx, redisRevocationPrefix+jti).Result()
	if err != nil {
		logging.Warn("revocation list lookup failed, failing open", zap.String("jti", jti), zap.Error(err))
		return false, nil
	}
	return n > 0, nil
}

// Revoke stores jti in Redis with the given TTL.
func (l *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return l.client.Set(ctx, redisRevocationPrefix+jti, "1", ttl).Err()
}

// Close is a no-op; the Redis client is owned by the caller.
func (l *RedisRevocationList) Close() {}
