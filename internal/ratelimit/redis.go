package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements continuous-refill token bucket consumption for
// N keys atomically: either every key has >=1 token and all are decremented,
// or none are. State is stored as a Redis hash per key (tokens, last_fill_ms).
//
// KEYS = bucket keys
// ARGV = nowMs, then one (capacity, ratePerMs) pair per key
var tokenBucketScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local n = #KEYS
local tokens = {}

for i = 1, n do
    local capacity = tonumber(ARGV[1 + (i-1)*2 + 1])
    local ratePerMs = tonumber(ARGV[1 + (i-1)*2 + 2])
    local h = redis.call('HMGET', KEYS[i], 'tokens', 'last_fill_ms')
    local t = tonumber(h[1])
    local last = tonumber(h[2])
    if t == nil then
        t = capacity
        last = now
    end
    local elapsed = now - last
    if elapsed > 0 then
        t = math.min(capacity, t + elapsed * ratePerMs)
    end
    tokens[i] = t
end

for i = 1, n do
    if tokens[i] < 1 then
        return {i - 1, -1}
    end
end

for i = 1, n do
    tokens[i] = tokens[i] - 1
    redis.call('HMSET', KEYS[i], 'tokens', tokens[i], 'last_fill_ms', now)
    redis.call('PEXPIRE', KEYS[i], 3600000)
end

return {-1, math.floor(tokens[n])}
`)

// RedisStore is the shared BucketStore used across router replicas. It
// exposes the same compare-and-decrement atomicity as MemoryStore but backed
// by a single authoritative counter in Redis.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	timeout  time.Duration
	failOpen bool
}

// NewRedisStore creates a shared rate-limit store. failOpen controls the
// behavior when Redis itself is unreachable: true allows the request
// through, false denies it (the router's default policy).
func NewRedisStore(client *redis.Client, failOpen bool) *RedisStore {
	return &RedisStore{client: client, prefix: "wb:rl:", timeout: 100 * time.Millisecond, failOpen: failOpen}
}

// TryConsumeAll mirrors MemoryStore.TryConsumeAll but executes atomically in
// Redis via a single Lua invocation. On store unavailability it returns
// storeErr non-nil; the caller applies the configured fail-open/fail-closed
// policy.
func (s *RedisStore) TryConsumeAll(ctx context.Context, keys []BucketKey) (trippedIndex int, remaining int, storeErr error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	redisKeys := make([]string, len(keys))
	argv := make([]any, 0, 1+2*len(keys))
	argv = append(argv, time.Now().UnixMilli())
	for i, k := range keys {
		redisKeys[i] = s.prefix + k.Key
		ratePerMs := float64(k.Rate) / k.Period.Seconds() / 1000
		argv = append(argv, k.Burst, ratePerMs)
	}

	res, err := tokenBucketScript.Run(ctx, s.client, redisKeys, argv...).Int64Slice()
	if err != nil {
		return -1, 0, err
	}
	return int(res[0]), int(res[1]), nil
}

// FailOpen reports the configured behavior for store unavailability.
func (s *RedisStore) FailOpen() bool {
	return s.failOpen
}
