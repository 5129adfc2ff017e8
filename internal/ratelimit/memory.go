package ratelimit

import (
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// bucket wraps golang.org/x/time/rate.Limiter, the same token-bucket
// primitive the teacher's other middleware reaches for, adding only the
// one thing it doesn't expose: a last-used timestamp for Sweep.
type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func newBucket(capacity float64, tokensPerSecond float64, now time.Time) *bucket {
	return &bucket{
		limiter:  rate.NewLimiter(rate.Limit(tokensPerSecond), int(capacity)),
		lastUsed: now,
	}
}

// MemoryStore is the process-local BucketStore. It is the default store;
// RateLimit.Store == "shared" swaps in RedisStore for multi-replica
// deployments.
type MemoryStore struct {
	buckets *shardedMap[*bucket]
}

// NewMemoryStore creates an empty process-local store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: newShardedMap[*bucket]()}
}

// TryConsumeAll attempts to take one token from every bucket named in keys.
// Either all buckets are decremented or none are: shard locks are acquired
// once per distinct shard, in ascending shard-index order, so concurrent
// multi-key calls never deadlock against each other and two keys within the
// same call that happen to hash to the same shard never double-lock it (a
// plain sync.Mutex isn't reentrant). Locks are held only long enough to
// reserve-or-cancel against each bucket's rate.Limiter — no adapter or
// store I/O ever happens while a shard lock is held.
//
// rate.Limiter.ReserveN never blocks and never fails a reservation that
// fits within the burst; it only reports, via Reservation.DelayFrom, how
// long the caller would have to wait for the token to actually become
// available. A reservation with a positive delay means the bucket has no
// token right now, so it's canceled immediately (returning its token)
// instead of committed. All-or-nothing is enforced by canceling every
// already-committed reservation from earlier in the same call the moment
// one bucket can't be satisfied.
func (m *MemoryStore) TryConsumeAll(keys []BucketKey) (trippedIndex int, remaining []int) {
	now := time.Now()
	remaining = make([]int, len(keys))

	shards := make([]*shard[*bucket], len(keys))
	shardIdx := make([]int, len(keys))
	for i, k := range keys {
		idx := m.buckets.shardIndex(k.Key)
		shardIdx[i] = idx
		shards[i] = &m.buckets.shards[idx]
	}

	seen := make(map[int]bool, len(keys))
	uniq := make([]int, 0, len(keys))
	for _, idx := range shardIdx {
		if !seen[idx] {
			seen[idx] = true
			uniq = append(uniq, idx)
		}
	}
	sort.Ints(uniq)
	for _, idx := range uniq {
		m.buckets.shards[idx].mu.Lock()
	}
	defer func() {
		for _, idx := range uniq {
			m.buckets.shards[idx].mu.Unlock()
		}
	}()

	bs := make([]*bucket, len(keys))
	for i, k := range keys {
		s := shards[i]
		b, ok := s.items[k.Key]
		if !ok {
			b = newBucket(float64(k.Burst), float64(k.Rate)/k.Period.Seconds(), now)
			s.items[k.Key] = b
		}
		b.lastUsed = now
		bs[i] = b
	}

	reservations := make([]*rate.Reservation, len(keys))
	for i, b := range bs {
		r := b.limiter.ReserveN(now, 1)
		reservations[i] = r
		if !r.OK() || r.DelayFrom(now) > 0 {
			if r.OK() {
				r.CancelAt(now)
			}
			for j := 0; j < i; j++ {
				reservations[j].CancelAt(now)
			}
			return i, remaining
		}
	}

	for i, b := range bs {
		remaining[i] = int(b.limiter.TokensAt(now))
	}
	return -1, remaining
}

// Sweep drops buckets idle for longer than maxIdle, bounding memory for a
// long-lived process with a churning set of communities/principals.
func (m *MemoryStore) Sweep(maxIdle time.Duration) {
	now := time.Now()
	m.buckets.deleteFunc(func(_ string, b *bucket) bool {
		return now.Sub(b.lastUsed) > maxIdle
	})
}
