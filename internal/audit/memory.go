package audit

import (
	"context"
	"sync"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// MemoryBackend keeps audit records in a ring buffer, used for tests and
// for the admin surface's recent-activity view when Postgres isn't wired.
type MemoryBackend struct {
	mu      sync.Mutex
	records []types.AuditRecord
	cap     int
}

// NewMemoryBackend creates a backend that retains at most capacity records,
// dropping the oldest on overflow.
func NewMemoryBackend(capacity int) *MemoryBackend {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryBackend{cap: capacity}
}

// Write appends batch to the ring buffer.
func (b *MemoryBackend) Write(ctx context.Context, batch []types.AuditRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, batch...)
	if over := len(b.records) - b.cap; over > 0 {
		b.records = b.records[over:]
	}
	return nil
}

// Close is a no-op; the buffer lives in memory.
func (b *MemoryBackend) Close() error { return nil }

// All returns a copy of every retained record, oldest first.
func (b *MemoryBackend) All() []types.AuditRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.AuditRecord, len(b.records))
	copy(out, b.records)
	return out
}
