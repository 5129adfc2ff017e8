// Package audit implements the router's append-only decision log: every
// routing, permission, rate-limit, cache and dispatch outcome is recorded
// asynchronously in bounded batches so the hot path never blocks on the
// backing store.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/penguintechinc/waddlebot-router/internal/logging"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Backend persists a batch of audit records. Implementations must not
// retain the slice after Write returns.
type Backend interface {
	Write(ctx context.Context, batch []types.AuditRecord) error
	Close() error
}

// Sink batches audit records in memory and flushes them to a Backend on a
// size or time trigger, matching the buffered-queue shape used elsewhere in
// the router for non-blocking delivery off the hot path.
type Sink struct {
	backend       Backend
	queue         chan types.AuditRecord
	batchSize     int
	flushInterval time.Duration

	enqueued atomic.Int64
	dropped  atomic.Int64
	flushed  atomic.Int64
	errors   atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config controls sink buffering.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// NewSink starts the background flush loop against backend.
func NewSink(backend Backend, cfg Config) *Sink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}

	s := &Sink{
		backend:       backend,
		queue:         make(chan types.AuditRecord, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Record enqueues an audit record without blocking; if the buffer is full
// the record is dropped and counted, never blocking the dispatch path that
// produced it.
func (s *Sink) Record(rec types.AuditRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	select {
	case s.queue <- rec:
		s.enqueued.Add(1)
	default:
		s.dropped.Add(1)
	}
}

// Close drains the queue and stops the background goroutine.
func (s *Sink) Close() error {
	close(s.stopCh)
	<-s.doneCh
	return s.backend.Close()
}

// Stats reports sink counters.
type Stats struct {
	Enqueued, Dropped, Flushed, Errors int64
	QueueLen                           int
}

// Stats returns a snapshot of the sink's counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Enqueued: s.enqueued.Load(),
		Dropped:  s.dropped.Load(),
		Flushed:  s.flushed.Load(),
		Errors:   s.errors.Load(),
		QueueLen: len(s.queue),
	}
}

func (s *Sink) flushLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]types.AuditRecord, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.backend.Write(ctx, batch); err != nil {
			s.errors.Add(1)
			logging.Warn("audit backend write failed", zap.Int("batch_size", len(batch)), zap.Error(err))
		} else {
			s.flushed.Add(int64(len(batch)))
		}
		cancel()
		batch = make([]types.AuditRecord, 0, s.batchSize)
	}

	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopCh:
			for {
				select {
				case rec := <-s.queue:
					batch = append(batch, rec)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
