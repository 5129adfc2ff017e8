// Package retry implements the router's exponential-backoff retry policy
// for adapter calls, on top of cenkalti/backoff/v4. Only transient errors
// from the router's taxonomy are retried; the circuit breaker wraps this
// policy, not the other way around, so retries within one dispatch never
// reset breaker counters.
package retry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Policy implements retry with exponential backoff and jitter over any
// adapter call returning (*types.ExecuteResponse, error).
type Policy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Metrics           *Metrics
}

// Metrics tracks retry statistics for one adapter endpoint.
type Metrics struct {
	Calls     atomic.Int64
	Retries   atomic.Int64
	Successes atomic.Int64
	Failures  atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Calls     int64 `json:"calls"`
	Retries   int64 `json:"retries"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Calls:     m.Calls.Load(),
		Retries:   m.Retries.Load(),
		Successes: m.Successes.Load(),
		Failures:  m.Failures.Load(),
	}
}

// NewPolicy builds a Policy from the router's retry configuration.
func NewPolicy(cfg config.RetryConfig) *Policy {
	p := &Policy{
		MaxRetries:        cfg.MaxRetries,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
		Metrics:           &Metrics{},
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = 10 * time.Second
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = 2.0
	}
	return p
}

func (p *Policy) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.Multiplier = p.BackoffMultiplier
	eb.MaxElapsedTime = 0 // bounded by MaxRetries below, not wall-clock
	return backoff.WithMaxRetries(eb, uint64(p.MaxRetries))
}

// Execute runs fn, retrying on rterrors.RouterError values whose Class is
// transient. Policy errors, input errors, permanent errors and plain
// (non-RouterError) errors are never retried. The request id carried inside
// fn's closure stays stable across attempts so downstream adapters can
// deduplicate.
func (p *Policy) Execute(ctx context.Context, fn func(context.Context) (*types.ExecuteResponse, error)) (*types.ExecuteResponse, error) {
	p.Metrics.Calls.Add(1)

	attempt := 0
	operation := func() (*types.ExecuteResponse, error) {
		if attempt > 0 {
			p.Metrics.Retries.Add(1)
		}
		attempt++

		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		if re, ok := rterrors.As(err); ok && !re.Retryable() {
			return nil, backoff.Permanent(err)
		}
		if _, ok := rterrors.As(err); !ok {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	resp, err := backoff.RetryWithData(operation, backoff.WithContext(p.newBackOff(), ctx))
	if err != nil {
		p.Metrics.Failures.Add(1)
		return nil, err
	}
	p.Metrics.Successes.Add(1)
	return resp, nil
}
