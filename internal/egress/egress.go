// Package egress fans an ExecuteResponse's resolved targets out to the
// downstream chat platforms, wrapping each target delivery in its own
// circuit breaker and retry policy so one failing platform never blocks or
// cancels delivery to the others.
package egress

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/penguintechinc/waddlebot-router/internal/breaker"
	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/retry"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Target delivers a response's message to one downstream platform.
// Implementations are looked up by types.EgressTarget.Type ("discord",
// "twitch", "slack", "youtube", "kick", ...).
type Target interface {
	Deliver(ctx context.Context, target types.EgressTarget, resp *types.ExecuteResponse) error
}

// Outcome is the event-level result of fanning a response out to its
// targets.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomePartialFailure Outcome = "completed-with-partial-failure"
	OutcomeFailed         Outcome = "failed"
	OutcomeNoTargets      Outcome = "no-targets"
)

// EventContext carries the identifiers the fan-out needs for its aggregate
// audit record; it does not otherwise affect delivery.
type EventContext struct {
	EventID       string
	CorrelationID string
	CommunityID   string
	RouteID       string
}

// TargetResult is one platform's delivery outcome.
type TargetResult struct {
	Target types.EgressTarget
	Err    error
}

// Result is the full fan-out result for one event.
type Result struct {
	Outcome Outcome
	Targets []TargetResult
}

type job struct {
	ctx    context.Context
	target types.EgressTarget
	resp   *types.ExecuteResponse
	result chan TargetResult
}

// Fanout dispatches egress deliveries through a bounded worker pool, one
// breaker+retry pair per platform, grounded on the teacher's webhook
// dispatcher worker-pool shape but generalized from HTTP-only webhook
// events to arbitrary platform Targets.
type Fanout struct {
	mu       sync.RWMutex
	targets  map[string]Target
	breakers *breaker.Registry
	policies map[string]*retry.Policy
	retryCfg config.RetryConfig

	queue   chan *job
	workers int
}

// NewFanout starts cfg.Workers worker goroutines. Targets are registered
// afterward via Register, since platform senders are wired up alongside
// their own configuration.
func NewFanout(cfg config.EgressConfig) *Fanout {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 16
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 2000
	}

	f := &Fanout{
		targets:  make(map[string]Target),
		breakers: breaker.NewRegistry(cfg.Breaker),
		policies: make(map[string]*retry.Policy),
		retryCfg: cfg.Retry,
		queue:    make(chan *job, queueSize),
		workers:  workers,
	}
	for i := 0; i < workers; i++ {
		go f.worker()
	}
	return f
}

// Register installs the Target implementation for a platform. Safe to call
// after NewFanout, before or during traffic.
func (f *Fanout) Register(platform string, t Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets[platform] = t
}

func (f *Fanout) targetFor(platform string) (Target, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.targets[platform]
	return t, ok
}

func (f *Fanout) policyFor(platform string) *retry.Policy {
	f.mu.RLock()
	p, ok := f.policies[platform]
	f.mu.RUnlock()
	if ok {
		return p
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.policies[platform]; ok {
		return p
	}
	p = retry.NewPolicy(f.retryCfg)
	f.policies[platform] = p
	return p
}

// Send fans resp.Targets out concurrently and blocks until every target has
// reported a result or ctx is cancelled. A target that never got a worker
// slot before ctx expired counts as failed for that target, never as a
// silent success.
func (f *Fanout) Send(ctx context.Context, ev EventContext, resp *types.ExecuteResponse) Result {
	if len(resp.Targets) == 0 {
		return Result{Outcome: OutcomeNoTargets}
	}

	results := make(chan TargetResult, len(resp.Targets))
	for _, target := range resp.Targets {
		j := &job{ctx: ctx, target: target, resp: resp, result: make(chan TargetResult, 1)}
		select {
		case f.queue <- j:
		case <-ctx.Done():
			results <- TargetResult{Target: target, Err: ctx.Err()}
			continue
		}
		go func(j *job) {
			select {
			case r := <-j.result:
				results <- r
			case <-ctx.Done():
				results <- TargetResult{Target: j.target, Err: ctx.Err()}
			}
		}(j)
	}

	out := make([]TargetResult, 0, len(resp.Targets))
	for range resp.Targets {
		out = append(out, <-results)
	}
	return Result{Outcome: aggregate(out), Targets: out}
}

func aggregate(results []TargetResult) Outcome {
	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return OutcomeCompleted
	case succeeded == 0:
		return OutcomeFailed
	default:
		return OutcomePartialFailure
	}
}

// Summary renders a one-line aggregate status for an audit record's Detail
// field.
func Summary(results []TargetResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		parts[i] = fmt.Sprintf("%s:%s", r.Target.Type, status)
	}
	return strings.Join(parts, ", ")
}

func (f *Fanout) worker() {
	for j := range f.queue {
		j.result <- f.deliver(j)
	}
}

// deliver runs one target delivery under that platform's breaker, which in
// turn wraps the retry policy. A tripped breaker skips retries entirely,
// since the policy is consulted inside the breaker's own call.
func (f *Fanout) deliver(j *job) TargetResult {
	platform := j.target.Type
	t, ok := f.targetFor(platform)
	if !ok {
		return TargetResult{Target: j.target, Err: rterrors.New(rterrors.CodeUnknownFunction, "no egress target registered for platform "+platform)}
	}

	br := f.breakers.GetOrCreate(platform)
	pol := f.policyFor(platform)

	_, err := br.Execute(j.ctx, func(ctx context.Context) (*types.ExecuteResponse, error) {
		return pol.Execute(ctx, func(ctx context.Context) (*types.ExecuteResponse, error) {
			if err := t.Deliver(ctx, j.target, j.resp); err != nil {
				return nil, err
			}
			return &types.ExecuteResponse{Success: true}, nil
		})
	})
	return TargetResult{Target: j.target, Err: err}
}
