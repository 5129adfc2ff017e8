// Package breaker implements the router's per-adapter-endpoint circuit
// breaker on top of sony/gobreaker/v2, adding a doubling cool-down (capped)
// and snapshot persistence across restarts.
//
// The cool-down doubles on every transition to open and resets on close. The
// doubled value becomes gobreaker's open timeout only when the breaker is
// rebuilt from a snapshot by restore; a running breaker keeps the timeout it
// was built with.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/types"
	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned by Execute when the breaker is open or its half-open
// trial slots are taken; callers receive it as is, not as an rterrors code.
var ErrOpen = gobreaker.ErrOpenState

// Breaker guards calls to a single adapter endpoint. It is consulted before
// retry logic; retries within the same call do not reset the breaker.
type Breaker struct {
	mu              sync.Mutex
	cb              *gobreaker.CircuitBreaker[*types.ExecuteResponse]
	name            string
	failureThresh   uint32
	successThresh   uint32
	halfOpenTrials  uint32
	baseCooldown    time.Duration
	maxCooldown     time.Duration
	currentCooldown time.Duration
	consecutiveOpen int
}

// New creates a Breaker for one adapter endpoint using cfg as the default
// shape; callers may override per-endpoint via BreakerConfig fields already
// resolved onto cfg before calling New.
func New(name string, cfg config.BreakerConfig) *Breaker {
	b := &Breaker{
		name:            name,
		failureThresh:   uint32(cfg.FailureThreshold),
		successThresh:   uint32(cfg.SuccessThreshold),
		halfOpenTrials:  uint32(cfg.HalfOpenTrials),
		baseCooldown:    cfg.Cooldown,
		maxCooldown:     cfg.MaxCooldown,
		currentCooldown: cfg.Cooldown,
	}
	b.rebuild()
	return b
}

func (b *Breaker) rebuild() {
	b.cb = gobreaker.NewCircuitBreaker[*types.ExecuteResponse](gobreaker.Settings{
		Name:        b.name,
		MaxRequests: b.halfOpenTrials,
		Timeout:     b.currentCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.failureThresh
		},
		OnStateChange: b.onStateChange,
	})
}

func (b *Breaker) onStateChange(name string, from gobreaker.State, to gobreaker.State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case to == gobreaker.StateOpen:
		b.consecutiveOpen++
		next := b.currentCooldown * 2
		if next > b.maxCooldown {
			next = b.maxCooldown
		}
		b.currentCooldown = next
	case to == gobreaker.StateClosed:
		b.consecutiveOpen = 0
		b.currentCooldown = b.baseCooldown
	}
}

// Execute runs fn under the breaker. A trip returns ErrOpen without invoking
// fn; a successful or failed run is recorded against the breaker's counters.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) (*types.ExecuteResponse, error)) (*types.ExecuteResponse, error) {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()

	resp, err := cb.Execute(func() (*types.ExecuteResponse, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrOpen
	}
	return resp, err
}

// State reports the current breaker state as a string for admin/audit
// surfaces ("closed", "open", "half-open").
func (b *Breaker) State() string {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()
	return stateName(cb.State())
}

// stateName must be fed a state read without b.mu held: gobreaker's State
// may fire onStateChange, which takes b.mu.
func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Snapshot is a point-in-time view of one breaker, used for admin output and
// warm-restart persistence.
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	ConsecutiveOpen int       `json:"consecutive_open"`
	CurrentCooldown string    `json:"current_cooldown"`
	Counts          Counts    `json:"counts"`
	CapturedAt      time.Time `json:"captured_at"`
}

// Counts mirrors gobreaker.Counts for JSON snapshot stability independent of
// the dependency's internal layout.
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// restore seeds the doubling-cooldown bookkeeping from a prior snapshot on
// warm restart. gobreaker's own trip/success counters always start fresh;
// only the consecutive-open count and the current cooldown carry over.
func (b *Breaker) restore(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveOpen = snap.ConsecutiveOpen
	if d, err := time.ParseDuration(snap.CurrentCooldown); err == nil && d > 0 {
		b.currentCooldown = d
		b.rebuild()
	}
}

// Snapshot returns the current state for persistence/admin display.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()
	state := stateName(cb.State())
	counts := cb.Counts()

	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           state,
		ConsecutiveOpen: b.consecutiveOpen,
		CurrentCooldown: b.currentCooldown.String(),
		Counts: Counts{
			Requests:             counts.Requests,
			TotalSuccesses:       counts.TotalSuccesses,
			TotalFailures:        counts.TotalFailures,
			ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
			ConsecutiveFailures:  counts.ConsecutiveFailures,
		},
		CapturedAt: time.Now(),
	}
}
