// Package integration wires a real Dispatcher against in-memory
// collaborators end to end, exercising the concrete dispatch scenarios the
// rest of the package-level unit tests only cover individually: a command
// routed all the way to a successful egress delivery, a scope denial, a
// rate-limit trip, single-flight coalescing, a tripped circuit breaker,
// multi-target fan-out with a partial failure, and a per-route deadline
// firing mid-dispatch.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/penguintechinc/waddlebot-router/internal/adapter"
	"github.com/penguintechinc/waddlebot-router/internal/audit"
	"github.com/penguintechinc/waddlebot-router/internal/breaker"
	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/dispatcher"
	"github.com/penguintechinc/waddlebot-router/internal/egress"
	"github.com/penguintechinc/waddlebot-router/internal/obsmetrics"
	"github.com/penguintechinc/waddlebot-router/internal/permission"
	"github.com/penguintechinc/waddlebot-router/internal/ratelimit"
	"github.com/penguintechinc/waddlebot-router/internal/resolver"
	"github.com/penguintechinc/waddlebot-router/internal/respcache"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

type routeProvider struct {
	routes []types.Route
}

func (p *routeProvider) RouteTable(ctx context.Context, communityID string) (int64, []types.Route, error) {
	return 1, p.routes, nil
}

// scriptedAdapter is an in-process adapter double whose behavior is
// supplied per scenario, counting calls so tests can assert an adapter
// was (or wasn't) actually invoked.
type scriptedAdapter struct {
	calls int32
	fn    func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error)
}

func (a *scriptedAdapter) Execute(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
	atomic.AddInt32(&a.calls, 1)
	return a.fn(ctx, req)
}

func (a *scriptedAdapter) Health(ctx context.Context) types.HealthStatus { return types.HealthHealthy }

func (a *scriptedAdapter) callCount() int { return int(atomic.LoadInt32(&a.calls)) }

type harness struct {
	dispatcher *dispatcher.Dispatcher
	grants     *permission.MemoryGrantStore
	fanout     *egress.Fanout
	backend    *audit.MemoryBackend
}

func newHarness(t *testing.T, routes []types.Route, adapters map[string]*scriptedAdapter, rl config.RateLimitConfig, brCfg config.BreakerConfig) *harness {
	t.Helper()

	reg := adapter.NewRegistry()
	reg.RegisterFactory(types.AdapterInProcess, func(r types.AdapterRegistration) (adapter.Adapter, error) {
		a, ok := adapters[r.ModuleID]
		if !ok {
			return nil, fmt.Errorf("no scripted adapter registered for module %s", r.ModuleID)
		}
		return a, nil
	})
	for _, r := range routes {
		reg.Put(types.AdapterRegistration{ModuleID: r.ModuleID, Variant: types.AdapterInProcess, Endpoint: "inprocess:" + r.ModuleID})
	}

	backend := audit.NewMemoryBackend(1000)
	sink := audit.NewSink(backend, audit.Config{BufferSize: 256, BatchSize: 1, FlushInterval: 3 * time.Millisecond})
	t.Cleanup(func() { sink.Close() })

	grants := permission.NewMemoryGrantStore()
	gate := permission.NewGate(grants, nil, nil)
	limiter := ratelimit.New(rl, nil)
	cache := respcache.NewResponseCache(128, time.Minute)
	fanout := egress.NewFanout(config.EgressConfig{Workers: 4, QueueSize: 64, Timeout: time.Second})
	breakers := breaker.NewRegistry(brCfg)
	metrics := obsmetrics.New(prometheus.NewRegistry())

	d := dispatcher.New(dispatcher.Deps{
		Resolver: resolver.New(&routeProvider{routes: routes}),
		Gate:     gate,
		Limiter:  limiter,
		Cache:    cache,
		Adapters: reg,
		Fanout:   fanout,
		Sink:     sink,
		Metrics:  metrics,
		Breakers: breakers,
		RetryCfg: config.RetryConfig{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1},
	})

	return &harness{dispatcher: d, grants: grants, fanout: fanout, backend: backend}
}

func commandEvent(id, communityID, principalID, text string) *types.Event {
	return &types.Event{
		ID: id, CommunityID: communityID, Kind: types.EventKindCommand, Text: text,
		Principal: types.Principal{ID: principalID, Platform: types.PlatformTwitch},
		Entity:    types.Entity{ID: "chan1", Platform: types.PlatformTwitch},
		Timestamp: time.Now(),
	}
}

// waitForDecision polls the audit backend's replay stream until a record
// matching eventID/decision shows up or timeout elapses. Exercised through
// audit.Replayer rather than MemoryBackend.All so the promised replay
// contract is what integration assertions actually run against.
func waitForDecision(t *testing.T, backend *audit.MemoryBackend, communityID, eventID string, decision types.AuditDecision, timeout time.Duration) types.AuditRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, rec := range replayAll(t, backend, communityID) {
			if rec.EventID == eventID && rec.Decision == decision {
				return rec
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event %s to record decision %s", eventID, decision)
	return types.AuditRecord{}
}

func replayAll(t *testing.T, backend *audit.MemoryBackend, communityID string) []types.AuditRecord {
	t.Helper()
	ch, err := backend.Replay(context.Background(), audit.AuditPosition{CommunityID: communityID})
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	var out []types.AuditRecord
	for rec := range ch {
		out = append(out, rec)
	}
	return out
}

func recordsFor(t *testing.T, backend *audit.MemoryBackend, communityID, eventID string) []types.AuditRecord {
	t.Helper()
	var out []types.AuditRecord
	for _, rec := range replayAll(t, backend, communityID) {
		if rec.EventID == eventID {
			out = append(out, rec)
		}
	}
	return out
}

// S1: happy path command dispatch, fanned out to a single egress target.
func TestHappyPathCommandDispatchesAndFansOut(t *testing.T) {
	route := types.Route{ID: "r1", CommunityID: "c1", Command: "!weather", ModuleID: "weather_module", RequiredScopes: []string{"community.read"}}
	adp := &scriptedAdapter{fn: func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
		if req.ContextText != "London" {
			t.Errorf("expected context text London, got %q", req.ContextText)
		}
		return &types.ExecuteResponse{Success: true, Message: "12C", Targets: []types.EgressTarget{{Type: "twitch"}}}, nil
	}}

	h := newHarness(t, []types.Route{route}, map[string]*scriptedAdapter{"weather_module": adp},
		config.RateLimitConfig{Store: "memory", Classes: map[string]config.RateLimitClass{}},
		config.BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenTrials: 1, Cooldown: time.Second, MaxCooldown: time.Second})
	h.grants.Put("c1", "weather_module", []string{"community.read"})
	twitch := egress.NewLoopbackTarget()
	h.fanout.Register("twitch", twitch)

	ev := commandEvent("e1", "c1", "u1", "!weather London")
	if err := h.dispatcher.Process(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForDecision(t, h.backend, "c1", "e1", types.DecisionDispatched, time.Second)
	waitForDecision(t, h.backend, "c1", "e1", types.DecisionEgressResult, time.Second)

	if adp.callCount() != 1 {
		t.Fatalf("expected exactly one adapter call, got %d", adp.callCount())
	}
	delivered := twitch.Delivered()
	if len(delivered) != 1 || delivered[0].Resp.Message != "12C" {
		t.Fatalf("expected one delivery with the adapter's message, got %+v", delivered)
	}
}

// S2: a route whose module lacks the required scope is never dispatched.
func TestScopeDenialSkipsAdapterCall(t *testing.T) {
	route := types.Route{ID: "r1", CommunityID: "c1", Command: "!weather", ModuleID: "weather_module", RequiredScopes: []string{"community.read"}}
	adp := &scriptedAdapter{fn: func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
		return &types.ExecuteResponse{Success: true}, nil
	}}

	h := newHarness(t, []types.Route{route}, map[string]*scriptedAdapter{"weather_module": adp},
		config.RateLimitConfig{Store: "memory"},
		config.BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenTrials: 1, Cooldown: time.Second, MaxCooldown: time.Second})
	// Deliberately no grant installed.

	ev := commandEvent("e2", "c1", "u1", "!weather London")
	if err := h.dispatcher.Process(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForDecision(t, h.backend, "c1", "e2", types.DecisionDeniedPermission, time.Second)
	if adp.callCount() != 0 {
		t.Fatalf("expected the adapter to never be called, got %d calls", adp.callCount())
	}
}

// S3: an exhausted module bucket denies the dispatch without touching the adapter.
func TestRateLimitTripDeniesWithoutAdapterCall(t *testing.T) {
	route := types.Route{ID: "r1", CommunityID: "c1", Command: "!weather", ModuleID: "weather_module", RateLimitClass: "weather"}
	adp := &scriptedAdapter{fn: func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
		return &types.ExecuteResponse{Success: true}, nil
	}}

	h := newHarness(t, []types.Route{route}, map[string]*scriptedAdapter{"weather_module": adp},
		config.RateLimitConfig{Store: "memory", Classes: map[string]config.RateLimitClass{
			"weather": {Rate: 1, Period: time.Minute, Burst: 1},
		}},
		config.BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenTrials: 1, Cooldown: time.Second, MaxCooldown: time.Second})

	// Exhaust the bucket with a first, unrelated event before the one under test.
	first := commandEvent("e3-warmup", "c1", "u1", "!weather Paris")
	if err := h.dispatcher.Process(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForDecision(t, h.backend, "c1", "e3-warmup", types.DecisionDispatched, time.Second)

	ev := commandEvent("e3", "c1", "u2", "!weather London")
	if err := h.dispatcher.Process(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForDecision(t, h.backend, "c1", "e3", types.DecisionDeniedRateLimit, time.Second)
	if adp.callCount() != 1 {
		t.Fatalf("expected only the warmup call to reach the adapter, got %d calls", adp.callCount())
	}
}

// S4: ten concurrent identical commands coalesce into one adapter call.
func TestSingleFlightCoalescesConcurrentIdenticalCommands(t *testing.T) {
	route := types.Route{ID: "r1", CommunityID: "c1", Command: "!weather", ModuleID: "weather_module",
		Cache: types.CachePolicy{Enabled: true, TTL: 30 * time.Second}}

	release := make(chan struct{})
	adp := &scriptedAdapter{fn: func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
		<-release
		return &types.ExecuteResponse{Success: true, Message: "12C", Targets: []types.EgressTarget{{Type: "twitch"}}}, nil
	}}

	h := newHarness(t, []types.Route{route}, map[string]*scriptedAdapter{"weather_module": adp},
		config.RateLimitConfig{Store: "memory"},
		config.BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenTrials: 1, Cooldown: time.Second, MaxCooldown: time.Second})
	twitch := egress.NewLoopbackTarget()
	h.fanout.Register("twitch", twitch)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := commandEvent(fmt.Sprintf("e4-%d", i), "c1", "u1", "!weather London")
			if err := h.dispatcher.Process(context.Background(), ev); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if adp.callCount() != 1 {
		t.Fatalf("expected a single coalesced adapter call, got %d", adp.callCount())
	}

	var dispatched, coalesced int
	for i := 0; i < n; i++ {
		recs := recordsFor(t, h.backend, "c1", fmt.Sprintf("e4-%d", i))
		for _, rec := range recs {
			switch rec.Decision {
			case types.DecisionDispatched:
				dispatched++
			case types.DecisionCacheHitInFlight:
				coalesced++
			}
		}
	}
	if dispatched != 1 {
		t.Fatalf("expected exactly one caller to be recorded as dispatched, got %d", dispatched)
	}
	if coalesced != n-1 {
		t.Fatalf("expected %d coalesced callers, got %d", n-1, coalesced)
	}
	if len(twitch.Delivered()) != n {
		t.Fatalf("expected every caller to still receive an egress delivery, got %d", len(twitch.Delivered()))
	}
}

// S5: five consecutive adapter failures trip the breaker; the sixth call is
// short-circuited without reaching the adapter, and after cool-down the
// breaker allows a trial call through again.
func TestCircuitBreakerOpensAfterConsecutiveFailuresThenRecovers(t *testing.T) {
	route := types.Route{ID: "r1", CommunityID: "c1", Command: "!flaky", ModuleID: "flaky_module"}
	boom := errors.New("adapter unavailable")
	adp := &scriptedAdapter{fn: func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
		return nil, boom
	}}

	h := newHarness(t, []types.Route{route}, map[string]*scriptedAdapter{"flaky_module": adp},
		config.RateLimitConfig{Store: "memory"},
		config.BreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, HalfOpenTrials: 1, Cooldown: 30 * time.Millisecond, MaxCooldown: 30 * time.Millisecond})

	for i := 0; i < 5; i++ {
		ev := commandEvent(fmt.Sprintf("e5-fail-%d", i), "c1", "u1", "!flaky")
		if err := h.dispatcher.Process(context.Background(), ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitForDecision(t, h.backend, "c1", ev.ID, types.DecisionFailed, time.Second)
	}
	if adp.callCount() != 5 {
		t.Fatalf("expected 5 adapter calls before the breaker trips, got %d", adp.callCount())
	}

	sixth := commandEvent("e5-open", "c1", "u1", "!flaky")
	if err := h.dispatcher.Process(context.Background(), sixth); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForDecision(t, h.backend, "c1", "e5-open", types.DecisionFailed, time.Second)
	if adp.callCount() != 5 {
		t.Fatalf("expected the tripped breaker to short-circuit the 6th call without invoking the adapter, got %d calls", adp.callCount())
	}

	time.Sleep(60 * time.Millisecond)
	adp.fn = func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
		return &types.ExecuteResponse{Success: true}, nil
	}
	trial := commandEvent("e5-trial", "c1", "u1", "!flaky")
	if err := h.dispatcher.Process(context.Background(), trial); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForDecision(t, h.backend, "c1", "e5-trial", types.DecisionDispatched, time.Second)
	if adp.callCount() != 6 {
		t.Fatalf("expected the post-cooldown trial call to reach the adapter, got %d calls", adp.callCount())
	}
}

// S6: a response naming two egress targets where one fails delivers a
// partial-failure outcome while still delivering to the surviving target.
func TestMultiTargetFanoutRecordsPartialFailure(t *testing.T) {
	route := types.Route{ID: "r1", CommunityID: "c1", Command: "!announce", ModuleID: "announce_module"}
	adp := &scriptedAdapter{fn: func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
		return &types.ExecuteResponse{Success: true, Message: "hello", Targets: []types.EgressTarget{
			{Type: "discord"}, {Type: "twitch"},
		}}, nil
	}}

	h := newHarness(t, []types.Route{route}, map[string]*scriptedAdapter{"announce_module": adp},
		config.RateLimitConfig{Store: "memory"},
		config.BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenTrials: 1, Cooldown: time.Second, MaxCooldown: time.Second})
	discord := egress.NewLoopbackTarget()
	twitch := egress.NewLoopbackTarget()
	discord.FailNext(errors.New("discord 4xx"))
	h.fanout.Register("discord", discord)
	h.fanout.Register("twitch", twitch)

	ev := commandEvent("e6", "c1", "u1", "!announce")
	if err := h.dispatcher.Process(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := waitForDecision(t, h.backend, "c1", "e6", types.DecisionEgressResult, time.Second)
	if rec.Target != string(egress.OutcomePartialFailure) {
		t.Fatalf("expected a partial-failure outcome, got %q (detail %q)", rec.Target, rec.Detail)
	}
	if len(twitch.Delivered()) != 1 {
		t.Fatalf("expected twitch to still receive its delivery despite discord failing, got %d", len(twitch.Delivered()))
	}
	if len(discord.Delivered()) != 0 {
		t.Fatalf("expected discord's failed attempt not to be recorded as delivered, got %d", len(discord.Delivered()))
	}
}

// S7: a route-level deadline shorter than the adapter's hang is enforced
// independently of the other routes matched by the same event.
func TestPerRouteDeadlineExceededDoesNotAffectSiblingRoute(t *testing.T) {
	fast := types.Route{ID: "fast", CommunityID: "c1", EventType: "raid", ModuleID: "fast_module"}
	slow := types.Route{ID: "slow", CommunityID: "c1", EventType: "raid", ModuleID: "slow_module", Deadline: 50 * time.Millisecond}

	fastAdapter := &scriptedAdapter{fn: func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
		return &types.ExecuteResponse{Success: true}, nil
	}}
	slowAdapter := &scriptedAdapter{fn: func(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-req.EventData["never"].(chan struct{}):
			return &types.ExecuteResponse{Success: true}, nil
		}
	}}

	h := newHarness(t, []types.Route{fast, slow}, map[string]*scriptedAdapter{
		"fast_module": fastAdapter, "slow_module": slowAdapter,
	},
		config.RateLimitConfig{Store: "memory"},
		config.BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, HalfOpenTrials: 1, Cooldown: time.Second, MaxCooldown: time.Second})

	ev := &types.Event{
		ID: "e7", CommunityID: "c1", Kind: types.EventKindEvent, EventType: "raid",
		EventData: map[string]any{"never": make(chan struct{})},
		Principal: types.Principal{ID: "u1", Platform: types.PlatformTwitch},
		Entity:    types.Entity{ID: "chan1", Platform: types.PlatformTwitch},
		Timestamp: time.Now(),
	}
	if err := h.dispatcher.Process(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForDecision(t, h.backend, "c1", "e7", types.DecisionDispatched, time.Second)
	waitForDecision(t, h.backend, "c1", "e7", types.DecisionDeadlineExceeded, time.Second)

	recs := recordsFor(t, h.backend, "c1", "e7")
	var sawFastDispatched, sawSlowDeadline bool
	for _, rec := range recs {
		if rec.RouteID == "fast" && rec.Decision == types.DecisionDispatched {
			sawFastDispatched = true
		}
		if rec.RouteID == "slow" && rec.Decision == types.DecisionDeadlineExceeded {
			sawSlowDeadline = true
		}
	}
	if !sawFastDispatched {
		t.Fatalf("expected the fast route to dispatch normally, got %+v", recs)
	}
	if !sawSlowDeadline {
		t.Fatalf("expected the slow route to be audited as deadline-exceeded, got %+v", recs)
	}
}
