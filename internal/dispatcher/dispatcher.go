// Package dispatcher wires the resolver, permission gate, rate limiter,
// response cache, adapter registry, circuit breaker + retry, egress
// fan-out, and audit sink into the per-event orchestration loop: for each
// event the ingress layer hands off, every surviving route runs once,
// independently of the others, with its own permission/rate-limit/cache/
// adapter/egress decisions audited as it goes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/penguintechinc/waddlebot-router/internal/adapter"
	"github.com/penguintechinc/waddlebot-router/internal/breaker"
	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/egress"
	"github.com/penguintechinc/waddlebot-router/internal/logging"
	"github.com/penguintechinc/waddlebot-router/internal/obsmetrics"
	"github.com/penguintechinc/waddlebot-router/internal/permission"
	"github.com/penguintechinc/waddlebot-router/internal/ratelimit"
	"github.com/penguintechinc/waddlebot-router/internal/resolver"
	"github.com/penguintechinc/waddlebot-router/internal/respcache"
	"github.com/penguintechinc/waddlebot-router/internal/retry"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// AuditSink is the narrow port the dispatcher writes decisions through.
type AuditSink interface {
	Record(rec types.AuditRecord)
}

// Dispatcher orchestrates one event through the full pipeline.
type Dispatcher struct {
	resolver *resolver.Resolver
	gate     *permission.Gate
	limiter  *ratelimit.Limiter
	cache    *respcache.ResponseCache
	adapters *adapter.Registry
	fanout   *egress.Fanout
	sink     AuditSink
	metrics  *obsmetrics.Registry
	breakers *breaker.Registry

	mu       sync.Mutex
	policies map[string]*retry.Policy

	retryCfg config.RetryConfig
}

// Deps bundles the Dispatcher's collaborators.
type Deps struct {
	Resolver *resolver.Resolver
	Gate     *permission.Gate
	Limiter  *ratelimit.Limiter
	Cache    *respcache.ResponseCache
	Adapters *adapter.Registry
	Fanout   *egress.Fanout
	Sink     AuditSink
	Metrics  *obsmetrics.Registry
	Breakers *breaker.Registry
	RetryCfg config.RetryConfig
}

// New builds a Dispatcher from its collaborators.
func New(d Deps) *Dispatcher {
	return &Dispatcher{
		resolver: d.Resolver,
		gate:     d.Gate,
		limiter:  d.Limiter,
		cache:    d.Cache,
		adapters: d.Adapters,
		fanout:   d.Fanout,
		sink:     d.Sink,
		metrics:  d.Metrics,
		breakers: d.Breakers,
		policies: make(map[string]*retry.Policy),
		retryCfg: d.RetryCfg,
	}
}

// Process implements ingress.Processor: resolve the event's routes and run
// each to completion, auditing every decision along the way. Process
// itself only fails for conditions that prevent routing from starting at
// all (resolver/store unavailable); individual route failures are
// contained and audited, never propagated as the event's own error.
func (d *Dispatcher) Process(ctx context.Context, ev *types.Event) error {
	routes, err := d.resolver.Resolve(ctx, ev)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		d.sink.Record(types.AuditRecord{
			EventID: ev.ID, CorrelationID: ev.CorrelationID, CommunityID: ev.CommunityID,
			Decision: types.DecisionNoRoute, Timestamp: time.Now(),
		})
		return nil
	}

	var ordered, concurrent []types.Route
	for _, r := range routes {
		if r.Ordered {
			ordered = append(ordered, r)
		} else {
			concurrent = append(concurrent, r)
		}
	}

	for _, route := range ordered {
		d.dispatchRoute(ctx, ev, route)
	}

	g := &errgroup.Group{}
	for _, route := range concurrent {
		route := route
		g.Go(func() error {
			d.dispatchRoute(ctx, ev, route)
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

func (d *Dispatcher) dispatchRoute(ctx context.Context, ev *types.Event, route types.Route) {
	base := types.AuditRecord{
		EventID: ev.ID, CorrelationID: ev.CorrelationID, CommunityID: ev.CommunityID, RouteID: route.ID,
	}

	if ctx.Err() != nil {
		d.record(base, types.DecisionDeadlineExceeded, "")
		return
	}

	if route.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, route.Deadline)
		defer cancel()
	}

	decision := d.gate.Check(ctx, ev.CommunityID, &route, ev.ScopeEnvelope)
	if !decision.Allowed {
		d.record(base, types.DecisionDeniedPermission, decision.Reason)
		d.metrics.DispatchTotal.WithLabelValues(ev.CommunityID, route.ID, "denied-perm").Inc()
		return
	}

	rlDecision, err := d.limiter.Allow(ctx, route.RateLimitClass, ev.CommunityID, route.ModuleID, ev.Principal.ID)
	if err != nil {
		logging.Warn("rate limiter store error", zap.String("route", route.ID), zap.Error(err))
	}
	if !rlDecision.Allowed {
		d.record(base, types.DecisionDeniedRateLimit, rlDecision.TrippedBucket)
		d.metrics.RateLimitDenied.WithLabelValues(ev.CommunityID, route.RateLimitClass, rlDecision.TrippedBucket).Inc()
		return
	}

	req, contextText := buildRequest(ev, route)

	start := time.Now()
	resp, cacheHit, shared, err := d.execute(ctx, ev, route, req, contextText)
	d.metrics.DispatchDuration.WithLabelValues(route.ID).Observe(time.Since(start).Seconds())

	switch {
	case shared:
		d.record(base, types.DecisionCacheHitInFlight, "")
		d.metrics.CacheCoalesced.WithLabelValues(route.ID).Inc()
	case cacheHit:
		d.record(base, types.DecisionCacheHit, "")
		d.metrics.CacheHits.WithLabelValues(route.ID).Inc()
	default:
		d.metrics.CacheMisses.WithLabelValues(route.ID).Inc()
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.record(base, types.DecisionDeadlineExceeded, err.Error())
			d.metrics.DispatchTotal.WithLabelValues(ev.CommunityID, route.ID, "deadline-exceeded").Inc()
			return
		}
		d.record(base, types.DecisionFailed, err.Error())
		d.metrics.DispatchTotal.WithLabelValues(ev.CommunityID, route.ID, "failed").Inc()
		return
	}

	if !cacheHit && !shared {
		d.record(base, types.DecisionDispatched, "")
		d.metrics.DispatchTotal.WithLabelValues(ev.CommunityID, route.ID, "dispatched").Inc()
	}

	if resp == nil || len(resp.Targets) == 0 {
		return
	}

	result := d.fanout.Send(ctx, egress.EventContext{
		EventID: ev.ID, CorrelationID: ev.CorrelationID, CommunityID: ev.CommunityID, RouteID: route.ID,
	}, resp)
	for _, tr := range result.Targets {
		status := "ok"
		if tr.Err != nil {
			status = "failed"
		}
		d.metrics.EgressResults.WithLabelValues(tr.Target.Type, status).Inc()
	}
	d.sink.Record(types.AuditRecord{
		EventID: ev.ID, CorrelationID: ev.CorrelationID, CommunityID: ev.CommunityID, RouteID: route.ID,
		Decision: types.DecisionEgressResult, Target: string(result.Outcome), Detail: egress.Summary(result.Targets),
		Timestamp: time.Now(),
	})
}

func (d *Dispatcher) record(base types.AuditRecord, decision types.AuditDecision, detail string) {
	base.Decision = decision
	base.Detail = detail
	base.Timestamp = time.Now()
	d.sink.Record(base)
}

// execute runs the route's adapter call, through the response cache when
// the route's cache policy is enabled, or directly otherwise.
func (d *Dispatcher) execute(ctx context.Context, ev *types.Event, route types.Route, req *types.ExecuteRequest, contextText string) (resp *types.ExecuteResponse, cacheHit, shared bool, err error) {
	call := func(ctx context.Context) (*types.ExecuteResponse, error) {
		return d.callAdapter(ctx, route, req)
	}

	if !route.Cache.Enabled {
		resp, err = call(ctx)
		return resp, false, false, err
	}

	fingerprint := respcache.Fingerprint(
		ev.CommunityID, route.ModuleID, route.Command, contextText, ev.Principal.RoleBucket,
		route.Cache.UserScoped, ev.Principal.ID,
	)
	resp, cacheHit, shared, err = d.cache.Execute(ctx, fingerprint, route.Cache.TTL, route.Cache.CacheFailures, call)
	return resp, cacheHit, shared, err
}

func (d *Dispatcher) callAdapter(ctx context.Context, route types.Route, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
	a, err := d.adapters.Get(route.ModuleID)
	if err != nil {
		return nil, err
	}

	key, maxRetries := d.endpointKey(route.ModuleID)
	br := d.breakers.GetOrCreate(key)
	pol := d.policyFor(key, maxRetries)

	return br.Execute(ctx, func(ctx context.Context) (*types.ExecuteResponse, error) {
		return pol.Execute(ctx, func(ctx context.Context) (*types.ExecuteResponse, error) {
			return a.Execute(ctx, req)
		})
	})
}

func (d *Dispatcher) endpointKey(moduleID string) (string, int) {
	reg, ok := d.adapters.RegistrationFor(moduleID)
	if !ok || reg.Endpoint == "" {
		return moduleID, 0
	}
	return reg.Endpoint, reg.MaxRetries
}

func (d *Dispatcher) policyFor(key string, maxRetries int) *retry.Policy {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.policies[key]; ok {
		return p
	}
	cfg := d.retryCfg
	if maxRetries > 0 {
		cfg.MaxRetries = maxRetries
	}
	p := retry.NewPolicy(cfg)
	d.policies[key] = p
	return p
}

// Snapshots implements admin.RetryMetrics: a point-in-time view of every
// adapter endpoint's retry counters, keyed the same way as the breaker
// registry.
func (d *Dispatcher) Snapshots() map[string]retry.MetricsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]retry.MetricsSnapshot, len(d.policies))
	for key, p := range d.policies {
		out[key] = p.Metrics.Snapshot()
	}
	return out
}

// buildRequest synthesizes the ExecuteRequest for one route and extracts
// the portion of command text after the matched token, used both as the
// adapter's ContextText and as the cache fingerprint's normalized args.
func buildRequest(ev *types.Event, route types.Route) (*types.ExecuteRequest, string) {
	contextText := ""
	if ev.Kind == types.EventKindCommand {
		contextText = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ev.Text), matchedToken(ev.Text)))
	}

	return &types.ExecuteRequest{
		ID:             fmt.Sprintf("%s:%s", ev.ID, route.ID),
		CommunityID:    ev.CommunityID,
		Principal:      ev.Principal,
		Entity:         ev.Entity,
		Command:        route.Command,
		ContextText:    contextText,
		EventType:      route.EventType,
		EventData:      ev.EventData,
		SelectedScopes: route.RequiredScopes,
		ScopeEnvelope:  ev.ScopeEnvelope,
		Timestamp:      ev.Timestamp,
	}, contextText
}

func matchedToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
