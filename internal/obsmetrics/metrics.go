// Package obsmetrics exposes the router's Prometheus metrics: dispatch
// outcomes, cache/coalesce behavior, breaker state, rate-limit denials and
// egress results, labeled by community and route.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the router registers, so a single value
// can be threaded through the dispatcher, cache, breaker and egress layers.
type Registry struct {
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheCoalesced *prometheus.CounterVec

	RateLimitDenied *prometheus.CounterVec

	BreakerState *prometheus.GaugeVec

	EgressResults *prometheus.CounterVec

	AuditDropped prometheus.Counter
}

// New registers every collector against reg and returns the bundle.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "dispatch_total",
			Help:      "Total dispatch attempts by community, route and outcome.",
		}, []string{"community", "route", "outcome"}),

		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "router",
			Name:      "dispatch_duration_seconds",
			Help:      "Adapter execution latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "cache_hits_total",
			Help:      "Response cache hits by route.",
		}, []string{"route"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "cache_misses_total",
			Help:      "Response cache misses by route.",
		}, []string{"route"}),

		CacheCoalesced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "cache_coalesced_total",
			Help:      "Requests that attached to an in-flight single-flight execution.",
		}, []string{"route"}),

		RateLimitDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "rate_limit_denied_total",
			Help:      "Rate-limit denials by bucket class.",
		}, []string{"community", "class", "bucket"}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "router",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per adapter endpoint: 0=closed, 1=open, 2=half-open.",
		}, []string{"endpoint"}),

		EgressResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "egress_results_total",
			Help:      "Egress fan-out results by target platform and outcome.",
		}, []string{"target", "outcome"}),

		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "audit_dropped_total",
			Help:      "Audit records dropped because the sink's buffer was full.",
		}),
	}
}

// BreakerStateValue maps a breaker.Breaker.State() string to the gauge value.
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}
