// Package admin exposes the router's operational HTTP surface: liveness
// and readiness probes, Prometheus metrics, circuit breaker and retry
// snapshots, and a route-table reload hook for the resolver's cache.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/penguintechinc/waddlebot-router/internal/breaker"
	"github.com/penguintechinc/waddlebot-router/internal/ingress"
	"github.com/penguintechinc/waddlebot-router/internal/resolver"
	"github.com/penguintechinc/waddlebot-router/internal/respcache"
	"github.com/penguintechinc/waddlebot-router/internal/retry"
)

// RetryMetrics is the narrow port the admin surface reads retry counters
// through; the dispatcher owns the real per-endpoint *retry.Policy map.
type RetryMetrics interface {
	Snapshots() map[string]retry.MetricsSnapshot
}

// Server is the router's admin HTTP surface, separate from the ingress
// listener so operational endpoints survive ingress overload.
type Server struct {
	router   *httprouter.Router
	breakers *breaker.Registry
	cache    *respcache.ResponseCache
	resolver *resolver.Resolver
	ingress  *ingress.Server
	retries  RetryMetrics
	readyFn  func() bool
}

// Deps bundles the collaborators the admin surface reports on.
type Deps struct {
	Breakers *breaker.Registry
	Cache    *respcache.ResponseCache
	Resolver *resolver.Resolver
	Ingress  *ingress.Server
	Retries  RetryMetrics
	// ReadyFn reports whether the process should be considered ready to
	// receive traffic (e.g. store connectivity established). Defaults to
	// always-ready when nil.
	ReadyFn func() bool
}

// NewServer builds the admin HTTP surface. /metrics is served by
// promhttp.Handler and so exposes the default Prometheus registry only.
func NewServer(d Deps) *Server {
	s := &Server{
		router:   httprouter.New(),
		breakers: d.Breakers,
		cache:    d.Cache,
		resolver: d.Resolver,
		ingress:  d.Ingress,
		retries:  d.Retries,
		readyFn:  d.ReadyFn,
	}
	if s.readyFn == nil {
		s.readyFn = func() bool { return true }
	}

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/readyz", s.handleReady)
	s.router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	s.router.GET("/v1/admin/breakers", s.handleBreakers)
	s.router.GET("/v1/admin/cache", s.handleCache)
	s.router.GET("/v1/admin/retries", s.handleRetries)
	s.router.POST("/v1/admin/routes/reload", s.handleRouteReload)
	return s
}

// Handler returns the admin router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.readyFn() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not-ready"})
		return
	}
	status := map[string]any{"status": "ready"}
	if s.ingress != nil {
		stats := s.ingress.Stats()
		status["ingress_in_flight"] = stats.InFlight
		status["ingress_capacity"] = stats.Capacity
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.breakers == nil {
		writeJSON(w, http.StatusOK, map[string]breaker.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.breakers.Snapshots())
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.cache == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lru":           s.cache.Stats(),
		"single_flight": s.cache.CoalesceStats(),
	})
}

func (s *Server) handleRetries(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.retries == nil {
		writeJSON(w, http.StatusOK, map[string]retry.MetricsSnapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.retries.Snapshots())
}

// handleRouteReload invalidates a community's cached route table so the
// next resolve re-reads from the store. The request body is
// {"community_id": "..."}; an empty body invalidates nothing, since a
// blanket reload would force every tenant's next event to pay a store
// round trip at once.
func (s *Server) handleRouteReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		CommunityID string `json:"community_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CommunityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "community_id is required"})
		return
	}
	s.resolver.Invalidate(body.CommunityID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "invalidated", "community_id": body.CommunityID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
