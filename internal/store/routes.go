package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// RouteStore implements resolver.RouteProvider against Postgres.
type RouteStore struct {
	db *pgxpool.Pool
}

// NewRouteStore wraps a connection pool as a RouteStore.
func NewRouteStore(db *pgxpool.Pool) *RouteStore {
	return &RouteStore{db: db}
}

// RouteTable returns the community's current route-table version and its
// full set of routes.
func (s *RouteStore) RouteTable(ctx context.Context, communityID string) (int64, []types.Route, error) {
	var version int64
	err := s.db.QueryRow(ctx, "SELECT route_version FROM communities WHERE id = $1", communityID).Scan(&version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil, fmt.Errorf("unknown community %q", communityID)
		}
		return 0, nil, fmt.Errorf("query community route version: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, command, aliases, is_prefix, event_type, module_id, required_scopes,
		       rate_limit_class, cache_enabled, cache_ttl_ms, cache_user_scoped, cache_failures,
		       default_targets, suppress_partial_notice, ordered, priority, insertion_order, deadline_ms
		FROM routes WHERE community_id = $1
	`, communityID)
	if err != nil {
		return 0, nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []types.Route
	for rows.Next() {
		var r types.Route
		var cacheTTLMs, deadlineMs int64
		r.CommunityID = communityID
		if err := rows.Scan(
			&r.ID, &r.Command, &r.Aliases, &r.IsPrefix, &r.EventType, &r.ModuleID, &r.RequiredScopes,
			&r.RateLimitClass, &r.Cache.Enabled, &cacheTTLMs, &r.Cache.UserScoped, &r.Cache.CacheFailures,
			&r.Targets.DefaultTargets, &r.Targets.SuppressPartialNotice, &r.Ordered, &r.Priority, &r.InsertionOrder, &deadlineMs,
		); err != nil {
			return 0, nil, fmt.Errorf("scan route: %w", err)
		}
		r.Cache.TTL = time.Duration(cacheTTLMs) * time.Millisecond
		r.Deadline = time.Duration(deadlineMs) * time.Millisecond
		routes = append(routes, r)
	}
	return version, routes, rows.Err()
}

// MemoryRouteStore is an in-memory RouteProvider used for tests and small
// deployments that don't run Postgres.
type MemoryRouteStore struct {
	mu      sync.RWMutex
	version map[string]int64
	routes  map[string][]types.Route
}

// NewMemoryRouteStore creates an empty in-memory route store.
func NewMemoryRouteStore() *MemoryRouteStore {
	return &MemoryRouteStore{version: make(map[string]int64), routes: make(map[string][]types.Route)}
}

// PutRoutes replaces a community's route table and bumps its version.
func (s *MemoryRouteStore) PutRoutes(communityID string, routes []types.Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version[communityID]++
	cp := make([]types.Route, len(routes))
	copy(cp, routes)
	s.routes[communityID] = cp
}

// RouteTable implements resolver.RouteProvider.
func (s *MemoryRouteStore) RouteTable(ctx context.Context, communityID string) (int64, []types.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version[communityID], s.routes[communityID], nil
}
