// Package resolver maps an incoming Event to the ordered list of Routes
// that should handle it, matching commands by exact name, alias, or
// longest-prefix, and platform events by event-type tag.
package resolver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// RouteProvider fetches the current route table for a community. The
// concrete implementation (internal/store) reads from Postgres or an
// in-memory fixture; the resolver only depends on this narrow port.
type RouteProvider interface {
	RouteTable(ctx context.Context, communityID string) (version int64, routes []types.Route, err error)
}

// compiledTable is one community's route table, pre-partitioned for fast
// matching and stamped with the version it was built from.
type compiledTable struct {
	version   int64
	commands  []types.Route // commands + aliases, sorted by specificity desc, insertion order asc
	prefixes  []types.Route // prefix routes, sorted by pattern length desc
	byEvent   map[string][]types.Route
}

// Resolver memoizes compiled route tables per community, invalidating a
// community's entry lazily whenever a read observes a higher version than
// the one it has cached.
type Resolver struct {
	provider RouteProvider

	mu    sync.RWMutex
	cache map[string]*compiledTable
}

// New builds a Resolver backed by provider.
func New(provider RouteProvider) *Resolver {
	return &Resolver{provider: provider, cache: make(map[string]*compiledTable)}
}

// Resolve returns the ordered, deduplicated list of routes matching event,
// preserving first occurrence order. An empty result is not an error — it
// means "no route", which the caller audits and treats as a terminal
// success for that route (but not necessarily for the whole event, since
// other matched routes may still run).
func (r *Resolver) Resolve(ctx context.Context, event *types.Event) ([]types.Route, error) {
	table, err := r.tableFor(ctx, event.CommunityID)
	if err != nil {
		return nil, err
	}

	var matched []types.Route
	seen := make(map[string]bool)

	switch event.Kind {
	case types.EventKindCommand:
		matched = matchCommand(table, event.Text)
	case types.EventKindEvent:
		matched = table.byEvent[event.EventType]
	}

	out := make([]types.Route, 0, len(matched))
	for _, route := range matched {
		if seen[route.ID] {
			continue
		}
		seen[route.ID] = true
		out = append(out, route)
	}
	return out, nil
}

func matchCommand(table *compiledTable, text string) []types.Route {
	normalized := normalizeCommandText(text)
	if normalized == "" {
		return nil
	}
	leading := strings.Fields(normalized)
	if len(leading) == 0 {
		return nil
	}
	token := leading[0]

	var matched []types.Route
	for _, route := range table.commands {
		if route.Command == token {
			matched = append(matched, route)
			continue
		}
		for _, alias := range route.Aliases {
			if alias == token {
				matched = append(matched, route)
				break
			}
		}
	}
	if len(matched) > 0 {
		return matched
	}

	// prefixes is sorted longest first, so only the first matching length wins.
	for _, route := range table.prefixes {
		if !route.IsPrefix || !strings.HasPrefix(normalized, route.Command) {
			continue
		}
		if len(matched) > 0 && len(route.Command) < len(matched[0].Command) {
			break
		}
		matched = append(matched, route)
	}
	return matched
}

// normalizeCommandText trims surrounding whitespace and lowercases the
// leading token only, leaving argument text untouched.
func normalizeCommandText(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	fields := strings.SplitN(trimmed, " ", 2)
	fields[0] = strings.ToLower(fields[0])
	return strings.Join(fields, " ")
}

func (r *Resolver) tableFor(ctx context.Context, communityID string) (*compiledTable, error) {
	version, routes, err := r.provider.RouteTable(ctx, communityID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	cached, ok := r.cache[communityID]
	r.mu.RUnlock()
	if ok && cached.version >= version {
		return cached, nil
	}

	compiled := compile(version, routes)
	r.mu.Lock()
	r.cache[communityID] = compiled
	r.mu.Unlock()
	return compiled, nil
}

func compile(version int64, routes []types.Route) *compiledTable {
	table := &compiledTable{version: version, byEvent: make(map[string][]types.Route)}
	for _, route := range routes {
		if route.EventType != "" {
			table.byEvent[route.EventType] = append(table.byEvent[route.EventType], route)
			continue
		}
		if route.IsPrefix {
			table.prefixes = append(table.prefixes, route)
		} else {
			table.commands = append(table.commands, route)
		}
	}

	sort.SliceStable(table.commands, func(i, j int) bool {
		if table.commands[i].Priority != table.commands[j].Priority {
			return table.commands[i].Priority > table.commands[j].Priority
		}
		return table.commands[i].InsertionOrder < table.commands[j].InsertionOrder
	})
	sort.SliceStable(table.prefixes, func(i, j int) bool {
		li, lj := len(table.prefixes[i].Command), len(table.prefixes[j].Command)
		if li != lj {
			return li > lj
		}
		if table.prefixes[i].Priority != table.prefixes[j].Priority {
			return table.prefixes[i].Priority > table.prefixes[j].Priority
		}
		return table.prefixes[i].InsertionOrder < table.prefixes[j].InsertionOrder
	})
	return table
}

// Invalidate drops a community's cached table, forcing a rebuild on next
// Resolve even if the provider hasn't bumped the version yet.
func (r *Resolver) Invalidate(communityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, communityID)
}
