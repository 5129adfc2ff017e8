package resolver

import (
	"context"
	"testing"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

type staticProvider struct {
	version int64
	routes  []types.Route
}

func (p *staticProvider) RouteTable(ctx context.Context, communityID string) (int64, []types.Route, error) {
	return p.version, p.routes, nil
}

func commandEvent(text string) *types.Event {
	return &types.Event{ID: "e1", CommunityID: "c1", Kind: types.EventKindCommand, Text: text}
}

func TestResolveExactCommandMatch(t *testing.T) {
	routes := []types.Route{{ID: "r1", Command: "!ping"}}
	r := New(&staticProvider{version: 1, routes: routes})

	matched, err := r.Resolve(context.Background(), commandEvent("!ping"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "r1" {
		t.Fatalf("expected r1 to match, got %+v", matched)
	}
}

func TestResolveAliasMatch(t *testing.T) {
	routes := []types.Route{{ID: "r1", Command: "!ping", Aliases: []string{"!p"}}}
	r := New(&staticProvider{version: 1, routes: routes})

	matched, err := r.Resolve(context.Background(), commandEvent("!p"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "r1" {
		t.Fatalf("expected alias match, got %+v", matched)
	}
}

func TestResolveIsCaseInsensitiveOnLeadingToken(t *testing.T) {
	routes := []types.Route{{ID: "r1", Command: "!ping"}}
	r := New(&staticProvider{version: 1, routes: routes})

	matched, err := r.Resolve(context.Background(), commandEvent("!PING extra args"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected case-insensitive match, got %+v", matched)
	}
}

func TestResolveFallsBackToLongestPrefix(t *testing.T) {
	routes := []types.Route{
		{ID: "short", Command: "!so", IsPrefix: true},
		{ID: "long", Command: "!song", IsPrefix: true},
	}
	r := New(&staticProvider{version: 1, routes: routes})

	matched, err := r.Resolve(context.Background(), commandEvent("!songrequest next"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "long" {
		t.Fatalf("expected longest prefix to win, got %+v", matched)
	}
}

func TestResolveNoMatchReturnsEmpty(t *testing.T) {
	routes := []types.Route{{ID: "r1", Command: "!ping"}}
	r := New(&staticProvider{version: 1, routes: routes})

	matched, err := r.Resolve(context.Background(), commandEvent("!unknown"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 0 {
		t.Fatalf("expected no match, got %+v", matched)
	}
}

func TestResolveMatchesByEventType(t *testing.T) {
	routes := []types.Route{{ID: "r1", EventType: "follow"}}
	r := New(&staticProvider{version: 1, routes: routes})

	ev := &types.Event{ID: "e1", CommunityID: "c1", Kind: types.EventKindEvent, EventType: "follow"}
	matched, err := r.Resolve(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "r1" {
		t.Fatalf("expected event-type match, got %+v", matched)
	}
}

func TestResolveRecompilesOnVersionBump(t *testing.T) {
	provider := &staticProvider{version: 1, routes: []types.Route{{ID: "r1", Command: "!ping"}}}
	r := New(provider)

	if _, err := r.Resolve(context.Background(), commandEvent("!ping")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	provider.version = 2
	provider.routes = []types.Route{{ID: "r2", Command: "!pong"}}

	matched, err := r.Resolve(context.Background(), commandEvent("!pong"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "r2" {
		t.Fatalf("expected recompiled table to match r2, got %+v", matched)
	}
}

func TestInvalidateForcesRebuildWithoutVersionBump(t *testing.T) {
	provider := &staticProvider{version: 1, routes: []types.Route{{ID: "r1", Command: "!ping"}}}
	r := New(provider)

	if _, err := r.Resolve(context.Background(), commandEvent("!ping")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	provider.routes = []types.Route{{ID: "r1", Command: "!ping"}, {ID: "r2", Command: "!pong"}}
	r.Invalidate("c1")

	matched, err := r.Resolve(context.Background(), commandEvent("!pong"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "r2" {
		t.Fatalf("expected invalidated table to pick up r2, got %+v", matched)
	}
}

func TestResolveDedupesRouteMatchedByCommandAndAlias(t *testing.T) {
	routes := []types.Route{{ID: "r1", Command: "!ping", Aliases: []string{"!ping"}}}
	r := New(&staticProvider{version: 1, routes: routes})

	matched, err := r.Resolve(context.Background(), commandEvent("!ping"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected a single deduplicated match, got %+v", matched)
	}
}
