package permission

import (
	"context"
	"sync"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// GrantStore answers which scopes a module currently holds for a community.
// MemoryGrantStore in this package serves tests; the Postgres-backed store
// lives in internal/store. The gate only depends on this narrow read port.
type GrantStore interface {
	ActiveScopes(ctx context.Context, communityID, moduleID string) ([]string, error)
}

// Gate checks a route's required scopes against a module's active grants
// and, when the dispatch carries a signed scope envelope, against the
// envelope's claims and the revocation list.
type Gate struct {
	grants   GrantStore
	verifier *EnvelopeVerifier
	revoker  Revoker
}

// NewGate builds a permission Gate. verifier may be nil when envelopes are
// not in use (in-process modules that rely on grants alone).
func NewGate(grants GrantStore, verifier *EnvelopeVerifier, revoker Revoker) *Gate {
	return &Gate{grants: grants, verifier: verifier, revoker: revoker}
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Check evaluates whether route's required scopes are satisfied for the
// given community and module, consulting the grant store and, when the
// event carries a non-empty envelope, the envelope itself.
func (g *Gate) Check(ctx context.Context, communityID string, route *types.Route, envelope string) Decision {
	if len(route.RequiredScopes) == 0 {
		return Decision{Allowed: true}
	}

	granted, err := g.grants.ActiveScopes(ctx, communityID, route.ModuleID)
	if err != nil {
		return Decision{Allowed: false, Reason: "grant lookup failed: " + err.Error()}
	}
	if !HasAllScopes(route.RequiredScopes, granted) {
		return Decision{Allowed: false, Reason: "required scopes not granted"}
	}

	if envelope == "" || g.verifier == nil {
		return Decision{Allowed: true}
	}

	claims, err := g.verifier.Verify(envelope)
	if err != nil {
		return Decision{Allowed: false, Reason: err.Error()}
	}
	if claims.CommunityID != communityID || claims.ModuleID != route.ModuleID {
		return Decision{Allowed: false, Reason: "scope envelope does not match community/module"}
	}
	if g.revoker != nil {
		revoked, err := g.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Decision{Allowed: false, Reason: "revocation check failed: " + err.Error()}
		}
		if revoked {
			return Decision{Allowed: false, Reason: "scope envelope revoked"}
		}
	}
	if !HasAllScopes(route.RequiredScopes, NormalizeScopes(claims.Scopes)) {
		return Decision{Allowed: false, Reason: "scope envelope does not cover required scopes"}
	}
	return Decision{Allowed: true}
}

// MemoryGrantStore is a process-local GrantStore used for tests and small
// deployments; production deployments back it with the Postgres store.
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string][]string // "communityID:moduleID" -> scopes
}

// NewMemoryGrantStore creates an empty in-memory grant store.
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string][]string)}
}

// Put installs or replaces the active scopes for a community/module pair.
func (s *MemoryGrantStore) Put(communityID, moduleID string, scopes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey(communityID, moduleID)] = scopes
}

// Revoke clears all scopes for a community/module pair.
func (s *MemoryGrantStore) Revoke(communityID, moduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, grantKey(communityID, moduleID))
}

// ActiveScopes implements GrantStore.
func (s *MemoryGrantStore) ActiveScopes(ctx context.Context, communityID, moduleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[grantKey(communityID, moduleID)], nil
}

func grantKey(communityID, moduleID string) string {
	return communityID + ":" + moduleID
}
