package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GrantStore implements permission.GrantStore against Postgres.
type GrantStore struct {
	db *pgxpool.Pool
}

// NewGrantStore wraps a connection pool as a GrantStore.
func NewGrantStore(db *pgxpool.Pool) *GrantStore {
	return &GrantStore{db: db}
}

// ActiveScopes returns the scopes currently granted to moduleID within
// communityID, or an empty slice if no grant exists.
func (s *GrantStore) ActiveScopes(ctx context.Context, communityID, moduleID string) ([]string, error) {
	var scopes []string
	err := s.db.QueryRow(ctx,
		"SELECT scopes FROM scope_grants WHERE community_id = $1 AND module_id = $2",
		communityID, moduleID,
	).Scan(&scopes)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query active scopes: %w", err)
	}
	return scopes, nil
}

// Grant upserts the scope set a module holds within a community.
func (s *GrantStore) Grant(ctx context.Context, communityID, moduleID string, scopes []string, grantedBy string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scope_grants (community_id, module_id, scopes, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (community_id, module_id)
		DO UPDATE SET scopes = EXCLUDED.scopes, granted_by = EXCLUDED.granted_by, granted_at = NOW()
	`, communityID, moduleID, scopes, grantedBy)
	if err != nil {
		return fmt.Errorf("upsert scope grant: %w", err)
	}
	return nil
}

// Revoke removes every scope a module holds within a community.
func (s *GrantStore) Revoke(ctx context.Context, communityID, moduleID string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM scope_grants WHERE community_id = $1 AND module_id = $2", communityID, moduleID)
	if err != nil {
		return fmt.Errorf("delete scope grant: %w", err)
	}
	return nil
}
