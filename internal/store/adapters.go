package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// AdapterRegistrationStore reads module adapter registrations from Postgres.
type AdapterRegistrationStore struct {
	db *pgxpool.Pool
}

// NewAdapterRegistrationStore wraps a connection pool.
func NewAdapterRegistrationStore(db *pgxpool.Pool) *AdapterRegistrationStore {
	return &AdapterRegistrationStore{db: db}
}

// All returns every module's adapter registration, used to warm the
// adapter registry at startup and on admin-triggered reload.
func (s *AdapterRegistrationStore) All(ctx context.Context) ([]types.AdapterRegistration, error) {
	rows, err := s.db.Query(ctx, `
		SELECT module_id, variant, endpoint, region, signing_key, timeout_ms, max_retries,
		       async, api_host, basic_user, basic_pass
		FROM adapter_registrations
	`)
	if err != nil {
		return nil, fmt.Errorf("query adapter registrations: %w", err)
	}
	defer rows.Close()

	var out []types.AdapterRegistration
	for rows.Next() {
		var reg types.AdapterRegistration
		var variant string
		var timeoutMs int64
		if err := rows.Scan(
			&reg.ModuleID, &variant, &reg.Endpoint, &reg.Region, &reg.SigningKey, &timeoutMs, &reg.MaxRetries,
			&reg.Async, &reg.APIHost, &reg.BasicUser, &reg.BasicPass,
		); err != nil {
			return nil, fmt.Errorf("scan adapter registration: %w", err)
		}
		reg.Variant = types.AdapterVariant(variant)
		reg.Timeout = time.Duration(timeoutMs) * time.Millisecond
		out = append(out, reg)
	}
	return out, rows.Err()
}

// Put upserts a module's adapter registration.
func (s *AdapterRegistrationStore) Put(ctx context.Context, reg types.AdapterRegistration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO adapter_registrations
			(module_id, variant, endpoint, region, signing_key, timeout_ms, max_retries, async, api_host, basic_user, basic_pass)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (module_id) DO UPDATE SET
			variant = EXCLUDED.variant, endpoint = EXCLUDED.endpoint, region = EXCLUDED.region,
			signing_key = EXCLUDED.signing_key, timeout_ms = EXCLUDED.timeout_ms, max_retries = EXCLUDED.max_retries,
			async = EXCLUDED.async, api_host = EXCLUDED.api_host, basic_user = EXCLUDED.basic_user, basic_pass = EXCLUDED.basic_pass
	`, reg.ModuleID, string(reg.Variant), reg.Endpoint, reg.Region, reg.SigningKey, reg.Timeout.Milliseconds(),
		reg.MaxRetries, reg.Async, reg.APIHost, reg.BasicUser, reg.BasicPass)
	if err != nil {
		return fmt.Errorf("upsert adapter registration: %w", err)
	}
	return nil
}

// Remove deletes a module's adapter registration.
func (s *AdapterRegistrationStore) Remove(ctx context.Context, moduleID string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM adapter_registrations WHERE module_id = $1", moduleID)
	if err != nil {
		return fmt.Errorf("delete adapter registration: %w", err)
	}
	return nil
}
