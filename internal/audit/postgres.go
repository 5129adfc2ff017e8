package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// PostgresBackend writes audit batches with one multi-row insert via pgx's
// CopyFrom, avoiding a round trip per record.
type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgresBackend wraps a connection pool.
func NewPostgresBackend(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: db}
}

var auditColumns = []string{
	"event_id", "correlation_id", "community_id", "route_id", "decision", "target", "detail", "recorded_at",
}

// Write bulk-inserts batch using CopyFrom.
func (b *PostgresBackend) Write(ctx context.Context, batch []types.AuditRecord) error {
	rows := make([][]any, len(batch))
	for i, rec := range batch {
		rows[i] = []any{rec.EventID, rec.CorrelationID, rec.CommunityID, rec.RouteID, string(rec.Decision), rec.Target, rec.Detail, rec.Timestamp}
	}
	_, err := b.db.CopyFrom(ctx, pgx.Identifier{"audit_records"}, auditColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy audit records: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (b *PostgresBackend) Close() error { return nil }
