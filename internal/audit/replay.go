package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// AuditPosition is a replay cursor: the timestamp and event ID of the last
// record a caller has already seen. The zero value starts from the
// beginning of retained history for CommunityID.
type AuditPosition struct {
	CommunityID string
	RecordedAt  time.Time
	EventID     string
}

// Replayer streams previously recorded audit records back out, for
// operator investigation, reprocessing, or integration tests asserting
// end-to-end dispatch behavior against the audit trail it produced.
type Replayer interface {
	Replay(ctx context.Context, from AuditPosition) (<-chan types.AuditRecord, error)
}

// Replay streams audit_records for from.CommunityID recorded at or after
// from.RecordedAt, oldest first, excluding the boundary record itself so a
// caller can resume from the last position it saw without re-delivering
// it. The returned channel is closed when the backing query is exhausted,
// on error, or when ctx is canceled; the caller need not drain it on a
// cancellation it initiated itself.
func (b *PostgresBackend) Replay(ctx context.Context, from AuditPosition) (<-chan types.AuditRecord, error) {
	rows, err := b.db.Query(ctx, `
		SELECT event_id, correlation_id, community_id, route_id, decision, target, detail, recorded_at
		FROM audit_records
		WHERE community_id = $1 AND (recorded_at, event_id) > ($2, $3)
		ORDER BY recorded_at ASC, event_id ASC
	`, from.CommunityID, from.RecordedAt, from.EventID)
	if err != nil {
		return nil, fmt.Errorf("query audit replay: %w", err)
	}

	out := make(chan types.AuditRecord)
	go func() {
		defer close(out)
		defer rows.Close()
		for rows.Next() {
			var rec types.AuditRecord
			var decision string
			if err := rows.Scan(&rec.EventID, &rec.CorrelationID, &rec.CommunityID, &rec.RouteID, &decision, &rec.Target, &rec.Detail, &rec.Timestamp); err != nil {
				return
			}
			rec.Decision = types.AuditDecision(decision)
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Replay streams the in-memory ring buffer's retained records for
// from.CommunityID recorded at or after from.RecordedAt, oldest first,
// excluding the boundary record. Used by tests that exercise the replay
// contract without a live Postgres instance.
func (b *MemoryBackend) Replay(ctx context.Context, from AuditPosition) (<-chan types.AuditRecord, error) {
	b.mu.Lock()
	matched := make([]types.AuditRecord, 0, len(b.records))
	for _, rec := range b.records {
		if rec.CommunityID != from.CommunityID {
			continue
		}
		if rec.Timestamp.Before(from.RecordedAt) {
			continue
		}
		if rec.Timestamp.Equal(from.RecordedAt) && rec.EventID <= from.EventID {
			continue
		}
		matched = append(matched, rec)
	}
	b.mu.Unlock()

	out := make(chan types.AuditRecord)
	go func() {
		defer close(out)
		for _, rec := range matched {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
