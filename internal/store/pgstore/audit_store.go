package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copytrade/router/internal/domain"
)

// HistoryStore is the durable mirror of closed positions, route-level
// decision events, and cached daily/weekly reports. Every write here is
// additive to Redis's hot, TTL'd state — nothing in the router's critical
// path blocks on it. Within this module only the perf monitor writes to it
// (RecordReport); RecordClose and Log have no caller.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// RecordClose appends a durable row for a confirmed destination close.
func (s *HistoryStore) RecordClose(ctx context.Context, routeID string, m domain.Mapping, info domain.CloseInfo) error {
	const query = `
		INSERT INTO closed_positions
			(route_id, source_account, source_position, dest_account, dest_position,
			 symbol, source_volume, dest_volume, close_reason, profit, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := s.pool.Exec(ctx, query,
		routeID, m.Key.SourceAccountID, m.Key.SourcePositionID, m.DestAccountID, m.DestPositionID,
		m.Symbol, m.SourceVolume, m.DestVolume, string(info.Reason), info.Profit, m.OpenedAt)
	if err != nil {
		return fmt.Errorf("pgstore: record close: %w", err)
	}
	return nil
}

// RecordReport upserts a cached hourly, daily or weekly summary row.
func (s *HistoryStore) RecordReport(ctx context.Context, routeID, period, bucket string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("pgstore: marshal report detail: %w", err)
	}
	const query = `
		INSERT INTO route_reports (route_id, period, bucket, detail)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (route_id, period, bucket) DO UPDATE SET detail = EXCLUDED.detail, created_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, routeID, period, bucket, detailJSON); err != nil {
		return fmt.Errorf("pgstore: record report: %w", err)
	}
	return nil
}

// Log appends a route-level decision audit entry (config reload, toggle,
// emergency stop latch). routeID may be empty for process-wide events.
func (s *HistoryStore) Log(ctx context.Context, routeID, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("pgstore: marshal audit detail: %w", err)
	}
	const query = `INSERT INTO audit_log (route_id, event, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, nullableString(routeID), event, detailJSON); err != nil {
		return fmt.Errorf("pgstore: log audit event %s: %w", event, err)
	}
	return nil
}

// AuditEntry is one row read back from the decision audit log.
type AuditEntry struct {
	ID        int64
	RouteID   string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts bounds a List query over the audit log.
type ListOpts struct {
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// List returns audit entries newest-first, with optional time filtering and
// pagination. Used by the dashboard/debugging surface, not the hot path.
func (s *HistoryStore) List(ctx context.Context, opts ListOpts) ([]AuditEntry, error) {
	query := `SELECT id, COALESCE(route_id, ''), event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.RouteID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan audit entry: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("pgstore: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list audit entries rows: %w", err)
	}
	return entries, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
