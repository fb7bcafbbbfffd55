package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ClosedPositionRecord is one archived row from closed_positions.
type ClosedPositionRecord struct {
	RouteID        string    `json:"routeId"`
	SourceAccount  string    `json:"sourceAccount"`
	SourcePosition string    `json:"sourcePosition"`
	DestAccount    string    `json:"destAccount"`
	DestPosition   string    `json:"destPosition"`
	Symbol         string    `json:"symbol"`
	SourceVolume   float64   `json:"sourceVolume"`
	DestVolume     float64   `json:"destVolume"`
	CloseReason    string    `json:"closeReason"`
	Profit         float64   `json:"profit"`
	OpenedAt       time.Time `json:"openedAt"`
	ClosedAt       time.Time `json:"closedAt"`
}

// ListClosedPositionsBefore returns every closed-position row recorded
// strictly before the given cutoff, oldest first.
func (s *HistoryStore) ListClosedPositionsBefore(ctx context.Context, before time.Time) ([]ClosedPositionRecord, error) {
	const query = `
		SELECT route_id, source_account, source_position, dest_account, dest_position,
		       symbol, source_volume, dest_volume, close_reason, profit, opened_at, closed_at
		FROM closed_positions
		WHERE closed_at < $1
		ORDER BY closed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list closed positions before: %w", err)
	}
	defer rows.Close()

	var out []ClosedPositionRecord
	for rows.Next() {
		var r ClosedPositionRecord
		if err := rows.Scan(&r.RouteID, &r.SourceAccount, &r.SourcePosition, &r.DestAccount, &r.DestPosition,
			&r.Symbol, &r.SourceVolume, &r.DestVolume, &r.CloseReason, &r.Profit, &r.OpenedAt, &r.ClosedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan closed position: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteClosedPositionsBefore removes archived closed_positions rows. Called
// only after the archive upload has succeeded.
func (s *HistoryStore) DeleteClosedPositionsBefore(ctx context.Context, before time.Time) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM closed_positions WHERE closed_at < $1`, before); err != nil {
		return fmt.Errorf("pgstore: delete closed positions before: %w", err)
	}
	return nil
}

// ReportRecord is one archived row from route_reports.
type ReportRecord struct {
	RouteID   string         `json:"routeId"`
	Period    string         `json:"period"`
	Bucket    string         `json:"bucket"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ListReportsBefore returns every route_reports row created strictly before
// the given cutoff, oldest first.
func (s *HistoryStore) ListReportsBefore(ctx context.Context, before time.Time) ([]ReportRecord, error) {
	const query = `
		SELECT route_id, period, bucket, detail, created_at
		FROM route_reports
		WHERE created_at < $1
		ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list reports before: %w", err)
	}
	defer rows.Close()

	var out []ReportRecord
	for rows.Next() {
		var r ReportRecord
		var detailJSON []byte
		if err := rows.Scan(&r.RouteID, &r.Period, &r.Bucket, &detailJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan report: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &r.Detail); err != nil {
				return nil, fmt.Errorf("pgstore: unmarshal report detail: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteReportsBefore removes archived route_reports rows.
func (s *HistoryStore) DeleteReportsBefore(ctx context.Context, before time.Time) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM route_reports WHERE created_at < $1`, before); err != nil {
		return fmt.Errorf("pgstore: delete reports before: %w", err)
	}
	return nil
}

// AuditLogRecord is one archived row from audit_log.
type AuditLogRecord struct {
	RouteID   string         `json:"routeId,omitempty"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ListAuditLogBefore returns every audit_log row created strictly before the
// given cutoff, oldest first.
func (s *HistoryStore) ListAuditLogBefore(ctx context.Context, before time.Time) ([]AuditLogRecord, error) {
	const query = `
		SELECT COALESCE(route_id, ''), event, detail, created_at
		FROM audit_log
		WHERE created_at < $1
		ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list audit log before: %w", err)
	}
	defer rows.Close()

	var out []AuditLogRecord
	for rows.Next() {
		var r AuditLogRecord
		var detailJSON []byte
		if err := rows.Scan(&r.RouteID, &r.Event, &detailJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan audit log row: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &r.Detail); err != nil {
				return nil, fmt.Errorf("pgstore: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteAuditLogBefore removes archived audit_log rows.
func (s *HistoryStore) DeleteAuditLogBefore(ctx context.Context, before time.Time) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, before); err != nil {
		return fmt.Errorf("pgstore: delete audit log before: %w", err)
	}
	return nil
}
