package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/store/pgstore"
)

// ArchiveImpl implements domain.Archiver by querying the durable history
// store for rows older than their retention window, serializing them to
// JSONL, and uploading the result to S3. Deletion of the archived rows from
// Postgres happens only after the upload succeeds, mirroring the read-then-
// delete ordering the history store's own callers rely on.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	history *pgstore.HistoryStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, history *pgstore.HistoryStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, history: history}
}

// ArchiveClosedPositions exports closed_positions rows older than the
// cutoff to archive/closed_positions/YYYY-MM.jsonl and deletes them from
// Postgres once the upload succeeds.
func (a *ArchiveImpl) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.history.ListClosedPositionsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions marshal: %w", err)
	}

	path := archivePath("closed_positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions upload: %w", err)
	}

	if err := a.history.DeleteClosedPositionsBefore(ctx, before); err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive closed positions cleanup: %w", err)
	}

	return int64(len(rows)), nil
}

// ArchiveReports exports route_reports rows older than the cutoff to
// archive/reports/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveReports(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.history.ListReportsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive reports query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive reports marshal: %w", err)
	}

	path := archivePath("reports", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive reports upload: %w", err)
	}

	if err := a.history.DeleteReportsBefore(ctx, before); err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive reports cleanup: %w", err)
	}

	return int64(len(rows)), nil
}

// ArchiveAuditLog exports audit_log rows older than the cutoff to
// archive/audit_log/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.history.ListAuditLogBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log marshal: %w", err)
	}

	path := archivePath("audit_log", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log upload: %w", err)
	}

	if err := a.history.DeleteAuditLogBefore(ctx, before); err != nil {
		return int64(len(rows)), fmt.Errorf("s3blob: archive audit log cleanup: %w", err)
	}

	return int64(len(rows)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/closed_positions/2025-01.jsonl
//	archive/reports/2025-01.jsonl
//	archive/audit_log/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
