package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/midstream/internal/domain"
)

// AuditRepo handles persistence for AuditRecord rows.
type AuditRepo struct{}

// Record inserts an audit record.
func (r *AuditRepo) Record(ctx context.Context, db *sql.DB, rec domain.AuditRecord) error {
	const q = `INSERT INTO audit_records (session_id, action, path, success, error, payload_bytes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.SessionID,
		rec.Action,
		rec.Path,
		boolToInt(rec.Success),
		rec.Error,
		rec.PayloadBytes,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListBySession returns all audit records for a session, oldest first.
func (r *AuditRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string) ([]domain.AuditRecord, error) {
	const q = `SELECT id, session_id, action, path, success, error, payload_bytes, created_at
FROM audit_records
WHERE session_id = ?
ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// ListSince returns audit records with id greater than sinceID, oldest
// first. It backs the polling audit stream.
func (r *AuditRepo) ListSince(ctx context.Context, db *sql.DB, sinceID int64) ([]domain.AuditRecord, error) {
	const q = `SELECT id, session_id, action, path, success, error, payload_bytes, created_at
FROM audit_records
WHERE id > ?
ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, q, sinceID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

func scanAuditRows(rows *sql.Rows) ([]domain.AuditRecord, error) {
	var records []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		var success int
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Action, &a.Path, &success,
			&a.Error, &a.PayloadBytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		a.Success = success != 0
		records = append(records, a)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AuditSink binds an AuditRepo to a database handle so append-only callers
// do not carry the handle around.
type AuditSink struct {
	DB   *sql.DB
	Repo *AuditRepo
}

// Append inserts one audit record.
func (s AuditSink) Append(ctx context.Context, rec domain.AuditRecord) error {
	return s.Repo.Record(ctx, s.DB, rec)
}
