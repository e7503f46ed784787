package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/midstream/internal/domain"
)

// SessionRepo handles persistence for SessionRecord rows.
type SessionRepo struct{}

// CreateTx inserts a new session within an existing transaction.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, rec domain.SessionRecord) error {
	const q = `INSERT INTO sessions (session_id, state, state_version, continuations, max_continuations, model, transcript_chars, last_event_seq, created_at_unix, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		rec.SessionID,
		string(rec.State),
		rec.StateVersion,
		rec.Continuations,
		rec.MaxContinuations,
		rec.Model,
		rec.TranscriptChars,
		rec.LastEventSeq,
		rec.CreatedAtUnix,
		rec.UpdatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateStateTx updates a session within a transaction using optimistic
// locking. The update only succeeds if the current state_version matches the
// record's version.
func (r *SessionRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, rec domain.SessionRecord) error {
	const q = `UPDATE sessions SET
		state = ?,
		state_version = state_version + 1,
		continuations = ?,
		max_continuations = ?,
		model = ?,
		transcript_chars = ?,
		last_event_seq = ?,
		updated_at_unix = ?
	WHERE session_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(rec.State),
		rec.Continuations,
		rec.MaxContinuations,
		rec.Model,
		rec.TranscriptChars,
		rec.LastEventSeq,
		rec.UpdatedAtUnix,
		rec.SessionID,
		rec.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepo) GetByID(ctx context.Context, db *sql.DB, sessionID string) (*domain.SessionRecord, error) {
	const q = `SELECT session_id, state, state_version, continuations, max_continuations, model, transcript_chars, last_event_seq, created_at_unix, updated_at_unix
FROM sessions WHERE session_id = ?`

	row := db.QueryRowContext(ctx, q, sessionID)

	var rec domain.SessionRecord
	var state string
	err := row.Scan(&rec.SessionID, &state, &rec.StateVersion, &rec.Continuations,
		&rec.MaxContinuations, &rec.Model, &rec.TranscriptChars, &rec.LastEventSeq,
		&rec.CreatedAtUnix, &rec.UpdatedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	rec.State = domain.SessionState(state)
	return &rec, nil
}

// ListRecent returns up to limit sessions ordered by most recent update.
func (r *SessionRepo) ListRecent(ctx context.Context, db *sql.DB, limit int) ([]domain.SessionRecord, error) {
	const q = `SELECT session_id, state, state_version, continuations, max_continuations, model, transcript_chars, last_event_seq, created_at_unix, updated_at_unix
FROM sessions ORDER BY updated_at_unix DESC LIMIT ?`

	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var recs []domain.SessionRecord
	for rows.Next() {
		var rec domain.SessionRecord
		var state string
		if err := rows.Scan(&rec.SessionID, &state, &rec.StateVersion, &rec.Continuations,
			&rec.MaxContinuations, &rec.Model, &rec.TranscriptChars, &rec.LastEventSeq,
			&rec.CreatedAtUnix, &rec.UpdatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.State = domain.SessionState(state)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
