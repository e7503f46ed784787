package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/midstream/internal/domain"
)

// EventRepo handles persistence for TranscriptEvent rows.
type EventRepo struct{}

// AppendTx inserts a transcript event within an existing transaction.
func (r *EventRepo) AppendTx(ctx context.Context, tx *sql.Tx, event domain.TranscriptEvent) error {
	const q = `INSERT INTO transcript_events (session_id, seq_no, kind, text, created_at)
VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		event.SessionID,
		event.SeqNo,
		string(event.Kind),
		event.Text,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListBySession returns events for a session with sequence numbers greater
// than sinceSeq, ordered by sequence number ascending.
func (r *EventRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string, sinceSeq int64) ([]domain.TranscriptEvent, error) {
	const q = `SELECT id, session_id, seq_no, kind, text, created_at
FROM transcript_events
WHERE session_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, sessionID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.TranscriptEvent
	for rows.Next() {
		var e domain.TranscriptEvent
		var kind string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.SeqNo, &kind, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}
