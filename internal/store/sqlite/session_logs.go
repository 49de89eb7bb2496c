package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
)

// SessionLogStore implements store.SessionLogStore on SQLite.
type SessionLogStore struct {
	db *sql.DB
}

func NewSessionLogStore(db *sql.DB) *SessionLogStore {
	return &SessionLogStore{db: db}
}

func (s *SessionLogStore) Insert(ctx context.Context, l *store.SessionLog) error {
	ts := l.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_logs (session_id, action, status, user_id, user_name, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.SessionID, l.Action, l.Status,
		nullStr(l.UserID), nullStr(l.UserName), nullStr(l.Details), ts.UTC())
	if err != nil {
		return fmt.Errorf("insert session log: %w", err)
	}
	return nil
}

func (s *SessionLogStore) Recent(ctx context.Context, limit int) ([]store.SessionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, action, status, COALESCE(user_id, ''),
			COALESCE(user_name, ''), COALESCE(details, ''), timestamp
		FROM session_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent session logs: %w", err)
	}
	defer rows.Close()
	return scanSessionLogs(rows)
}

func (s *SessionLogStore) BySession(ctx context.Context, sessionID string, limit int) ([]store.SessionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, action, status, COALESCE(user_id, ''),
			COALESCE(user_name, ''), COALESCE(details, ''), timestamp
		FROM session_logs WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session logs: %w", err)
	}
	defer rows.Close()
	return scanSessionLogs(rows)
}

func scanSessionLogs(rows *sql.Rows) ([]store.SessionLog, error) {
	var out []store.SessionLog
	for rows.Next() {
		var l store.SessionLog
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Action, &l.Status,
			&l.UserID, &l.UserName, &l.Details, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scan session log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
