package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
)

// MessageStore implements store.MessageStore on SQLite.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Insert(ctx context.Context, m *store.MessageLog) (int64, error) {
	if m.Status == "" {
		if m.Direction == store.DirectionIncoming {
			m.Status = "received"
		} else {
			m.Status = "sent"
		}
	}
	if m.Source == "" {
		m.Source = store.SourceContact
	}
	if m.Kind == "" {
		m.Kind = "text"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_logs (
			message_id, session_id, direction, from_number, to_number,
			message_type, content, media_url, media_data, filename,
			file_size, mimetype, timestamp, status, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.SessionID, string(m.Direction), m.From, m.To,
		m.Kind, m.Content, nullStr(m.MediaURL), nullStr(m.MediaData), nullStr(m.Filename),
		nullInt(m.FileSize), nullStr(m.Mimetype), m.Timestamp.UTC(), m.Status, m.Source,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, nil // duplicate message id
	}
	return res.LastInsertId()
}

func (s *MessageStore) AttachMedia(ctx context.Context, messageID, mediaBase64 string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_logs SET media_data = ? WHERE message_id = ?`, mediaBase64, messageID)
	if err != nil {
		return fmt.Errorf("attach media: %w", err)
	}
	return nil
}

func (s *MessageStore) Exists(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM message_logs WHERE message_id = ?`, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return true, nil
}

func (s *MessageStore) List(ctx context.Context, f store.MessageFilter) ([]store.MessageLog, error) {
	query := `SELECT id, message_id, session_id, direction, from_number, to_number,
		message_type, COALESCE(content, ''), COALESCE(media_url, ''), COALESCE(media_data, ''),
		COALESCE(filename, ''), COALESCE(file_size, 0), COALESCE(mimetype, ''),
		timestamp, COALESCE(status, ''), COALESCE(source, ''), created_at
		FROM message_logs WHERE 1=1`
	var args []any

	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.Contact != "" {
		query += ` AND (from_number LIKE ? OR to_number LIKE ?)`
		pattern := "%" + f.Contact + "%"
		args = append(args, pattern, pattern)
	}
	if f.Direction != "" {
		query += ` AND direction = ?`
		args = append(args, string(f.Direction))
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.Until.UTC())
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *MessageStore) ChatHistory(ctx context.Context, sessionID, contact string, limit int) ([]store.MessageLog, error) {
	if limit <= 0 {
		limit = 100
	}
	pattern := "%" + digitsOnly(contact) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, session_id, direction, from_number, to_number,
			message_type, COALESCE(content, ''), COALESCE(media_url, ''), COALESCE(media_data, ''),
			COALESCE(filename, ''), COALESCE(file_size, 0), COALESCE(mimetype, ''),
			timestamp, COALESCE(status, ''), COALESCE(source, ''), created_at
		FROM message_logs
		WHERE session_id = ? AND (from_number LIKE ? OR to_number LIKE ?)
		ORDER BY timestamp ASC
		LIMIT ?`,
		sessionID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *MessageStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM message_logs WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	return res.RowsAffected()
}

func scanMessages(rows *sql.Rows) ([]store.MessageLog, error) {
	var out []store.MessageLog
	for rows.Next() {
		var m store.MessageLog
		var dir string
		if err := rows.Scan(&m.ID, &m.MessageID, &m.SessionID, &dir, &m.From, &m.To,
			&m.Kind, &m.Content, &m.MediaURL, &m.MediaData,
			&m.Filename, &m.FileSize, &m.Mimetype,
			&m.Timestamp, &m.Status, &m.Source, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message log: %w", err)
		}
		m.Direction = store.Direction(dir)
		out = append(out, m)
	}
	return out, rows.Err()
}

func digitsOnly(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
