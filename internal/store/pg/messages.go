package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
)

// MessageStore implements store.MessageStore backed by Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

const messageCols = `id, message_id, session_id, direction, from_number, to_number,
	message_type, COALESCE(content, ''), COALESCE(media_url, ''), COALESCE(media_data, ''),
	COALESCE(filename, ''), COALESCE(file_size, 0), COALESCE(mimetype, ''),
	timestamp, COALESCE(status, ''), COALESCE(source, ''), created_at`

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

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO message_logs (
			message_id, session_id, direction, from_number, to_number,
			message_type, content, media_url, media_data, filename,
			file_size, mimetype, timestamp, status, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (message_id) DO NOTHING
		RETURNING id`,
		m.MessageID, m.SessionID, string(m.Direction), m.From, m.To,
		m.Kind, m.Content, nullStr(m.MediaURL), nullStr(m.MediaData), nullStr(m.Filename),
		nullInt(m.FileSize), nullStr(m.Mimetype), m.Timestamp.UTC(), m.Status, m.Source).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil // duplicate message id
	}
	if err != nil {
		return 0, fmt.Errorf("insert message log: %w", err)
	}
	return id, nil
}

func (s *MessageStore) AttachMedia(ctx context.Context, messageID, mediaBase64 string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_logs SET media_data = $1 WHERE message_id = $2`, mediaBase64, messageID)
	if err != nil {
		return fmt.Errorf("attach media: %w", err)
	}
	return nil
}

func (s *MessageStore) Exists(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM message_logs WHERE message_id = $1`, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return true, nil
}

func (s *MessageStore) List(ctx context.Context, f store.MessageFilter) ([]store.MessageLog, error) {
	query := `SELECT ` + messageCols + ` FROM message_logs WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.SessionID != "" {
		query += ` AND session_id = ` + arg(f.SessionID)
	}
	if f.Contact != "" {
		p := arg("%" + f.Contact + "%")
		query += ` AND (from_number LIKE ` + p + ` OR to_number LIKE ` + p + `)`
	}
	if f.Direction != "" {
		query += ` AND direction = ` + arg(string(f.Direction))
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ` + arg(f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += ` AND timestamp <= ` + arg(f.Until.UTC())
	}
	query += ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + arg(f.Offset)
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
		SELECT `+messageCols+` FROM message_logs
		WHERE session_id = $1 AND (from_number LIKE $2 OR to_number LIKE $2)
		ORDER BY timestamp ASC
		LIMIT $3`,
		sessionID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *MessageStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM message_logs WHERE timestamp < $1`, cutoff.UTC())
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
