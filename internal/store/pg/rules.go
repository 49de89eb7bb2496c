package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
)

// RuleStore implements store.RuleStore backed by Postgres.
type RuleStore struct {
	db *sql.DB
}

func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

const ruleCols = `id, session_id, name, chat_scope, match_kind, match_value, case_sensitive,
	response_kind, COALESCE(response_content, ''), COALESCE(response_media, ''),
	COALESCE(response_mimetype, ''), COALESCE(response_filename, ''),
	cooldown_seconds, priority, enabled, created_at, updated_at`

func (s *RuleStore) Create(ctx context.Context, r *store.Rule) (int64, error) {
	if r.ChatScope == "" {
		r.ChatScope = store.ScopeAll
	}
	if r.ResponseKind == "" {
		r.ResponseKind = store.ResponseText
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO auto_reply_rules (session_id, name, chat_scope, match_kind, match_value,
			case_sensitive, response_kind, response_content, response_media,
			response_mimetype, response_filename, cooldown_seconds, priority, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		r.SessionID, r.Name, string(r.ChatScope), string(r.MatchKind), r.MatchValue,
		r.CaseSensitive, string(r.ResponseKind), nullStr(r.ResponseContent),
		nullStr(r.ResponseMedia), nullStr(r.ResponseMimetype), nullStr(r.ResponseFilename),
		r.CooldownSeconds, r.Priority, r.Enabled).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create rule: %w", err)
	}
	return id, nil
}

func (s *RuleStore) ByID(ctx context.Context, id int64) (*store.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleCols+` FROM auto_reply_rules WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("rule by id: %w", err)
	}
	defer rows.Close()
	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, sql.ErrNoRows
	}
	return &rules[0], nil
}

func (s *RuleStore) ListEnabled(ctx context.Context, sessionID string) ([]store.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleCols+` FROM auto_reply_rules
		WHERE enabled AND (session_id = '' OR session_id = $1)
		ORDER BY priority DESC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *RuleStore) List(ctx context.Context) ([]store.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleCols+` FROM auto_reply_rules ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *RuleStore) Update(ctx context.Context, r *store.Rule) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auto_reply_rules SET session_id = $1, name = $2, chat_scope = $3,
			match_kind = $4, match_value = $5, case_sensitive = $6,
			response_kind = $7, response_content = $8, response_media = $9,
			response_mimetype = $10, response_filename = $11,
			cooldown_seconds = $12, priority = $13, enabled = $14, updated_at = $15
		WHERE id = $16`,
		r.SessionID, r.Name, string(r.ChatScope), string(r.MatchKind), r.MatchValue,
		r.CaseSensitive, string(r.ResponseKind), nullStr(r.ResponseContent),
		nullStr(r.ResponseMedia), nullStr(r.ResponseMimetype), nullStr(r.ResponseFilename),
		r.CooldownSeconds, r.Priority, r.Enabled, time.Now().UTC(), r.ID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return nil
}

func (s *RuleStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auto_reply_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

func (s *RuleStore) InsertLog(ctx context.Context, l *store.ReplyLog) error {
	ts := l.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auto_reply_logs (rule_id, rule_name, session_id, chat_id, sender_id,
			matched, response, status, error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.RuleID, l.RuleName, l.SessionID, l.ChatID, l.SenderID,
		nullStr(l.Matched), nullStr(l.Response), l.Status, nullStr(l.Error), ts.UTC())
	if err != nil {
		return fmt.Errorf("insert reply log: %w", err)
	}
	return nil
}

func (s *RuleStore) RecentLogs(ctx context.Context, limit int) ([]store.ReplyLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, COALESCE(rule_name, ''), session_id, chat_id, sender_id,
			COALESCE(matched, ''), COALESCE(response, ''), status, COALESCE(error, ''), timestamp
		FROM auto_reply_logs ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent reply logs: %w", err)
	}
	defer rows.Close()

	var out []store.ReplyLog
	for rows.Next() {
		var l store.ReplyLog
		if err := rows.Scan(&l.ID, &l.RuleID, &l.RuleName, &l.SessionID, &l.ChatID,
			&l.SenderID, &l.Matched, &l.Response, &l.Status, &l.Error, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scan reply log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanRules(rows *sql.Rows) ([]store.Rule, error) {
	var out []store.Rule
	for rows.Next() {
		var r store.Rule
		var scope, matchKind, respKind string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Name, &scope, &matchKind, &r.MatchValue,
			&r.CaseSensitive, &respKind, &r.ResponseContent, &r.ResponseMedia,
			&r.ResponseMimetype, &r.ResponseFilename,
			&r.CooldownSeconds, &r.Priority, &r.Enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.ChatScope = store.ChatScope(scope)
		r.MatchKind = store.MatchKind(matchKind)
		r.ResponseKind = store.ResponseKind(respKind)
		out = append(out, r)
	}
	return out, rows.Err()
}
