package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS message_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT UNIQUE,
	session_id TEXT NOT NULL,
	direction TEXT NOT NULL CHECK(direction IN ('incoming', 'outgoing')),
	from_number TEXT NOT NULL,
	to_number TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	content TEXT,
	media_url TEXT,
	media_data TEXT,
	filename TEXT,
	file_size INTEGER,
	mimetype TEXT,
	timestamp DATETIME NOT NULL,
	status TEXT DEFAULT 'received',
	source TEXT DEFAULT 'contact',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS session_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	user_id TEXT,
	user_name TEXT,
	details TEXT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_templates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE COLLATE NOCASE,
	title TEXT,
	content TEXT NOT NULL,
	description TEXT,
	media_data TEXT,
	media_mimetype TEXT,
	media_filename TEXT,
	is_active INTEGER DEFAULT 1,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS auto_reply_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	chat_scope TEXT NOT NULL DEFAULT 'all',
	match_kind TEXT NOT NULL,
	match_value TEXT NOT NULL,
	case_sensitive INTEGER DEFAULT 0,
	response_kind TEXT NOT NULL DEFAULT 'text',
	response_content TEXT,
	response_media TEXT,
	response_mimetype TEXT,
	response_filename TEXT,
	cooldown_seconds INTEGER DEFAULT 0,
	priority INTEGER DEFAULT 0,
	enabled INTEGER DEFAULT 1,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS auto_reply_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id INTEGER NOT NULL,
	rule_name TEXT,
	session_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	matched TEXT,
	response TEXT,
	status TEXT NOT NULL,
	error TEXT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS auto_reply_cooldowns (
	rule_id INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	last_fired_at DATETIME NOT NULL,
	PRIMARY KEY (rule_id, session_id, sender_id)
);

CREATE INDEX IF NOT EXISTS idx_message_logs_session ON message_logs(session_id);
CREATE INDEX IF NOT EXISTS idx_message_logs_timestamp ON message_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_message_logs_direction ON message_logs(direction);
CREATE INDEX IF NOT EXISTS idx_session_logs_session ON session_logs(session_id);
CREATE INDEX IF NOT EXISTS idx_chat_templates_code ON chat_templates(code);
CREATE INDEX IF NOT EXISTS idx_auto_reply_rules_session ON auto_reply_rules(session_id);
CREATE INDEX IF NOT EXISTS idx_auto_reply_logs_rule ON auto_reply_logs(rule_id);
CREATE INDEX IF NOT EXISTS idx_auto_reply_cooldowns_fired ON auto_reply_cooldowns(last_fired_at);
`

// Open opens (creating if needed) the SQLite database at path and
// initializes the schema. Parent directories are created.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	slog.Info("sqlite store initialized", "path", path)
	return db, nil
}

// NewStores creates all stores backed by SQLite (standalone mode).
func NewStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Messages:    NewMessageStore(db),
		SessionLogs: NewSessionLogStore(db),
		Templates:   NewTemplateStore(db),
		Rules:       NewRuleStore(db),
		Cooldowns:   NewCooldownStore(db),
	}, nil
}
