package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CooldownStore implements store.CooldownStore backed by Postgres.
type CooldownStore struct {
	db *sql.DB
}

func NewCooldownStore(db *sql.DB) *CooldownStore {
	return &CooldownStore{db: db}
}

func (s *CooldownStore) LastFired(ctx context.Context, ruleID int64, sessionID, senderID string) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_fired_at FROM auto_reply_cooldowns
		WHERE rule_id = $1 AND session_id = $2 AND sender_id = $3`,
		ruleID, sessionID, senderID).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cooldown lookup: %w", err)
	}
	return t, true, nil
}

func (s *CooldownStore) Touch(ctx context.Context, ruleID int64, sessionID, senderID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auto_reply_cooldowns (rule_id, session_id, sender_id, last_fired_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (rule_id, session_id, sender_id) DO UPDATE SET last_fired_at = EXCLUDED.last_fired_at`,
		ruleID, sessionID, senderID, at.UTC())
	if err != nil {
		return fmt.Errorf("cooldown touch: %w", err)
	}
	return nil
}

func (s *CooldownStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM auto_reply_cooldowns WHERE last_fired_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("cooldown prune: %w", err)
	}
	return res.RowsAffected()
}
