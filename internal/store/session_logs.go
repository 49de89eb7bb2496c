package store

import (
	"context"
	"time"
)

// Session log actions.
const (
	ActionLogin      = "login"
	ActionLogout     = "logout"
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
)

// SessionLog records one lifecycle transition for audit.
type SessionLog struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	UserID    string    `json:"userId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionLogStore persists the session audit trail.
type SessionLogStore interface {
	Insert(ctx context.Context, l *SessionLog) error
	Recent(ctx context.Context, limit int) ([]SessionLog, error)
	BySession(ctx context.Context, sessionID string, limit int) ([]SessionLog, error)
}
