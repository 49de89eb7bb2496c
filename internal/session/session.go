// Package session owns the lifecycle of protocol sessions: connecting,
// authentication hand-off (QR or pairing code), per-session event workers,
// reconnect scheduling, and teardown.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/transport"
)

// State is a session's lifecycle position.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateAwaitingQR   State = "awaiting_qr"
	StatePairing      State = "pairing_requested"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	// StateLoggedOut is terminal: the account was unlinked and the
	// session will not reconnect.
	StateLoggedOut State = "logged_out"
)

var (
	ErrAlreadyConnected = errors.New("session already connected")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotConnected     = errors.New("session not connected")
)

// Session is one tracked protocol session. All fields behind mu.
type Session struct {
	ID string

	mu        sync.Mutex
	state     State
	authMode  transport.AuthMode
	phoneHint string

	handle  transport.Handle
	ownJID  string
	ownName string

	qr          string
	pairingCode string

	attempts  int // reconnects since the last successful open
	reconnect *time.Timer
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// stopReconnect cancels a pending reconnect, if any. Caller holds mu.
func (s *Session) stopReconnect() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	SessionID   string `json:"sessionId"`
	State       State  `json:"state"`
	Connected   bool   `json:"connected"`
	User        string `json:"user,omitempty"`
	Name        string `json:"name,omitempty"`
	QR          string `json:"qr,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
}

func (s *Session) snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:   s.ID,
		State:       s.state,
		Connected:   s.state == StateConnected,
		User:        s.ownJID,
		Name:        s.ownName,
		QR:          s.qr,
		PairingCode: s.pairingCode,
	}
}

// Outbound is the send capability of one connected session, handed to the
// template dispatcher and the auto-reply engine.
type Outbound struct {
	sessionID string
	ownJID    string
	handle    transport.Handle
}

func (o *Outbound) OwnJID() string { return o.ownJID }

func (o *Outbound) SendText(ctx context.Context, to, text string) (transport.SendResult, error) {
	return o.handle.SendText(ctx, to, text)
}

func (o *Outbound) SendMedia(ctx context.Context, to string, media transport.Media) (transport.SendResult, error) {
	return o.handle.SendMedia(ctx, to, media)
}
