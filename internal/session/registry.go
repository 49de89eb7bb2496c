package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/bus"
	"github.com/aldihidayat35/billey-waapi-v2/internal/config"
	"github.com/aldihidayat35/billey-waapi-v2/internal/identity"
	"github.com/aldihidayat35/billey-waapi-v2/internal/pipeline"
	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
	"github.com/aldihidayat35/billey-waapi-v2/internal/transport"
	"github.com/aldihidayat35/billey-waapi-v2/pkg/protocol"
)

// settleDelay gives the bridge time to release a session between closing
// an old handle and dialing a new one for the same id.
const settleDelay = 500 * time.Millisecond

// Registry tracks every session and is the sole owner of their transport
// handles. One worker goroutine per live handle consumes its event stream,
// so events within a session stay ordered while sessions run independently.
type Registry struct {
	transport transport.Transport
	pipeline  *pipeline.Pipeline
	publisher bus.EventPublisher
	logs      store.SessionLogStore
	resolver  *identity.Resolver
	cfg       config.SessionsConfig

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	settle time.Duration
	delay  time.Duration // between disconnect and reconnect attempt
}

// Options configures a Registry.
type Options struct {
	Transport transport.Transport
	Pipeline  *pipeline.Pipeline
	Publisher bus.EventPublisher
	Logs      store.SessionLogStore
	Resolver  *identity.Resolver
	Config    config.SessionsConfig
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		transport: opts.Transport,
		pipeline:  opts.Pipeline,
		publisher: opts.Publisher,
		logs:      opts.Logs,
		resolver:  opts.Resolver,
		cfg:       opts.Config,
		sessions:  make(map[string]*Session),
		settle:    settleDelay,
		delay:     opts.Config.ReconnectDelay(),
	}
}

// StartOptions selects how a new connection authenticates.
type StartOptions struct {
	AuthMode  transport.AuthMode // defaults to QR
	PhoneHint string             // required for pairing mode
}

// Start connects sessionID. A session that is already connected is an
// error; a disconnected one is torn down and redialed.
func (r *Registry) Start(ctx context.Context, sessionID string, opts StartOptions) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &Session{ID: sessionID, state: StateIdle}
		r.sessions[sessionID] = s
	}
	r.mu.Unlock()

	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.stopReconnect()
	old := s.handle
	s.handle = nil
	s.state = StateConnecting
	s.attempts = 0
	if opts.AuthMode != "" {
		s.authMode = opts.AuthMode
	}
	if s.authMode == "" {
		s.authMode = transport.AuthQR
	}
	if opts.PhoneHint != "" {
		s.phoneHint = opts.PhoneHint
	}
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Debug("stale handle close", "session", sessionID, "error", err)
		}
		time.Sleep(r.settle)
	}
	return r.connect(ctx, s)
}

func (r *Registry) connect(ctx context.Context, s *Session) error {
	s.mu.Lock()
	opts := transport.ConnectOpts{
		AuthMode:  s.authMode,
		PhoneHint: s.phoneHint,
		AuthDir:   filepath.Join(r.cfg.AuthDir, s.ID),
	}
	s.mu.Unlock()

	handle, err := r.transport.Connect(ctx, s.ID, opts)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("connect session %s: %w", s.ID, err)
	}

	s.mu.Lock()
	s.handle = handle
	s.state = StateConnecting
	s.mu.Unlock()

	go r.worker(s, handle)
	return nil
}

// worker drains one handle's event stream. It exits when the handle
// closes its channel.
func (r *Registry) worker(s *Session, h transport.Handle) {
	ctx := context.Background()
	for ev := range h.Events() {
		switch ev := ev.(type) {
		case transport.ConnectionOpen:
			s.mu.Lock()
			s.state = StateConnected
			s.ownJID = ev.User
			s.ownName = ev.Name
			s.qr = ""
			s.pairingCode = ""
			s.attempts = 0
			s.mu.Unlock()
			r.logAction(ctx, s.ID, store.ActionLogin, "success", ev.User, ev.Name, "")
			r.publishStatus(s.ID, protocol.StatusConnected, true, ev.User)
			slog.Info("session connected", "session", s.ID, "user", ev.User)

		case transport.QRCode:
			s.mu.Lock()
			s.state = StateAwaitingQR
			s.qr = ev.Payload
			s.mu.Unlock()
			r.publish(protocol.EventQR, protocol.QRPayload{SessionID: s.ID, QR: ev.Payload})
			slog.Info("qr code issued", "session", s.ID)

		case transport.PairingCode:
			s.mu.Lock()
			s.state = StatePairing
			s.pairingCode = ev.Code
			s.mu.Unlock()
			r.publish(protocol.EventPairingCode, protocol.PairingCodePayload{SessionID: s.ID, Code: ev.Code})
			slog.Info("pairing code issued", "session", s.ID)

		case transport.CredentialsUpdated:
			slog.Debug("credentials updated", "session", s.ID)

		case transport.MessageEvent:
			s.mu.Lock()
			own := s.ownJID
			s.mu.Unlock()
			r.pipeline.Process(ctx, pipeline.Inbound{
				SessionID: s.ID,
				OwnJID:    own,
				Message:   ev.Message,
			})

		case transport.ConnectionClosed:
			r.handleClose(ctx, s, h, ev)
		}
	}
}

func (r *Registry) handleClose(ctx context.Context, s *Session, h transport.Handle, ev transport.ConnectionClosed) {
	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		// Tail close of a handle that Logout, Delete, Start, or Close
		// already retired; the initiator logged and published.
		slog.Debug("close event from a retired handle", "session", s.ID, "code", ev.Code)
		return
	}
	s.handle = nil
	if ev.LoggedOut() {
		s.stopReconnect()
		s.state = StateLoggedOut
		user := s.ownJID
		s.mu.Unlock()
		r.logAction(ctx, s.ID, store.ActionLogout, "terminated", user, "", ev.Reason)
		r.publishStatus(s.ID, protocol.StatusDisconnected, false, "")
		slog.Warn("session unlinked on the phone, not reconnecting", "session", s.ID, "code", ev.Code)
		return
	}
	s.mu.Unlock()

	if !r.scheduleReconnect(s) {
		r.logAction(ctx, s.ID, store.ActionDisconnect, "gave_up", "", "", ev.Reason)
		r.publishStatus(s.ID, protocol.StatusDisconnected, false, "")
		slog.Error("reconnect attempts exhausted", "session", s.ID, "code", ev.Code)
		return
	}
	r.logAction(ctx, s.ID, store.ActionDisconnect, "reconnecting", "", "", ev.Reason)
	r.publishStatus(s.ID, protocol.StatusReconnecting, false, "")
	slog.Info("session disconnected, reconnect scheduled",
		"session", s.ID, "code", ev.Code, "reason", ev.Reason, "delay", r.delay)
}

// scheduleReconnect arms the reconnect timer unless the attempt budget is
// spent. Reports whether a reconnect was scheduled.
func (r *Registry) scheduleReconnect(s *Session) bool {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if closed || s.state == StateLoggedOut {
		return false
	}
	if limit := r.cfg.MaxReconnectAttempts; limit > 0 && s.attempts >= limit {
		s.state = StateDisconnected
		return false
	}
	s.attempts++
	s.state = StateReconnecting
	s.reconnect = time.AfterFunc(r.delay, func() { r.retryConnect(s) })
	return true
}

func (r *Registry) retryConnect(s *Session) {
	s.mu.Lock()
	if s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	s.mu.Unlock()

	if err := r.connect(context.Background(), s); err != nil {
		slog.Error("reconnect failed", "session", s.ID, "error", err)
		if !r.scheduleReconnect(s) {
			r.publishStatus(s.ID, protocol.StatusDisconnected, false, "")
		}
	}
}

// RequestPairingCode asks the live connection to issue a pairing code for
// phone. The code arrives asynchronously as a PairingCode event.
func (r *Registry) RequestPairingCode(ctx context.Context, sessionID, phone string) error {
	h, err := r.liveHandle(sessionID)
	if err != nil {
		return err
	}
	return h.RequestPairingCode(ctx, phone)
}

// Logout unlinks the session on the protocol side. Terminal until the next
// explicit Start.
func (r *Registry) Logout(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	s.stopReconnect()
	h := s.handle
	s.handle = nil
	s.state = StateLoggedOut
	user := s.ownJID
	s.mu.Unlock()

	if h != nil {
		if err := h.Logout(ctx); err != nil {
			slog.Warn("protocol logout failed", "session", sessionID, "error", err)
		}
	}
	r.logAction(ctx, sessionID, store.ActionLogout, "user_initiated", user, "", "")
	r.publishStatus(sessionID, protocol.StatusDisconnected, false, "")
	slog.Info("session logged out", "session", sessionID)
	return nil
}

// Delete logs the session out, forgets its identity cache, removes its
// auth material from disk, and drops it from the registry.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	s.stopReconnect()
	h := s.handle
	s.handle = nil
	s.state = StateLoggedOut
	s.mu.Unlock()

	if h != nil {
		if err := h.Logout(ctx); err != nil {
			slog.Warn("protocol logout failed", "session", sessionID, "error", err)
		}
		_ = h.Close()
	}
	if r.resolver != nil {
		r.resolver.Forget(sessionID)
	}
	if r.cfg.AuthDir != "" {
		if err := os.RemoveAll(filepath.Join(r.cfg.AuthDir, sessionID)); err != nil {
			slog.Warn("auth material removal failed", "session", sessionID, "error", err)
		}
	}
	r.logAction(ctx, sessionID, store.ActionLogout, "deleted", "", "", "")
	slog.Info("session deleted", "session", sessionID)
	return nil
}

// Get returns a snapshot of sessionID.
func (r *Registry) Get(sessionID string) (Info, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	return s.snapshot(), nil
}

// List returns snapshots of every tracked session, sorted by id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Outbound returns the send capability of a connected session.
func (r *Registry) Outbound(sessionID string) (*Outbound, bool) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.handle == nil {
		return nil, false
	}
	return &Outbound{sessionID: s.ID, ownJID: s.ownJID, handle: s.handle}, true
}

// Close drops every live connection without logging out. Used at process
// shutdown so sessions resume on the next start.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.stopReconnect()
		h := s.handle
		s.handle = nil
		if s.state != StateLoggedOut {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		if h != nil {
			_ = h.Close()
		}
	}
}

func (r *Registry) liveHandle(sessionID string) (transport.Handle, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil, ErrNotConnected
	}
	return s.handle, nil
}

func (r *Registry) logAction(ctx context.Context, sessionID, action, status, userID, userName, details string) {
	if r.logs == nil {
		return
	}
	err := r.logs.Insert(ctx, &store.SessionLog{
		SessionID: sessionID,
		Action:    action,
		Status:    status,
		UserID:    userID,
		UserName:  userName,
		Details:   details,
		Timestamp: time.Now(),
	})
	if err != nil {
		slog.Error("session log insert failed", "session", sessionID, "action", action, "error", err)
	}
}

func (r *Registry) publishStatus(sessionID, status string, connected bool, user string) {
	r.publish(protocol.EventSessionStatus, protocol.SessionStatusPayload{
		SessionID:   sessionID,
		Status:      status,
		IsConnected: connected,
		User:        user,
	})
}

func (r *Registry) publish(name string, payload any) {
	if r.publisher == nil {
		return
	}
	r.publisher.Broadcast(bus.Event{Name: name, Payload: payload})
}
