package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/bus"
	"github.com/aldihidayat35/billey-waapi-v2/internal/config"
	"github.com/aldihidayat35/billey-waapi-v2/internal/identity"
	"github.com/aldihidayat35/billey-waapi-v2/internal/pipeline"
	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
	"github.com/aldihidayat35/billey-waapi-v2/internal/transport"
	"github.com/aldihidayat35/billey-waapi-v2/pkg/protocol"
)

type fakeHandle struct {
	events chan transport.Event

	mu        sync.Mutex
	closed    bool
	loggedOut bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan transport.Event, 16)}
}

func (h *fakeHandle) Events() <-chan transport.Event { return h.events }

func (h *fakeHandle) SendText(ctx context.Context, to, text string) (transport.SendResult, error) {
	return transport.SendResult{MessageID: "WIRE1"}, nil
}

func (h *fakeHandle) SendMedia(ctx context.Context, to string, media transport.Media) (transport.SendResult, error) {
	return transport.SendResult{MessageID: "WIRE1"}, nil
}

func (h *fakeHandle) RequestPairingCode(ctx context.Context, phone string) error { return nil }

func (h *fakeHandle) QueryIdentity(ctx context.Context, lid string) (string, error) {
	return "", nil
}

// Logout ends the stream with a plain close event, like the bridge
// tearing its socket down after the logout command.
func (h *fakeHandle) Logout(ctx context.Context) error {
	h.mu.Lock()
	h.loggedOut = true
	h.mu.Unlock()
	h.terminate(1000, "logged out")
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	return nil
}

// terminate pushes a close event and ends the stream, like the bridge does.
func (h *fakeHandle) terminate(code int, reason string) {
	h.events <- transport.ConnectionClosed{Code: code, Reason: reason}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
}

type fakeTransport struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	failNext bool
}

func (f *fakeTransport) Connect(ctx context.Context, sessionID string, opts transport.ConnectOpts) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, fmt.Errorf("bridge unreachable")
	}
	h := newFakeHandle()
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeTransport) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeTransport) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.handles) {
		return nil
	}
	return f.handles[i]
}

type fakeSessionLogs struct {
	mu      sync.Mutex
	entries []store.SessionLog
}

func (f *fakeSessionLogs) Insert(ctx context.Context, l *store.SessionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *l)
	return nil
}

func (f *fakeSessionLogs) Recent(ctx context.Context, limit int) ([]store.SessionLog, error) {
	return nil, nil
}

func (f *fakeSessionLogs) BySession(ctx context.Context, sessionID string, limit int) ([]store.SessionLog, error) {
	return nil, nil
}

func (f *fakeSessionLogs) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

type recordingBus struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recordingBus) Subscribe(id string, h bus.EventHandler) {}
func (r *recordingBus) Unsubscribe(id string)                   {}
func (r *recordingBus) Broadcast(ev bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingBus) receivedCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name != protocol.EventMessageReceived {
			continue
		}
		if p, ok := ev.Payload.(protocol.MessageReceivedPayload); ok && p.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (r *recordingBus) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Name == protocol.EventSessionStatus {
			out = append(out, ev.Payload.(protocol.SessionStatusPayload).Status)
		}
	}
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *fakeTransport, *fakeSessionLogs, *recordingBus) {
	t.Helper()
	tr := &fakeTransport{}
	logs := &fakeSessionLogs{}
	pub := &recordingBus{}
	echo := pipeline.NewEchoSet(30 * time.Second)
	t.Cleanup(echo.Close)

	pl := pipeline.New(pipeline.Options{
		Stores:    &store.Stores{Messages: nopMessages{}},
		Publisher: pub,
		Resolver:  identity.NewResolver(t.TempDir()),
		Echo:      echo,
	})
	r := NewRegistry(Options{
		Transport: tr,
		Pipeline:  pl,
		Publisher: pub,
		Logs:      logs,
		Resolver:  identity.NewResolver(t.TempDir()),
		Config:    config.SessionsConfig{AuthDir: t.TempDir()},
	})
	r.settle = 0
	r.delay = 10 * time.Millisecond
	t.Cleanup(r.Close)
	return r, tr, logs, pub
}

type nopMessages struct{}

func (nopMessages) Insert(ctx context.Context, m *store.MessageLog) (int64, error) { return 1, nil }
func (nopMessages) AttachMedia(ctx context.Context, messageID, mediaBase64 string) error {
	return nil
}
func (nopMessages) Exists(ctx context.Context, messageID string) (bool, error) { return false, nil }
func (nopMessages) List(ctx context.Context, f store.MessageFilter) ([]store.MessageLog, error) {
	return nil, nil
}
func (nopMessages) ChatHistory(ctx context.Context, sessionID, contact string, limit int) ([]store.MessageLog, error) {
	return nil, nil
}
func (nopMessages) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartConnectsAndTracksOpen(t *testing.T) {
	r, tr, logs, _ := newTestRegistry(t)

	if err := r.Start(context.Background(), "s1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tr.connects() != 1 {
		t.Fatalf("expected 1 dial, got %d", tr.connects())
	}

	tr.handle(0).events <- transport.ConnectionOpen{User: "628000@s.whatsapp.net", Name: "Billie"}
	waitFor(t, "connected state", func() bool {
		info, err := r.Get("s1")
		return err == nil && info.State == StateConnected
	})

	info, _ := r.Get("s1")
	if !info.Connected || info.User != "628000@s.whatsapp.net" {
		t.Errorf("unexpected snapshot: %+v", info)
	}
	waitFor(t, "login audit entry", func() bool {
		actions := logs.actions()
		return len(actions) == 1 && actions[0] == store.ActionLogin
	})
}

func TestStartWhileConnectedFails(t *testing.T) {
	r, tr, _, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Start(ctx, "s1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.handle(0).events <- transport.ConnectionOpen{User: "u"}
	waitFor(t, "connected state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateConnected
	})

	if err := r.Start(ctx, "s1", StartOptions{}); err != ErrAlreadyConnected {
		t.Fatalf("err = %v, want ErrAlreadyConnected", err)
	}
}

func TestQRStateAndEvent(t *testing.T) {
	r, tr, _, pub := newTestRegistry(t)

	if err := r.Start(context.Background(), "s1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.handle(0).events <- transport.QRCode{Payload: "qr-blob"}

	waitFor(t, "awaiting qr state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateAwaitingQR && info.QR == "qr-blob"
	})

	pub.mu.Lock()
	defer pub.mu.Unlock()
	found := false
	for _, ev := range pub.events {
		if ev.Name == protocol.EventQR {
			found = true
		}
	}
	if !found {
		t.Error("qr event not published")
	}
}

func TestReconnectAfterConnectionLost(t *testing.T) {
	r, tr, _, pub := newTestRegistry(t)

	if err := r.Start(context.Background(), "s1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.handle(0).events <- transport.ConnectionOpen{User: "u"}
	waitFor(t, "connected state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateConnected
	})

	tr.handle(0).terminate(protocol.CloseConnectionLost, "stream error")

	waitFor(t, "redial", func() bool { return tr.connects() == 2 })
	tr.handle(1).events <- transport.ConnectionOpen{User: "u"}
	waitFor(t, "reconnected state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateConnected
	})

	statuses := pub.statuses()
	want := []string{protocol.StatusConnected, protocol.StatusReconnecting, protocol.StatusConnected}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
}

func TestLogoutCloseIsTerminal(t *testing.T) {
	r, tr, logs, _ := newTestRegistry(t)

	if err := r.Start(context.Background(), "s1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.handle(0).events <- transport.ConnectionOpen{User: "u"}
	waitFor(t, "connected state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateConnected
	})

	tr.handle(0).terminate(protocol.CloseLoggedOut, "logged out")

	waitFor(t, "logged out state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateLoggedOut
	})

	// Give any stray reconnect timer a chance to fire, then confirm no
	// redial happened.
	time.Sleep(50 * time.Millisecond)
	if tr.connects() != 1 {
		t.Fatalf("terminal close must not reconnect, got %d dials", tr.connects())
	}
	actions := logs.actions()
	if len(actions) == 0 || actions[len(actions)-1] != store.ActionLogout {
		t.Errorf("expected a logout audit entry, got %v", actions)
	}
}

func TestUserLogoutTailCloseStaysQuiet(t *testing.T) {
	r, tr, logs, pub := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Start(ctx, "s1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.handle(0).events <- transport.ConnectionOpen{User: "u"}
	waitFor(t, "connected state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateConnected
	})

	if err := r.Logout(ctx, "s1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	// The retired handle's tail close event must not schedule a reconnect
	// or stack a disconnect audit entry on top of the logout.
	time.Sleep(50 * time.Millisecond)
	if tr.connects() != 1 {
		t.Fatalf("logout must not redial, got %d dials", tr.connects())
	}
	info, _ := r.Get("s1")
	if info.State != StateLoggedOut {
		t.Fatalf("state = %q, want %q", info.State, StateLoggedOut)
	}
	for _, a := range logs.actions() {
		if a == store.ActionDisconnect {
			t.Fatalf("unexpected disconnect entry after logout: %v", logs.actions())
		}
	}
	for _, st := range pub.statuses() {
		if st == protocol.StatusReconnecting {
			t.Fatalf("unexpected reconnecting status after logout: %v", pub.statuses())
		}
	}
}

func TestReconnectAttemptBudget(t *testing.T) {
	r, tr, _, _ := newTestRegistry(t)
	r.cfg.MaxReconnectAttempts = 1

	if err := r.Start(context.Background(), "s1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.handle(0).events <- transport.ConnectionOpen{User: "u"}
	waitFor(t, "connected state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateConnected
	})

	tr.handle(0).terminate(protocol.CloseConnectionLost, "stream error")
	waitFor(t, "redial", func() bool { return tr.connects() == 2 })

	// The retry connects but drops again without ever opening; the budget
	// of one attempt is spent.
	tr.handle(1).terminate(protocol.CloseConnectionLost, "stream error")
	waitFor(t, "disconnected state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateDisconnected
	})

	time.Sleep(50 * time.Millisecond)
	if tr.connects() != 2 {
		t.Fatalf("attempt budget exceeded: %d dials", tr.connects())
	}
}

func TestOutboundRequiresConnection(t *testing.T) {
	r, tr, _, _ := newTestRegistry(t)

	if _, ok := r.Outbound("missing"); ok {
		t.Fatal("unknown session must have no outbound")
	}

	if err := r.Start(context.Background(), "s1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := r.Outbound("s1"); ok {
		t.Fatal("connecting session must have no outbound yet")
	}

	tr.handle(0).events <- transport.ConnectionOpen{User: "628000@s.whatsapp.net"}
	waitFor(t, "connected state", func() bool {
		_, ok := r.Outbound("s1")
		return ok
	})

	out, _ := r.Outbound("s1")
	if out.OwnJID() != "628000@s.whatsapp.net" {
		t.Errorf("OwnJID = %q", out.OwnJID())
	}
}

func TestDeleteForgetsSession(t *testing.T) {
	r, tr, _, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Start(ctx, "s1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.handle(0).events <- transport.ConnectionOpen{User: "u"}
	waitFor(t, "connected state", func() bool {
		info, _ := r.Get("s1")
		return info.State == StateConnected
	})

	if err := r.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get("s1"); err != ErrSessionNotFound {
		t.Fatalf("Get after delete = %v, want ErrSessionNotFound", err)
	}
	h := tr.handle(0)
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loggedOut {
		t.Error("delete must log the session out on the protocol side")
	}
}

type blockingMessages struct {
	nopMessages
	slow    string
	release chan struct{}
}

func (b *blockingMessages) Insert(ctx context.Context, m *store.MessageLog) (int64, error) {
	if m.SessionID == b.slow {
		<-b.release
	}
	return 1, nil
}

func TestSlowSessionDoesNotStallOthers(t *testing.T) {
	tr := &fakeTransport{}
	pub := &recordingBus{}
	echo := pipeline.NewEchoSet(30 * time.Second)
	t.Cleanup(echo.Close)
	msgs := &blockingMessages{slow: "a", release: make(chan struct{})}
	defer close(msgs.release)

	pl := pipeline.New(pipeline.Options{
		Stores:    &store.Stores{Messages: msgs},
		Publisher: pub,
		Resolver:  identity.NewResolver(t.TempDir()),
		Echo:      echo,
	})
	r := NewRegistry(Options{
		Transport: tr,
		Pipeline:  pl,
		Publisher: pub,
		Logs:      &fakeSessionLogs{},
		Resolver:  identity.NewResolver(t.TempDir()),
		Config:    config.SessionsConfig{AuthDir: t.TempDir()},
	})
	r.settle = 0
	t.Cleanup(r.Close)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := r.Start(ctx, id, StartOptions{}); err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
	}
	tr.handle(0).events <- transport.ConnectionOpen{User: "628001@s.whatsapp.net"}
	tr.handle(1).events <- transport.ConnectionOpen{User: "628002@s.whatsapp.net"}
	waitFor(t, "both sessions connected", func() bool {
		ia, _ := r.Get("a")
		ib, _ := r.Get("b")
		return ia.State == StateConnected && ib.State == StateConnected
	})

	// Session a's worker parks inside the store; b must keep flowing.
	tr.handle(0).events <- transport.MessageEvent{Message: protocol.MessagePayload{
		MessageID: "MA1", RemoteJID: "628111@s.whatsapp.net",
		Conversation: "stuck", Timestamp: time.Now().Unix(),
	}}
	tr.handle(1).events <- transport.MessageEvent{Message: protocol.MessagePayload{
		MessageID: "MB1", RemoteJID: "628222@s.whatsapp.net",
		Conversation: "through", Timestamp: time.Now().Unix(),
	}}

	waitFor(t, "session b's message", func() bool {
		return pub.receivedCount("b") == 1
	})
	if pub.receivedCount("a") != 0 {
		t.Error("session a's message should still be parked in the store")
	}
}
