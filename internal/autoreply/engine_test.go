package autoreply

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aldihidayat35/billey-waapi-v2/internal/bus"
	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
	"github.com/aldihidayat35/billey-waapi-v2/internal/transport"
	"github.com/aldihidayat35/billey-waapi-v2/pkg/protocol"
)

func TestRuleMatching(t *testing.T) {
	tests := []struct {
		name    string
		rule    store.Rule
		text    string
		isGroup bool
		want    bool
	}{
		{"exact hit", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchExact, MatchValue: "halo"}, "Halo", false, true},
		{"exact trims whitespace", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchExact, MatchValue: "halo"}, "  halo \n", false, true},
		{"exact miss on extra words", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchExact, MatchValue: "halo"}, "halo semua", false, false},
		{"exact case sensitive miss", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchExact, MatchValue: "halo", CaseSensitive: true}, "Halo", false, false},
		{"contains", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchContains, MatchValue: "harga"}, "berapa HARGA nya?", false, true},
		{"prefix", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchPrefix, MatchValue: "order"}, "Order #123 please", false, true},
		{"prefix miss", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchPrefix, MatchValue: "order"}, "my order", false, false},
		{"suffix", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchSuffix, MatchValue: "thanks"}, "done, THANKS", false, true},
		{"regex case folded", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchRegex, MatchValue: `^(hi|hello)\b`}, "Hello there", false, true},
		{"regex case sensitive", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchRegex, MatchValue: `^hello`, CaseSensitive: true}, "Hello", false, false},
		{"invalid regex never matches", store.Rule{ChatScope: store.ScopeAll, MatchKind: store.MatchRegex, MatchValue: `([`}, "anything", false, false},
		{"private scope blocks group", store.Rule{ChatScope: store.ScopePrivate, MatchKind: store.MatchContains, MatchValue: "hi"}, "hi", true, false},
		{"group scope blocks private", store.Rule{ChatScope: store.ScopeGroup, MatchKind: store.MatchContains, MatchValue: "hi"}, "hi", false, false},
		{"group scope allows group", store.Rule{ChatScope: store.ScopeGroup, MatchKind: store.MatchContains, MatchValue: "hi"}, "hi all", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ruleMatches(&tt.rule, tt.text, tt.isGroup); got != tt.want {
				t.Errorf("ruleMatches(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSelectRuleOrder(t *testing.T) {
	// Rules arrive pre-ordered by priority descending, id ascending; the
	// first match wins.
	rules := []store.Rule{
		{ID: 3, Priority: 10, ChatScope: store.ScopeAll, MatchKind: store.MatchContains, MatchValue: "price"},
		{ID: 1, Priority: 5, ChatScope: store.ScopeAll, MatchKind: store.MatchContains, MatchValue: "halo"},
		{ID: 2, Priority: 5, ChatScope: store.ScopeAll, MatchKind: store.MatchContains, MatchValue: "halo"},
	}
	got := selectRule(rules, "halo, price?", false)
	if got == nil || got.ID != 3 {
		t.Fatalf("want rule 3 (highest priority), got %+v", got)
	}
	got = selectRule(rules, "halo", false)
	if got == nil || got.ID != 1 {
		t.Fatalf("equal priority must fall to lowest id, got %+v", got)
	}
}

type sentItem struct {
	to, text string
	media    *transport.Media
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentItem
	fail bool
}

func (f *fakeSender) OwnJID() string { return "628000@s.whatsapp.net" }

func (f *fakeSender) SendText(ctx context.Context, to, text string) (transport.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return transport.SendResult{}, fmt.Errorf("wire send failed")
	}
	f.sent = append(f.sent, sentItem{to: to, text: text})
	return transport.SendResult{MessageID: fmt.Sprintf("WIRE%03d", len(f.sent))}, nil
}

func (f *fakeSender) SendMedia(ctx context.Context, to string, media transport.Media) (transport.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return transport.SendResult{}, fmt.Errorf("wire send failed")
	}
	f.sent = append(f.sent, sentItem{to: to, media: &media})
	return transport.SendResult{MessageID: fmt.Sprintf("WIRE%03d", len(f.sent))}, nil
}

type fakeProvider struct{ sender *fakeSender }

func (f *fakeProvider) Sender(sessionID string) (Sender, bool) {
	if f.sender == nil {
		return nil, false
	}
	return f.sender, true
}

type fakeEcho struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeEcho) Register(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

type fakeRuleStore struct {
	rules []store.Rule
	logs  []store.ReplyLog
}

func (f *fakeRuleStore) Create(ctx context.Context, r *store.Rule) (int64, error) { return 0, nil }
func (f *fakeRuleStore) ByID(ctx context.Context, id int64) (*store.Rule, error) {
	return nil, fmt.Errorf("not found")
}

func (f *fakeRuleStore) ListEnabled(ctx context.Context, sessionID string) ([]store.Rule, error) {
	var out []store.Rule
	for _, r := range f.rules {
		if r.Enabled && (r.SessionID == "" || r.SessionID == sessionID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeRuleStore) List(ctx context.Context) ([]store.Rule, error)  { return f.rules, nil }
func (f *fakeRuleStore) Update(ctx context.Context, r *store.Rule) error { return nil }
func (f *fakeRuleStore) Delete(ctx context.Context, id int64) error      { return nil }
func (f *fakeRuleStore) InsertLog(ctx context.Context, l *store.ReplyLog) error {
	f.logs = append(f.logs, *l)
	return nil
}
func (f *fakeRuleStore) RecentLogs(ctx context.Context, limit int) ([]store.ReplyLog, error) {
	return f.logs, nil
}

type fakeCooldowns struct {
	m map[string]time.Time
}

func newFakeCooldowns() *fakeCooldowns { return &fakeCooldowns{m: make(map[string]time.Time)} }

func cooldownKey(ruleID int64, sessionID, senderID string) string {
	return fmt.Sprintf("%d|%s|%s", ruleID, sessionID, senderID)
}

func (f *fakeCooldowns) LastFired(ctx context.Context, ruleID int64, sessionID, senderID string) (time.Time, bool, error) {
	at, ok := f.m[cooldownKey(ruleID, sessionID, senderID)]
	return at, ok, nil
}

func (f *fakeCooldowns) Touch(ctx context.Context, ruleID int64, sessionID, senderID string, at time.Time) error {
	f.m[cooldownKey(ruleID, sessionID, senderID)] = at
	return nil
}

func (f *fakeCooldowns) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for k, at := range f.m {
		if at.Before(cutoff) {
			delete(f.m, k)
			n++
		}
	}
	return n, nil
}

type fakeTemplateStore struct {
	byCode map[string]*store.Template
}

func (f *fakeTemplateStore) Create(ctx context.Context, t *store.Template) (int64, error) {
	return 0, nil
}
func (f *fakeTemplateStore) ByID(ctx context.Context, id int64) (*store.Template, error) {
	return nil, store.ErrTemplateNotFound
}
func (f *fakeTemplateStore) ByCode(ctx context.Context, code string) (*store.Template, error) {
	t, ok := f.byCode[code]
	if !ok {
		return nil, store.ErrTemplateNotFound
	}
	return t, nil
}
func (f *fakeTemplateStore) List(ctx context.Context, activeOnly bool) ([]store.Template, error) {
	return nil, nil
}
func (f *fakeTemplateStore) Update(ctx context.Context, t *store.Template) error   { return nil }
func (f *fakeTemplateStore) SetActive(ctx context.Context, id int64, a bool) error { return nil }
func (f *fakeTemplateStore) Delete(ctx context.Context, id int64) error            { return nil }

type fakeMessageStore struct {
	entries []store.MessageLog
}

func (f *fakeMessageStore) Insert(ctx context.Context, m *store.MessageLog) (int64, error) {
	f.entries = append(f.entries, *m)
	return int64(len(f.entries)), nil
}
func (f *fakeMessageStore) AttachMedia(ctx context.Context, messageID, mediaBase64 string) error {
	return nil
}
func (f *fakeMessageStore) Exists(ctx context.Context, messageID string) (bool, error) {
	return false, nil
}
func (f *fakeMessageStore) List(ctx context.Context, _ store.MessageFilter) ([]store.MessageLog, error) {
	return nil, nil
}
func (f *fakeMessageStore) ChatHistory(ctx context.Context, sessionID, contact string, limit int) ([]store.MessageLog, error) {
	return nil, nil
}
func (f *fakeMessageStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
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

func (r *recordingBus) named(name string) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(rules []store.Rule, templates map[string]*store.Template) (*Engine, *fakeSender, *fakeRuleStore, *fakeMessageStore, *fakeEcho, *recordingBus, *testClock) {
	sender := &fakeSender{}
	ruleStore := &fakeRuleStore{rules: rules}
	msgs := &fakeMessageStore{}
	echo := &fakeEcho{}
	pub := &recordingBus{}
	clock := &testClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	e := New(Options{
		Stores: &store.Stores{
			Messages:  msgs,
			Templates: &fakeTemplateStore{byCode: templates},
			Rules:     ruleStore,
			Cooldowns: newFakeCooldowns(),
		},
		Senders:   &fakeProvider{sender: sender},
		Echo:      echo,
		Publisher: pub,
		Now:       clock.Now,
	})
	return e, sender, ruleStore, msgs, echo, pub, clock
}

func TestTryReplyTextRule(t *testing.T) {
	rules := []store.Rule{{
		ID: 1, Name: "greeting", ChatScope: store.ScopeAll,
		MatchKind: store.MatchContains, MatchValue: "halo",
		ResponseKind: store.ResponseText, ResponseContent: "Halo! Ada yang bisa dibantu?",
		Enabled: true,
	}}
	e, sender, ruleStore, msgs, echo, pub, _ := newTestEngine(rules, nil)

	e.TryReply(context.Background(), "s1", "628111@s.whatsapp.net", "628111@s.whatsapp.net", "halo kak", false)

	if len(sender.sent) != 1 || sender.sent[0].text != "Halo! Ada yang bisa dibantu?" {
		t.Fatalf("unexpected sends: %+v", sender.sent)
	}
	if len(echo.ids) != 1 {
		t.Errorf("echo registration missing")
	}
	if len(msgs.entries) != 1 || msgs.entries[0].Source != store.SourceAutoReply {
		t.Errorf("unexpected message log: %+v", msgs.entries)
	}
	if len(ruleStore.logs) != 1 || ruleStore.logs[0].Status != store.ReplySuccess {
		t.Errorf("unexpected attempt logs: %+v", ruleStore.logs)
	}
	if got := len(pub.named(protocol.EventAutoReplySent)); got != 1 {
		t.Errorf("expected 1 auto-reply-sent event, got %d", got)
	}
}

func TestTryReplyNoMatchIsSilent(t *testing.T) {
	rules := []store.Rule{{
		ID: 1, Name: "greeting", ChatScope: store.ScopeAll,
		MatchKind: store.MatchExact, MatchValue: "halo",
		ResponseKind: store.ResponseText, ResponseContent: "hi",
		Enabled: true,
	}}
	e, sender, ruleStore, _, _, pub, _ := newTestEngine(rules, nil)

	e.TryReply(context.Background(), "s1", "628111@s.whatsapp.net", "628111@s.whatsapp.net", "unrelated", false)

	if len(sender.sent) != 0 || len(ruleStore.logs) != 0 || len(pub.events) != 0 {
		t.Fatalf("no-match must be silent: sends=%d logs=%d events=%d",
			len(sender.sent), len(ruleStore.logs), len(pub.events))
	}
}

func TestCooldownEnforcement(t *testing.T) {
	rules := []store.Rule{{
		ID: 1, Name: "greeting", ChatScope: store.ScopeAll,
		MatchKind: store.MatchContains, MatchValue: "halo",
		ResponseKind: store.ResponseText, ResponseContent: "hi",
		CooldownSeconds: 60, Enabled: true,
	}}
	e, sender, ruleStore, _, _, _, clock := newTestEngine(rules, nil)
	ctx := context.Background()
	const sender1 = "628111@s.whatsapp.net"

	e.TryReply(ctx, "s1", sender1, sender1, "halo", false)
	clock.Advance(10 * time.Second)
	e.TryReply(ctx, "s1", sender1, sender1, "halo lagi", false)
	clock.Advance(61 * time.Second)
	e.TryReply(ctx, "s1", sender1, sender1, "halo ketiga", false)

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 sends (first and third), got %d", len(sender.sent))
	}
	want := []string{store.ReplySuccess, store.ReplyCooldown, store.ReplySuccess}
	if len(ruleStore.logs) != len(want) {
		t.Fatalf("expected %d attempt logs, got %d", len(want), len(ruleStore.logs))
	}
	for i, status := range want {
		if ruleStore.logs[i].Status != status {
			t.Errorf("log[%d].Status = %q, want %q", i, ruleStore.logs[i].Status, status)
		}
	}
}

func TestCooldownIsPerSender(t *testing.T) {
	rules := []store.Rule{{
		ID: 1, Name: "greeting", ChatScope: store.ScopeAll,
		MatchKind: store.MatchContains, MatchValue: "halo",
		ResponseKind: store.ResponseText, ResponseContent: "hi",
		CooldownSeconds: 60, Enabled: true,
	}}
	e, sender, _, _, _, _, clock := newTestEngine(rules, nil)
	ctx := context.Background()

	e.TryReply(ctx, "s1", "g@g.us", "628111@s.whatsapp.net", "halo", true)
	clock.Advance(time.Second)
	e.TryReply(ctx, "s1", "g@g.us", "628222@s.whatsapp.net", "halo", true)

	if len(sender.sent) != 2 {
		t.Fatalf("different senders must not share a cooldown, got %d sends", len(sender.sent))
	}
}

func TestTemplateResponse(t *testing.T) {
	rules := []store.Rule{{
		ID: 1, Name: "pricing", ChatScope: store.ScopeAll,
		MatchKind: store.MatchContains, MatchValue: "price",
		ResponseKind: store.ResponseTemplate, ResponseContent: "PRICE",
		Enabled: true,
	}}
	templates := map[string]*store.Template{
		"PRICE": {ID: 7, Code: "PRICE", Content: "Full price list", Active: true},
	}
	e, sender, _, _, _, _, _ := newTestEngine(rules, templates)

	e.TryReply(context.Background(), "s1", "628111@s.whatsapp.net", "628111@s.whatsapp.net", "price please", false)

	if len(sender.sent) != 1 || sender.sent[0].text != "Full price list" {
		t.Fatalf("template body should be sent, got %+v", sender.sent)
	}
}

func TestTemplateResponseMissingCodeFails(t *testing.T) {
	rules := []store.Rule{{
		ID: 1, Name: "pricing", ChatScope: store.ScopeAll,
		MatchKind: store.MatchContains, MatchValue: "price",
		ResponseKind: store.ResponseTemplate, ResponseContent: "GONE",
		Enabled: true,
	}}
	e, sender, ruleStore, _, _, pub, _ := newTestEngine(rules, nil)

	e.TryReply(context.Background(), "s1", "628111@s.whatsapp.net", "628111@s.whatsapp.net", "price please", false)

	if len(sender.sent) != 0 {
		t.Fatalf("missing template must not send, got %+v", sender.sent)
	}
	if len(ruleStore.logs) != 1 || ruleStore.logs[0].Status != store.ReplyFailed {
		t.Fatalf("expected a failed attempt log, got %+v", ruleStore.logs)
	}
	if got := len(pub.named(protocol.EventSendError)); got != 1 {
		t.Errorf("expected 1 send-error event, got %d", got)
	}
}

func TestMediaResponse(t *testing.T) {
	media := base64.StdEncoding.EncodeToString([]byte("pngdata"))
	rules := []store.Rule{{
		ID: 1, Name: "catalog", ChatScope: store.ScopeAll,
		MatchKind: store.MatchContains, MatchValue: "catalog",
		ResponseKind: store.ResponseImage, ResponseContent: "Our catalog",
		ResponseMedia: media, ResponseMimetype: "image/png",
		Enabled: true,
	}}
	e, sender, _, _, _, _, _ := newTestEngine(rules, nil)

	e.TryReply(context.Background(), "s1", "628111@s.whatsapp.net", "628111@s.whatsapp.net", "catalog?", false)

	if len(sender.sent) != 1 || sender.sent[0].media == nil {
		t.Fatalf("expected one media send, got %+v", sender.sent)
	}
	m := sender.sent[0].media
	if m.Kind != "image" || m.Caption != "Our catalog" || string(m.Data) != "pngdata" {
		t.Errorf("unexpected media send: %+v", m)
	}
}

func TestSendFailureLogsFailed(t *testing.T) {
	rules := []store.Rule{{
		ID: 1, Name: "greeting", ChatScope: store.ScopeAll,
		MatchKind: store.MatchContains, MatchValue: "halo",
		ResponseKind: store.ResponseText, ResponseContent: "hi",
		CooldownSeconds: 60, Enabled: true,
	}}
	e, sender, ruleStore, _, echo, _, clock := newTestEngine(rules, nil)
	sender.fail = true
	ctx := context.Background()

	e.TryReply(ctx, "s1", "628111@s.whatsapp.net", "628111@s.whatsapp.net", "halo", false)

	if len(ruleStore.logs) != 1 || ruleStore.logs[0].Status != store.ReplyFailed {
		t.Fatalf("expected failed log, got %+v", ruleStore.logs)
	}
	if len(echo.ids) != 0 {
		t.Errorf("failed send must not register an echo marker")
	}

	// The failed attempt must not start the cooldown window.
	sender.fail = false
	clock.Advance(time.Second)
	e.TryReply(ctx, "s1", "628111@s.whatsapp.net", "628111@s.whatsapp.net", "halo", false)
	if len(sender.sent) != 1 {
		t.Fatalf("retry after failure should send, got %d sends", len(sender.sent))
	}
}

func TestSessionScopedRules(t *testing.T) {
	rules := []store.Rule{
		{
			ID: 1, SessionID: "other", Name: "scoped", ChatScope: store.ScopeAll,
			MatchKind: store.MatchContains, MatchValue: "halo",
			ResponseKind: store.ResponseText, ResponseContent: "scoped reply",
			Enabled: true,
		},
		{
			ID: 2, Name: "global", ChatScope: store.ScopeAll,
			MatchKind: store.MatchContains, MatchValue: "halo",
			ResponseKind: store.ResponseText, ResponseContent: "global reply",
			Enabled: true,
		},
	}
	e, sender, _, _, _, _, _ := newTestEngine(rules, nil)

	e.TryReply(context.Background(), "s1", "628111@s.whatsapp.net", "628111@s.whatsapp.net", "halo", false)

	if len(sender.sent) != 1 || sender.sent[0].text != "global reply" {
		t.Fatalf("another session's rule must not fire, got %+v", sender.sent)
	}
}
