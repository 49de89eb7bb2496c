// Package pipeline processes inbound protocol message events: timestamp
// normalization, sender resolution, classification, self-echo
// suppression, media capture, persistence, and dispatch to the
// auto-reply and template engines.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aldihidayat35/billey-waapi-v2/internal/bus"
	"github.com/aldihidayat35/billey-waapi-v2/internal/identity"
	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
	"github.com/aldihidayat35/billey-waapi-v2/internal/template"
	"github.com/aldihidayat35/billey-waapi-v2/pkg/protocol"
)

const groupSuffix = "@g.us"

// AutoReplier consumes incoming text messages and may send a reply.
type AutoReplier interface {
	TryReply(ctx context.Context, sessionID, chatID, senderID, text string, isGroup bool)
}

// TemplateDispatcher expands template reference codes found in text. The
// pipeline fires and forgets; the result matters to callers that need the
// resolved and unresolved code sets.
type TemplateDispatcher interface {
	Dispatch(ctx context.Context, sessionID, chatID, rawText string) template.Result
}

// Inbound is one protocol message event entering the pipeline, together
// with its session context.
type Inbound struct {
	SessionID string
	OwnJID    string // the session's connected identity
	Message   protocol.MessagePayload
}

// Pipeline runs the per-message processing steps. Process is called
// from each session's event worker, so events within one session stay
// in arrival order while sessions proceed independently.
type Pipeline struct {
	stores    *store.Stores
	publisher bus.EventPublisher
	resolver  *identity.Resolver
	echo      *EchoSet
	fetcher   MediaFetcher

	autoReply AutoReplier        // nil disables auto-reply
	templates TemplateDispatcher // nil disables template dispatch

	mediaTimeout time.Duration
}

// Options configures a Pipeline.
type Options struct {
	Stores       *store.Stores
	Publisher    bus.EventPublisher
	Resolver     *identity.Resolver
	Echo         *EchoSet
	Fetcher      MediaFetcher
	AutoReply    AutoReplier
	Templates    TemplateDispatcher
	MediaTimeout time.Duration
}

func New(opts Options) *Pipeline {
	mt := opts.MediaTimeout
	if mt <= 0 {
		mt = 15 * time.Second
	}
	return &Pipeline{
		stores:       opts.Stores,
		publisher:    opts.Publisher,
		resolver:     opts.Resolver,
		echo:         opts.Echo,
		fetcher:      opts.Fetcher,
		autoReply:    opts.AutoReply,
		templates:    opts.Templates,
		mediaTimeout: mt,
	}
}

// Echo exposes the self-echo marker set so send paths can register the
// ids of messages they originate.
func (p *Pipeline) Echo() *EchoSet { return p.echo }

// Process runs one message event through the pipeline. Failures in any
// stage are logged and never propagate: no inbound message may tear
// down its session.
func (p *Pipeline) Process(ctx context.Context, in Inbound) {
	msg := &in.Message
	ts := normalizeTimestamp(msg.Timestamp)

	originalJID := msg.RemoteJID
	remoteJID := originalJID
	if identity.IsLID(remoteJID) {
		remoteJID = p.resolver.Resolve(in.SessionID, remoteJID)
	}

	kind := Classify(msg)
	content := Content(msg)
	messageID := msg.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	// A fromMe event whose id we registered is the wire echo of a send
	// this process performed and already logged.
	if msg.FromMe && p.echo.CheckAndConsume(messageID) {
		slog.Debug("self echo suppressed", "session", in.SessionID, "message", messageID)
		return
	}

	from, to := remoteJID, in.OwnJID
	source := store.SourceContact
	if msg.FromMe {
		from, to = in.OwnJID, remoteJID
		source = store.SourceMobile
	}
	direction := store.DirectionIncoming
	if msg.FromMe {
		direction = store.DirectionOutgoing
	}

	entry := &store.MessageLog{
		MessageID: messageID,
		SessionID: in.SessionID,
		Direction: direction,
		From:      from,
		To:        to,
		Kind:      string(kind),
		Content:   content,
		Timestamp: time.UnixMilli(ts),
		Source:    source,
	}
	if ref := Media(msg); ref != nil {
		entry.MediaURL = ref.URL
		entry.Mimetype = ref.Mimetype
		entry.Filename = ref.Filename
		entry.FileSize = ref.Size
	}
	if _, err := p.stores.Messages.Insert(ctx, entry); err != nil {
		slog.Error("message log insert failed", "session", in.SessionID, "message", messageID, "error", err)
	}

	// Media download is detached so a slow fetch never stalls the
	// session's event order.
	if !msg.FromMe && kind.IsMedia() && p.fetcher != nil {
		go p.fetchMedia(in.SessionID, messageID, string(kind), Media(msg))
	}

	p.publish(protocol.EventMessageReceived, protocol.MessageReceivedPayload{
		SessionID:   in.SessionID,
		MessageID:   messageID,
		From:        from,
		To:          to,
		FromMe:      msg.FromMe,
		Kind:        string(kind),
		Content:     content,
		Timestamp:   ts,
		Participant: msg.Participant,
		OriginalJID: originalJID,
	})

	if p.templates != nil && msg.FromMe && kind == KindText && strings.Contains(content, "#") {
		p.templates.Dispatch(ctx, in.SessionID, remoteJID, content)
	}

	if p.autoReply != nil && !msg.FromMe && kind == KindText && content != "" {
		isGroup := strings.HasSuffix(remoteJID, groupSuffix)
		sender := remoteJID
		if isGroup {
			if msg.Participant != "" {
				sender = p.resolver.Resolve(in.SessionID, msg.Participant)
			}
		}
		p.autoReply.TryReply(ctx, in.SessionID, remoteJID, sender, content, isGroup)
	}
}

func (p *Pipeline) fetchMedia(sessionID, messageID, kind string, ref *MediaRef) {
	ctx, cancel := context.WithTimeout(context.Background(), p.mediaTimeout)
	defer cancel()

	data, err := p.fetcher.Fetch(ctx, ref)
	if err != nil {
		slog.Warn("media download failed", "session", sessionID, "message", messageID, "kind", kind, "error", err)
		return
	}
	if err := p.stores.Messages.AttachMedia(ctx, messageID, encodeMedia(data)); err != nil {
		slog.Warn("media attach failed", "session", sessionID, "message", messageID, "error", err)
		return
	}
	slog.Debug("media captured", "session", sessionID, "message", messageID, "bytes", len(data))
}

func (p *Pipeline) publish(name string, payload any) {
	if p.publisher == nil {
		return
	}
	p.publisher.Broadcast(bus.Event{Name: name, Payload: payload})
}

// normalizeTimestamp converts protocol timestamps to milliseconds. The
// wire may carry seconds or milliseconds; anything below 1e10 is a
// seconds value.
func normalizeTimestamp(ts int64) int64 {
	if ts == 0 {
		return time.Now().UnixMilli()
	}
	if ts < 10_000_000_000 {
		return ts * 1000
	}
	return ts
}
