package template

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aldihidayat35/billey-waapi-v2/internal/bus"
	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
	"github.com/aldihidayat35/billey-waapi-v2/internal/transport"
	"github.com/aldihidayat35/billey-waapi-v2/pkg/protocol"
)

// ErrSessionUnavailable reports a dispatch against a session with no live
// send capability.
var ErrSessionUnavailable = errors.New("session not connected")

// Sender is the send capability of one connected session.
type Sender interface {
	OwnJID() string
	SendText(ctx context.Context, to, text string) (transport.SendResult, error)
	SendMedia(ctx context.Context, to string, media transport.Media) (transport.SendResult, error)
}

// SenderProvider looks up the live Sender for a session, if any.
type SenderProvider interface {
	Sender(sessionID string) (Sender, bool)
}

// EchoRegistrar marks message ids this process sent, so the pipeline can
// drop their wire echoes.
type EchoRegistrar interface {
	Register(messageID string)
}

// Result summarizes one dispatch.
type Result struct {
	SentOriginal      bool
	OriginalMessageID string
	Resolved          []string
	NotFound          []string
}

// Dispatcher fans out template sends. Consecutive sends within one session
// are paced so their wire order stays stable; each session has its own
// pacer, so one session's fan-out never delays another's.
type Dispatcher struct {
	templates store.TemplateStore
	messages  store.MessageStore
	senders   SenderProvider
	echo      EchoRegistrar
	publisher bus.EventPublisher
	pace      time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Options configures a Dispatcher. Pace defaults to 500ms.
type Options struct {
	Stores    *store.Stores
	Senders   SenderProvider
	Echo      EchoRegistrar
	Publisher bus.EventPublisher
	Pace      time.Duration
}

func New(opts Options) *Dispatcher {
	pace := opts.Pace
	if pace <= 0 {
		pace = 500 * time.Millisecond
	}
	return &Dispatcher{
		templates: opts.Stores.Templates,
		messages:  opts.Stores.Messages,
		senders:   opts.Senders,
		echo:      opts.Echo,
		publisher: opts.Publisher,
		pace:      pace,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// limiter returns the session's pacer, creating it on first use.
func (d *Dispatcher) limiter(sessionID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.pace), 1)
		d.limiters[sessionID] = l
	}
	return l
}

// Dispatch resolves the codes referenced in rawText and sends each matching
// template to chatID. The triggering text is already on the wire (it arrived
// as a message event), so only the template bodies are sent. Failures are
// logged and reflected in the Result, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, chatID, rawText string) Result {
	codes := ExtractCodes(rawText)
	if len(codes) == 0 {
		return Result{}
	}
	sender, ok := d.senders.Sender(sessionID)
	if !ok {
		slog.Warn("template dispatch skipped, session not connected", "session", sessionID, "codes", codes)
		return Result{}
	}
	var out Result
	d.fanOut(ctx, sessionID, chatID, sender, codes, &out)
	return out
}

// Send sends text to chatID as-is, then dispatches any template codes it
// references. This is the caller-initiated path: unlike Dispatch, the
// original text is not yet on the wire and goes out first.
func (d *Dispatcher) Send(ctx context.Context, sessionID, chatID, text string) (Result, error) {
	sender, ok := d.senders.Sender(sessionID)
	if !ok {
		return Result{}, ErrSessionUnavailable
	}

	if err := d.limiter(sessionID).Wait(ctx); err != nil {
		return Result{}, err
	}
	res, err := sender.SendText(ctx, chatID, text)
	if err != nil {
		d.publish(protocol.EventSendError, protocol.SendErrorPayload{
			SessionID: sessionID,
			To:        chatID,
			Source:    store.SourceAPI,
			Error:     err.Error(),
		})
		return Result{}, err
	}

	messageID := res.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	d.echo.Register(messageID)
	d.logSend(ctx, sessionID, chatID, sender.OwnJID(), messageID, text, "", store.SourceAPI)
	d.publish(protocol.EventMessageSent, protocol.MessageReceivedPayload{
		SessionID: sessionID,
		MessageID: messageID,
		From:      sender.OwnJID(),
		To:        chatID,
		FromMe:    true,
		Kind:      "text",
		Content:   text,
		Timestamp: time.Now().UnixMilli(),
	})

	out := Result{SentOriginal: true, OriginalMessageID: messageID}
	d.fanOut(ctx, sessionID, chatID, sender, ExtractCodes(text), &out)
	return out, nil
}

// SendMedia sends a single media message to chatID. The media caption does
// not participate in template resolution.
func (d *Dispatcher) SendMedia(ctx context.Context, sessionID, chatID string, media transport.Media) (Result, error) {
	sender, ok := d.senders.Sender(sessionID)
	if !ok {
		return Result{}, ErrSessionUnavailable
	}

	if err := d.limiter(sessionID).Wait(ctx); err != nil {
		return Result{}, err
	}
	res, err := sender.SendMedia(ctx, chatID, media)
	if err != nil {
		d.publish(protocol.EventSendError, protocol.SendErrorPayload{
			SessionID: sessionID,
			To:        chatID,
			Source:    store.SourceAPI,
			Error:     err.Error(),
		})
		return Result{}, err
	}

	messageID := res.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	d.echo.Register(messageID)
	d.logSend(ctx, sessionID, chatID, sender.OwnJID(), messageID, media.Caption, media.Kind, store.SourceAPI)
	d.publish(protocol.EventMessageSent, protocol.MessageReceivedPayload{
		SessionID: sessionID,
		MessageID: messageID,
		From:      sender.OwnJID(),
		To:        chatID,
		FromMe:    true,
		Kind:      media.Kind,
		Content:   media.Caption,
		Timestamp: time.Now().UnixMilli(),
	})

	return Result{SentOriginal: true, OriginalMessageID: messageID}, nil
}

// fanOut sends one message per resolved code. A failing code is logged and
// skipped; the remaining codes still go out.
func (d *Dispatcher) fanOut(ctx context.Context, sessionID, chatID string, sender Sender, codes []string, out *Result) {
	limiter := d.limiter(sessionID)
	for _, code := range codes {
		if err := limiter.Wait(ctx); err != nil {
			slog.Warn("template fan-out aborted", "session", sessionID, "error", err)
			return
		}

		tpl, err := d.templates.ByCode(ctx, code)
		if errors.Is(err, store.ErrTemplateNotFound) {
			out.NotFound = append(out.NotFound, code)
			continue
		}
		if err != nil {
			slog.Error("template lookup failed", "session", sessionID, "code", code, "error", err)
			continue
		}

		var res transport.SendResult
		kind := "text"
		if tpl.HasMedia() {
			data, decErr := base64.StdEncoding.DecodeString(tpl.MediaData)
			if decErr != nil {
				slog.Error("template media is not valid base64", "code", code, "error", decErr)
				continue
			}
			kind = mediaKind(tpl.MediaMimetype)
			res, err = sender.SendMedia(ctx, chatID, transport.Media{
				Kind:     kind,
				Data:     data,
				Caption:  tpl.Content,
				Mimetype: tpl.MediaMimetype,
				Filename: tpl.MediaFilename,
			})
		} else {
			res, err = sender.SendText(ctx, chatID, tpl.Content)
		}
		if err != nil {
			slog.Error("template send failed", "session", sessionID, "code", code, "error", err)
			d.publish(protocol.EventSendError, protocol.SendErrorPayload{
				SessionID: sessionID,
				To:        chatID,
				Source:    store.SourceTemplate,
				Error:     err.Error(),
			})
			continue
		}

		messageID := res.MessageID
		if messageID == "" {
			messageID = uuid.NewString()
		}
		d.echo.Register(messageID)
		d.logSend(ctx, sessionID, chatID, sender.OwnJID(), messageID, tpl.Content, kind, store.SourceTemplate)
		d.publish(protocol.EventTemplateSent, protocol.TemplateSentPayload{
			SessionID: sessionID,
			To:        chatID,
			Code:      code,
			Content:   tpl.Content,
			HasMedia:  tpl.HasMedia(),
			MessageID: messageID,
		})
		out.Resolved = append(out.Resolved, code)
		slog.Info("template sent", "session", sessionID, "chat", chatID, "code", code, "media", tpl.HasMedia())
	}

	if len(out.NotFound) > 0 {
		d.publish(protocol.EventTemplateNotFound, protocol.TemplateNotFoundPayload{
			SessionID: sessionID,
			Chat:      chatID,
			Codes:     out.NotFound,
		})
		slog.Info("template codes not found", "session", sessionID, "codes", out.NotFound)
	}
}

func (d *Dispatcher) logSend(ctx context.Context, sessionID, chatID, ownJID, messageID, content, kind, source string) {
	if kind == "" {
		kind = "text"
	}
	_, err := d.messages.Insert(ctx, &store.MessageLog{
		MessageID: messageID,
		SessionID: sessionID,
		Direction: store.DirectionOutgoing,
		From:      ownJID,
		To:        chatID,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
		Status:    "sent",
		Source:    source,
	})
	if err != nil {
		slog.Error("send log insert failed", "session", sessionID, "message", messageID, "error", err)
	}
}

func (d *Dispatcher) publish(name string, payload any) {
	if d.publisher == nil {
		return
	}
	d.publisher.Broadcast(bus.Event{Name: name, Payload: payload})
}
