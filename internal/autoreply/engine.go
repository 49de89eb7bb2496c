// Package autoreply matches incoming text against stored rules and sends
// the configured response, subject to per-sender cooldowns.
package autoreply

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aldihidayat35/billey-waapi-v2/internal/bus"
	"github.com/aldihidayat35/billey-waapi-v2/internal/store"
	"github.com/aldihidayat35/billey-waapi-v2/internal/transport"
	"github.com/aldihidayat35/billey-waapi-v2/pkg/protocol"
)

// logExcerptLimit caps the matched/response text stored per attempt log.
const logExcerptLimit = 200

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

// Engine evaluates auto-reply rules against incoming text messages.
type Engine struct {
	rules     store.RuleStore
	cooldowns store.CooldownStore
	templates store.TemplateStore
	messages  store.MessageStore
	senders   SenderProvider
	echo      EchoRegistrar
	publisher bus.EventPublisher
	now       func() time.Time
}

// Options configures an Engine. Now defaults to time.Now.
type Options struct {
	Stores    *store.Stores
	Senders   SenderProvider
	Echo      EchoRegistrar
	Publisher bus.EventPublisher
	Now       func() time.Time
}

func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		rules:     opts.Stores.Rules,
		cooldowns: opts.Stores.Cooldowns,
		templates: opts.Stores.Templates,
		messages:  opts.Stores.Messages,
		senders:   opts.Senders,
		echo:      opts.Echo,
		publisher: opts.Publisher,
		now:       now,
	}
}

// TryReply evaluates the enabled rules for sessionID against text and fires
// at most one response into chatID. Every outcome except "no rule matched"
// leaves an attempt log. Failures never propagate to the caller.
func (e *Engine) TryReply(ctx context.Context, sessionID, chatID, senderID, text string, isGroup bool) {
	rules, err := e.rules.ListEnabled(ctx, sessionID)
	if err != nil {
		slog.Error("auto-reply rule listing failed", "session", sessionID, "error", err)
		return
	}
	rule := selectRule(rules, text, isGroup)
	if rule == nil {
		return
	}

	if rule.CooldownSeconds > 0 {
		last, ok, err := e.cooldowns.LastFired(ctx, rule.ID, sessionID, senderID)
		if err != nil {
			slog.Error("cooldown lookup failed", "rule", rule.ID, "error", err)
		} else if ok && e.now().Sub(last) < time.Duration(rule.CooldownSeconds)*time.Second {
			e.logAttempt(ctx, rule, sessionID, chatID, senderID, text, "", store.ReplyCooldown, "")
			slog.Debug("auto-reply suppressed by cooldown",
				"rule", rule.ID, "session", sessionID, "sender", senderID)
			return
		}
	}

	sender, ok := e.senders.Sender(sessionID)
	if !ok {
		e.logAttempt(ctx, rule, sessionID, chatID, senderID, text, "", store.ReplyFailed, "session not connected")
		return
	}

	content, messageID, err := e.respond(ctx, sender, chatID, rule)
	if err != nil {
		slog.Error("auto-reply send failed",
			"rule", rule.ID, "session", sessionID, "chat", chatID, "error", err)
		e.logAttempt(ctx, rule, sessionID, chatID, senderID, text, content, store.ReplyFailed, err.Error())
		e.publish(protocol.EventSendError, protocol.SendErrorPayload{
			SessionID: sessionID,
			To:        chatID,
			Source:    store.SourceAutoReply,
			Error:     err.Error(),
		})
		return
	}

	e.echo.Register(messageID)
	if _, err := e.messages.Insert(ctx, &store.MessageLog{
		MessageID: messageID,
		SessionID: sessionID,
		Direction: store.DirectionOutgoing,
		From:      sender.OwnJID(),
		To:        chatID,
		Kind:      responseLogKind(rule.ResponseKind),
		Content:   content,
		Timestamp: e.now(),
		Status:    "sent",
		Source:    store.SourceAutoReply,
	}); err != nil {
		slog.Error("auto-reply log insert failed", "rule", rule.ID, "message", messageID, "error", err)
	}
	if rule.CooldownSeconds > 0 {
		if err := e.cooldowns.Touch(ctx, rule.ID, sessionID, senderID, e.now()); err != nil {
			slog.Error("cooldown update failed", "rule", rule.ID, "error", err)
		}
	}
	e.logAttempt(ctx, rule, sessionID, chatID, senderID, text, content, store.ReplySuccess, "")
	e.publish(protocol.EventAutoReplySent, protocol.AutoReplySentPayload{
		SessionID: sessionID,
		To:        chatID,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Trigger:   excerpt(text),
		Response:  excerpt(content),
		IsGroup:   isGroup,
		MessageID: messageID,
	})
	slog.Info("auto-reply sent", "rule", rule.ID, "session", sessionID, "chat", chatID, "group", isGroup)
}

// respond performs the send for rule and returns the sent content and
// message id.
func (e *Engine) respond(ctx context.Context, sender Sender, chatID string, rule *store.Rule) (string, string, error) {
	var (
		res transport.SendResult
		err error
	)
	content := rule.ResponseContent

	switch rule.ResponseKind {
	case store.ResponseText:
		res, err = sender.SendText(ctx, chatID, content)

	case store.ResponseTemplate:
		tpl, tplErr := e.templates.ByCode(ctx, rule.ResponseContent)
		if tplErr != nil {
			if errors.Is(tplErr, store.ErrTemplateNotFound) {
				return "", "", fmt.Errorf("response template %q not found", rule.ResponseContent)
			}
			return "", "", fmt.Errorf("response template lookup: %w", tplErr)
		}
		content = tpl.Content
		if tpl.HasMedia() {
			data, decErr := base64.StdEncoding.DecodeString(tpl.MediaData)
			if decErr != nil {
				return content, "", fmt.Errorf("template media decode: %w", decErr)
			}
			res, err = sender.SendMedia(ctx, chatID, transport.Media{
				Kind:     "image",
				Data:     data,
				Caption:  tpl.Content,
				Mimetype: tpl.MediaMimetype,
				Filename: tpl.MediaFilename,
			})
		} else {
			res, err = sender.SendText(ctx, chatID, tpl.Content)
		}

	case store.ResponseImage, store.ResponseDocument, store.ResponseAudio, store.ResponseVideo:
		data, decErr := base64.StdEncoding.DecodeString(rule.ResponseMedia)
		if decErr != nil {
			return content, "", fmt.Errorf("response media decode: %w", decErr)
		}
		res, err = sender.SendMedia(ctx, chatID, transport.Media{
			Kind:     string(rule.ResponseKind),
			Data:     data,
			Caption:  rule.ResponseContent,
			Mimetype: rule.ResponseMimetype,
			Filename: rule.ResponseFilename,
		})

	default:
		return "", "", fmt.Errorf("unknown response kind %q", rule.ResponseKind)
	}

	if err != nil {
		return content, "", err
	}
	messageID := res.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return content, messageID, nil
}

// RunPruner deletes stale cooldown records every interval until ctx is
// canceled. Records older than retention are removed.
func (e *Engine) RunPruner(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.cooldowns.Prune(ctx, e.now().Add(-retention))
			if err != nil {
				slog.Error("cooldown prune failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("cooldown records pruned", "count", n)
			}
		}
	}
}

func (e *Engine) logAttempt(ctx context.Context, rule *store.Rule, sessionID, chatID, senderID, matched, response, status, errText string) {
	err := e.rules.InsertLog(ctx, &store.ReplyLog{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		SessionID: sessionID,
		ChatID:    chatID,
		SenderID:  senderID,
		Matched:   excerpt(matched),
		Response:  excerpt(response),
		Status:    status,
		Error:     errText,
		Timestamp: e.now(),
	})
	if err != nil {
		slog.Error("auto-reply attempt log failed", "rule", rule.ID, "status", status, "error", err)
	}
}

func (e *Engine) publish(name string, payload any) {
	if e.publisher == nil {
		return
	}
	e.publisher.Broadcast(bus.Event{Name: name, Payload: payload})
}

// responseLogKind maps a rule response kind to the message log kind column.
func responseLogKind(kind store.ResponseKind) string {
	if kind == store.ResponseTemplate {
		return "text"
	}
	return string(kind)
}

func excerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= logExcerptLimit {
		return s
	}
	return string(runes[:logExcerptLimit])
}
