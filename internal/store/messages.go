package store

import (
	"context"
	"time"
)

// Direction marks whether a message entered or left the gateway.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message sources, recorded so the log can distinguish manual sends
// from machine-generated ones.
const (
	SourceContact   = "contact"
	SourceMobile    = "mobile"
	SourceTemplate  = "template"
	SourceAutoReply = "auto-reply"
	SourceAPI       = "api"
)

// MessageLog is one persisted message, either direction.
type MessageLog struct {
	ID        int64     `json:"id"`
	MessageID string    `json:"messageId"`
	SessionID string    `json:"sessionId"`
	Direction Direction `json:"direction"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Kind      string    `json:"kind"` // text, image, video, document, ...
	Content   string    `json:"content,omitempty"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	MediaData string    `json:"mediaData,omitempty"` // base64
	Filename  string    `json:"filename,omitempty"`
	FileSize  int64     `json:"fileSize,omitempty"`
	Mimetype  string    `json:"mimetype,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status,omitempty"` // received, sent, failed
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageFilter narrows List queries. Zero values mean "no constraint".
type MessageFilter struct {
	SessionID string
	Contact   string // matches either endpoint, substring
	Direction Direction
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// MessageStore persists the message log.
type MessageStore interface {
	// Insert stores one message. Duplicate message ids are silently
	// ignored and report id 0.
	Insert(ctx context.Context, m *MessageLog) (int64, error)
	// AttachMedia stores downloaded media on an already-inserted message.
	AttachMedia(ctx context.Context, messageID, mediaBase64 string) error
	Exists(ctx context.Context, messageID string) (bool, error)
	List(ctx context.Context, f MessageFilter) ([]MessageLog, error)
	ChatHistory(ctx context.Context, sessionID, contact string, limit int) ([]MessageLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
