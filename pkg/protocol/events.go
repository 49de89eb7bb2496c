// Package protocol defines the domain event names and bridge wire frames
// shared between the gateway core, the transport bridge, and subscribers.
package protocol

// Domain event names published on the bus.
const (
	EventSessionStatus    = "session-status"
	EventQR               = "qr"
	EventPairingCode      = "pairing-code"
	EventMessageReceived  = "message-received"
	EventMessageSent      = "message-sent"
	EventAutoReplySent    = "auto-reply-sent"
	EventTemplateSent     = "template-sent"
	EventTemplateNotFound = "template-not-found"
	EventSendError        = "send-error"
)

// Session status values carried in EventSessionStatus payloads.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusReconnecting = "reconnecting"
)

// SessionStatusPayload is the payload of EventSessionStatus.
type SessionStatusPayload struct {
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	IsConnected bool   `json:"isConnected"`
	User        string `json:"user,omitempty"`
}

// QRPayload is the payload of EventQR.
type QRPayload struct {
	SessionID string `json:"sessionId"`
	QR        string `json:"qr"`
}

// PairingCodePayload is the payload of EventPairingCode.
type PairingCodePayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

// MessageReceivedPayload is the payload of EventMessageReceived and
// EventMessageSent. Timestamp is always in milliseconds.
type MessageReceivedPayload struct {
	SessionID   string `json:"sessionId"`
	MessageID   string `json:"messageId"`
	From        string `json:"from"`
	To          string `json:"to"`
	FromMe      bool   `json:"fromMe"`
	Kind        string `json:"kind"`
	Content     string `json:"content,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Participant string `json:"participant,omitempty"`
	OriginalJID string `json:"originalJid,omitempty"`
	MediaBase64 string `json:"mediaBase64,omitempty"`
}

// TemplateSentPayload is the payload of EventTemplateSent.
type TemplateSentPayload struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Code      string `json:"templateCode"`
	Content   string `json:"templateContent"`
	HasMedia  bool   `json:"hasMedia"`
	MessageID string `json:"messageId,omitempty"`
}

// TemplateNotFoundPayload is the payload of EventTemplateNotFound.
type TemplateNotFoundPayload struct {
	SessionID string   `json:"sessionId"`
	Chat      string   `json:"phone"`
	Codes     []string `json:"codes"`
}

// AutoReplySentPayload is the payload of EventAutoReplySent.
type AutoReplySentPayload struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	RuleID    int64  `json:"ruleId"`
	RuleName  string `json:"ruleName"`
	Trigger   string `json:"trigger"`
	Response  string `json:"response"`
	IsGroup   bool   `json:"isGroup"`
	MessageID string `json:"messageId,omitempty"`
}

// SendErrorPayload is the payload of EventSendError.
type SendErrorPayload struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Source    string `json:"source"`
	Error     string `json:"error"`
}
