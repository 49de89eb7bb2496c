// Package transport defines the capability interface the gateway core uses
// to talk to the messaging protocol, and a WebSocket bridge implementation.
// The protocol itself (handshake, encryption, wire framing) lives in an
// external bridge process; the core only consumes decoded events and issues
// send commands.
package transport

import (
	"context"

	"github.com/aldihidayat35/billey-waapi-v2/pkg/protocol"
)

// AuthMode selects how a session authenticates.
type AuthMode string

const (
	AuthQR      AuthMode = "qr"
	AuthPairing AuthMode = "pairing"
)

// ConnectOpts carries per-session connection parameters.
type ConnectOpts struct {
	AuthMode  AuthMode
	PhoneHint string // for pairing mode
	AuthDir   string // session's auth material directory
}

// Transport dials the protocol and returns an exclusive Handle.
// The session registry is the sole owner of handles.
type Transport interface {
	Connect(ctx context.Context, sessionID string, opts ConnectOpts) (Handle, error)
}

// Handle is one live protocol connection. Events() yields the session's
// event stream until the handle is closed; commands may be called from any
// goroutine.
type Handle interface {
	Events() <-chan Event

	SendText(ctx context.Context, to, text string) (SendResult, error)
	SendMedia(ctx context.Context, to string, media Media) (SendResult, error)
	RequestPairingCode(ctx context.Context, phone string) error

	// QueryIdentity resolves a privacy identifier via the live protocol.
	// Returns "" when the mapping is unknown.
	QueryIdentity(ctx context.Context, lid string) (string, error)

	// Logout unlinks the session on the protocol side. Terminal.
	Logout(ctx context.Context) error

	// Close drops the connection without logging out.
	Close() error
}

// SendResult reports the protocol message id assigned to a send.
type SendResult struct {
	MessageID string
}

// Media is an outbound media attachment.
type Media struct {
	Kind     string // image|video|document|audio
	Data     []byte
	Caption  string
	Mimetype string
	Filename string
}

// Event is one decoded protocol event. Exactly one concrete type applies.
type Event interface{ isEvent() }

// CredentialsUpdated signals that the transport persisted new auth state.
type CredentialsUpdated struct{}

// ConnectionOpen signals that the session is connected and authenticated.
type ConnectionOpen struct {
	User string // resolved own identity
	Name string
}

// QRCode carries a fresh QR payload for out-of-band scanning.
type QRCode struct {
	Payload string
}

// PairingCode carries a requested pairing code.
type PairingCode struct {
	Code string
}

// ConnectionClosed signals that the connection dropped or terminated.
type ConnectionClosed struct {
	Code   int
	Reason string
}

// LoggedOut reports whether the close is an explicit logout, which is
// terminal: the session must not reconnect.
func (c ConnectionClosed) LoggedOut() bool {
	return c.Code == protocol.CloseLoggedOut
}

// MessageEvent is one inbound or echoed protocol message.
type MessageEvent struct {
	Message protocol.MessagePayload
}

func (CredentialsUpdated) isEvent() {}
func (ConnectionOpen) isEvent()     {}
func (QRCode) isEvent()             {}
func (PairingCode) isEvent()        {}
func (ConnectionClosed) isEvent()   {}
func (MessageEvent) isEvent()       {}
