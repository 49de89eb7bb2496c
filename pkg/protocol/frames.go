package protocol

import "encoding/json"

// Bridge frame types. The gateway core speaks JSON frames to an external
// protocol bridge over a WebSocket; the bridge owns the wire protocol
// (handshake, encryption, framing) and relays decoded events.
const (
	FrameConnect     = "connect"
	FrameConnected   = "connected"
	FrameQR          = "qr"
	FramePairingCode = "pairing_code"
	FrameCreds       = "creds"
	FrameClosed      = "closed"
	FrameMessage     = "message"
	FrameSend        = "send"
	FrameSendAck     = "send_ack"
	FrameQueryLID    = "query_lid"
	FrameLIDResult   = "lid_result"
	FrameLogout      = "logout"
)

// Close reason codes reported by the bridge in FrameClosed frames.
// CloseLoggedOut is terminal: the account was unlinked on the phone and
// the gateway must not reconnect.
const (
	CloseLoggedOut          = 401
	CloseConnectionLost     = 408
	CloseConnectionReplaced = 440
	CloseRestartRequired    = 515
)

// Frame is the envelope for every message exchanged with the bridge.
// Payload shape depends on Type.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ConnectPayload is sent by the gateway to open a session on the bridge.
type ConnectPayload struct {
	AuthMode  string `json:"auth_mode"` // "qr" or "pairing"
	PhoneHint string `json:"phone_hint,omitempty"`
	AuthDir   string `json:"auth_dir,omitempty"`
}

// ConnectedPayload reports a successful connection open.
type ConnectedPayload struct {
	User string `json:"user"` // resolved own identity (jid)
	Name string `json:"name,omitempty"`
}

// ClosedPayload reports a dropped or terminated connection.
type ClosedPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// SendPayload is an outbound send command to the bridge.
type SendPayload struct {
	To       string `json:"to"`
	Text     string `json:"text,omitempty"`
	Media    []byte `json:"media,omitempty"` // base64 in JSON
	Kind     string `json:"kind,omitempty"`  // image|video|document|audio for media sends
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// SendAckPayload carries the message id assigned to a completed send.
type SendAckPayload struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// MessagePayload is one decoded protocol message event from the bridge.
// Exactly one of the *Message fields is set; the gateway classifies by
// probing which.
type MessagePayload struct {
	MessageID   string `json:"message_id"`
	RemoteJID   string `json:"remote_jid"`
	Participant string `json:"participant,omitempty"`
	FromMe      bool   `json:"from_me"`
	Timestamp   int64  `json:"timestamp"` // seconds or milliseconds, normalized by the pipeline

	Conversation string           `json:"conversation,omitempty"`
	Extended     *ExtendedText    `json:"extended_text,omitempty"`
	Image        *MediaMessage    `json:"image,omitempty"`
	Video        *VideoMessage    `json:"video,omitempty"`
	Audio        *AudioMessage    `json:"audio,omitempty"`
	Sticker      *MediaMessage    `json:"sticker,omitempty"`
	Document     *DocumentMessage `json:"document,omitempty"`
	Contact      *ContactMessage  `json:"contact,omitempty"`
	Location     *LocationMessage `json:"location,omitempty"`
}

// ExtendedText is a text message with formatting or link preview context.
type ExtendedText struct {
	Text string `json:"text"`
}

// MediaMessage covers image and sticker payload references.
type MediaMessage struct {
	URL      string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// VideoMessage adds the gif flag to the media reference.
type VideoMessage struct {
	MediaMessage
	GifPlayback bool `json:"gif_playback,omitempty"`
}

// AudioMessage adds the push-to-talk (voice note) flag.
type AudioMessage struct {
	MediaMessage
	PTT bool `json:"ptt,omitempty"`
}

// DocumentMessage carries a file attachment reference.
type DocumentMessage struct {
	URL      string `json:"url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ContactMessage is a shared contact card.
type ContactMessage struct {
	DisplayName string `json:"display_name"`
	VCard       string `json:"vcard,omitempty"`
}

// LocationMessage is a shared location pin.
type LocationMessage struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// QueryLIDPayload asks the bridge to resolve a privacy identifier live.
type QueryLIDPayload struct {
	LID string `json:"lid"`
}

// LIDResultPayload answers a QueryLIDPayload.
type LIDResultPayload struct {
	LID      string `json:"lid"`
	Resolved string `json:"resolved,omitempty"`
}
