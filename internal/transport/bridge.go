package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aldihidayat35/billey-waapi-v2/pkg/protocol"
)

const (
	eventBufferSize = 128
	commandTimeout  = 30 * time.Second
	maxFrameBytes   = 32 << 20 // media frames carry base64 payloads
)

// Bridge is a Transport backed by an external protocol bridge process,
// speaking JSON frames over one WebSocket per session.
type Bridge struct {
	url         string
	dialTimeout time.Duration
}

// NewBridge creates a Bridge transport for the given WebSocket URL.
func NewBridge(wsURL string, dialTimeout time.Duration) *Bridge {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Bridge{url: wsURL, dialTimeout: dialTimeout}
}

// Connect dials the bridge and opens a protocol session on it.
func (b *Bridge) Connect(ctx context.Context, sessionID string, opts ConnectOpts) (Handle, error) {
	u, err := url.Parse(b.url)
	if err != nil {
		return nil, fmt.Errorf("bridge url: %w", err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", b.url, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	h := &bridgeHandle{
		sessionID: sessionID,
		conn:      conn,
		events:    make(chan Event, eventBufferSize),
	}
	h.readCtx, h.readCancel = context.WithCancel(context.Background())

	if err := h.writeFrame(ctx, protocol.FrameConnect, protocol.ConnectPayload{
		AuthMode:  string(opts.AuthMode),
		PhoneHint: opts.PhoneHint,
		AuthDir:   opts.AuthDir,
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "connect frame failed")
		return nil, fmt.Errorf("bridge connect frame: %w", err)
	}

	go h.readLoop()
	return h, nil
}

// bridgeHandle is one live bridge session. Commands are serialized because
// the bridge protocol has no correlation ids: each command waits for its
// matching reply frame before the next command may start.
type bridgeHandle struct {
	sessionID string
	conn      *websocket.Conn
	events    chan Event

	writeMu sync.Mutex

	cmdMu sync.Mutex
	ackMu sync.Mutex
	ackCh chan protocol.SendAckPayload
	lidCh chan protocol.LIDResultPayload

	readCtx    context.Context
	readCancel context.CancelFunc
	closeOnce  sync.Once
}

func (h *bridgeHandle) Events() <-chan Event { return h.events }

func (h *bridgeHandle) writeFrame(ctx context.Context, frameType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	data, err := json.Marshal(protocol.Frame{Type: frameType, SessionID: h.sessionID, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.Write(ctx, websocket.MessageText, data)
}

func (h *bridgeHandle) SendText(ctx context.Context, to, text string) (SendResult, error) {
	return h.send(ctx, protocol.SendPayload{To: to, Text: text})
}

func (h *bridgeHandle) SendMedia(ctx context.Context, to string, media Media) (SendResult, error) {
	return h.send(ctx, protocol.SendPayload{
		To:       to,
		Kind:     media.Kind,
		Media:    media.Data,
		Caption:  media.Caption,
		Mimetype: media.Mimetype,
		Filename: media.Filename,
	})
}

func (h *bridgeHandle) send(ctx context.Context, payload protocol.SendPayload) (SendResult, error) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	ack := make(chan protocol.SendAckPayload, 1)
	h.ackMu.Lock()
	h.ackCh = ack
	h.ackMu.Unlock()
	defer func() {
		h.ackMu.Lock()
		h.ackCh = nil
		h.ackMu.Unlock()
	}()

	if err := h.writeFrame(ctx, protocol.FrameSend, payload); err != nil {
		return SendResult{}, fmt.Errorf("send to %s: %w", payload.To, err)
	}

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case res := <-ack:
		if res.Error != "" {
			return SendResult{}, errors.New(res.Error)
		}
		return SendResult{MessageID: res.MessageID}, nil
	case <-timer.C:
		return SendResult{}, errors.New("send ack timeout")
	case <-ctx.Done():
		return SendResult{}, ctx.Err()
	case <-h.readCtx.Done():
		return SendResult{}, errors.New("connection closed")
	}
}

func (h *bridgeHandle) RequestPairingCode(ctx context.Context, phone string) error {
	// The code itself arrives as a PairingCode event on the stream.
	return h.writeFrame(ctx, protocol.FramePairingCode, map[string]string{"phone": phone})
}

func (h *bridgeHandle) QueryIdentity(ctx context.Context, lid string) (string, error) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	res := make(chan protocol.LIDResultPayload, 1)
	h.ackMu.Lock()
	h.lidCh = res
	h.ackMu.Unlock()
	defer func() {
		h.ackMu.Lock()
		h.lidCh = nil
		h.ackMu.Unlock()
	}()

	if err := h.writeFrame(ctx, protocol.FrameQueryLID, protocol.QueryLIDPayload{LID: lid}); err != nil {
		return "", fmt.Errorf("query lid %s: %w", lid, err)
	}

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case r := <-res:
		return r.Resolved, nil
	case <-timer.C:
		return "", errors.New("lid query timeout")
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.readCtx.Done():
		return "", errors.New("connection closed")
	}
}

func (h *bridgeHandle) Logout(ctx context.Context) error {
	err := h.writeFrame(ctx, protocol.FrameLogout, struct{}{})
	h.Close()
	return err
}

func (h *bridgeHandle) Close() error {
	h.closeOnce.Do(func() {
		h.readCancel()
		h.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// readLoop decodes frames until the connection drops, then emits a final
// ConnectionClosed event and closes the stream.
func (h *bridgeHandle) readLoop() {
	defer close(h.events)

	for {
		_, data, err := h.conn.Read(h.readCtx)
		if err != nil {
			h.emit(closeEventFromError(err))
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("bridge frame decode failed", "session", h.sessionID, "error", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameConnected:
			var p protocol.ConnectedPayload
			if err := json.Unmarshal(frame.Payload, &p); err == nil {
				h.emit(ConnectionOpen{User: p.User, Name: p.Name})
			}
		case protocol.FrameQR:
			var p protocol.QRPayload
			if err := json.Unmarshal(frame.Payload, &p); err == nil {
				h.emit(QRCode{Payload: p.QR})
			}
		case protocol.FramePairingCode:
			var p protocol.PairingCodePayload
			if err := json.Unmarshal(frame.Payload, &p); err == nil {
				h.emit(PairingCode{Code: p.Code})
			}
		case protocol.FrameCreds:
			h.emit(CredentialsUpdated{})
		case protocol.FrameClosed:
			var p protocol.ClosedPayload
			if err := json.Unmarshal(frame.Payload, &p); err == nil {
				h.emit(ConnectionClosed{Code: p.Code, Reason: p.Reason})
			}
		case protocol.FrameMessage:
			var p protocol.MessagePayload
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				slog.Warn("bridge message decode failed", "session", h.sessionID, "error", err)
				continue
			}
			h.emit(MessageEvent{Message: p})
		case protocol.FrameSendAck:
			var p protocol.SendAckPayload
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				continue
			}
			h.ackMu.Lock()
			ch := h.ackCh
			h.ackMu.Unlock()
			if ch != nil {
				select {
				case ch <- p:
				default:
				}
			}
		case protocol.FrameLIDResult:
			var p protocol.LIDResultPayload
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				continue
			}
			h.ackMu.Lock()
			ch := h.lidCh
			h.ackMu.Unlock()
			if ch != nil {
				select {
				case ch <- p:
				default:
				}
			}
		default:
			slog.Debug("bridge frame ignored", "session", h.sessionID, "type", frame.Type)
		}
	}
}

// emit delivers an event, dropping it if the consumer stopped draining.
// A stalled session worker must not wedge the read loop.
func (h *bridgeHandle) emit(ev Event) {
	select {
	case h.events <- ev:
	default:
		slog.Warn("bridge event dropped", "session", h.sessionID)
	}
}

func closeEventFromError(err error) ConnectionClosed {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ConnectionClosed{Code: int(ce.Code), Reason: ce.Reason}
	}
	return ConnectionClosed{Code: protocol.CloseConnectionLost, Reason: err.Error()}
}
