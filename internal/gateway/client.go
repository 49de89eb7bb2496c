package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aldihidayat35/billey-waapi-v2/internal/bus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendQueueSize is the per-client outbound buffer. A client that falls
	// this far behind is dropped rather than back-pressuring the bus.
	sendQueueSize = 64
)

// eventFrame is the wire shape of one bus event.
type eventFrame struct {
	Event     string `json:"event"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Client is one WebSocket subscriber.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan eventFrame
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan eventFrame, sendQueueSize),
		done: make(chan struct{}),
	}
}

// SendEvent queues event for delivery. If the client's queue is full the
// connection is closed.
func (c *Client) SendEvent(event bus.Event) {
	frame := eventFrame{
		Event:     event.Name,
		Payload:   event.Payload,
		Timestamp: time.Now().UnixMilli(),
	}
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		slog.Warn("subscriber too slow, dropping", "id", c.id, "event", event.Name)
		c.Close()
	}
}

// Run pumps events to the connection until it errors or the client is
// closed. It blocks; the caller owns the connection's lifetime.
func (c *Client) Run() {
	go c.readLoop()
	c.writeLoop()
}

// readLoop discards inbound frames but keeps the pong handler serviced so
// dead connections are detected.
func (c *Client) readLoop() {
	defer c.Close()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			payload, err := json.Marshal(frame)
			if err != nil {
				slog.Error("event frame marshal failed", "event", frame.Event, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
