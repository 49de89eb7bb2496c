// Package gateway exposes the domain event stream to WebSocket
// subscribers. Clients receive every bus event as a JSON frame; there is
// no replay buffer and slow clients are disconnected.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aldihidayat35/billey-waapi-v2/internal/bus"
	"github.com/aldihidayat35/billey-waapi-v2/internal/config"
)

// Server fans the event bus out to WebSocket clients.
type Server struct {
	cfg      config.GatewayConfig
	eventPub bus.EventPublisher

	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*Client

	httpServer *http.Server
}

func NewServer(cfg config.GatewayConfig, eventPub bus.EventPublisher) *Server {
	s := &Server{
		cfg:      cfg,
		eventPub: eventPub,
		clients:  make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Subscribers are headless consumers (dashboards, bots), not
		// credentialed browsers; the stream carries no commands.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Start listens until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("event stream listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("event stream server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		c.SendEvent(event)
	})
	slog.Info("subscriber connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.eventPub.Unsubscribe(c.id)
	slog.Info("subscriber disconnected", "id", c.id)
}

// ClientCount reports the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
