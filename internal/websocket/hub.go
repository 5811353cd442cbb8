// Package websocket streams operation status frames to connected web clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"sheetledger/internal/infrastructure"
	"sheetledger/internal/operations"
)

// Frame types
const (
	TypeConnection      = "connection"
	TypeOperationStatus = "operation:status"
)

// Frame is the envelope of every server message
type Frame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

type delivery struct {
	userID int64
	data   []byte
}

// Hub fans frames out to clients. A frame addressed to a user reaches only
// that user's clients; user 0 addresses everyone.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan delivery
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	sent    int64
	dropped int64

	quit    chan struct{}
	stopped chan struct{}
	running bool
}

var _ operations.StatusSink = (*Hub)(nil)

// NewHub creates a stopped hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start runs the hub loop in a goroutine
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

// Stop ends the loop and closes every client
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.stopped
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.logger.Info("hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client registered",
				slog.String("client_id", c.id),
				slog.Int64("user_id", c.userID),
				slog.Int("clients", count))

			if data, err := json.Marshal(Frame{
				Type:      TypeConnection,
				Data:      map[string]string{"status": "connected", "client_id": c.id},
				Timestamp: time.Now().UTC(),
			}); err == nil {
				h.deliver(c, data)
			}

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client unregistered",
				slog.String("client_id", c.id),
				slog.Int("clients", count),
				slog.Duration("connection_duration", time.Since(c.connectedAt)))

		case d := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				if d.userID == 0 || c.userID == d.userID {
					targets = append(targets, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range targets {
				h.deliver(c, d.data)
			}
		}
	}
}

// deliver queues data for c, disconnecting c when its buffer is full.
// Only called from the hub loop.
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
		h.mu.Lock()
		h.sent++
		h.mu.Unlock()
	default:
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.dropped++
		h.mu.Unlock()
		h.logger.Warn("client send buffer full, disconnecting", slog.String("client_id", c.id))
	}
}

// OperationStatus implements operations.StatusSink. It never blocks: when
// the hub is backed up the frame is dropped.
func (h *Hub) OperationStatus(ctx context.Context, status operations.Status) {
	data, err := json.Marshal(Frame{
		Type:      TypeOperationStatus,
		Data:      status,
		Timestamp: status.At,
		TraceID:   infrastructure.GetTraceID(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "encode status frame failed", slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- delivery{userID: status.UserID, data: data}:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns delivery counters
func (h *Hub) Stats() (sent, dropped int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sent, h.dropped
}
