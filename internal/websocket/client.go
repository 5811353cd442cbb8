package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Upgrader accepts websocket handshakes from any origin; the route serving
// it requires a bearer token.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one websocket connection of one user
type Client struct {
	hub         *Hub
	conn        Connection
	send        chan []byte
	id          string
	userID      int64
	connectedAt time.Time
	logger      *slog.Logger
}

// NewClient creates a client for userID over conn
func NewClient(hub *Hub, conn Connection, userID int64) *Client {
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		userID:      userID,
		connectedAt: time.Now(),
		logger: hub.logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
			slog.String("remote_addr", conn.RemoteAddr()),
		),
	}
}

// ID returns the client id
func (c *Client) ID() string { return c.id }

// Serve registers the client and starts its pumps
func (c *Client) Serve() {
	select {
	case c.hub.register <- c:
	case <-c.hub.stopped:
		c.conn.Close()
		return
	}
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump discards inbound messages; it exists to process control frames
// and detect disconnects.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// WritePump writes queued frames and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
