package notification

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aide/internal/logging"
)

const wsWriteTimeout = 5 * time.Second

// WebSocketChannel broadcasts notifications to every connected websocket
// client. Sending with no clients connected succeeds: a broadcast with no
// audience is not a delivery failure.
type WebSocketChannel struct {
	name     string
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWebSocketChannel creates a websocket channel. Register its Handler on an
// HTTP mux to accept client connections.
func NewWebSocketChannel(name string, logger logging.Logger) *WebSocketChannel {
	return &WebSocketChannel{
		name: name,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logging.OrNop(logger),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

func (c *WebSocketChannel) Name() string { return c.name }

func (c *WebSocketChannel) Supports(NotificationPriority) bool { return true }

// Handler upgrades incoming requests and tracks the connection until the
// client disconnects.
func (c *WebSocketChannel) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := c.upgrader.Upgrade(w, r, nil)
		if err != nil {
			c.logger.Warn("WebSocket upgrade failed: %v", err)
			return
		}
		c.add(conn)
		go c.readUntilClosed(conn)
	}
}

// ClientCount reports the number of connected clients.
func (c *WebSocketChannel) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Close disconnects every client.
func (c *WebSocketChannel) Close() {
	c.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.conns = make(map[*websocket.Conn]struct{})
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (c *WebSocketChannel) Send(_ context.Context, n Notification) error {
	payload := webhookPayload{
		ID:        n.ID,
		TaskID:    n.TaskID,
		Title:     n.Title,
		Body:      n.Body,
		Priority:  int(n.Priority),
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}

	c.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(payload); err != nil {
			c.logger.Warn("WebSocket write failed, dropping client: %v", err)
			c.remove(conn)
			_ = conn.Close()
		}
	}
	return nil
}

func (c *WebSocketChannel) add(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn] = struct{}{}
}

func (c *WebSocketChannel) remove(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn)
}

// readUntilClosed drains client frames so close handshakes are processed,
// unregistering the connection on the first read error.
func (c *WebSocketChannel) readUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.remove(conn)
			_ = conn.Close()
			return
		}
	}
}
