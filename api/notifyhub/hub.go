package notifyhub

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

const writeWait = 5 * time.Second

// client serializes writes; a websocket.Conn supports one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub holds WebSocket connections and broadcasts notifications to all clients.
// Implements types.NotifyHub.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

// New creates a new notify hub.
func New() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
	}
}

// Register adds a WebSocket connection to the hub.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register(conn)
}

func (h *Hub) register(conn *websocket.Conn) *client {
	cl := &client{conn: conn}
	h.mu.Lock()
	h.clients[conn] = cl
	h.mu.Unlock()
	return cl
}

func (c *client) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

// Unregister removes a WebSocket connection from the hub.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends the notification as JSON to all registered connections.
// A client whose write fails is dropped.
func (h *Hub) Broadcast(notification *types.Notification) {
	if notification == nil {
		return
	}
	payload, err := sonic.Marshal(notification)
	if err != nil {
		tool.DefaultLogger.Errorf("[NotifyWS] Failed to encode notification: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			tool.DefaultLogger.Debugf("[NotifyWS] Dropping client: %v", err)
			h.Unregister(c.conn)
			_ = c.conn.Close()
		}
	}
}
