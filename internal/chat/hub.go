package chat

import (
	"log/slog"
	"sync"
)

type roomBroadcast struct {
	roomID int64
	data   []byte
}

// Hub owns the live websocket clients and fans frames out to room
// subscribers and per-user queues.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client // connection id -> client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomBroadcast
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomBroadcast, 256),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ConnID] = client
			h.mu.Unlock()
			slog.Info("client connected", "conn_id", client.ConnID, "user_id", client.UserID)

		case client := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.clients[client.ConnID]; ok && existing == client {
				delete(h.clients, client.ConnID)
			}
			h.mu.Unlock()
			client.kill()
			slog.Info("client disconnected", "conn_id", client.ConnID, "user_id", client.UserID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for connID, client := range h.clients {
				if !client.subscribed(msg.roomID) {
					continue
				}
				if !client.trySend(msg.data) {
					// Slow consumer; drop the connection rather than
					// block every other subscriber.
					client.kill()
					delete(h.clients, connID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToRoom queues data for every client currently subscribed to
// the room. Callers invoke this only after the durable write completed.
func (h *Hub) BroadcastToRoom(roomID int64, data []byte) {
	h.broadcast <- &roomBroadcast{roomID: roomID, data: data}
}

// SendToUser delivers data to every live connection of the user; the
// user's private queue in transport terms.
func (h *Hub) SendToUser(userID int64, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.UserID != userID {
			continue
		}
		client.trySend(data)
	}
}

func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID, client := range h.clients {
		client.kill()
		delete(h.clients, connID)
	}
}
