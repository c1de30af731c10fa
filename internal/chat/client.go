package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketchat/internal/auth"
	"marketchat/internal/models"
	"marketchat/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Notifier is what the transport fires after a message is durably saved
// and broadcast.
type Notifier interface {
	Notify(ctx context.Context, msg *models.MessageView, senderID int64) error
}

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	ConnID   string
	UserID   int64
	Nickname string

	mu    sync.Mutex
	rooms map[int64]bool
	dead  bool
	send  chan []byte
}

// trySend queues data for the write pump without blocking. Sends and the
// channel close are serialized on c.mu so a slow-consumer teardown can
// never race a concurrent send onto a closed channel.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// kill closes the send channel exactly once. Every close goes through
// here.
func (c *Client) kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dead {
		c.dead = true
		close(c.send)
	}
}

func (c *Client) subscribed(roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

func (c *Client) addRoom(roomID int64) {
	c.mu.Lock()
	c.rooms[roomID] = true
	c.mu.Unlock()
}

func (c *Client) removeRoom(roomID int64) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// WSDeps bundles what the websocket endpoint needs.
type WSDeps struct {
	Hub       *Hub
	Registry  *Registry
	Service   *Service
	Notifier  Notifier
	Limiter   *ratelimit.Limiter
	JWTSecret string
}

func ServeWS(deps WSDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateToken(token, deps.JWTSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			hub:      deps.Hub,
			conn:     conn,
			ConnID:   uuid.NewString(),
			UserID:   claims.UserID,
			Nickname: claims.Nickname,
			rooms:    make(map[int64]bool),
			send:     make(chan []byte, 256),
		}

		deps.Registry.Connect(client.ConnID)
		deps.Hub.register <- client

		go client.writePump()
		go client.readPump(deps)
	}
}

func (c *Client) readPump(deps WSDeps) {
	defer func() {
		c.hub.unregister <- c
		deps.Registry.Disconnect(c.ConnID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		deps.Registry.Touch(c.ConnID)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("ws read error", "error", err, "user_id", c.UserID)
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}

		deps.Registry.Touch(c.ConnID)
		c.handleFrame(deps, frame)
	}
}

func (c *Client) writePump() {
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

func (c *Client) handleFrame(deps WSDeps, frame Frame) {
	switch frame.Type {
	case TypeSubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return
		}
		if roomID, ok := deps.Registry.Subscribe(c.ConnID, p.Destination, c.UserID); ok {
			c.addRoom(roomID)
		}

	case TypeUnsubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return
		}
		if roomID, ok := deps.Registry.Unsubscribe(c.ConnID, p.Destination, c.UserID); ok {
			c.removeRoom(roomID)
		}

	case TypeMessageSend:
		var p SendMessagePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return
		}
		c.handleSendMessage(deps, p)

	case TypePing:
		data, _ := NewFrame(TypePong, nil)
		c.trySend(data)
	}
}

func (c *Client) handleSendMessage(deps WSDeps, p SendMessagePayload) {
	res := deps.Limiter.Allow(strconv.FormatInt(c.UserID, 10), ratelimit.ClassChat)
	if !res.Allowed {
		c.sendError("TOO_MANY_REQUESTS", "message rate limit exceeded", res.RetryAfter)
		return
	}

	view, err := deps.Service.SaveMessage(context.Background(), p.RoomID, c.UserID, p.Content, p.Type)
	if err != nil {
		c.sendError(codeFor(err), err.Error(), 0)
		return
	}

	data, err := NewFrame(TypeMessageNew, view)
	if err != nil {
		return
	}
	// The row is durable by now; subscribers never observe an
	// unpersisted message.
	c.hub.BroadcastToRoom(view.RoomID, data)

	go func() {
		if err := deps.Notifier.Notify(context.Background(), view, c.UserID); err != nil {
			slog.Warn("notification delivery failed", "room_id", view.RoomID, "error", err)
		}
	}()
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrInvalidPage):
		return "INVALID_PAGE"
	case errors.Is(err, ErrInvalidImageContent):
		return "INVALID_IMAGE_CONTENT"
	case errors.Is(err, ErrInvalidImageURL):
		return "INVALID_IMAGE_URL"
	case errors.Is(err, ErrRoomNotFound):
		return "ROOM_NOT_FOUND"
	case errors.Is(err, ErrUserNotFound):
		return "USER_NOT_FOUND"
	case errors.Is(err, ErrNotParticipant):
		return "NOT_PARTICIPANT"
	default:
		return "INTERNAL_ERROR"
	}
}

func (c *Client) sendError(code, message string, retryAfter time.Duration) {
	retrySec := 0
	if retryAfter > 0 {
		retrySec = int(retryAfter.Round(time.Second) / time.Second)
		if retrySec == 0 {
			retrySec = 1
		}
	}
	data, err := NewFrame(TypeError, ErrorPayload{Code: code, Message: message, RetryAfterSec: retrySec})
	if err != nil {
		return
	}
	c.trySend(data)
}
