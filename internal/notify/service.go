// Package notify converts saved chat messages into durable unread
// notifications and best-effort external pushes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"marketchat/internal/chat"
	"marketchat/internal/models"
)

const (
	imagePlaceholder = "[image]"
	summaryLimit     = 50
)

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	UnreadNotifications(ctx context.Context, receiverID int64) ([]models.Notification, error)
	CountUnreadNotifications(ctx context.Context, receiverID int64) (int, error)
	MarkAllNotificationsRead(ctx context.Context, receiverID int64) error
}

type UserStore interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
	ClearPushToken(ctx context.Context, userID int64) error
}

type RoomStore interface {
	RoomByID(ctx context.Context, id int64) (*models.Room, error)
}

// Presence answers whether the recipient already has the room open live;
// a present recipient needs no external push.
type Presence interface {
	ActiveUsers(roomID int64) []int64
}

// Sender delivers a frame to a user's private queue.
type Sender interface {
	SendToUser(userID int64, data []byte)
}

// NotificationPush is the frame payload for the recipient's queue.
type NotificationPush struct {
	models.Notification
	UnreadCount int `json:"unread_count"`
}

type Service struct {
	store    NotificationStore
	users    UserStore
	rooms    RoomStore
	presence Presence
	sender   Sender
	gateway  Gateway
	loc      *time.Location
	now      func() time.Time
	pushWait time.Duration
}

func NewService(store NotificationStore, users UserStore, rooms RoomStore, presence Presence, sender Sender, gateway Gateway, loc *time.Location, pushWait time.Duration) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if pushWait <= 0 {
		pushWait = 5 * time.Second
	}
	return &Service{
		store:    store,
		users:    users,
		rooms:    rooms,
		presence: presence,
		sender:   sender,
		gateway:  gateway,
		loc:      loc,
		now:      time.Now,
		pushWait: pushWait,
	}
}

// Notify derives the recipient for a saved message, persists the unread
// notification, pushes it to the recipient's queue, and issues the
// external push when one is warranted. Resolution failures are logged
// and absorbed: the message itself is already durable and broadcast, and
// nothing here may obscure that. Only an unclassifiable gateway failure
// comes back, as ErrDeliveryFailed, and only so the caller can log it.
func (s *Service) Notify(ctx context.Context, msg *models.MessageView, senderID int64) error {
	room, err := s.rooms.RoomByID(ctx, msg.RoomID)
	if err != nil || room == nil {
		slog.Warn("notification room lookup failed", "room_id", msg.RoomID, "error", err)
		return nil
	}

	var receiverID int64
	switch senderID {
	case room.OwnerID:
		receiverID = room.RequesterID
	case room.RequesterID:
		receiverID = room.OwnerID
	default:
		slog.Warn("message sender is not a room party", "room_id", room.ID, "sender_id", senderID)
		return nil
	}

	n := &models.Notification{
		Type:           models.NotificationTypeChat,
		ReceiverID:     receiverID,
		SenderID:       senderID,
		SenderNickname: msg.SenderNickname,
		RoomID:         room.ID,
		Content:        summarize(msg.Content, msg.Type),
		CreatedAt:      s.now().In(s.loc),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	unread, err := s.store.CountUnreadNotifications(ctx, receiverID)
	if err != nil {
		slog.Warn("unread count failed", "receiver_id", receiverID, "error", err)
	}

	if frame, err := chat.NewFrame(chat.TypeNotificationNew, NotificationPush{Notification: *n, UnreadCount: unread}); err == nil {
		s.sender.SendToUser(receiverID, frame)
	}

	// A recipient with the room open live is reading the message as it
	// lands; skip the external push.
	for _, id := range s.presence.ActiveUsers(room.ID) {
		if id == receiverID {
			return nil
		}
	}

	receiver, err := s.users.UserByID(ctx, receiverID)
	if err != nil || receiver == nil {
		slog.Warn("notification receiver lookup failed", "receiver_id", receiverID, "error", err)
		return nil
	}
	if receiver.PushToken == nil || *receiver.PushToken == "" {
		return nil
	}

	return s.pushExternal(ctx, *receiver.PushToken, receiverID, room.ID, msg)
}

// pushExternal issues the gateway call asynchronously with a bounded
// wait, just long enough to classify the outcome.
func (s *Service) pushExternal(ctx context.Context, token string, receiverID, roomID int64, msg *models.MessageView) error {
	pctx, cancel := context.WithTimeout(context.Background(), s.pushWait)
	defer cancel()

	data := map[string]string{
		"type":   models.NotificationTypeChat,
		"roomId": strconv.FormatInt(roomID, 10),
	}

	done := make(chan error, 1)
	go func() {
		done <- s.gateway.Push(pctx, token, msg.SenderNickname, summarize(msg.Content, msg.Type), data)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if isStaleToken(err) {
			// Corrective: drop the dead token so later messages stop
			// hitting the gateway for it.
			if cerr := s.users.ClearPushToken(ctx, receiverID); cerr != nil {
				slog.Error("failed to clear stale push token", "receiver_id", receiverID, "error", cerr)
			} else {
				slog.Info("cleared stale push token", "receiver_id", receiverID, "reason", err)
			}
			return nil
		}
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	case <-pctx.Done():
		return fmt.Errorf("%w: timed out after %s", ErrDeliveryFailed, s.pushWait)
	}
}

// UnreadForUser returns the user's unread notifications, newest first.
func (s *Service) UnreadForUser(ctx context.Context, userID int64) ([]models.Notification, error) {
	if userID <= 0 {
		return nil, chat.ErrInvalidInput
	}
	return s.store.UnreadNotifications(ctx, userID)
}

// MarkAllRead flips every unread notification for the user in one batch.
// All or nothing; a failed persistence changes nothing.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return chat.ErrInvalidInput
	}
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

func summarize(content, msgType string) string {
	switch msgType {
	case models.MessageTypeImage:
		return imagePlaceholder
	case models.MessageTypeSystem:
		return content
	}
	runes := []rune(content)
	if len(runes) <= summaryLimit {
		return content
	}
	return string(runes[:summaryLimit]) + "…"
}
