package chat

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"marketchat/internal/models"
)

// MessageStore is the durable message surface the pipeline consumes.
type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, senderID int64, content, msgType string, at time.Time) (*models.MessageView, error)
	MessagesPage(ctx context.Context, roomID int64, page, size int) ([]models.MessageView, error)
	MarkMessagesRead(ctx context.Context, roomID, readerID int64) (int64, error)
}

type RoomStore interface {
	RoomByID(ctx context.Context, id int64) (*models.Room, error)
	IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error)
}

type UserStore interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

// RecentCache is the best-effort accelerator for the newest message page.
// The pipeline swallows every error from it; durable storage is always
// authoritative.
type RecentCache interface {
	Recent(ctx context.Context, roomID int64) ([]models.MessageView, error)
	Populate(ctx context.Context, roomID int64, msgs []models.MessageView) error
	Append(ctx context.Context, roomID int64, msg models.MessageView) error
	Invalidate(ctx context.Context, roomID int64) error
}

// Service is the single entry point for creating, listing, and
// marking-read chat messages.
type Service struct {
	messages    MessageStore
	rooms       RoomStore
	users       UserStore
	cache       RecentCache
	assetOrigin string
	loc         *time.Location
	now         func() time.Time
}

func NewService(messages MessageStore, rooms RoomStore, users UserStore, cache RecentCache, assetOrigin string, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		messages:    messages,
		rooms:       rooms,
		users:       users,
		cache:       cache,
		assetOrigin: strings.TrimRight(assetOrigin, "/"),
		loc:         loc,
		now:         time.Now,
	}
}

// SaveMessage validates and persists one chat message, writes the
// response projection through to the recent cache, and returns it.
// Broadcast and notification dispatch are the caller's job, strictly
// after this returns.
func (s *Service) SaveMessage(ctx context.Context, roomID, senderID int64, content, msgType string) (*models.MessageView, error) {
	if roomID <= 0 || senderID <= 0 {
		return nil, ErrInvalidInput
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !models.ValidMessageType(msgType) {
		return nil, ErrInvalidInput
	}

	if msgType == models.MessageTypeImage {
		if strings.TrimSpace(content) == "" {
			return nil, ErrInvalidImageContent
		}
		if !s.validAssetURL(content) {
			return nil, ErrInvalidImageURL
		}
	} else if strings.TrimSpace(content) == "" {
		return nil, ErrInvalidInput
	}

	room, err := s.rooms.RoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}

	sender, err := s.users.UserByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrUserNotFound
	}

	active, err := s.rooms.IsActiveMember(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrNotParticipant
	}

	view, err := s.messages.CreateMessage(ctx, roomID, senderID, content, msgType, s.now().In(s.loc))
	if err != nil {
		return nil, err
	}

	// The durable write already succeeded; a cache hiccup is not the
	// sender's problem.
	if err := s.cache.Append(ctx, roomID, *view); err != nil {
		slog.Warn("recent cache append failed", "room_id", roomID, "error", err)
	}
	return view, nil
}

// Messages lists a room's history newest first. Page 0 is served from
// the recent cache when it holds anything; a page-0 durable read
// repopulates the cache on the way out.
func (s *Service) Messages(ctx context.Context, roomID int64, page, size int) ([]models.MessageView, error) {
	if roomID <= 0 {
		return nil, ErrInvalidInput
	}
	if page < 0 || size <= 0 {
		return nil, ErrInvalidPage
	}

	if page == 0 {
		cached, err := s.cache.Recent(ctx, roomID)
		if err != nil {
			slog.Warn("recent cache read failed", "room_id", roomID, "error", err)
		} else if len(cached) > 0 {
			if len(cached) > size {
				cached = cached[:size]
			}
			return cached, nil
		}
	}

	msgs, err := s.messages.MessagesPage(ctx, roomID, page, size)
	if err != nil {
		return nil, err
	}

	if page == 0 && len(msgs) > 0 {
		if err := s.cache.Populate(ctx, roomID, msgs); err != nil {
			slog.Warn("recent cache populate failed", "room_id", roomID, "error", err)
		}
	}
	return msgs, nil
}

// MarkMessagesAsRead flips every unread message in the room authored by
// someone else, then invalidates the room's cache entry so a stale
// unread view never outlives the mutation. Idempotent.
func (s *Service) MarkMessagesAsRead(ctx context.Context, roomID, userID int64) (int64, error) {
	if roomID <= 0 || userID <= 0 {
		return 0, ErrInvalidInput
	}

	n, err := s.messages.MarkMessagesRead(ctx, roomID, userID)
	if err != nil {
		return 0, err
	}

	if err := s.cache.Invalidate(ctx, roomID); err != nil {
		// Read state is durable; the cache going stale is bounded by
		// its TTL.
		slog.Warn("recent cache invalidate failed", "room_id", roomID, "error", err)
	}
	return n, nil
}

func (s *Service) validAssetURL(content string) bool {
	u, err := url.Parse(content)
	if err != nil || !u.IsAbs() {
		return false
	}
	return strings.HasPrefix(content, s.assetOrigin+"/")
}
