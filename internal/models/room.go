package models

import "time"

// Post is the marketplace listing a conversation hangs off. Only the
// fields room creation needs live here; the rest of the listing domain
// is out of this service's hands.
type Post struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Room is a conversation between the author of a post and one requester.
// At most one room exists per (post, requester) with an active requester
// membership; re-requesting reactivates instead of duplicating.
type Room struct {
	ID          int64     `json:"id"`
	PostID      int64     `json:"post_id"`
	OwnerID     int64     `json:"owner_id"`
	RequesterID int64     `json:"requester_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership is the durable record of a user's participation in a room.
// Leaving flips Active and stamps LeftAt; rows are never deleted.
type Membership struct {
	RoomID   int64      `json:"room_id"`
	UserID   int64      `json:"user_id"`
	Active   bool       `json:"active"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// RoomWithUnread is the room-list projection.
type RoomWithUnread struct {
	Room
	PostTitle     string     `json:"post_title"`
	UnreadCount   int        `json:"unread_count"`
	LastMessage   string     `json:"last_message"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}
