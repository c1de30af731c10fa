package models

import "time"

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeSystem = "system"
)

// Message is the durable chat record. Content, type, sender and room are
// immutable once written; only Read ever changes.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageView is the response projection handed to clients and kept in
// the recent-message cache.
type MessageView struct {
	Message
	SenderNickname string `json:"sender_nickname"`
}

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeSystem:
		return true
	}
	return false
}
