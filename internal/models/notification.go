package models

import "time"

const NotificationTypeChat = "chat"

// Notification is the durable unread-alert record derived from a chat
// message, distinct from the message itself. Created once per inbound
// message for the non-sending participant; only the global mark-all-read
// ever mutates it.
type Notification struct {
	ID             int64     `json:"id"`
	Type           string    `json:"type"`
	ReceiverID     int64     `json:"receiver_id"`
	SenderID       int64     `json:"sender_id"`
	SenderNickname string    `json:"sender_nickname"`
	RoomID         int64     `json:"room_id"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
