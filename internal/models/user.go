package models

import "time"

type User struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	Email     string    `json:"email,omitempty"`
	Password  string    `json:"-"`
	PushToken *string   `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
