package chat

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidPage         = errors.New("invalid page or size")
	ErrInvalidImageContent = errors.New("image message has no content")
	ErrInvalidImageURL     = errors.New("image content is not a valid asset reference")
	ErrRoomNotFound        = errors.New("room not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrNotParticipant      = errors.New("not an active participant of this room")
)
