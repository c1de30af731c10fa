package chat

import "encoding/json"

const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeMessageSend = "message.send"
	TypePing        = "ping"

	TypeMessageNew      = "message.new"
	TypeNotificationNew = "notification.new"
	TypeError           = "error"
	TypePong            = "pong"
)

type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	Destination string `json:"destination"`
}

type SendMessagePayload struct {
	RoomID  int64  `json:"room_id"`
	Content string `json:"content"`
	Type    string `json:"message_type"`
}

type ErrorPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	RetryAfterSec int    `json:"retry_after_sec,omitempty"`
}

func NewFrame(frameType string, payload interface{}) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Frame{Type: frameType, Payload: p})
}
