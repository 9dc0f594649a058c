package domain

import (
	"strconv"
	"strings"
)

const TypeText = "TEXT"

// TempIDPrefix marks identifiers assigned locally to unconfirmed messages.
const TempIDPrefix = "temp-"

type Message struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	RoomID       string    `json:"message_room_id"`
	SenderID     UserID    `json:"sender_id"`
	SenderName   string    `json:"sender_name,omitempty"`
	SenderAvatar string    `json:"sender_avatar,omitempty"`
	SentAt       Timestamp `json:"sent_at"`
	Type         string    `json:"message_type,omitempty"`
}

func (m Message) IsTemp() bool { return IsTempID(m.ID) }

func IsTempID(id string) bool { return strings.HasPrefix(id, TempIDPrefix) }

func TempID(unixNano int64) string {
	return TempIDPrefix + strconv.FormatInt(unixNano, 10)
}

// MessageRequest is what gets published to the send destination.
type MessageRequest struct {
	Content       string `json:"content"`
	MessageRoomID string `json:"message_room_id"`
	MessageType   string `json:"message_type"`
	SenderID      UserID `json:"sender_id"`
}

// PendingState is the delivery status of a message in a local list.
type PendingState uint8

const (
	Confirmed PendingState = iota // came from the server (history or echo)
	Sending
	Sent // handed to the transport, echo not seen yet
	Failed
)

func (s PendingState) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Sending:
		return "sending"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
