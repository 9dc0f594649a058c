package transport

import (
	"context"

	"github.com/cwrk-planet/admin-chat/internal/domain"
)

// Server topics and application destinations.
const (
	TopicRoomMessages = "room-message-broadcast"
	TopicPresence     = "active-user-broadcast"

	DestAdminConnect    = "admin-connect"
	DestAdminDisconnect = "admin-disconnect"
	DestSendMessage     = "chat-send-message"
	DestUserDisable     = "user-disable"
)

// Broker opens realtime sessions. Dial returns once the server has
// acknowledged the handshake.
type Broker interface {
	Dial(ctx context.Context, user domain.UserID) (Conn, error)
}

// Conn is one established broker session.
type Conn interface {
	Subscribe(topic string, handler func(payload []byte)) error
	Publish(destination string, payload []byte) error
	// Done is closed when the session ends, for whatever reason.
	Done() <-chan struct{}
	// Err reports why the session ended; nil after a local Close.
	Err() error
	Close() error
}

// PresenceFallback is the out-of-band channel used when a presence
// announcement cannot go over the broker.
type PresenceFallback interface {
	ConnectAdmin(ctx context.Context, id domain.UserID) error
	DisconnectAdmin(ctx context.Context, id domain.UserID) error
}
