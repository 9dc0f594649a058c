package relay

import (
	"context"
	"errors"

	"github.com/cwrk-planet/admin-chat/internal/domain"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNotMember    = errors.New("sender is not a member of the room")
)

// Store is the relay's persistence. MemoryStore serves tests and local
// runs; postgres.Store serves anything longer lived.
type Store interface {
	// SaveMessage assigns an id and a send time and returns the stored
	// message with the sender's display fields filled in.
	SaveMessage(ctx context.Context, req domain.MessageRequest) (domain.Message, error)
	RoomMessages(ctx context.Context, roomID string) ([]domain.Message, error)
	DetailedRooms(ctx context.Context, user domain.UserID) ([]domain.MessageRoom, error)

	User(ctx context.Context, id domain.UserID) (domain.UserResponse, error)
	// SetOnline reports whether the flag actually changed.
	SetOnline(ctx context.Context, id domain.UserID, online bool) (bool, error)
	OnlineUsers(ctx context.Context) ([]domain.UserResponse, error)
	DisableUser(ctx context.Context, id domain.UserID) error

	// TouchMember sets the member's last seen time in room to now.
	TouchMember(ctx context.Context, roomID string, user domain.UserID) error
}

// Seeder is implemented by stores that accept fixture data.
type Seeder interface {
	UpsertUser(ctx context.Context, u domain.UserResponse) error
	UpsertRoom(ctx context.Context, r domain.MessageRoom) error
}
