package relay

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"

	"github.com/google/uuid"
)

type MemoryStore struct {
	now func() time.Time

	mu       sync.RWMutex
	users    map[domain.UserID]domain.UserResponse
	online   map[domain.UserID]bool
	rooms    map[string]domain.MessageRoom
	order    []string
	messages map[string][]domain.Message
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Seeder = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		users:    map[domain.UserID]domain.UserResponse{},
		online:   map[domain.UserID]bool{},
		rooms:    map[string]domain.MessageRoom{},
		messages: map[string][]domain.Message{},
	}
}

// PutUser adds or replaces a user.
func (s *MemoryStore) PutUser(u domain.UserResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutRoom adds or replaces a room. Member display fields left empty are
// filled from known users when rooms are listed.
func (s *MemoryStore) PutRoom(r domain.MessageRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	if !r.CreatedAt.Valid {
		r.CreatedAt = domain.NewTimestamp(s.now().UTC())
	}
	s.rooms[r.ID] = r.Clone()
}

func (s *MemoryStore) UpsertUser(_ context.Context, u domain.UserResponse) error {
	s.PutUser(u)
	return nil
}

func (s *MemoryStore) UpsertRoom(_ context.Context, r domain.MessageRoom) error {
	s.PutRoom(r)
	return nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, req domain.MessageRequest) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[req.MessageRoomID]
	if !ok {
		return domain.Message{}, domain.ErrRoomNotFound
	}
	if !slices.ContainsFunc(room.Members, func(m domain.RoomMember) bool { return m.UserID == req.SenderID }) {
		return domain.Message{}, ErrNotMember
	}

	typ := req.MessageType
	if typ == "" {
		typ = domain.TypeText
	}
	u := s.users[req.SenderID]
	m := domain.Message{
		ID:           uuid.NewString(),
		Content:      req.Content,
		RoomID:       req.MessageRoomID,
		SenderID:     req.SenderID,
		SenderName:   u.Username,
		SenderAvatar: u.Avatar,
		SentAt:       domain.NewTimestamp(s.now().UTC()),
		Type:         typ,
	}
	s.messages[m.RoomID] = append(s.messages[m.RoomID], m)

	room.LastMessage = &m
	s.rooms[room.ID] = room
	return m, nil
}

func (s *MemoryStore) RoomMessages(_ context.Context, roomID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, domain.ErrRoomNotFound
	}
	return append([]domain.Message{}, s.messages[roomID]...), nil
}

func (s *MemoryStore) DetailedRooms(_ context.Context, user domain.UserID) ([]domain.MessageRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.MessageRoom{}
	for _, id := range s.order {
		r := s.rooms[id].Clone()
		member := false
		for i, m := range r.Members {
			if m.UserID == user {
				member = true
			}
			if u, ok := s.users[m.UserID]; ok {
				if r.Members[i].Username == "" {
					r.Members[i].Username = u.Username
				}
				if r.Members[i].Avatar == "" {
					r.Members[i].Avatar = u.Avatar
				}
			}
		}
		if member {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) User(_ context.Context, id domain.UserID) (domain.UserResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.UserResponse{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) SetOnline(_ context.Context, id domain.UserID, online bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return false, ErrUserNotFound
	}
	was := s.online[id]
	if online {
		s.online[id] = true
	} else {
		delete(s.online, id)
	}
	return was != online, nil
}

func (s *MemoryStore) OnlineUsers(context.Context) ([]domain.UserResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.UserResponse{}
	for id := range s.online {
		out = append(out, s.users[id])
	}
	slices.SortFunc(out, func(a, b domain.UserResponse) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) DisableUser(_ context.Context, id domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Active = false
	s.users[id] = u
	delete(s.online, id)
	return nil
}

func (s *MemoryStore) TouchMember(_ context.Context, roomID string, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	// rooms hold their own member slice, see PutRoom
	for i := range room.Members {
		if room.Members[i].UserID == user {
			room.Members[i].LastSeen = domain.NewTimestamp(s.now().UTC())
			return nil
		}
	}
	return ErrNotMember
}
