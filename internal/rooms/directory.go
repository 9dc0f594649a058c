// Package rooms holds the sidebar's room list: loaded once per session,
// then kept current by patching last messages in place.
package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/pkg/logger"

	"golang.org/x/text/cases"
)

type Source interface {
	DetailedRooms(ctx context.Context, user domain.UserID) ([]domain.MessageRoom, error)
}

type Options struct {
	Source Source
	User   domain.UserID
	Logger *slog.Logger
}

type Directory struct {
	src  Source
	user domain.UserID
	log  *slog.Logger

	mu       sync.RWMutex
	rooms    []domain.MessageRoom
	index    map[string]int
	loadErr  error
	selected string
}

func New(opts Options) *Directory {
	return &Directory{
		src:   opts.Source,
		user:  opts.User,
		log:   logger.OrDefault(opts.Logger).With(slog.String("component", "rooms")),
		index: map[string]int{},
	}
}

// Load fetches the full room list. On failure the previous list is kept
// and the error is also retained for LoadErr.
func (d *Directory) Load(ctx context.Context) error {
	list, err := d.src.DetailedRooms(ctx, d.user)
	if err != nil {
		err = fmt.Errorf("load rooms: %w", err)
		d.mu.Lock()
		d.loadErr = err
		d.mu.Unlock()
		d.log.Warn("room list not loaded", slog.Any("err", err))
		return err
	}

	index := make(map[string]int, len(list))
	rooms := make([]domain.MessageRoom, 0, len(list))
	for _, r := range list {
		if _, dup := index[r.ID]; dup || r.ID == "" {
			continue
		}
		index[r.ID] = len(rooms)
		rooms = append(rooms, r.Clone())
	}

	d.mu.Lock()
	d.rooms, d.index, d.loadErr = rooms, index, nil
	d.mu.Unlock()
	return nil
}

// LoadErr is the error of the last Load, nil once a load succeeded.
func (d *Directory) LoadErr() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadErr
}

func (d *Directory) Rooms() []domain.MessageRoom {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.MessageRoom, len(d.rooms))
	for i, r := range d.rooms {
		out[i] = r.Clone()
	}
	return out
}

func (d *Directory) Room(id string) (domain.MessageRoom, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.index[id]
	if !ok {
		return domain.MessageRoom{}, false
	}
	return d.rooms[i].Clone(), true
}

// UpdateLastMessage replaces the summary of m's room. Unknown rooms are
// ignored; the list is never refetched for this.
func (d *Directory) UpdateLastMessage(m domain.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[m.RoomID]
	if !ok {
		return false
	}
	last := m
	d.rooms[i].LastMessage = &last
	return true
}

// Search returns rooms whose name or any member's username contains q,
// compared with Unicode case folding. An empty query matches everything.
func (d *Directory) Search(q string) []domain.MessageRoom {
	q = strings.TrimSpace(q)
	if q == "" {
		return d.Rooms()
	}
	fold := cases.Fold()
	needle := fold.String(q)

	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []domain.MessageRoom
	for _, r := range d.rooms {
		if matches(fold, r, needle) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func matches(fold cases.Caser, r domain.MessageRoom, needle string) bool {
	if strings.Contains(fold.String(r.Name), needle) {
		return true
	}
	for _, m := range r.Members {
		if strings.Contains(fold.String(m.Username), needle) {
			return true
		}
	}
	return false
}

// Selection is what the header of an open room renders from.
type Selection struct {
	Room    domain.MessageRoom
	Members []domain.RoomMember
	// Counterpart is set for one-to-one rooms only.
	Counterpart *domain.RoomMember
	// GroupMode marks rooms with no single counterpart.
	GroupMode bool
}

func (d *Directory) Select(roomID string) (Selection, error) {
	room, ok := d.Room(roomID)
	if !ok {
		return Selection{}, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}

	d.mu.Lock()
	d.selected = roomID
	d.mu.Unlock()

	sel := Selection{Room: room, Members: room.Members}
	if room.IsGroup {
		sel.GroupMode = true
		return sel, nil
	}
	sel.Counterpart = Counterpart(room)
	return sel, nil
}

func (d *Directory) Selected() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selected
}

// Counterpart is the first non-admin member of room, or nil.
func Counterpart(room domain.MessageRoom) *domain.RoomMember {
	for i := range room.Members {
		if !room.Members[i].IsAdmin {
			m := room.Members[i]
			return &m
		}
	}
	return nil
}
