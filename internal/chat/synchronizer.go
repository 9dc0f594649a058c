// Package chat keeps the message list of the open room: history loaded
// over REST, live messages from the transport and optimistic local
// sends reconciled with their echoes.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/pkg/logger"
)

var (
	ErrNoRoom        = errors.New("no room open")
	ErrNotDelivered  = errors.New("message not handed to transport")
	ErrSuperseded    = errors.New("room switched before history arrived")
	ErrEntryNotFound = errors.New("message not in open room")
	ErrNotFailed     = errors.New("message is not in failed state")
)

type HistorySource interface {
	RoomMessages(ctx context.Context, roomID string) ([]domain.Message, error)
}

type Publisher interface {
	Publish(req domain.MessageRequest) bool
}

// LastMessageSink receives every incoming message, whatever room it is for.
type LastMessageSink interface {
	UpdateLastMessage(m domain.Message) bool
}

// Entry is a message in the open room's list together with its delivery
// state.
type Entry struct {
	domain.Message
	State domain.PendingState
}

type Options struct {
	History   HistorySource
	Publisher Publisher
	Rooms     LastMessageSink // optional
	Self      domain.Profile
	Now       func() time.Time
	Logger    *slog.Logger
}

type Synchronizer struct {
	history HistorySource
	pub     Publisher
	rooms   LastMessageSink
	self    domain.Profile
	now     func() time.Time
	log     *slog.Logger

	mu       sync.Mutex
	roomID   string
	gen      uint64
	entries  []Entry
	renamed  map[string]string // temp id -> server id, for confirmed sends
	lastTemp int64
	loadErr  error

	hmu      sync.Mutex
	handlers []func(Entry)
}

func New(opts Options) *Synchronizer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		history: opts.History,
		pub:     opts.Publisher,
		rooms:   opts.Rooms,
		self:    opts.Self,
		now:     opts.Now,
		log:     logger.OrDefault(opts.Logger).With(slog.String("component", "chat")),
	}
}

// OnChange registers h for every entry appended to or updated in the
// open room's list. Handlers run outside the synchronizer's lock.
func (s *Synchronizer) OnChange(h func(Entry)) {
	s.hmu.Lock()
	s.handlers = append(s.handlers, h)
	s.hmu.Unlock()
}

func (s *Synchronizer) emit(e Entry) {
	s.hmu.Lock()
	hs := append(([]func(Entry))(nil), s.handlers...)
	s.hmu.Unlock()
	for _, h := range hs {
		h(e)
	}
}

func (s *Synchronizer) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Messages returns a copy of the open room's list in arrival order.
func (s *Synchronizer) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// OpenRoom switches to roomID and reloads its full history. A later
// OpenRoom supersedes this one: its result is then dropped and
// ErrSuperseded returned. Messages that arrive while the history is in
// flight are kept after it unless the history already has them.
func (s *Synchronizer) OpenRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrNoRoom
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.roomID = roomID
	s.entries = nil
	s.renamed = nil
	s.loadErr = nil
	s.mu.Unlock()

	msgs, err := s.history.RoomMessages(ctx, roomID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.log.Debug("discarding stale history", slog.String("room", roomID))
		return ErrSuperseded
	}
	if err != nil {
		s.loadErr = fmt.Errorf("load history of %s: %w", roomID, err)
		return s.loadErr
	}

	merged := make([]Entry, 0, len(msgs)+len(s.entries))
	for _, m := range msgs {
		merged = append(merged, Entry{Message: m, State: domain.Confirmed})
	}
	for _, live := range s.entries {
		if !s.representedIn(msgs, live.Message) {
			merged = append(merged, live)
		}
	}
	s.entries = merged

	s.log.Debug("room opened", slog.String("room", roomID), slog.Int("messages", len(msgs)))
	return nil
}

// LoadErr reports why the open room's history could not be fetched, or
// nil once it loaded.
func (s *Synchronizer) LoadErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

func (s *Synchronizer) representedIn(msgs []domain.Message, m domain.Message) bool {
	for _, h := range msgs {
		if IsSameMessage(h, m, s.self.ID) {
			return true
		}
	}
	return false
}

// HandleIncoming applies a message from the transport. For the open room
// it is appended unless an equivalent entry exists, in which case that
// entry is confirmed. Every message also updates its room's last-message
// summary.
func (s *Synchronizer) HandleIncoming(m domain.Message) {
	var (
		changed Entry
		emit    bool
	)

	s.mu.Lock()
	if s.roomID != "" && m.RoomID == s.roomID {
		if i := s.matchLocked(m); i >= 0 {
			e := &s.entries[i]
			if e.State != domain.Confirmed {
				e.State = domain.Confirmed
				if m.ID != "" && m.ID != e.ID {
					if s.renamed == nil {
						s.renamed = make(map[string]string)
					}
					s.renamed[e.ID] = m.ID
					e.ID = m.ID
				}
				if m.SentAt.Valid {
					e.SentAt = m.SentAt
				}
				changed, emit = *e, true
			}
		} else {
			changed, emit = Entry{Message: m, State: domain.Confirmed}, true
			s.entries = append(s.entries, changed)
		}
	}
	s.mu.Unlock()

	if emit {
		s.emit(changed)
	}
	if s.rooms != nil {
		s.rooms.UpdateLastMessage(m)
	}
}

// matchLocked finds the entry m duplicates. Unconfirmed local sends are
// preferred so that two equal texts sent close together each get their
// own echo.
func (s *Synchronizer) matchLocked(m domain.Message) int {
	if m.ID != "" {
		for i := len(s.entries) - 1; i >= 0; i-- {
			if s.entries[i].ID == m.ID {
				return i
			}
		}
	}
	for i, e := range s.entries {
		if e.State != domain.Confirmed && IsSameMessage(e.Message, m, s.self.ID) {
			return i
		}
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if IsSameMessage(s.entries[i].Message, m, s.self.ID) {
			return i
		}
	}
	return -1
}

// Send appends an optimistic entry for text and hands it to the
// transport. The entry stays in the list either way; when the transport
// refuses it the entry is marked Failed and ErrNotDelivered returned.
func (s *Synchronizer) Send(text string) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > domain.MaxMessageLength {
		return Entry{}, domain.ErrMessageTooLong
	}

	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return Entry{}, ErrNoRoom
	}
	now := s.now()
	e := Entry{
		Message: domain.Message{
			ID:           s.tempIDLocked(now),
			Content:      text,
			RoomID:       s.roomID,
			SenderID:     s.self.ID,
			SenderName:   s.self.Name,
			SenderAvatar: s.self.Avatar,
			SentAt:       domain.NewTimestamp(now),
			Type:         domain.TypeText,
		},
		State: domain.Sending,
	}
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	s.emit(e)

	return s.deliver(e)
}

// Resend publishes a Failed entry again. Nothing is ever resent
// automatically.
func (s *Synchronizer) Resend(id string) (Entry, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return Entry{}, ErrEntryNotFound
	}
	if s.entries[i].State != domain.Failed {
		s.mu.Unlock()
		return Entry{}, ErrNotFailed
	}
	s.entries[i].State = domain.Sending
	e := s.entries[i]
	s.mu.Unlock()
	s.emit(e)

	return s.deliver(e)
}

func (s *Synchronizer) deliver(e Entry) (Entry, error) {
	ok := s.pub.Publish(domain.MessageRequest{
		Content:       e.Content,
		MessageRoomID: e.RoomID,
		MessageType:   e.Type,
		SenderID:      e.SenderID,
	})

	next := domain.Sent
	if !ok {
		next = domain.Failed
	}

	s.mu.Lock()
	id := e.ID
	if server, ok := s.renamed[id]; ok {
		id = server
	}
	if i := s.indexLocked(id); i >= 0 {
		// the echo may already have confirmed it
		if s.entries[i].State == domain.Sending {
			s.entries[i].State = next
		}
		e = s.entries[i]
	} else {
		e.State = next
	}
	s.mu.Unlock()
	s.emit(e)

	if !ok {
		s.log.Warn("message not sent", slog.String("room", e.RoomID), slog.String("id", e.ID))
		return e, ErrNotDelivered
	}
	return e, nil
}

func (s *Synchronizer) indexLocked(id string) int {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) tempIDLocked(now time.Time) string {
	n := now.UnixNano()
	if n <= s.lastTemp {
		n = s.lastTemp + 1
	}
	s.lastTemp = n
	return domain.TempID(n)
}
