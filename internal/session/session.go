// Package session ties one transport client to the presence, chat and
// room components for the lifetime of a signed-in admin.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/chat"
	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/presence"
	"github.com/cwrk-planet/admin-chat/internal/rooms"
	"github.com/cwrk-planet/admin-chat/internal/transport"
	"github.com/cwrk-planet/admin-chat/pkg/logger"
)

// Status badge values.
const (
	BadgeConnected    = "connected"
	BadgeDisconnected = "disconnected"
)

var (
	ErrStarted = errors.New("session already started")
	ErrClosed  = errors.New("session closed")
)

// Transport is the part of transport.Client a session drives.
type Transport interface {
	Connect(ctx context.Context, user domain.UserID) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Publish(req domain.MessageRequest) bool
	SubscribeToMessages(h func(domain.Message)) func()
	SubscribeToPresence(h func(domain.UserPresenceEvent)) func()
	OnStateChange(h func(transport.ConnectionState)) func()
}

// Backend is the REST side: history, rooms and the online snapshot.
type Backend interface {
	presence.Source
	chat.HistorySource
	rooms.Source
}

type Options struct {
	Transport    Transport
	Backend      Backend
	Self         domain.Profile
	InitialRoom  string // defaults to the first room loaded
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

type Session struct {
	tr   Transport
	self domain.Profile
	log  *slog.Logger

	initialRoom string
	presence    *presence.Tracker
	chat        *chat.Synchronizer
	rooms       *rooms.Directory
	poller      *presence.Poller

	mu         sync.Mutex
	status     string
	started    bool
	closed     bool
	unsubs     []func()
	stopPoll   context.CancelFunc
	pollDone   chan struct{}
	onStatus   []func(string)
	statusSeen bool
}

func New(opts Options) (*Session, error) {
	if opts.Transport == nil || opts.Backend == nil {
		return nil, errors.New("session: transport and backend are required")
	}
	if opts.Self.ID <= 0 {
		return nil, domain.ErrInvalidUserID
	}
	log := logger.OrDefault(opts.Logger)

	dir := rooms.New(rooms.Options{Source: opts.Backend, User: opts.Self.ID, Logger: log})
	tracker := presence.NewTracker()
	s := &Session{
		tr:          opts.Transport,
		self:        opts.Self,
		log:         log.With(slog.String("component", "session"), slog.String("user", opts.Self.ID.String())),
		initialRoom: opts.InitialRoom,
		presence:    tracker,
		rooms:       dir,
		chat: chat.New(chat.Options{
			History:   opts.Backend,
			Publisher: opts.Transport,
			Rooms:     dir,
			Self:      opts.Self,
			Now:       opts.Now,
			Logger:    log,
		}),
		status: BadgeDisconnected,
	}
	s.poller = presence.NewPoller(presence.PollerOptions{
		Source:    opts.Backend,
		Tracker:   tracker,
		Connected: opts.Transport.IsConnected,
		Interval:  opts.PollInterval,
		Logger:    log,
	})
	return s, nil
}

func (s *Session) Presence() *presence.Tracker { return s.presence }
func (s *Session) Chat() *chat.Synchronizer    { return s.chat }
func (s *Session) Rooms() *rooms.Directory     { return s.rooms }
func (s *Session) Self() domain.Profile        { return s.self }

// Status is the connection badge text.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnStatus registers h for badge changes. Register before Start.
func (s *Session) OnStatus(h func(string)) {
	s.mu.Lock()
	s.onStatus = append(s.onStatus, h)
	s.mu.Unlock()
}

// Start connects, loads the room list and opens the initial room. A
// failed connect is not fatal: the transport keeps retrying and presence
// falls back to polling meanwhile. Load failures are logged and left on
// the components (see rooms.Directory.LoadErr).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.unsubs = append(s.unsubs,
		s.tr.SubscribeToMessages(s.chat.HandleIncoming),
		s.tr.SubscribeToPresence(func(ev domain.UserPresenceEvent) { s.presence.Apply(ev) }),
		s.tr.OnStateChange(s.handleState),
	)
	s.mu.Unlock()

	if err := s.tr.Connect(ctx, s.self.ID); err != nil {
		s.log.Warn("realtime connect failed, retrying in background", slog.Any("err", err))
	}
	if !s.tr.IsConnected() {
		s.handleState(transport.Disconnected)
	}

	if err := s.rooms.Load(ctx); err != nil {
		// the list shows its load error; nothing to open
		s.log.Warn("room list not loaded", slog.Any("err", err))
		return nil
	}

	room := s.initialRoom
	if room == "" {
		if list := s.rooms.Rooms(); len(list) > 0 {
			room = list[0].ID
		}
	}
	if room != "" {
		if _, err := s.SwitchRoom(ctx, room); err != nil {
			s.log.Warn("initial room not opened", slog.String("room", room), slog.Any("err", err))
		}
	}
	return nil
}

// SwitchRoom selects roomID and reloads its history.
func (s *Session) SwitchRoom(ctx context.Context, roomID string) (rooms.Selection, error) {
	sel, err := s.rooms.Select(roomID)
	if err != nil {
		return rooms.Selection{}, err
	}
	if err := s.chat.OpenRoom(ctx, roomID); err != nil {
		return sel, fmt.Errorf("open room: %w", err)
	}
	return sel, nil
}

// Send posts text to the open room.
func (s *Session) Send(text string) (chat.Entry, error) {
	return s.chat.Send(text)
}

// Close stops polling, drops all subscriptions and disconnects with an
// offline announcement. Logging out means calling Close.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.stopPoller()
	for _, u := range unsubs {
		u()
	}
	err := s.tr.Disconnect(ctx)

	s.mu.Lock()
	s.status = BadgeDisconnected
	s.mu.Unlock()
	return err
}

func (s *Session) handleState(st transport.ConnectionState) {
	badge := BadgeDisconnected
	switch st {
	case transport.Connected:
		badge = BadgeConnected
	case transport.Connecting:
		// keep whatever is shown until the attempt settles
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := !s.statusSeen || s.status != badge
	s.status, s.statusSeen = badge, true
	hs := append(([]func(string))(nil), s.onStatus...)
	s.mu.Unlock()

	if badge == BadgeConnected {
		s.stopPoller()
	} else {
		s.startPoller()
	}
	if changed {
		s.log.Info("connection status", slog.String("status", badge))
		for _, h := range hs {
			h(badge)
		}
	}
}

func (s *Session) startPoller() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stopPoll != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopPoll, s.pollDone = cancel, done

	go func() {
		defer close(done)
		s.poller.Run(ctx)
	}()
	s.log.Debug("presence polling started")
}

func (s *Session) stopPoller() {
	s.mu.Lock()
	cancel, done := s.stopPoll, s.pollDone
	s.stopPoll, s.pollDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Debug("presence polling stopped")
}

// Polling reports whether the REST presence fallback is running.
func (s *Session) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopPoll != nil
}
