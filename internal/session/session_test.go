package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/session"
	"github.com/cwrk-planet/admin-chat/internal/transport"
	"github.com/cwrk-planet/admin-chat/internal/transport/transporttest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type stubBackend struct {
	mu          sync.Mutex
	rooms       []domain.MessageRoom
	history     map[string][]domain.Message
	online      []domain.UserResponse
	onlineCalls atomic.Int32
	roomsCalls  atomic.Int32
}

func (b *stubBackend) OnlineUsers(context.Context) ([]domain.UserResponse, error) {
	b.onlineCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online, nil
}

func (b *stubBackend) RoomMessages(_ context.Context, roomID string) ([]domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message(nil), b.history[roomID]...), nil
}

func (b *stubBackend) DetailedRooms(context.Context, domain.UserID) ([]domain.MessageRoom, error) {
	b.roomsCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms, nil
}

func newBackend() *stubBackend {
	return &stubBackend{
		rooms: []domain.MessageRoom{
			{ID: "R1", Name: "Khách A", Members: []domain.RoomMember{{UserID: 7, Username: "admin", IsAdmin: true}, {UserID: 3, Username: "lan"}}},
			{ID: "R2", Name: "Khách B", Members: []domain.RoomMember{{UserID: 7, Username: "admin", IsAdmin: true}, {UserID: 4, Username: "minh"}}},
		},
		history: map[string][]domain.Message{
			"R2": {{ID: "h1", Content: "xin hỏi", RoomID: "R2", SenderID: 4, SentAt: domain.NewTimestamp(t0.Add(-time.Hour))}},
		},
		online: []domain.UserResponse{{ID: 3, Username: "lan"}},
	}
}

type harness struct {
	sess    *session.Session
	client  *transport.Client
	broker  *transporttest.Broker
	clock   *transporttest.Clock
	backend *stubBackend
}

func newHarness(t *testing.T, initialRoom string) *harness {
	t.Helper()
	h := &harness{
		broker:  transporttest.NewBroker(),
		clock:   &transporttest.Clock{},
		backend: newBackend(),
	}
	var err error
	h.client, err = transport.New(transport.Options{Broker: h.broker, AfterFunc: h.clock.AfterFunc})
	require.NoError(t, err)

	h.sess, err = session.New(session.Options{
		Transport:    h.client,
		Backend:      h.backend,
		Self:         domain.Profile{ID: 7, Name: "admin"},
		InitialRoom:  initialRoom,
		PollInterval: 10 * time.Millisecond,
		Now:          func() time.Time { return t0 },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.sess.Close(context.Background()) })
	return h
}

func deliver(t *testing.T, conn *transporttest.Conn, topic string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	conn.Deliver(topic, data)
}

func TestScenario_SendIsOptimisticThenConfirmed(t *testing.T) {
	h := newHarness(t, "R1")
	require.NoError(t, h.sess.Start(context.Background()))
	require.Equal(t, "R1", h.sess.Chat().RoomID())

	e, err := h.sess.Send("Xin chào")
	require.NoError(t, err)

	msgs := h.sess.Chat().Messages()
	require.Len(t, msgs, 1)
	assert.NotEqual(t, domain.Confirmed, msgs[0].State)
	assert.True(t, msgs[0].IsTemp())

	conn := h.broker.Last()
	require.Equal(t, 1, conn.PublishedTo(transport.DestSendMessage))

	deliver(t, conn, transport.TopicRoomMessages, domain.Message{
		ID: "srv-1", Content: "Xin chào", RoomID: "R1", SenderID: 7,
		SentAt: domain.NewTimestamp(t0.Add(2 * time.Second)),
	})

	msgs = h.sess.Chat().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.Confirmed, msgs[0].State)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, e.Content, msgs[0].Content)

	r1, _ := h.sess.Rooms().Room("R1")
	require.NotNil(t, r1.LastMessage)
	assert.Equal(t, "srv-1", r1.LastMessage.ID)
}

func TestScenario_DisconnectBadgeAndPollFallback(t *testing.T) {
	h := newHarness(t, "R2")

	var mu sync.Mutex
	var badges []string
	h.sess.OnStatus(func(b string) {
		mu.Lock()
		badges = append(badges, b)
		mu.Unlock()
	})

	require.NoError(t, h.sess.Start(context.Background()))
	assert.Equal(t, session.BadgeConnected, h.sess.Status())
	assert.False(t, h.sess.Polling())

	h.broker.Last().Drop(errors.New("network down"))

	require.Eventually(t, func() bool { return h.sess.Status() == session.BadgeDisconnected }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.backend.onlineCalls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.sess.Presence().IsOnline(3))
	assert.Equal(t, []time.Duration{time.Second}, h.clock.Delays())

	// the scheduled reconnect succeeds
	require.True(t, h.clock.Fire())
	assert.Equal(t, session.BadgeConnected, h.sess.Status())
	assert.False(t, h.sess.Polling())

	calls := h.backend.onlineCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, h.backend.onlineCalls.Load(), "polling stops once reconnected")

	mu.Lock()
	assert.Equal(t, []string{session.BadgeConnected, session.BadgeDisconnected, session.BadgeConnected}, badges)
	mu.Unlock()
}

func TestStart_ConnectFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, "")
	h.broker.SetDialErr(transporttest.ErrDialRefused)

	require.NoError(t, h.sess.Start(context.Background()))

	assert.Equal(t, session.BadgeDisconnected, h.sess.Status())
	assert.True(t, h.sess.Polling())
	assert.Equal(t, 1, h.clock.Pending(), "reconnect scheduled")
	assert.Equal(t, "R1", h.sess.Chat().RoomID(), "first room opened")

	_, err := h.sess.Send("offline")
	assert.Error(t, err)
	msgs := h.sess.Chat().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.Failed, msgs[0].State)
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.sess.Start(context.Background()))
	assert.ErrorIs(t, h.sess.Start(context.Background()), session.ErrStarted)
}

func TestPresenceEventsReachTracker(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.sess.Start(context.Background()))
	conn := h.broker.Last()

	deliver(t, conn, transport.TopicPresence, domain.PresenceEnvelope{Result: domain.UserPresenceEvent{ID: 4, Status: domain.StatusOnline}})
	assert.True(t, h.sess.Presence().IsOnline(4))

	deliver(t, conn, transport.TopicPresence, domain.PresenceEnvelope{Result: domain.UserPresenceEvent{ID: 4, Status: domain.StatusOffline}})
	assert.False(t, h.sess.Presence().IsOnline(4))
}

func TestMessageForOtherRoomUpdatesSidebarOnly(t *testing.T) {
	h := newHarness(t, "R1")
	require.NoError(t, h.sess.Start(context.Background()))
	before := h.sess.Chat().Messages()

	deliver(t, h.broker.Last(), transport.TopicRoomMessages, domain.Message{
		ID: "m9", Content: "ping", RoomID: "R2", SenderID: 4, SentAt: domain.NewTimestamp(t0),
	})

	assert.Equal(t, before, h.sess.Chat().Messages())
	r2, _ := h.sess.Rooms().Room("R2")
	require.NotNil(t, r2.LastMessage)
	assert.Equal(t, "m9", r2.LastMessage.ID)
	assert.Equal(t, int32(1), h.backend.roomsCalls.Load())
}

func TestSwitchRoom(t *testing.T) {
	h := newHarness(t, "R1")
	require.NoError(t, h.sess.Start(context.Background()))

	sel, err := h.sess.SwitchRoom(context.Background(), "R2")
	require.NoError(t, err)
	require.NotNil(t, sel.Counterpart)
	assert.Equal(t, domain.UserID(4), sel.Counterpart.UserID)

	msgs := h.sess.Chat().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "h1", msgs[0].ID)

	_, err = h.sess.SwitchRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestClose_AnnouncesOfflineAndUnsubscribes(t *testing.T) {
	h := newHarness(t, "R1")
	require.NoError(t, h.sess.Start(context.Background()))
	conn := h.broker.Last()

	require.NoError(t, h.sess.Close(context.Background()))

	assert.Equal(t, 1, conn.PublishedTo(transport.DestAdminDisconnect))
	assert.False(t, h.client.IsConnected())
	assert.False(t, h.sess.Polling())
	assert.Equal(t, session.BadgeDisconnected, h.sess.Status())

	conn.Deliver(transport.TopicRoomMessages, []byte(`{"id":"late","content":"x","message_room_id":"R1","sender_id":3}`))
	assert.Empty(t, h.sess.Chat().Messages())

	assert.NoError(t, h.sess.Close(context.Background()))
	assert.ErrorIs(t, h.sess.Start(context.Background()), session.ErrClosed)
}

func TestNew_Validation(t *testing.T) {
	_, err := session.New(session.Options{})
	assert.Error(t, err)

	client, err := transport.New(transport.Options{Broker: transporttest.NewBroker()})
	require.NoError(t, err)
	_, err = session.New(session.Options{Transport: client, Backend: newBackend()})
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
}
