package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/fallback"
	"github.com/cwrk-planet/admin-chat/internal/relay"
	"github.com/cwrk-planet/admin-chat/internal/session"
	"github.com/cwrk-planet/admin-chat/internal/transport"
	"github.com/cwrk-planet/admin-chat/internal/transport/transporttest"
	"github.com/cwrk-planet/admin-chat/internal/transport/wsbroker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	store := relay.NewMemoryStore()
	store.PutUser(domain.UserResponse{ID: 1, Username: "admin", IsAdmin: true, Active: true})
	store.PutUser(domain.UserResponse{ID: 3, Username: "lan", Active: true})
	store.PutUser(domain.UserResponse{ID: 4, Username: "minh", Active: true})
	store.PutRoom(domain.MessageRoom{ID: "R1", Name: "Lan", Members: []domain.RoomMember{{UserID: 1, IsAdmin: true}, {UserID: 3}}})
	store.PutRoom(domain.MessageRoom{ID: "R2", Name: "Minh", Members: []domain.RoomMember{{UserID: 1, IsAdmin: true}, {UserID: 4}}})

	hub := relay.NewHub()
	svc := relay.NewService(store, hub, nil)
	srv := httptest.NewServer(relay.NewRouter(relay.NewHandler(svc, nil), relay.NewWSServer(hub, svc, time.Second, nil),
		relay.NewAuthenticator("", ""), relay.RouterOptions{}))
	t.Cleanup(srv.Close)

	rest, err := fallback.New(fallback.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	broker, err := wsbroker.New(wsbroker.Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"})
	require.NoError(t, err)
	client, err := transport.New(transport.Options{Broker: broker, Fallback: rest})
	require.NoError(t, err)
	s, err := session.New(session.Options{Transport: client, Backend: rest, Self: domain.Profile{ID: 1, Name: "admin"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConsole_Commands(t *testing.T) {
	s := newTestSession(t)
	out := &syncBuffer{}
	con := newConsole(s, out, time.UTC)
	require.NoError(t, s.Start(context.Background()))

	con.printRooms()
	assert.Contains(t, out.String(), "> 1. Lan")
	assert.Contains(t, out.String(), "  2. Minh")

	in := strings.NewReader(strings.Join([]string{
		"/join 2",
		"Xin chào",
		"/search lan",
		"/status",
		"/bogus",
		"/join 9",
		"/quit",
		"never sent",
	}, "\n"))
	require.NoError(t, con.run(context.Background(), in))

	assert.Equal(t, "R2", s.Chat().RoomID())
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "] you: Xin chào\n")
	}, 2*time.Second, 10*time.Millisecond)

	got := out.String()
	assert.Contains(t, got, "== minh [offline]")
	assert.Contains(t, got, "* connected")
	assert.Contains(t, got, "! unknown command /bogus")
	assert.Contains(t, got, "! no room 9")
	assert.NotContains(t, got, "never sent")
	// the search lists only the matching room
	assert.Contains(t, got, " 1. Lan\n")
}

func TestConsole_RetryAndOnline(t *testing.T) {
	s := newTestSession(t)
	out := &syncBuffer{}
	con := newConsole(s, out, time.UTC)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Presence().IsOnline(1) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, con.run(context.Background(), strings.NewReader("/retry nope\n/online\n")))
	got := out.String()
	assert.Contains(t, got, "! ")
	assert.Contains(t, got, "online: 1")
}

// backendSession runs a session against handler as the REST backend and
// an in-memory broker.
func backendSession(t *testing.T, handler http.HandlerFunc) *session.Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rest, err := fallback.New(fallback.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	client, err := transport.New(transport.Options{Broker: transporttest.NewBroker(), Fallback: rest})
	require.NoError(t, err)
	s, err := session.New(session.Options{Transport: client, Backend: rest, Self: domain.Profile{ID: 1, Name: "admin"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConsole_RoomListLoadFailure(t *testing.T) {
	s := backendSession(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	out := &syncBuffer{}
	con := newConsole(s, out, time.UTC)
	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Rooms().LoadErr())

	con.printRooms()
	require.NoError(t, con.run(context.Background(), strings.NewReader("/search lan\n")))

	got := out.String()
	assert.Contains(t, got, "(could not load rooms: ")
	assert.Contains(t, got, "500")
	assert.NotContains(t, got, "(no rooms)")
}

func TestConsole_HistoryLoadFailure(t *testing.T) {
	s := backendSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/messages/rooms/detailed" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"result":[{"id":"R1","name":"Lan","members":[{"user_id":1,"is_admin":true},{"user_id":3}]}]}`))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	out := &syncBuffer{}
	con := newConsole(s, out, time.UTC)
	require.NoError(t, s.Start(context.Background()))

	con.printRooms()
	con.printHistory()

	got := out.String()
	assert.Contains(t, got, "> 1. Lan")
	assert.Contains(t, got, "(could not load messages: load history of R1: ")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "Xi…", truncate("Xin chào", 3))
}
