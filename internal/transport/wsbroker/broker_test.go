package wsbroker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/transport/wsbroker"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer acknowledges the handshake and answers every publish with a
// message frame on topic "echo" carrying the same payload.
type echoServer struct {
	t       *testing.T
	reject  string
	silent  chan struct{} // when set, the server stops reading until closed
	headers chan http.Header
	query   chan string
}

func (s *echoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	if s.headers != nil {
		s.headers <- r.Header.Clone()
	}
	if s.query != nil {
		s.query <- r.URL.Query().Get("user_id")
	}

	if s.reject != "" {
		_ = ws.WriteJSON(wsbroker.Frame{Type: wsbroker.FrameError, Error: s.reject})
		return
	}
	if err := ws.WriteJSON(wsbroker.Frame{Type: wsbroker.FrameConnected}); err != nil {
		return
	}
	if s.silent != nil {
		// not reading means pings go unanswered
		<-s.silent
		return
	}

	subscribed := map[string]bool{}
	for {
		var f wsbroker.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case wsbroker.FrameSubscribe:
			subscribed[f.Topic] = true
		case wsbroker.FramePublish:
			if f.Destination == "close" {
				return
			}
			if subscribed["echo"] {
				_ = ws.WriteJSON(wsbroker.Frame{Type: wsbroker.FrameMessage, Topic: "echo", Payload: f.Payload})
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestDial_HandshakeAndRoundTrip(t *testing.T) {
	es := &echoServer{t: t, headers: make(chan http.Header, 1), query: make(chan string, 1)}
	srv := httptest.NewServer(es)
	defer srv.Close()

	b, err := wsbroker.New(wsbroker.Options{URL: wsURL(srv), Token: "tok"})
	require.NoError(t, err)

	conn, err := b.Dial(context.Background(), 42)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "Bearer tok", (<-es.headers).Get("Authorization"))
	assert.Equal(t, "42", <-es.query)

	got := make(chan []byte, 1)
	require.NoError(t, conn.Subscribe("echo", func(p []byte) { got <- p }))
	require.NoError(t, conn.Publish("anything", []byte(`{"id":42}`)))

	select {
	case p := <-got:
		var v map[string]int
		require.NoError(t, json.Unmarshal(p, &v))
		assert.Equal(t, 42, v["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
}

func TestDial_Rejected(t *testing.T) {
	srv := httptest.NewServer(&echoServer{t: t, reject: "unauthorized"})
	defer srv.Close()

	b, err := wsbroker.New(wsbroker.Options{URL: wsURL(srv)})
	require.NoError(t, err)

	_, err = b.Dial(context.Background(), 1)
	require.ErrorIs(t, err, wsbroker.ErrHandshake)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestDial_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	b, err := wsbroker.New(wsbroker.Options{URL: url, HandshakeTimeout: time.Second})
	require.NoError(t, err)
	_, err = b.Dial(context.Background(), 1)
	assert.Error(t, err)
}

func TestNew_RejectsHTTPScheme(t *testing.T) {
	_, err := wsbroker.New(wsbroker.Options{URL: "http://localhost/ws"})
	assert.Error(t, err)
}

func TestConn_ServerCloseEndsSession(t *testing.T) {
	srv := httptest.NewServer(&echoServer{t: t})
	defer srv.Close()

	b, err := wsbroker.New(wsbroker.Options{URL: wsURL(srv)})
	require.NoError(t, err)
	conn, err := b.Dial(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, conn.Publish("close", nil))

	select {
	case <-conn.Done():
		assert.Error(t, conn.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestConn_MissedHeartbeat(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(&echoServer{t: t, silent: release})
	defer srv.Close()
	defer close(release)

	b, err := wsbroker.New(wsbroker.Options{URL: wsURL(srv), PingEvery: 50 * time.Millisecond})
	require.NoError(t, err)
	conn, err := b.Dial(context.Background(), 1)
	require.NoError(t, err)

	select {
	case <-conn.Done():
		assert.ErrorIs(t, conn.Err(), wsbroker.ErrHeartbeat)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat timeout not detected")
	}
}

func TestConn_LocalCloseHasNoError(t *testing.T) {
	srv := httptest.NewServer(&echoServer{t: t})
	defer srv.Close()

	b, err := wsbroker.New(wsbroker.Options{URL: wsURL(srv)})
	require.NoError(t, err)
	conn, err := b.Dial(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	<-conn.Done()
	assert.NoError(t, conn.Err())
	assert.Error(t, conn.Publish("x", nil))
}
