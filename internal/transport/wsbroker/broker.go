// Package wsbroker is a transport.Broker over a single WebSocket per
// session, speaking JSON frames.
package wsbroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/transport"
	"github.com/cwrk-planet/admin-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	defaultPingEvery        = 15 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 5 * time.Second
	maxFrameSize            = 1 << 20
)

var (
	ErrHandshake = errors.New("wsbroker: handshake rejected")
	ErrHeartbeat = errors.New("wsbroker: heartbeat missed")
)

type Options struct {
	URL              string // ws:// or wss:// endpoint
	Token            string // sent as a bearer token when set
	HandshakeTimeout time.Duration
	PingEvery        time.Duration
	Logger           *slog.Logger
}

type Broker struct {
	url              *url.URL
	token            string
	handshakeTimeout time.Duration
	pingEvery        time.Duration
	dialer           *websocket.Dialer
	log              *slog.Logger
}

var _ transport.Broker = (*Broker)(nil)

func New(opts Options) (*Broker, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("wsbroker: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("wsbroker: unsupported scheme %q", u.Scheme)
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.PingEvery <= 0 {
		opts.PingEvery = defaultPingEvery
	}

	return &Broker{
		url:              u,
		token:            opts.Token,
		handshakeTimeout: opts.HandshakeTimeout,
		pingEvery:        opts.PingEvery,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		log: logger.OrDefault(opts.Logger).With(slog.String("component", "wsbroker")),
	}, nil
}

// Dial opens the socket and waits for the server's connected frame.
func (b *Broker) Dial(ctx context.Context, user domain.UserID) (transport.Conn, error) {
	u := *b.url
	q := u.Query()
	q.Set("user_id", user.String())
	u.RawQuery = q.Encode()

	header := http.Header{}
	if b.token != "" {
		header.Set("Authorization", "Bearer "+b.token)
	}

	ws, resp, err := b.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsbroker: dial %s: %s: %w", b.url.Host, resp.Status, err)
		}
		return nil, fmt.Errorf("wsbroker: dial %s: %w", b.url.Host, err)
	}

	if err := handshake(ws, b.handshakeTimeout); err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := newConn(ws, b.pingEvery, b.log.With(slog.String("user", user.String())))
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func handshake(ws *websocket.Conn, timeout time.Duration) error {
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		return fmt.Errorf("wsbroker: read handshake: %w", err)
	}
	switch f.Type {
	case FrameConnected:
		return nil
	case FrameError:
		return fmt.Errorf("%w: %s", ErrHandshake, f.Error)
	default:
		return fmt.Errorf("%w: unexpected %q frame", ErrHandshake, f.Type)
	}
}
