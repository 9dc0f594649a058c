package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/transport/wsbroker"
	"github.com/cwrk-planet/admin-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 5 * time.Second
	maxFrameSize = 1 << 20
)

type WSServer struct {
	upgrader  websocket.Upgrader
	hub       *Hub
	svc       *Service
	log       *slog.Logger
	pingEvery time.Duration
}

func NewWSServer(hub *Hub, svc *Service, pingEvery time.Duration, log *slog.Logger) *WSServer {
	if pingEvery <= 0 {
		pingEvery = 15 * time.Second
	}
	return &WSServer{
		hub: hub,
		svc: svc,
		log: logger.OrDefault(log).With(slog.String("component", "relay-ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: pingEvery,
	}
}

// HandleWS is GET /ws?user_id=... behind the auth middleware.
func (s *WSServer) HandleWS(w http.ResponseWriter, r *http.Request) {
	uid := UserIDFromCtx(r.Context())
	if uid == 0 {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing user_id"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", slog.Any("err", err))
		return
	}

	c := newWSConn(conn)
	log := s.log.With(slog.String("user", uid.String()))
	if err := c.Send(wsbroker.Frame{Type: wsbroker.FrameConnected}); err != nil {
		log.Debug("ws handshake ack failed", slog.Any("err", err))
		_ = c.Close()
		return
	}
	log.Info("ws connected")

	// the request context ends with the handler; publishes get their own
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	go s.writeLoop(c)
	s.readLoop(ctx, c, uid, log)

	s.hub.Remove(c)
	if err := c.Close(); err != nil {
		log.Debug("ws close failed", slog.Any("err", err))
	}
	log.Info("ws disconnected")
}

func (s *WSServer) readLoop(ctx context.Context, c *wsConn, uid domain.UserID, log *slog.Logger) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f wsbroker.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			_ = c.Send(wsbroker.Frame{Type: wsbroker.FrameError, Error: "invalid frame"})
			continue
		}

		switch f.Type {
		case wsbroker.FrameSubscribe:
			if f.Topic != "" {
				s.hub.Subscribe(f.Topic, c)
			}
		case wsbroker.FramePublish:
			if err := s.svc.Publish(ctx, uid, f.Destination, f.Payload); err != nil {
				log.Warn("publish rejected", slog.String("destination", f.Destination), slog.Any("err", err))
				_ = c.Send(wsbroker.Frame{Type: wsbroker.FrameError, Destination: f.Destination, Error: err.Error()})
			}
		default:
			// ignore
		}
	}
}

func (s *WSServer) writeLoop(c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

type wsConn struct {
	conn   *websocket.Conn
	sendMu sync.Mutex
	once   sync.Once
	closed chan struct{}
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{conn: c, closed: make(chan struct{})}
}

func (c *wsConn) Send(f wsbroker.Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteJSON(f)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
