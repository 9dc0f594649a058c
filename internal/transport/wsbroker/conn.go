package wsbroker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/transport"

	"github.com/gorilla/websocket"
)

type conn struct {
	ws        *websocket.Conn
	pingEvery time.Duration
	log       *slog.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string][]func([]byte)

	once sync.Once
	done chan struct{}
	err  error
}

func newConn(ws *websocket.Conn, pingEvery time.Duration, log *slog.Logger) *conn {
	return &conn{
		ws:        ws,
		pingEvery: pingEvery,
		log:       log,
		subs:      make(map[string][]func([]byte)),
		done:      make(chan struct{}),
	}
}

// Subscribe registers handler locally and asks the server for topic the
// first time it is seen.
func (c *conn) Subscribe(topic string, handler func([]byte)) error {
	c.mu.Lock()
	first := len(c.subs[topic]) == 0
	c.subs[topic] = append(c.subs[topic], handler)
	c.mu.Unlock()

	if !first {
		return nil
	}
	return c.write(Frame{Type: FrameSubscribe, Topic: topic})
}

func (c *conn) Publish(destination string, payload []byte) error {
	return c.write(Frame{Type: FramePublish, Destination: destination, Payload: json.RawMessage(payload)})
}

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *conn) Close() error {
	c.end(nil)
	return nil
}

func (c *conn) end(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		if err == nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		_ = c.ws.Close()
	})
}

func (c *conn) write(f Frame) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		c.end(fmt.Errorf("wsbroker: write: %w", err))
		return err
	}
	return nil
}

func (c *conn) readLoop() {
	extend := func() { _ = c.ws.SetReadDeadline(time.Now().Add(2 * c.pingEvery)) }

	c.ws.SetReadLimit(maxFrameSize)
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	c.ws.SetPingHandler(func(data string) error {
		extend()
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.end(readErr(err))
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("undecodable frame", slog.Any("err", err))
			continue
		}

		switch f.Type {
		case FrameMessage:
			c.dispatch(f.Topic, f.Payload)
		case FrameError:
			c.log.Warn("broker error frame", slog.String("error", f.Error))
		default:
			// ignore
		}
	}
}

func readErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrHeartbeat
	}
	return fmt.Errorf("wsbroker: read: %w", err)
}

func (c *conn) dispatch(topic string, payload []byte) {
	c.mu.Lock()
	hs := append(([]func([]byte))(nil), c.subs[topic]...)
	c.mu.Unlock()

	for _, h := range hs {
		h(payload)
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.end(fmt.Errorf("wsbroker: ping: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}
