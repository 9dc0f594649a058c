// Package transport owns the realtime broker connection of a session:
// handshake, topic subscriptions, presence announcements and the
// bounded reconnect policy.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/pkg/logger"
)

// AfterFunc schedules f after d and returns a function cancelling it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Options struct {
	Broker   Broker
	Fallback PresenceFallback // optional
	Logger   *slog.Logger

	MaxRetries  int           // default DefaultMaxRetries
	DialTimeout time.Duration // for automatic reconnects, default 10s
	AfterFunc   AfterFunc     // default time.AfterFunc
}

type Client struct {
	broker      Broker
	fallback    PresenceFallback
	log         *slog.Logger
	maxRetries  int
	dialTimeout time.Duration
	afterFunc   AfterFunc

	mu        sync.Mutex
	state     ConnectionState
	user      domain.UserID
	conn      Conn
	announced bool
	retries   int
	epoch     uint64
	stopRetry func() bool

	onMessage  registry[domain.Message]
	onPresence registry[domain.UserPresenceEvent]
	onState    registry[ConnectionState]
}

func New(opts Options) (*Client, error) {
	if opts.Broker == nil {
		return nil, errors.New("transport: nil broker")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}

	return &Client{
		broker:      opts.Broker,
		fallback:    opts.Fallback,
		log:         logger.OrDefault(opts.Logger).With(slog.String("component", "transport")),
		maxRetries:  opts.MaxRetries,
		dialTimeout: opts.DialTimeout,
		afterFunc:   opts.AfterFunc,
	}, nil
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool { return c.State() == Connected }

// Retries is the number of automatic reconnect attempts since the last
// successful handshake.
func (c *Client) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

func (c *Client) SubscribeToMessages(h func(domain.Message)) (unsubscribe func()) {
	return c.onMessage.add(h)
}

func (c *Client) SubscribeToPresence(h func(domain.UserPresenceEvent)) (unsubscribe func()) {
	return c.onPresence.add(h)
}

// OnStateChange registers h for every state transition.
func (c *Client) OnStateChange(h func(ConnectionState)) (unsubscribe func()) {
	return c.onState.add(h)
}

// Connect opens the session for user. When already connected it only
// re-announces presence if the previous announcement did not go out.
func (c *Client) Connect(ctx context.Context, user domain.UserID) error {
	if user <= 0 {
		return domain.ErrInvalidUserID
	}

	c.mu.Lock()
	switch c.state {
	case Connected:
		conn, need := c.conn, !c.announced
		c.mu.Unlock()
		if need {
			c.announceOnline(ctx, conn, user)
		}
		return nil
	case Connecting:
		c.mu.Unlock()
		return nil
	}
	c.user = user
	c.cancelRetryLocked()
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	if c.user == 0 {
		// a Disconnect won the race against a scheduled retry
		c.mu.Unlock()
		return ErrNoUser
	}
	epoch, user := c.epoch, c.user
	c.state = Connecting
	c.mu.Unlock()
	c.onState.emit(Connecting)

	c.log.Debug("dialing broker", slog.String("user", user.String()))
	conn, err := c.broker.Dial(ctx, user)

	c.mu.Lock()
	if epoch != c.epoch {
		// Disconnect ran while we were dialing
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.state = Disconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.log.Warn("broker handshake failed", slog.Any("err", err))
		c.onState.emit(Disconnected)
		return fmt.Errorf("transport dial: %w", err)
	}
	c.conn = conn
	c.state = Connected
	c.retries = 0
	c.announced = false
	c.mu.Unlock()

	c.log.Info("broker connected", slog.String("user", user.String()))
	c.onState.emit(Connected)

	// subscribe first so the session sees its own announcement
	if err := c.subscribe(conn); err != nil {
		c.log.Warn("topic subscription failed, dropping connection", slog.Any("err", err))
		_ = conn.Close()
	} else {
		c.announceOnline(ctx, conn, user)
	}
	go c.watch(conn)

	return nil
}

func (c *Client) subscribe(conn Conn) error {
	if err := conn.Subscribe(TopicRoomMessages, c.handleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicRoomMessages, err)
	}
	if err := conn.Subscribe(TopicPresence, c.handlePresence); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicPresence, err)
	}
	return nil
}

func (c *Client) handleMessage(payload []byte) {
	var m domain.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		c.log.Warn("dropping undecodable message", slog.Any("err", err))
		return
	}
	c.onMessage.emit(m)
}

func (c *Client) handlePresence(payload []byte) {
	var env domain.PresenceEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.log.Warn("dropping undecodable presence event", slog.Any("err", err))
		return
	}
	ev := env.Result
	if ev.ID == 0 {
		// some producers send the event unwrapped
		if err := json.Unmarshal(payload, &ev); err != nil || ev.ID == 0 {
			c.log.Warn("presence event without user id")
			return
		}
	}
	c.onPresence.emit(ev)
}

// watch turns an unexpected end of conn into a scheduled reconnect.
func (c *Client) watch(conn Conn) {
	<-conn.Done()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	c.announced = false
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.log.Warn("broker connection lost", slog.Any("err", conn.Err()))
	c.onState.emit(Disconnected)
}

func (c *Client) scheduleReconnectLocked() {
	if c.user == 0 {
		return
	}
	if c.retries >= c.maxRetries {
		c.log.Error("reconnect attempts exhausted", slog.Int("retries", c.retries))
		return
	}
	c.retries++
	delay := Backoff(c.retries)
	epoch := c.epoch
	c.log.Info("reconnect scheduled", slog.Int("attempt", c.retries), slog.Duration("delay", delay))
	c.stopRetry = c.afterFunc(delay, func() { c.retry(epoch) })
}

func (c *Client) retry(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.stopRetry = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()
	_ = c.dial(ctx)
}

func (c *Client) cancelRetryLocked() {
	if c.stopRetry != nil {
		c.stopRetry()
		c.stopRetry = nil
	}
}

func (c *Client) announceOnline(ctx context.Context, conn Conn, user domain.UserID) {
	err := publishJSON(conn, DestAdminConnect, domain.UserIDPayload{ID: user})
	if err != nil {
		c.log.Warn("online announcement failed", slog.Any("err", err))
		if c.fallback == nil {
			return
		}
		if err := c.fallback.ConnectAdmin(ctx, user); err != nil {
			c.log.Warn("fallback online announcement failed", slog.Any("err", err))
			return
		}
	}

	c.mu.Lock()
	if c.conn == conn {
		c.announced = true
	}
	c.mu.Unlock()
}

// Disconnect announces the user offline (over the broker, or the REST
// fallback when that is not possible) and tears the session down.
// Pending reconnects are cancelled. The user is forgotten, so a second
// Disconnect announces nothing.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.cancelRetryLocked()
	conn, user, prev := c.conn, c.user, c.state
	c.conn = nil
	c.user = 0
	c.state = Disconnected
	c.announced = false
	c.mu.Unlock()

	var errs []error
	if user != 0 {
		announceErr := ErrNotConnected
		if conn != nil {
			announceErr = publishJSON(conn, DestAdminDisconnect, domain.UserIDPayload{ID: user})
		}
		if announceErr != nil {
			c.log.Info("offline announcement not sent over broker", slog.Any("err", announceErr))
			if c.fallback != nil {
				if err := c.fallback.DisconnectAdmin(ctx, user); err != nil {
					c.log.Warn("fallback offline announcement failed", slog.Any("err", err))
					errs = append(errs, fmt.Errorf("announce offline: %w", err))
				}
			}
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}
	if prev != Disconnected {
		c.onState.emit(Disconnected)
	}

	return errors.Join(errs...)
}

// Publish hands req to the broker. True means accepted for
// transmission, not delivered.
func (c *Client) Publish(req domain.MessageRequest) bool {
	return c.publish(DestSendMessage, req)
}

// NotifyUserDisabled tells other sessions that an account was deactivated.
func (c *Client) NotifyUserDisabled(id domain.UserID) bool {
	return c.publish(DestUserDisable, domain.UserIDPayload{ID: id})
}

func (c *Client) publish(dest string, v any) bool {
	c.mu.Lock()
	conn, st := c.conn, c.state
	c.mu.Unlock()
	if st != Connected || conn == nil {
		return false
	}
	if err := publishJSON(conn, dest, v); err != nil {
		c.log.Warn("publish failed", slog.String("destination", dest), slog.Any("err", err))
		return false
	}
	return true
}

func publishJSON(conn Conn, dest string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", dest, err)
	}
	return conn.Publish(dest, data)
}
