// Package natsbroker is a transport.Broker backed by a NATS connection.
// Topics and destinations map to subjects under a common prefix.
package natsbroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/transport"
	"github.com/cwrk-planet/admin-chat/pkg/logger"

	"github.com/nats-io/nats.go"
)

const DefaultPrefix = "admin-chat."

type Options struct {
	URL         string
	Token       string
	Prefix      string // default DefaultPrefix
	DialTimeout time.Duration
	Logger      *slog.Logger
}

type Broker struct {
	url     string
	token   string
	prefix  string
	timeout time.Duration
	log     *slog.Logger
}

var _ transport.Broker = (*Broker)(nil)

func New(opts Options) (*Broker, error) {
	if opts.URL == "" {
		return nil, errors.New("natsbroker: empty url")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	return &Broker{
		url:     opts.URL,
		token:   opts.Token,
		prefix:  opts.Prefix,
		timeout: opts.DialTimeout,
		log:     logger.OrDefault(opts.Logger).With(slog.String("component", "natsbroker")),
	}, nil
}

// Subject returns the NATS subject for a topic or destination name.
func (b *Broker) Subject(name string) string { return b.prefix + name }

// Dial connects with nats' own reconnect logic disabled; the transport
// client decides when to try again.
func (b *Broker) Dial(ctx context.Context, user domain.UserID) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := b.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	c := &conn{
		broker: b,
		done:   make(chan struct{}),
		log:    b.log.With(slog.String("user", user.String())),
	}

	opts := []nats.Option{
		nats.Name("admin-chat/" + user.String()),
		nats.NoReconnect(),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) { c.setErr(err) }),
		nats.ClosedHandler(func(*nats.Conn) { c.closeDone() }),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.log.Warn("nats async error", slog.String("subject", subject), slog.Any("err", err))
		}),
	}
	if b.token != "" {
		opts = append(opts, nats.Token(b.token))
	}

	nc, err := nats.Connect(b.url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbroker: connect: %w", err)
	}
	c.nc = nc

	return c, nil
}

type conn struct {
	broker *Broker
	nc     *nats.Conn
	log    *slog.Logger

	mu      sync.Mutex
	err     error
	closing bool

	once sync.Once
	done chan struct{}
}

func (c *conn) Subscribe(topic string, handler func([]byte)) error {
	_, err := c.nc.Subscribe(c.broker.Subject(topic), func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return fmt.Errorf("natsbroker: subscribe %s: %w", topic, err)
	}
	// make sure the server has the interest before anyone publishes
	return c.nc.Flush()
}

func (c *conn) Publish(destination string, payload []byte) error {
	if c.nc.IsClosed() {
		return transport.ErrClosed
	}
	if err := c.nc.Publish(c.broker.Subject(destination), payload); err != nil {
		return fmt.Errorf("natsbroker: publish %s: %w", destination, err)
	}
	return nil
}

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return nil
	}
	if c.err == nil && c.nc.IsClosed() {
		return nats.ErrConnectionClosed
	}
	return c.err
}

func (c *conn) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	// Drain would deliver in-flight messages to handlers the client has
	// already torn down.
	c.nc.Close()
	return nil
}

func (c *conn) setErr(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *conn) closeDone() {
	c.once.Do(func() { close(c.done) })
}
