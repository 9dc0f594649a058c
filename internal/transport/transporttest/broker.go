// Package transporttest provides in-memory brokers and a manual
// scheduler for exercising transport.Client without a network.
package transporttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/transport"
)

var ErrDialRefused = errors.New("dial refused")

// Broker hands out Conns; DialErr, when set, fails every dial.
type Broker struct {
	mu         sync.Mutex
	dialErr    error
	publishErr error
	conns      []*Conn
	dials      int
}

func NewBroker() *Broker { return &Broker{} }

func (b *Broker) SetDialErr(err error) {
	b.mu.Lock()
	b.dialErr = err
	b.mu.Unlock()
}

// SetPublishErr makes connections dialed from now on refuse publishes.
func (b *Broker) SetPublishErr(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

func (b *Broker) Dial(_ context.Context, user domain.UserID) (transport.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	c := newConn(user)
	c.publishErr = b.publishErr
	b.conns = append(b.conns, c)
	return c, nil
}

func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Last returns the most recently dialed connection, or nil.
func (b *Broker) Last() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

type Published struct {
	Destination string
	Payload     []byte
}

type Conn struct {
	User domain.UserID

	mu         sync.Mutex
	subs       map[string][]func([]byte)
	subCalls   int
	published  []Published
	publishErr error
	done       chan struct{}
	err        error
	closed     bool
}

func newConn(user domain.UserID) *Conn {
	return &Conn{
		User: user,
		subs: make(map[string][]func([]byte)),
		done: make(chan struct{}),
	}
}

func (c *Conn) Subscribe(topic string, h func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.subCalls++
	c.subs[topic] = append(c.subs[topic], h)
	return nil
}

func (c *Conn) Publish(dest string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, Published{Destination: dest, Payload: append([]byte(nil), payload...)})
	return nil
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.end(nil)
	return nil
}

// Drop ends the connection as if the network failed.
func (c *Conn) Drop(err error) { c.end(err) }

func (c *Conn) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) SetPublishErr(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

// Deliver invokes every handler subscribed to topic.
func (c *Conn) Deliver(topic string, payload []byte) {
	c.mu.Lock()
	hs := append(([]func([]byte))(nil), c.subs[topic]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
}

func (c *Conn) SubscribeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subCalls
}

func (c *Conn) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// PublishedTo counts publishes to dest.
func (c *Conn) PublishedTo(dest string) int {
	n := 0
	for _, p := range c.Published() {
		if p.Destination == dest {
			n++
		}
	}
	return n
}

// Clock is a manual transport.AfterFunc: scheduled functions run only
// when Fire is called.
type Clock struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []*timer
}

type timer struct {
	f       func()
	stopped bool
}

func (c *Clock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{f: f}
	c.delays = append(c.delays, d)
	c.pending = append(c.pending, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

// Fire runs the oldest pending function; it reports false when nothing
// live was pending.
func (c *Clock) Fire() bool {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return false
		}
		t := c.pending[0]
		c.pending = c.pending[1:]
		stopped := t.stopped
		t.stopped = true
		c.mu.Unlock()
		if !stopped {
			t.f()
			return true
		}
	}
}

func (c *Clock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// Pending counts scheduled functions that were neither fired nor stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}
