package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cwrk-planet/admin-chat/internal/transport"
	"github.com/cwrk-planet/admin-chat/internal/transport/natsbroker"
	"github.com/cwrk-planet/admin-chat/internal/transport/wsbroker"
	"github.com/cwrk-planet/admin-chat/pkg/logger"

	"github.com/nats-io/nats.go"
)

// NATSBridge serves clients that use a NATS server as their broker:
// destinations published on NATS reach the Service, and everything the
// hub broadcasts is republished on NATS.
//
// NATS carries no caller identity, so the sender is taken from the
// payload. Run it only on a trusted server.
type NATSBridge struct {
	nc     *nats.Conn
	svc    *Service
	hub    *Hub
	prefix string
	log    *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNATSBridge(nc *nats.Conn, svc *Service, hub *Hub, prefix string, log *slog.Logger) *NATSBridge {
	if prefix == "" {
		prefix = natsbroker.DefaultPrefix
	}
	return &NATSBridge{
		nc:     nc,
		svc:    svc,
		hub:    hub,
		prefix: prefix,
		log:    logger.OrDefault(log).With(slog.String("component", "relay-nats")),
	}
}

// Start subscribes to the client destinations and joins the hub.
func (b *NATSBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, dest := range []string{
		transport.DestSendMessage,
		transport.DestAdminConnect,
		transport.DestAdminDisconnect,
		transport.DestUserDisable,
	} {
		sub, err := b.nc.Subscribe(b.prefix+dest, b.handle(ctx, dest))
		if err != nil {
			b.unsubscribeLocked()
			return fmt.Errorf("nats subscribe %s: %w", dest, err)
		}
		b.subs = append(b.subs, sub)
	}
	if err := b.nc.Flush(); err != nil {
		b.unsubscribeLocked()
		return fmt.Errorf("nats flush: %w", err)
	}

	b.hub.Subscribe(transport.TopicRoomMessages, b)
	b.hub.Subscribe(transport.TopicPresence, b)
	b.log.Info("nats bridge started", slog.String("prefix", b.prefix))
	return nil
}

func (b *NATSBridge) handle(ctx context.Context, dest string) nats.MsgHandler {
	return func(m *nats.Msg) {
		if err := b.svc.Apply(ctx, dest, m.Data); err != nil {
			b.log.Warn("nats publish rejected", slog.String("destination", dest), slog.Any("err", err))
		}
	}
}

// Send republishes a hub broadcast on NATS.
func (b *NATSBridge) Send(f wsbroker.Frame) error {
	return b.nc.Publish(b.prefix+f.Topic, f.Payload)
}

// Stop leaves the hub and drops the NATS subscriptions. The connection
// itself belongs to the caller.
func (b *NATSBridge) Stop() {
	b.hub.Remove(b)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked()
}

func (b *NATSBridge) unsubscribeLocked() {
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.subs = nil
}
