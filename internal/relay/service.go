// Package relay is a development stand-in for the chat backend: it
// serves the REST endpoints and the realtime broker endpoint the admin
// client talks to.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/transport"
	"github.com/cwrk-planet/admin-chat/pkg/logger"
)

var (
	ErrUnknownDestination = errors.New("unknown destination")
	ErrNotAllowed         = errors.New("not allowed")
)

// Service applies what clients publish and broadcasts the results.
type Service struct {
	store Store
	hub   *Hub
	log   *slog.Logger
}

func NewService(store Store, hub *Hub, log *slog.Logger) *Service {
	return &Service{
		store: store,
		hub:   hub,
		log:   logger.OrDefault(log).With(slog.String("component", "relay")),
	}
}

func (s *Service) Store() Store { return s.store }

// Publish handles a frame sent by user to destination. Callers may only
// announce their own presence, and only admins may disable users.
func (s *Service) Publish(ctx context.Context, user domain.UserID, destination string, payload []byte) error {
	switch destination {
	case transport.DestSendMessage:
		var req domain.MessageRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decode message request: %w", err)
		}
		// the socket owner is the sender, whatever the payload says
		req.SenderID = user
		_, err := s.SendMessage(ctx, req)
		return err

	case transport.DestAdminConnect, transport.DestAdminDisconnect:
		p, err := decodeUserID(destination, payload)
		if err != nil {
			return err
		}
		if p.ID != user {
			return fmt.Errorf("%w: %d announcing %d", ErrNotAllowed, user, p.ID)
		}
		return s.SetPresence(ctx, p.ID, destination == transport.DestAdminConnect)

	case transport.DestUserDisable:
		p, err := decodeUserID(destination, payload)
		if err != nil {
			return err
		}
		caller, err := s.store.User(ctx, user)
		if err != nil {
			return fmt.Errorf("%w: unknown caller %d", ErrNotAllowed, user)
		}
		if !caller.IsAdmin || !caller.Active {
			return fmt.Errorf("%w: %d is not an admin", ErrNotAllowed, user)
		}
		return s.DisableUser(ctx, p.ID)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}
}

// Apply handles a payload from a source that carries no caller identity,
// such as the NATS bridge. The payload is taken as is.
func (s *Service) Apply(ctx context.Context, destination string, payload []byte) error {
	switch destination {
	case transport.DestSendMessage:
		var req domain.MessageRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decode message request: %w", err)
		}
		_, err := s.SendMessage(ctx, req)
		return err

	case transport.DestAdminConnect, transport.DestAdminDisconnect, transport.DestUserDisable:
		p, err := decodeUserID(destination, payload)
		if err != nil {
			return err
		}
		if destination == transport.DestUserDisable {
			return s.DisableUser(ctx, p.ID)
		}
		return s.SetPresence(ctx, p.ID, destination == transport.DestAdminConnect)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}
}

func decodeUserID(destination string, payload []byte) (domain.UserIDPayload, error) {
	var p domain.UserIDPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", destination, err)
	}
	return p, nil
}

// SendMessage stores req and broadcasts the confirmed message to every
// subscriber, the sender included.
func (s *Service) SendMessage(ctx context.Context, req domain.MessageRequest) (domain.Message, error) {
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return domain.Message{}, domain.ErrEmptyMessage
	}
	if len([]rune(req.Content)) > domain.MaxMessageLength {
		return domain.Message{}, domain.ErrMessageTooLong
	}

	m, err := s.store.SaveMessage(ctx, req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("save message: %w", err)
	}
	s.broadcast(transport.TopicRoomMessages, m)
	s.log.Debug("message relayed", slog.String("room", m.RoomID), slog.String("id", m.ID))
	return m, nil
}

// SetPresence records id online or offline and broadcasts the change.
func (s *Service) SetPresence(ctx context.Context, id domain.UserID, online bool) error {
	changed, err := s.store.SetOnline(ctx, id, online)
	if err != nil {
		return fmt.Errorf("set presence of %d: %w", id, err)
	}
	if changed {
		s.broadcastPresence(ctx, id, online)
	}
	return nil
}

func (s *Service) DisableUser(ctx context.Context, id domain.UserID) error {
	if err := s.store.DisableUser(ctx, id); err != nil {
		return fmt.Errorf("disable user %d: %w", id, err)
	}
	s.broadcastPresence(ctx, id, false)
	s.log.Info("user disabled", slog.String("user", id.String()))
	return nil
}

func (s *Service) broadcastPresence(ctx context.Context, id domain.UserID, online bool) {
	ev := domain.UserPresenceEvent{ID: id, Status: domain.StatusOffline}
	if online {
		ev.Status = domain.StatusOnline
	}
	if u, err := s.store.User(ctx, id); err == nil {
		ev.Username = u.Username
	}
	s.broadcast(transport.TopicPresence, domain.PresenceEnvelope{Result: ev})
}

func (s *Service) broadcast(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal broadcast", slog.String("topic", topic), slog.Any("err", err))
		return
	}
	s.hub.Broadcast(topic, data)
}
