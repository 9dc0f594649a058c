// Package fallback talks to the REST backend: the out-of-band presence
// announcements used when the realtime channel is down, and the reads
// (history, rooms, online users) the other components load from.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/pkg/logger"
)

const maxErrorBody = 512

type Options struct {
	BaseURL    string
	Token      string // bearer token, optional
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   *slog.Logger
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("fallback: empty base url")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("fallback: parse base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		base:  u,
		token: opts.Token,
		http:  hc,
		log:   logger.OrDefault(opts.Logger).With(slog.String("component", "fallback")),
	}, nil
}

// ConnectAdmin marks id online without the realtime channel.
func (c *Client) ConnectAdmin(ctx context.Context, id domain.UserID) error {
	return c.do(ctx, http.MethodPost, "/users/connect-admin", nil, domain.UserIDPayload{ID: id}, nil)
}

// DisconnectAdmin marks id offline without the realtime channel.
func (c *Client) DisconnectAdmin(ctx context.Context, id domain.UserID) error {
	return c.do(ctx, http.MethodPost, "/users/disconnect-admin", nil, domain.UserIDPayload{ID: id}, nil)
}

func (c *Client) OnlineUsers(ctx context.Context) ([]domain.UserResponse, error) {
	var out []domain.UserResponse
	if err := c.do(ctx, http.MethodGet, "/users/online-users", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RoomMessages returns the full history of a room, oldest first.
func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	var out []domain.Message
	if err := c.do(ctx, http.MethodGet, "/messages/room/"+url.PathEscape(roomID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DetailedRooms returns the rooms of user with members and last message.
func (c *Client) DetailedRooms(ctx context.Context, user domain.UserID) ([]domain.MessageRoom, error) {
	q := url.Values{"userId": {user.String()}}
	var out []domain.MessageRoom
	if err := c.do(ctx, http.MethodGet, "/messages/rooms/detailed", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMessage persists a message over REST. The realtime send path
// does not use it.
func (c *Client) CreateMessage(ctx context.Context, req domain.MessageRequest) (domain.Message, error) {
	var out domain.Message
	if err := c.do(ctx, http.MethodPost, "/messages", nil, req, &out); err != nil {
		return domain.Message{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := *c.base
	u.Path += path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("fallback: marshal %s body: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("fallback: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("rest call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrUnavailable, path, err)
	}
	if err := decodeResult(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrUpstream, path, err)
	}
	return nil
}

// decodeResult accepts both a bare payload and one wrapped as
// {"result": ...}.
func decodeResult(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &env); err == nil {
			if res, ok := env["result"]; ok {
				trimmed = res
			}
		}
	}
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	return json.Unmarshal(trimmed, out)
}
