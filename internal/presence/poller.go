package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/pkg/logger"
)

const DefaultPollInterval = 30 * time.Second

// Source lists the users the backend currently considers online.
type Source interface {
	OnlineUsers(ctx context.Context) ([]domain.UserResponse, error)
}

type PollerOptions struct {
	Source  Source
	Tracker *Tracker
	// Connected reports the realtime channel state; polling is skipped
	// while it returns true.
	Connected func() bool
	Interval  time.Duration
	Logger    *slog.Logger
}

// Poller refreshes a Tracker from REST while broadcasts are unavailable.
type Poller struct {
	src       Source
	tracker   *Tracker
	connected func() bool
	interval  time.Duration
	log       *slog.Logger
}

func NewPoller(opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Connected == nil {
		opts.Connected = func() bool { return false }
	}
	return &Poller{
		src:       opts.Source,
		tracker:   opts.Tracker,
		connected: opts.Connected,
		interval:  opts.Interval,
		log:       logger.OrDefault(opts.Logger).With(slog.String("component", "presence-poller")),
	}
}

// Tick polls once unless the realtime channel is up. It reports whether
// the tracker was refreshed.
func (p *Poller) Tick(ctx context.Context) bool {
	if p.connected() {
		return false
	}
	users, err := p.src.OnlineUsers(ctx)
	if err != nil {
		p.log.Warn("online users poll failed", slog.Any("err", err))
		return false
	}
	p.tracker.Replace(users)
	p.log.Debug("online users refreshed", slog.Int("online", len(users)))
	return true
}

// Run ticks every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}
