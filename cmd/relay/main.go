package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/admin-chat/config"
	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/relay"
	"github.com/cwrk-planet/admin-chat/internal/relay/postgres"
	"github.com/cwrk-planet/admin-chat/pkg/logger"

	"github.com/nats-io/nats.go"
)

func main() {
	// --- config ---
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateRelay()
	}
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting relay", "version", cfg.Logging.Version, "store", cfg.Relay.Store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.Relay); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("relay stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("relay stopped")
}

func run(ctx context.Context, cfg config.Relay) error {
	// --- store ---
	var store interface {
		relay.Store
		relay.Seeder
	}
	switch cfg.Store {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
			ApplicationName: "admin-chat-relay",
		})
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := postgres.NewStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
	default:
		store = relay.NewMemoryStore()
	}
	if err := seed(ctx, store, cfg.Seed); err != nil {
		return err
	}

	// --- services ---
	hub := relay.NewHub()
	svc := relay.NewService(store, hub, nil)
	auth := relay.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer)
	if auth.Enabled() {
		for _, u := range cfg.Seed.Users {
			if tok, err := auth.Issue(domain.UserID(u.ID), cfg.JWT.TTL, time.Now()); err == nil {
				slog.Debug("dev token", "user", u.ID, "token", tok)
			}
		}
	} else {
		slog.Warn("jwt secret not set: callers are trusted to name themselves")
	}

	// --- nats bridge ---
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("admin-chat-relay"))
		if err != nil {
			return err
		}
		defer nc.Close()
		bridge := relay.NewNATSBridge(nc, svc, hub, cfg.NATS.Prefix, nil)
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer bridge.Stop()
	}

	// --- http ---
	router := relay.NewRouter(
		relay.NewHandler(svc, nil),
		relay.NewWSServer(hub, svc, cfg.PingEvery, nil),
		auth,
		relay.RouterOptions{AllowedOrigins: cfg.AllowedOrigins},
	)
	srv := relay.NewServer(relay.ServerConfig{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, router)

	slog.Info("http listen", "addr", cfg.HTTP.Addr)
	return srv.Run(ctx)
}

func seed(ctx context.Context, s relay.Seeder, data config.Seed) error {
	for _, u := range data.Users {
		err := s.UpsertUser(ctx, domain.UserResponse{
			ID:       domain.UserID(u.ID),
			Username: u.Username,
			Email:    u.Email,
			Avatar:   u.Avatar,
			IsAdmin:  u.IsAdmin,
			Active:   true,
		})
		if err != nil {
			return err
		}
	}
	for _, r := range data.Rooms {
		room := domain.MessageRoom{ID: r.ID, Name: r.Name, IsGroup: r.IsGroup}
		for _, m := range r.Members {
			room.Members = append(room.Members, domain.RoomMember{UserID: domain.UserID(m.UserID), IsAdmin: m.IsAdmin})
			if m.IsAdmin && room.CreatedBy == 0 {
				room.CreatedBy = domain.UserID(m.UserID)
			}
		}
		if err := s.UpsertRoom(ctx, room); err != nil {
			return err
		}
	}
	slog.Info("seed loaded", "users", len(data.Users), "rooms", len(data.Rooms))
	return nil
}
