package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/admin-chat/config"
	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/fallback"
	"github.com/cwrk-planet/admin-chat/internal/session"
	"github.com/cwrk-planet/admin-chat/internal/transport"
	"github.com/cwrk-planet/admin-chat/internal/transport/natsbroker"
	"github.com/cwrk-planet/admin-chat/internal/transport/wsbroker"
	"github.com/cwrk-planet/admin-chat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateClient()
	}
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	// the console owns stdout
	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
		Output:    os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.Client); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("admin-chat stopped with error", "err", err)
		os.Exit(1)
	}
}

func newBroker(cfg config.Client) (transport.Broker, error) {
	switch cfg.Broker {
	case "nats":
		return natsbroker.New(natsbroker.Options{
			URL:         cfg.NATSURL,
			Token:       cfg.Token,
			Prefix:      cfg.NATSPrefix,
			DialTimeout: cfg.DialTimeout,
		})
	default:
		return wsbroker.New(wsbroker.Options{
			URL:              cfg.WSURL,
			Token:            cfg.Token,
			HandshakeTimeout: cfg.DialTimeout,
			PingEvery:        cfg.PingEvery,
		})
	}
}

func run(ctx context.Context, cfg config.Client) error {
	rest, err := fallback.New(fallback.Options{
		BaseURL: cfg.RESTBaseURL,
		Token:   cfg.Token,
		Timeout: cfg.RESTTimeout,
	})
	if err != nil {
		return err
	}
	broker, err := newBroker(cfg)
	if err != nil {
		return err
	}
	client, err := transport.New(transport.Options{
		Broker:      broker,
		Fallback:    rest,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return err
	}

	self := domain.Profile{ID: domain.UserID(cfg.UserID), Name: cfg.Name, Avatar: cfg.Avatar}
	s, err := session.New(session.Options{
		Transport:    client,
		Backend:      rest,
		Self:         self,
		InitialRoom:  cfg.InitialRoom,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return err
	}

	loc := time.Local
	if cfg.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return err
		}
	}

	con := newConsole(s, os.Stdout, loc)
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Close(shCtx); err != nil {
			slog.Warn("session close", "err", err)
		}
	}()

	con.printRooms()
	con.printHistory()

	done := make(chan error, 1)
	go func() { done <- con.run(ctx, os.Stdin) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}
