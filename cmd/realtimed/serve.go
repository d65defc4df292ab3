package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teamloop/realtime/internal/auth"
	"github.com/teamloop/realtime/internal/bridge"
	"github.com/teamloop/realtime/internal/config"
	"github.com/teamloop/realtime/internal/database"
	"github.com/teamloop/realtime/internal/gateway"
	"github.com/teamloop/realtime/internal/history"
	"github.com/teamloop/realtime/internal/hub"
	"github.com/teamloop/realtime/internal/presence"
	"github.com/teamloop/realtime/internal/version"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the realtime daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting realtimed",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional Postgres-backed history.
	var (
		pool     *pgxpool.Pool
		archiver *history.Archiver
		replay   hub.Replayer
	)
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"database", cfg.Database.Postgres.Name,
		)
		var err error
		pool, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		store := history.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		replay = store

		archiver = history.NewArchiver(history.ArchiverConfig{
			BatchSize:     cfg.History.BatchSize,
			FlushInterval: cfg.History.FlushInterval,
			BufferSize:    cfg.History.BufferSize,
		}, pool, logger)
		if err := archiver.Start(ctx); err != nil {
			return fmt.Errorf("start archiver: %w", err)
		}
		defer stopComponent("archiver", archiver.Stop, logger)
	}

	// Optional RabbitMQ event bridge.
	var publisher *bridge.Publisher
	if cfg.Bridge.Enabled {
		publisher = bridge.NewPublisher(bridge.Config{
			URL:        cfg.Bridge.URL,
			Exchange:   cfg.Bridge.Exchange,
			BufferSize: cfg.Bridge.BufferSize,
		}, logger)
		if err := publisher.Start(ctx); err != nil {
			return fmt.Errorf("start bridge: %w", err)
		}
		defer stopComponent("bridge", publisher.Stop, logger)
	}

	// Optional upgrade-time auth.
	var authenticator *auth.Authenticator
	if cfg.Auth.Enabled {
		var err error
		authenticator, err = auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.TTL, cfg.Auth.Issuer)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	registry := presence.NewRegistry(logger)

	deps := hub.Deps{Presence: registry}
	if archiver != nil {
		deps.Archive = archiver
	}
	if replay != nil {
		deps.Replay = replay
	}
	if publisher != nil {
		deps.Events = publisher
	}

	h := hub.NewHub(hub.Config{
		SendBuffer:     cfg.Hub.SendBuffer,
		MaxMessageSize: cfg.Hub.MaxMessageSize,
		WriteTimeout:   cfg.Server.WriteTimeout,
		PingInterval:   cfg.Hub.PingInterval,
		PongWait:       cfg.Hub.PongWait,
		HistoryLimit:   cfg.Hub.HistoryLimit,
		ReplayTimeout:  5 * time.Second,
	}, deps, logger)
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}
	defer stopComponent("hub", h.Stop, logger)

	gwDeps := gateway.Deps{Hub: h}
	if authenticator != nil {
		gwDeps.Auth = authenticator
	}
	if pool != nil {
		gwDeps.DB = pool
	}
	if archiver != nil {
		gwDeps.Archiver = archiver
	}
	if publisher != nil {
		gwDeps.Bridge = publisher
	}

	server := gateway.NewServer(gateway.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		InstanceID:     cfg.Instance.ID,
	}, gwDeps, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("realtimed running",
		"ws_url", fmt.Sprintf("ws://localhost:%d/ws", cfg.Server.Port),
		"health_url", fmt.Sprintf("http://localhost:%d/healthz", cfg.Server.Port),
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	logger.Info("realtimed stopped")
	return nil
}

func stopComponent(name string, stop func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Error("component stop failed", "component", name, "error", err)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
