package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwrk-planet/room-bus/config"
	"github.com/cwrk-planet/room-bus/internal/postgres"
	"github.com/cwrk-planet/room-bus/internal/sqlite"
	"github.com/cwrk-planet/room-bus/internal/store"
	"github.com/cwrk-planet/room-bus/pkg/logger"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     level,
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	return cfg, nil
}

// openStore открывает хранилище по storage.driver. pool != nil только для postgres.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *pgxpool.Pool, error) {
	opts := store.Options{MaxBodyLength: cfg.Storage.MaxBodyLength}

	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Storage.DSN,
			MaxConns:        cfg.Storage.MaxConns,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("storage ready", "driver", "postgres")
		return postgres.NewMessageStore(pool, opts), pool, nil
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.Storage.Path, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("storage ready", "driver", "sqlite", "path", cfg.Storage.Path)
		return st, nil, nil
	default:
		slog.Warn("storage is in-memory, messages are lost on restart")
		return store.NewMemory(opts), nil, nil
	}
}
