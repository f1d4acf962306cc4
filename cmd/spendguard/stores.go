package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pario-ai/spendguard/pkg/config"
	"github.com/pario-ai/spendguard/pkg/guard"
	"github.com/pario-ai/spendguard/pkg/store"
	"github.com/pario-ai/spendguard/pkg/store/memory"
	"github.com/pario-ai/spendguard/pkg/store/redisstore"
	"github.com/pario-ai/spendguard/pkg/store/sqlstore"
)

const janitorInterval = time.Minute

// openStores connects the configured backend.
func openStores(ctx context.Context, cfg *config.Config) (*store.Stores, error) {
	maxEntries := cfg.Audit.MaxEntries
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.New(maxEntries), nil
	case config.BackendSQLite:
		s, err := sqlstore.OpenSQLite(cfg.Store.DBPath, maxEntries)
		if err != nil {
			return nil, err
		}
		s.StartJanitor(janitorInterval)
		return s.Stores(), nil
	case config.BackendPostgres:
		s, err := sqlstore.OpenPostgres(cfg.Store.PostgresDSN, maxEntries)
		if err != nil {
			return nil, err
		}
		s.StartJanitor(janitorInterval)
		return s.Stores(), nil
	case config.BackendRedis:
		r := cfg.Store.Redis
		s, err := redisstore.Open(ctx, redisstore.Options{
			Addr:       r.Addr,
			Password:   r.Password,
			DB:         r.DB,
			Prefix:     r.Prefix,
			MaxEntries: maxEntries,
		})
		if err != nil {
			return nil, err
		}
		return s.Stores(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// openGuard loads config, opens the store and builds the guard. The returned
// cleanup closes the store.
func openGuard(ctx context.Context, configPath string, logger *slog.Logger, opts guard.Options) (*config.Config, *guard.Guard, func(), error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	stores, err := openStores(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	cleanup := func() {
		if err := stores.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}

	opts.Logger = logger
	g, err := guard.NewFromConfig(ctx, cfg, stores, opts)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return cfg, g, cleanup, nil
}
