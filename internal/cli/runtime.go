package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/marketcart/internal/broadcast"
	"github.com/roach88/marketcart/internal/checkout"
	"github.com/roach88/marketcart/internal/config"
	"github.com/roach88/marketcart/internal/httpapi"
	"github.com/roach88/marketcart/internal/repository"
	"github.com/roach88/marketcart/internal/scheduler"
	"github.com/roach88/marketcart/internal/store"
)

// Runtime is one process worth of wired components over a durable store.
type Runtime struct {
	Config      config.Config
	Store       store.KV
	Redis       *redis.Client // nil unless the redis backend is in use
	Broadcaster *broadcast.Broadcaster
	Repo        *repository.Repository
	Scheduler   *scheduler.Scheduler
	Checkout    *checkout.Bridge
	Logger      *slog.Logger

	stopAnnounce func()
}

// openRuntime opens the configured store, builds the components over it and
// hydrates the cart. Close releases the store.
func openRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kv, rdb, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	bc := broadcast.New(broadcast.WithLogger(logger))
	repo := repository.New(kv, bc,
		repository.WithKey(cfg.Keys.Cart),
		repository.WithLogger(logger),
	)
	loaded := repo.Load(ctx)
	logger.Debug("cart loaded", "items", len(loaded), "key", cfg.Keys.Cart)

	schedOpts := []scheduler.Option{
		scheduler.WithConfig(cfg.Scheduler()),
		scheduler.WithLogger(logger),
	}
	if !cfg.Relay.Enabled {
		// Without a relay, writes by other processes are only seen by
		// re-reading the store on every tick.
		schedOpts = append(schedOpts, scheduler.WithStorePolling(repo))
	}
	sched := scheduler.New(repo, bc, schedOpts...)
	bridge := checkout.NewBridge(repo, kv,
		checkout.WithKey(cfg.Keys.Checkout),
		checkout.WithLogger(logger),
	)

	return &Runtime{
		Config:      cfg,
		Store:       kv,
		Redis:       rdb,
		Broadcaster: bc,
		Repo:        repo,
		Scheduler:   sched,
		Checkout:    bridge,
		Logger:      logger,
	}, nil
}

// Close publishes pending change notices, stops the scheduler and releases
// the store.
func (rt *Runtime) Close() error {
	if rt.stopAnnounce != nil {
		rt.stopAnnounce()
	}
	rt.Scheduler.Close()
	return rt.Store.Close()
}

// announceChanges forwards this process's cart changes to the relay channel
// so a running server re-reads the store. It is a no-op unless the relay is
// enabled.
func (rt *Runtime) announceChanges() {
	if !rt.Config.Relay.Enabled || rt.Redis == nil {
		return
	}
	relay := broadcast.NewRelay(rt.Redis, rt.Config.Relay.Channel, rt.Broadcaster, rt.Repo, rt.Logger)
	rt.stopAnnounce = relay.Announce()
}

// openStore opens the backend named by cfg. The redis client is returned as
// well so the relay can share it.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.KV, *redis.Client, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		logger.Info("opening database", "path", cfg.SQLitePath)
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil, nil
	case config.BackendRedis:
		logger.Info("connecting to redis", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// The store degrades instead of refusing to start.
			logger.Warn("redis ping failed, continuing with an unavailable store", "addr", cfg.RedisAddr, "error", err)
		}
		return store.NewRedis(rdb, cfg.RedisPrefix), rdb, nil
	case config.BackendMemory:
		logger.Warn("using in-memory store, the cart will not survive a restart")
		return store.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalid, cfg.Backend)
	}
}

// loadRuntime opens a runtime for a one-shot command. Its cart changes are
// announced to running servers.
func loadRuntime(ctx context.Context, opts *RootOptions) (*Runtime, error) {
	rt, err := loadConfiguredRuntime(ctx, opts)
	if err != nil {
		return nil, err
	}
	rt.announceChanges()
	return rt, nil
}

// loadConfiguredRuntime loads configuration for opts and opens a runtime
// over it.
func loadConfiguredRuntime(ctx context.Context, opts *RootOptions) (*Runtime, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	rt, err := openRuntime(ctx, cfg, slog.Default())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return rt, nil
}

// noticeFor maps a degraded-store error to the user-facing notice. Other
// errors yield "".
func noticeFor(err error) string {
	if errors.Is(err, store.ErrUnavailable) {
		return httpapi.NoticeNotSaved
	}
	return ""
}
