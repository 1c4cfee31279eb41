package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/unpaywall-client/internal/cache"
	"github.com/helixir/unpaywall-client/internal/config"
	"github.com/helixir/unpaywall-client/internal/credentials"
	"github.com/helixir/unpaywall-client/internal/database"
	"github.com/helixir/unpaywall-client/internal/domain"
	"github.com/helixir/unpaywall-client/internal/observability"
	"github.com/helixir/unpaywall-client/internal/pdf"
	"github.com/helixir/unpaywall-client/internal/source"
)

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the process-wide client, building it from the environment
// on first use. A failed build is not remembered.
func Default(ctx context.Context) (*Client, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultClient != nil {
		return defaultClient, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c, err := NewFromConfig(ctx, cfg, zerolog.Nop(), nil)
	if err != nil {
		return nil, err
	}
	defaultClient = c
	return c, nil
}

// SetDefault replaces the process-wide client. Passing nil makes the next
// Default call build a new one.
func SetDefault(c *Client) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultClient = c
}

// NewFromConfig wires a client from configuration: the response source
// selected by the backend, the cache store, and the PDF downloader.
// The returned client owns any connections it opened; release them with Close.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*Client, error) {
	backend, err := domain.ParseBackend(cfg.API.Backend)
	if err != nil {
		return nil, err
	}
	logger = observability.WithBackend(logger, string(backend))
	expiry, err := cfg.Cache.ExpiryDuration()
	if err != nil {
		return nil, err
	}

	src, err := newSource(cfg, backend, logger, metrics)
	if err != nil {
		return nil, err
	}
	fetcher := cache.NewRemoteFetcher(credentials.NewURLBuilder(cfg.API.BaseURL, cfg.API.Email), src)

	h := &storeHandle{store: cache.NewMemoryStore()}
	if backend == domain.BackendCache {
		h, err = newStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	closeAll := func() {
		for i := len(h.closers) - 1; i >= 0; i-- {
			_ = h.closers[i]()
		}
	}

	rc, err := cache.New(ctx, h.store, fetcher,
		cache.WithExpiry(expiry),
		cache.WithLogger(logger),
		cache.WithMetrics(metrics),
	)
	if err != nil {
		closeAll()
		return nil, err
	}

	downloader := pdf.NewDownloader(pdf.Config{
		Timeout:              cfg.PDF.Timeout,
		MaxSize:              cfg.PDF.MaxSize,
		UserAgent:            cfg.PDF.UserAgent,
		AllowPrivateNetworks: cfg.PDF.AllowPrivateNetworks,
	}, logger, metrics)

	opts := []Option{
		WithLogger(logger),
		WithMetrics(metrics),
		WithPDFDownloader(downloader),
		WithBypassCache(backend != domain.BackendCache),
		WithLock(h.lock),
		WithHealthCheck(h.ping),
	}
	for _, fn := range h.closers {
		opts = append(opts, WithCloser(fn))
	}

	logger.Debug().
		Str("cache", h.store.Location()).
		Dur("expiry", expiry).
		Msg("lookup client ready")

	return New(rc, opts...), nil
}

func newSource(cfg *config.Config, backend domain.Backend, logger zerolog.Logger, metrics *observability.Metrics) (source.Source, error) {
	if backend == domain.BackendSnapshot {
		return source.OpenSnapshot(cfg.API.SnapshotPath, cfg.API.BaseURL)
	}

	retries := cfg.API.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return source.NewHTTPSource(source.Config{
		Timeout:       cfg.API.Timeout,
		MandatoryWait: cfg.API.MandatoryWait(),
		MaxRetries:    retries,
		UserAgent:     cfg.API.UserAgent,
	}, logger, metrics), nil
}

// storeHandle is an opened cache store with the hooks the client needs.
// Only the postgres store has a cross-process lock.
type storeHandle struct {
	store   cache.Store
	closers []func() error
	lock    LockFunc
	ping    func(ctx context.Context) error
}

// newStore opens the configured cache store.
func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storeHandle, error) {
	switch cfg.Cache.Store {
	case config.StorePostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := migrate(db, cfg.Database.MigrationsPath, logger); err != nil {
				db.Close()
				return nil, err
			}
		}
		return &storeHandle{
			store: cache.NewPostgresStore(db, cfg.Cache.Table, cfg.Cache.Path),
			closers: []func() error{func() error {
				db.Close()
				return nil
			}},
			lock: db.WithAdvisoryLock,
			ping: db.Ping,
		}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.Timeout,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		ping := func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping failed: %w", err)
			}
			return nil
		}
		if err := ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return &storeHandle{
			store:   cache.NewRedisStore(client, cfg.Cache.Path),
			closers: []func() error{client.Close},
			ping:    ping,
		}, nil

	default:
		return &storeHandle{store: cache.NewFileStore(cfg.Cache.Path)}, nil
	}
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	m, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return err
	}
	return errors.Join(m.Up(), m.Close())
}
