package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/morezero/contacts-gateway/internal/config"
	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/codec"
	"github.com/morezero/contacts-gateway/pkg/db"
	"github.com/morezero/contacts-gateway/pkg/events"
	"github.com/morezero/contacts-gateway/pkg/redisstore"
	"github.com/morezero/contacts-gateway/pkg/worker"
)

const workerLogPrefix = "server:worker"

// RunWorker loads config, serves the contacts request channels until SIGINT or SIGTERM,
// then drains in-flight requests.
func RunWorker() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", workerLogPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForWorker(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info(fmt.Sprintf("%s - Starting contacts worker (broker=%s, store=%s)", workerLogPrefix, cfg.Broker, cfg.StoreBackend))
	if cfg.Broker == config.BrokerMemory {
		slog.Warn(fmt.Sprintf("%s - BROKER=memory is process-local; no gateway can reach this worker", workerLogPrefix))
	}

	t, err := openTransport(cfg, roleWorker)
	if err != nil {
		return err
	}
	defer t.Close()

	return runWorker(ctx, cfg, t)
}

// runWorker opens the configured store and serves requests from t until ctx ends.
func runWorker(ctx context.Context, cfg *config.Config, t broker.Transport) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	w, err := newWorker(cfg, t, store)
	if err != nil {
		return err
	}
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("%s - worker failed: %w", workerLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Worker stopped", workerLogPrefix))
	return nil
}

func newWorker(cfg *config.Config, t broker.Transport, store worker.Store) (*worker.Worker, error) {
	c, err := codec.ByName(cfg.WireCodec)
	if err != nil {
		return nil, err
	}
	var publisher events.EventPublisher = events.NewBrokerPublisher(t, &events.BrokerPublisherOpts{
		ChangeChannel: cfg.ChangeEventSubject,
		Codec:         c,
		CloudEvents:   cfg.ChangeEventFormat == config.EventFormatCloudEvents,
	})
	if cfg.Broker == config.BrokerMemory {
		// Nothing consumes change channels in-process; a bounded queue would fill up.
		publisher = events.NewCallbackPublisher(func(_ context.Context, e *events.ContactChangedEvent) error {
			slog.Debug(fmt.Sprintf("%s - contact %s %s", workerLogPrefix, e.ContactID, e.Action))
			return nil
		})
	}
	return worker.New(t, store, worker.Config{
		Codec:     c,
		Publisher: publisher,
		Source:    cfg.COMMSName,
	}), nil
}

// openStore connects the backend selected by STORE_BACKEND. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (worker.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		if cfg.RunMigrations {
			if err := db.EnsureDatabase(ctx, cfg.DatabaseURL); err != nil {
				return nil, nil, fmt.Errorf("%s - failed to ensure database: %w", workerLogPrefix, err)
			}
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%s - failed to connect to database: %w", workerLogPrefix, err)
		}
		if cfg.RunMigrations {
			files, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("%s - failed to load migrations: %w", workerLogPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, files); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("%s - failed to run migrations: %w", workerLogPrefix, err)
			}
		}
		return db.NewRepository(pool), pool.Close, nil

	case config.StoreRedis:
		s, err := redisstore.Dial(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("%s - failed to connect to redis: %w", workerLogPrefix, err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Warn(fmt.Sprintf("%s - redis close: %v", workerLogPrefix, err))
			}
		}, nil

	case config.StoreMemory:
		slog.Warn(fmt.Sprintf("%s - Using in-memory store; contacts are lost on restart", workerLogPrefix))
		return worker.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%s - unsupported store backend %q", workerLogPrefix, cfg.StoreBackend)
	}
}
