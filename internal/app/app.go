// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	archivegcs "github.com/movieapp/moviecache-crawler/internal/archive/gcs"
	archivelocal "github.com/movieapp/moviecache-crawler/internal/archive/local"
	archivenoop "github.com/movieapp/moviecache-crawler/internal/archive/noop"
	"github.com/movieapp/moviecache-crawler/internal/catalog"
	"github.com/movieapp/moviecache-crawler/internal/clock/system"
	"github.com/movieapp/moviecache-crawler/internal/config"
	"github.com/movieapp/moviecache-crawler/internal/fetcher/phimapi"
	"github.com/movieapp/moviecache-crawler/internal/hash/sha256"
	historymemory "github.com/movieapp/moviecache-crawler/internal/history/memory"
	historynoop "github.com/movieapp/moviecache-crawler/internal/history/noop"
	historypostgres "github.com/movieapp/moviecache-crawler/internal/history/postgres"
	iduuid "github.com/movieapp/moviecache-crawler/internal/id/uuid"
	"github.com/movieapp/moviecache-crawler/internal/logging"
	"github.com/movieapp/moviecache-crawler/internal/policy/ratelimit"
	publishermemory "github.com/movieapp/moviecache-crawler/internal/publisher/memory"
	publishernoop "github.com/movieapp/moviecache-crawler/internal/publisher/noop"
	publisherpubsub "github.com/movieapp/moviecache-crawler/internal/publisher/pubsub"
	"github.com/movieapp/moviecache-crawler/internal/runner"
	storememory "github.com/movieapp/moviecache-crawler/internal/store/memory"
	"github.com/movieapp/moviecache-crawler/internal/store/upstash"
)

// App holds the shared, long-lived services for the crawler. It is built once
// at startup from the loaded config and passed to the commands that need it.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     catalog.Store
	history   catalog.RunHistory
	publisher catalog.Publisher
	archive   catalog.BlobStore
	fetcher   catalog.Fetcher
	runner    *runner.Runner

	closers []func()
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the configured key-value store client.
func (a *App) Store() catalog.Store { return a.store }

// History returns the configured run history.
func (a *App) History() catalog.RunHistory { return a.history }

// Runner returns the crawl run driver.
func (a *App) Runner() *runner.Runner { return a.runner }

// New builds the full service graph from config. It fails fast when any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}

	if err := a.buildStore(); err != nil {
		return nil, err
	}
	if err := a.buildHistory(ctx); err != nil {
		return nil, err
	}
	if err := a.buildPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.buildArchive(ctx); err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Upstream.RateLimitRPS,
		DefaultBurst: cfg.Upstream.RateLimitBurst,
	})
	a.fetcher = phimapi.New(phimapi.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		ListPath:       cfg.Upstream.ListPath,
		DetailPath:     cfg.Upstream.DetailPath,
		PageLimit:      cfg.Upstream.PageLimit,
		UserAgent:      cfg.Upstream.UserAgent,
		Timeout:        cfg.UpstreamTimeout(),
		MaxRetries:     cfg.Upstream.MaxRetries,
		BackoffInitial: time.Duration(cfg.Upstream.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Upstream.BackoffMaxMs) * time.Millisecond,
	}, limiter, logger)

	a.runner = runner.New(
		a.fetcher,
		a.store,
		a.history,
		a.publisher,
		a.archive,
		system.New(),
		iduuid.NewGenerator(),
		sha256.New(),
		runner.Config{
			Concurrency:        cfg.Crawler.Concurrency,
			KeyPrefix:          cfg.Crawler.KeyPrefix,
			MaxEpisodeServers:  cfg.Crawler.MaxEpisodeServers,
			MaxPages:           cfg.Crawler.MaxPages,
			Topic:              cfg.Publisher.TopicName,
			ArchivePrefix:      cfg.Archive.Prefix,
			ArchiveContentType: cfg.Archive.ContentType,
			Retention:          cfg.Retention(),
		},
		logger,
	)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("history", cfg.History.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.String("archive", cfg.Archive.Provider))
	return a, nil
}

func (a *App) buildStore() error {
	switch a.cfg.Store.Provider {
	case "upstash":
		client, err := upstash.New(upstash.Config{
			RestURL: a.cfg.Store.RestURL,
			Token:   a.cfg.Store.Token,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("initialize upstash store: %w", err)
		}
		a.store = client
	case "memory":
		a.logger.Info("using in-memory store, records will not persist")
		a.store = storememory.New()
	default:
		return fmt.Errorf("unknown store provider: %s", a.cfg.Store.Provider)
	}
	return nil
}

func (a *App) buildHistory(ctx context.Context) error {
	switch a.cfg.History.Provider {
	case "postgres":
		store, err := historypostgres.New(ctx, historypostgres.Config{
			DSN:   a.cfg.History.DSN,
			Table: a.cfg.History.Table,
		})
		if err != nil {
			return fmt.Errorf("initialize run history: %w", err)
		}
		a.history = store
		a.closers = append(a.closers, store.Close)
	case "memory":
		a.history = historymemory.New()
	case "noop":
		a.logger.Info("run history disabled")
		a.history = historynoop.New()
	default:
		return fmt.Errorf("unknown history provider: %s", a.cfg.History.Provider)
	}
	return nil
}

func (a *App) buildPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case "pubsub":
		pub, err := publisherpubsub.New(ctx, a.cfg.Publisher.ProjectID, a.cfg.Publisher.TopicName)
		if err != nil {
			return fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, func() {
			if err := pub.Close(); err != nil {
				a.logger.Warn("close pubsub publisher failed", zap.Error(err))
			}
		})
	case "memory":
		a.publisher = publishermemory.New()
	case "noop":
		a.logger.Info("run event publishing disabled")
		a.publisher = publishernoop.New()
	default:
		return fmt.Errorf("unknown publisher provider: %s", a.cfg.Publisher.Provider)
	}
	return nil
}

func (a *App) buildArchive(ctx context.Context) error {
	switch a.cfg.Archive.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("initialize gcs client: %w", err)
		}
		blob, err := archivegcs.New(client, archivegcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("initialize gcs archive: %w", err)
		}
		a.archive = blob
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close gcs client failed", zap.Error(err))
			}
		})
	case "local":
		blob, err := archivelocal.New(archivelocal.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("initialize local archive: %w", err)
		}
		a.archive = blob
	case "noop":
		a.logger.Info("raw page archival disabled")
		a.archive = archivenoop.New()
	default:
		return fmt.Errorf("unknown archive provider: %s", a.cfg.Archive.Provider)
	}
	return nil
}

// Close shuts down the service graph and flushes the logger. It is called by
// a Cobra hook after the command finishes.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}
