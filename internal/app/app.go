// Package app connects the shared infrastructure used by every binary.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/ai"
	"github.com/tamakara/bakabooru/internal/cache"
	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/database"
	"github.com/tamakara/bakabooru/internal/handlers"
	"github.com/tamakara/bakabooru/internal/ingest"
	"github.com/tamakara/bakabooru/internal/metrics"
	"github.com/tamakara/bakabooru/internal/queue"
	"github.com/tamakara/bakabooru/internal/repository"
	"github.com/tamakara/bakabooru/internal/search"
	"github.com/tamakara/bakabooru/internal/service"
	"github.com/tamakara/bakabooru/internal/settings"
	"github.com/tamakara/bakabooru/internal/storage"
)

type Infra struct {
	Config   *config.AppConfig
	Log      zerolog.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Store    *storage.ObjectStore
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Settings *settings.Service
	Queue    *queue.Queue
	Images   *repository.ImageRepository
	Tags     *repository.TagRepository
	AI       *ai.Client
}

// Open connects to Postgres, Redis and object storage. It does not touch
// the schema; see Prepare.
func Open(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (*Infra, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	store, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}

	return &Infra{
		Config:   cfg,
		Log:      log,
		DB:       pool,
		Redis:    redisClient,
		Store:    store,
		Registry: registry,
		Metrics:  m,
		Settings: settings.NewService(repository.NewSettingsRepository(pool), redisClient, cfg.Upload, log),
		Queue:    queue.New(redisClient, cfg.Queue, store, log),
		Images:   repository.NewImageRepository(pool),
		Tags:     repository.NewTagRepository(pool, 0),
		AI:       ai.NewClient(cfg.AI, cfg.LLM),
	}, nil
}

// Prepare migrates the schema, creates the bucket and seeds settings.
func (i *Infra) Prepare(ctx context.Context) error {
	if err := database.Migrate(ctx, i.DB, i.Config.AI.EmbeddingDim); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := i.Store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if err := i.Settings.Init(ctx); err != nil {
		return fmt.Errorf("init settings: %w", err)
	}
	return nil
}

func (i *Infra) Close() {
	i.DB.Close()
	if err := i.Redis.Close(); err != nil {
		i.Log.Error().Err(err).Msg("redis close error")
	}
}

func (i *Infra) NewWorker() *ingest.Worker {
	return ingest.NewWorker(ingest.Deps{
		Queue:    i.Queue,
		Blobs:    i.Store,
		Catalog:  i.Images,
		Tags:     i.Tags,
		Tagger:   i.AI,
		Embedder: i.AI,
		Settings: i.Settings,
		Recorder: i.Metrics,
	}, ingest.OptionsFrom(i.Config), i.Log)
}

func (i *Infra) NewEngine() *search.Engine {
	parser := ai.NewQueryParser(i.AI, i.Config.LLM)
	return search.NewEngine(i.DB, parser, i.Config.Search.MaxPageSize, i.Metrics, i.Log)
}

func (i *Infra) NewSearchService() *service.SearchService {
	return service.NewSearchService(i.NewEngine(), i.Images, i.Store, i.AI, i.Config.Search.MaxPageSize, i.Log)
}

// HandlerDeps wires the HTTP services. worker may be nil when ingestion
// runs in a separate process.
func (i *Infra) HandlerDeps(worker *ingest.Worker) handlers.Deps {
	var status service.StatusSource
	if worker != nil {
		status = worker
	}
	return handlers.Deps{
		Uploads:  service.NewUploadService(i.Store, i.Queue, i.Settings, i.Log),
		Tasks:    service.NewTaskService(i.Queue, status, i.Log),
		Images:   service.NewImageService(i.Images, i.Tags, i.Store, i.Settings, i.Log),
		Search:   i.NewSearchService(),
		Settings: i.Settings,
		Checks: map[string]handlers.Check{
			"database": i.DB.Ping,
			"cache":    func(ctx context.Context) error { return i.Redis.Ping(ctx).Err() },
			"storage":  i.Store.Ping,
		},
	}
}
