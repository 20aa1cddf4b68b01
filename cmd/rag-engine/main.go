package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ragstack/rag-engine/internal/config"
	"github.com/ragstack/rag-engine/pkg/cache"
	"github.com/ragstack/rag-engine/pkg/cache/resultcache"
	"github.com/ragstack/rag-engine/pkg/database"
	"github.com/ragstack/rag-engine/pkg/embedding"
	"github.com/ragstack/rag-engine/pkg/engine"
	"github.com/ragstack/rag-engine/pkg/observability"
	"github.com/ragstack/rag-engine/pkg/pipeline"
	"github.com/ragstack/rag-engine/pkg/search"
	"github.com/ragstack/rag-engine/pkg/vectorstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rag-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewStandardLogger("rag-engine")
	metrics := observability.NewMetricsClient()
	defer metrics.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.Database, logger.WithPrefix("database"))
	if err != nil {
		return err
	}
	defer db.Close()

	redisStore := cache.NewRedisStore(cfg.Redis, logger.WithPrefix("cache"), metrics)
	store := cache.NewMultiLevelStore(redisStore, cfg.L1, logger.WithPrefix("cache"))
	results := resultcache.New(store, cfg.TTL)

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}

	embedder := embedding.NewCachedEmbedder(provider, results, cfg.Embedder, logger.WithPrefix("embedding"), metrics)
	vectors := vectorstore.New(db, logger.WithPrefix("vectorstore"), metrics)
	batch := pipeline.NewService(redisStore.Client(), embedder, vectors, cfg.Pipeline, logger.WithPrefix("pipeline"), metrics)
	searcher := search.New(vectors, embedder, results, cfg.Search, logger.WithPrefix("search"), metrics)

	eng, err := engine.New(engine.Deps{
		Store:    vectors,
		Embedder: embedder,
		Cache:    results,
		Pipeline: batch,
		Search:   searcher,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	return eng.Run(ctx)
}

func newProvider(cfg config.ProviderConfig) (embedding.Provider, error) {
	switch cfg.Type {
	case "openai", "":
		return embedding.NewOpenAIProvider(cfg.OpenAI)
	case "mock":
		return embedding.NewMockProvider(1536), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Type)
	}
}
