// Package engine wires the retrieval engine together and exposes its
// public operations: collection lifecycle, batch ingestion, similarity
// search, and cache administration.
package engine

import (
	"context"
	"fmt"

	"github.com/ragstack/rag-engine/pkg/cache"
	"github.com/ragstack/rag-engine/pkg/cache/resultcache"
	"github.com/ragstack/rag-engine/pkg/embedding"
	"github.com/ragstack/rag-engine/pkg/models"
	"github.com/ragstack/rag-engine/pkg/observability"
	"github.com/ragstack/rag-engine/pkg/pipeline"
	"github.com/ragstack/rag-engine/pkg/search"
	"github.com/ragstack/rag-engine/pkg/vectorstore"
)

// Deps are the constructed subsystems the engine composes. All fields
// are required except Logger and Metrics.
type Deps struct {
	Store    *vectorstore.Store
	Embedder *embedding.CachedEmbedder
	Cache    *resultcache.ResultCache
	Pipeline *pipeline.Service
	Search   *search.Engine
	Logger   observability.Logger
	Metrics  observability.MetricsClient
}

// Engine is the facade over the retrieval engine's subsystems.
type Engine struct {
	store    *vectorstore.Store
	embedder *embedding.CachedEmbedder
	cache    *resultcache.ResultCache
	pipeline *pipeline.Service
	search   *search.Engine
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// New creates the engine facade.
func New(deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Embedder == nil || deps.Pipeline == nil || deps.Search == nil {
		return nil, fmt.Errorf("engine: missing required dependency")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewStandardLogger("engine")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoopMetricsClient()
	}
	return &Engine{
		store:    deps.Store,
		embedder: deps.Embedder,
		cache:    deps.Cache,
		pipeline: deps.Pipeline,
		search:   deps.Search,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}, nil
}

// Run prepares storage and runs the pipeline workers until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare storage: %w", err)
	}

	e.pipeline.Start(ctx)
	e.logger.Info("engine running", map[string]interface{}{
		"model": e.embedder.Model(),
	})

	<-ctx.Done()
	e.pipeline.Wait()
	e.logger.Info("engine stopped", nil)
	return nil
}

// CreateCollection registers a new vector collection.
func (e *Engine) CreateCollection(ctx context.Context, name string, dimensions int, description string) (*models.CollectionMeta, error) {
	return e.store.Create(ctx, name, dimensions, description)
}

// ListCollections returns all registered collections.
func (e *Engine) ListCollections(ctx context.Context) ([]models.CollectionMeta, error) {
	return e.store.List(ctx)
}

// GetCollectionInfo returns a collection's metadata including its live
// row count.
func (e *Engine) GetCollectionInfo(ctx context.Context, name string) (*models.CollectionMeta, error) {
	return e.store.Get(ctx, name)
}

// ActiveCollection returns the collection searches target by default.
func (e *Engine) ActiveCollection(ctx context.Context) (*models.CollectionMeta, error) {
	return e.store.Active(ctx)
}

// SwitchActiveCollection atomically makes name the single active
// collection.
func (e *Engine) SwitchActiveCollection(ctx context.Context, name string) error {
	return e.store.SwitchActive(ctx, name)
}

// DeleteCollection drops a collection and its data. The active
// collection cannot be deleted.
func (e *Engine) DeleteCollection(ctx context.Context, name string) error {
	return e.store.Delete(ctx, name)
}

// StoreStats returns per-collection row counts and the store-wide
// total.
func (e *Engine) StoreStats(ctx context.Context) (*vectorstore.Stats, error) {
	return e.store.Stats(ctx)
}

// SubmitBatch enqueues documents for asynchronous embedding into the
// named collection and returns the job id.
func (e *Engine) SubmitBatch(ctx context.Context, collection string, docs []models.Document) (string, error) {
	return e.pipeline.Submit(ctx, collection, docs)
}

// GetBatchStatus returns the state of a batch job.
func (e *Engine) GetBatchStatus(ctx context.Context, jobID string) (*models.BatchJob, error) {
	return e.pipeline.Status(ctx, jobID)
}

// ListBatchJobs returns recent batch jobs, newest first.
func (e *Engine) ListBatchJobs(ctx context.Context, limit int) ([]*models.BatchJob, error) {
	return e.pipeline.ListJobs(ctx, limit)
}

// SearchRequest is a similarity search. Nil TopK and Threshold take
// the engine defaults; an explicit TopK <= 0 returns no results.
type SearchRequest struct {
	Query      string   `json:"query"`
	Collection string   `json:"collection,omitempty"`
	TopK       *int     `json:"top_k,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
}

// Search runs a similarity search against the requested collection, or
// the active one when unspecified.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]models.SearchResult, error) {
	opts := e.search.DefaultOptions()
	opts.Collection = req.Collection
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	return e.search.Search(ctx, req.Query, opts)
}

// EmbedSingle returns the embedding for one text through the cached
// embedding path.
func (e *Engine) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return e.embedder.Embed(ctx, text)
}

// CacheHealth reports reachability and latency of the cache backend.
func (e *Engine) CacheHealth(ctx context.Context) cache.HealthStatus {
	if e.cache == nil {
		return cache.HealthStatus{}
	}
	return e.cache.Store().Health(ctx)
}

// CacheStats returns per-domain key counts and hit/miss counters.
func (e *Engine) CacheStats(ctx context.Context) cache.Stats {
	if e.cache == nil {
		return cache.Stats{}
	}
	return e.cache.Store().Stats(ctx)
}

// InvalidateCache removes all cached entries in one domain and returns
// the number of keys deleted. Other domains are untouched.
func (e *Engine) InvalidateCache(ctx context.Context, domain string) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.Invalidate(ctx, domain)
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	var firstErr error
	if e.cache != nil {
		if err := e.cache.Store().Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.embedder.Provider().Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
