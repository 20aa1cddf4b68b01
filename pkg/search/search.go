// Package search implements similarity search over the active vector
// collection, with optional result caching.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ragstack/rag-engine/pkg/cache/resultcache"
	"github.com/ragstack/rag-engine/pkg/embedding"
	"github.com/ragstack/rag-engine/pkg/models"
	"github.com/ragstack/rag-engine/pkg/observability"
	"github.com/ragstack/rag-engine/pkg/vectorstore"
)

// ErrEmptyQuery indicates a query with no text content.
var ErrEmptyQuery = errors.New("search: empty query")

// Options tune a single search call. TopK and Threshold are taken as
// given; callers wanting the engine defaults fill them in from Config
// before calling. An empty Collection selects the active collection.
type Options struct {
	TopK       int
	Threshold  float64
	Collection string
}

// Config configures the search engine defaults.
type Config struct {
	DefaultTopK      int     `mapstructure:"default_top_k"`
	DefaultThreshold float64 `mapstructure:"default_threshold"`
	CacheResults     bool    `mapstructure:"cache_results"`
}

// DefaultConfig returns the default search tuning.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:      5,
		DefaultThreshold: 0.7,
		CacheResults:     true,
	}
}

// Engine embeds queries and ranks results against a vector collection.
type Engine struct {
	store    *vectorstore.Store
	embedder *embedding.CachedEmbedder
	cache    *resultcache.ResultCache
	config   Config
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// New creates a search engine. cache may be nil to disable result
// caching.
func New(store *vectorstore.Store, embedder *embedding.CachedEmbedder, cache *resultcache.ResultCache, config Config, logger observability.Logger, metrics observability.MetricsClient) *Engine {
	def := DefaultConfig()
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = def.DefaultTopK
	}
	if config.DefaultThreshold == 0 {
		config.DefaultThreshold = def.DefaultThreshold
	}
	if logger == nil {
		logger = observability.NewStandardLogger("search")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		cache:    cache,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// DefaultOptions returns Options filled with the engine defaults.
func (e *Engine) DefaultOptions() Options {
	return Options{
		TopK:      e.config.DefaultTopK,
		Threshold: e.config.DefaultThreshold,
	}
}

// Search embeds the query and returns the topK most similar documents
// with score >= threshold, ordered by descending score. When
// opts.Collection is empty the active collection is used; with no
// active collection the call fails with vectorstore.ErrNoActiveCollection.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]models.SearchResult, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	// A non-positive topK is a well-formed request for nothing.
	if opts.TopK <= 0 {
		return []models.SearchResult{}, nil
	}
	topK := opts.TopK
	threshold := opts.Threshold

	collection := opts.Collection
	if collection == "" {
		active, err := e.store.Active(ctx)
		if err != nil {
			return nil, err
		}
		collection = active.Name
	}

	cacheArgs := map[string]interface{}{
		"query":      query,
		"collection": collection,
		"model":      e.embedder.Model(),
		"top_k":      topK,
		"threshold":  threshold,
	}
	if e.cache != nil && e.config.CacheResults {
		var cached []models.SearchResult
		if e.cache.GetToolResult(ctx, "similarity_search", cacheArgs, &cached) {
			e.metrics.RecordCounter("search.cache.hits", 1, map[string]string{"collection": collection})
			return cached, nil
		}
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	start := time.Now()
	results, err := e.store.Query(ctx, collection, vec, topK, threshold)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordTimer("search.query.duration", time.Since(start), map[string]string{
		"collection": collection,
	})

	if e.cache != nil && e.config.CacheResults {
		e.cache.SetToolResult(ctx, "similarity_search", cacheArgs, results)
	}

	e.logger.Debug("similarity search completed", map[string]interface{}{
		"collection": collection,
		"top_k":      topK,
		"threshold":  threshold,
		"results":    len(results),
	})
	return results, nil
}
