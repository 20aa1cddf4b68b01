package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ragstack/rag-engine/pkg/cache/resultcache"
	"github.com/ragstack/rag-engine/pkg/observability"
)

// EmbedderConfig configures the cached embedding path. MaxRetries is a
// pointer so an explicit zero (no retries) is distinct from unset.
type EmbedderConfig struct {
	Model             string        `mapstructure:"model"`
	MaxRetries        *uint64       `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BreakerThreshold  uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
}

// defaultMaxRetries gives 3 attempts total.
const defaultMaxRetries uint64 = 2

// DefaultEmbedderConfig returns the default embedder tuning.
func DefaultEmbedderConfig() EmbedderConfig {
	retries := defaultMaxRetries
	return EmbedderConfig{
		Model:             defaultOpenAIModel,
		MaxRetries:        &retries,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
		BreakerThreshold:  5,
		BreakerTimeout:    30 * time.Second,
	}
}

// CachedEmbedder is the single embedding path of the engine: a cache
// pre-check, then a rate-limited, circuit-broken, retried provider call,
// then a cache write. Both the batch pipeline and the search engine go
// through it so identical text is embedded at most once per TTL window.
type CachedEmbedder struct {
	provider   Provider
	cache      *resultcache.ResultCache
	config     EmbedderConfig
	maxRetries uint64
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     observability.Logger
	metrics    observability.MetricsClient
}

// NewCachedEmbedder creates a cached embedder over the given provider.
func NewCachedEmbedder(provider Provider, cache *resultcache.ResultCache, config EmbedderConfig, logger observability.Logger, metrics observability.MetricsClient) *CachedEmbedder {
	def := DefaultEmbedderConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	maxRetries := defaultMaxRetries
	if config.MaxRetries != nil {
		maxRetries = *config.MaxRetries
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = def.BreakerThreshold
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = def.BreakerTimeout
	}
	if logger == nil {
		logger = observability.NewStandardLogger("embedding")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	threshold := config.BreakerThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding-provider",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &CachedEmbedder{
		provider:   provider,
		cache:      cache,
		config:     config,
		maxRetries: maxRetries,
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		breaker:    breaker,
		logger:     logger,
		metrics:    metrics,
	}
}

// Model returns the embedding model identifier in use.
func (e *CachedEmbedder) Model() string {
	return e.config.Model
}

// Provider returns the underlying provider.
func (e *CachedEmbedder) Provider() Provider {
	return e.provider
}

// Embed returns the embedding vector for text, consulting the cache
// first. Cache hits return the stored vector bit for bit.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if vec, ok := e.cache.GetEmbedding(ctx, text, e.config.Model); ok {
			return vec, nil
		}
	}

	resp, err := e.callProvider(ctx, text)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.SetEmbedding(ctx, text, e.config.Model, resp.Embedding)
	}
	return resp.Embedding, nil
}

// EmbedBatch embeds several texts, serving what it can from cache and
// batching the remainder within the provider's size limit. The returned
// slice is index-aligned with texts.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))

	for i, text := range texts {
		if e.cache != nil {
			if vec, ok := e.cache.GetEmbedding(ctx, text, e.config.Model); ok {
				vectors[i] = vec
				continue
			}
		}
		missing = append(missing, i)
	}

	limit := e.provider.MaxBatchSize()
	if limit <= 0 {
		// A misbehaving provider must not stall the chunking loop.
		limit = 1
	}
	for start := 0; start < len(missing); start += limit {
		end := start + limit
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]

		batch := make([]string, len(chunk))
		for j, idx := range chunk {
			batch[j] = texts[idx]
		}

		resp, err := e.callProviderBatch(ctx, batch)
		if err != nil {
			return nil, err
		}

		for j, idx := range chunk {
			vectors[idx] = resp.Embeddings[j]
			if e.cache != nil {
				e.cache.SetEmbedding(ctx, texts[idx], e.config.Model, resp.Embeddings[j])
			}
		}
	}

	return vectors, nil
}

func (e *CachedEmbedder) callProvider(ctx context.Context, text string) (*Response, error) {
	var resp *Response
	err := e.execute(ctx, func() error {
		r, err := e.provider.GenerateEmbedding(ctx, GenerateRequest{Text: text, Model: e.config.Model})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

func (e *CachedEmbedder) callProviderBatch(ctx context.Context, texts []string) (*BatchResponse, error) {
	var resp *BatchResponse
	err := e.execute(ctx, func() error {
		r, err := e.provider.BatchGenerateEmbeddings(ctx, BatchGenerateRequest{Texts: texts, Model: e.config.Model})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

// execute runs fn through the rate limiter, circuit breaker, and
// bounded exponential backoff. Non-retryable provider errors abort the
// retry loop immediately.
func (e *CachedEmbedder) execute(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.InitialBackoff
	b.MaxInterval = e.config.MaxBackoff
	b.Reset()

	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		_, err := e.breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		e.metrics.RecordProviderOperation(e.provider.Name(), "embed", err == nil, time.Since(start).Seconds())

		if err == nil {
			return nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(fmt.Errorf("embedding provider circuit open: %w", err))
		}
		if IsRetryableError(err) {
			e.logger.Warn("embedding provider call failed, retrying", map[string]interface{}{
				"provider": e.provider.Name(),
				"error":    err.Error(),
			})
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, e.maxRetries), ctx))
}
