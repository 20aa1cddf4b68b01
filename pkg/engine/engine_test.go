package engine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/rag-engine/pkg/cache"
	"github.com/ragstack/rag-engine/pkg/cache/resultcache"
	"github.com/ragstack/rag-engine/pkg/database"
	"github.com/ragstack/rag-engine/pkg/embedding"
	"github.com/ragstack/rag-engine/pkg/observability"
	"github.com/ragstack/rag-engine/pkg/pipeline"
	"github.com/ragstack/rag-engine/pkg/search"
	"github.com/ragstack/rag-engine/pkg/vectorstore"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	redisStore := cache.NewRedisStore(cache.RedisConfig{Address: mr.Addr()}, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	rc := resultcache.New(redisStore, resultcache.Config{})

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := database.NewFromDB(sqlx.NewDb(mockDB, "sqlmock"), observability.NewNoopLogger())
	store := vectorstore.New(db, observability.NewNoopLogger(), nil)

	embedder := embedding.NewCachedEmbedder(embedding.NewMockProvider(2), rc, embedding.EmbedderConfig{
		Model:             "test-model",
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		RequestsPerSecond: 1000,
		Burst:             100,
	}, observability.NewNoopLogger(), nil)

	svc := pipeline.NewService(client, embedder, store, pipeline.Config{Workers: 1, PollTimeout: 50 * time.Millisecond},
		observability.NewNoopLogger(), nil)
	searcher := search.New(store, embedder, rc, search.Config{DefaultTopK: 5, DefaultThreshold: 0.7},
		observability.NewNoopLogger(), nil)

	eng, err := New(Deps{
		Store:    store,
		Embedder: embedder,
		Cache:    rc,
		Pipeline: svc,
		Search:   searcher,
		Logger:   observability.NewNoopLogger(),
		Metrics:  observability.NewNoopMetricsClient(),
	})
	require.NoError(t, err)
	return eng, mock
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestSearchExplicitZeroTopKReturnsEmpty(t *testing.T) {
	eng, mock := newTestEngine(t)

	zero := 0
	results, err := eng.Search(context.Background(), SearchRequest{
		Query:      "anything",
		Collection: "documents",
		TopK:       &zero,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchDefaultsFillUnsetParams(t *testing.T) {
	eng, mock := newTestEngine(t)

	mock.ExpectQuery(`1 - \(embedding <=> \$1::vector\)`).
		WithArgs(sqlmock.AnyArg(), 0.7, 5).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "content", "metadata", "score"}).
			AddRow("d1", "hit", nil, 0.9))

	results, err := eng.Search(context.Background(), SearchRequest{
		Query:      "anything",
		Collection: "documents",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbedSingleIsCached(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.EmbedSingle(ctx, "hello world")
	require.NoError(t, err)
	second, err := eng.EmbedSingle(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInvalidateCacheIsDomainScoped(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.EmbedSingle(ctx, "some text")
	require.NoError(t, err)

	deleted, err := eng.InvalidateCache(ctx, resultcache.DomainEmbedding)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = eng.InvalidateCache(ctx, "bogus")
	assert.Error(t, err)
}

func TestCacheHealthAndStats(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	health := eng.CacheHealth(ctx)
	assert.True(t, health.Reachable)

	_, err := eng.EmbedSingle(ctx, "text for stats")
	require.NoError(t, err)

	stats := eng.CacheStats(ctx)
	assert.True(t, stats.Reachable)
	assert.Equal(t, int64(1), stats.Domains[resultcache.DomainEmbedding].Keys)
}
