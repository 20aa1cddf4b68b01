package search

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/rag-engine/pkg/cache"
	"github.com/ragstack/rag-engine/pkg/cache/resultcache"
	"github.com/ragstack/rag-engine/pkg/database"
	"github.com/ragstack/rag-engine/pkg/embedding"
	"github.com/ragstack/rag-engine/pkg/observability"
	"github.com/ragstack/rag-engine/pkg/vectorstore"
)

type testEngine struct {
	engine   *Engine
	mock     sqlmock.Sqlmock
	provider *embedding.MockProvider
}

func newTestEngine(t *testing.T, withCache bool) *testEngine {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := database.NewFromDB(sqlx.NewDb(mockDB, "sqlmock"), observability.NewNoopLogger())
	store := vectorstore.New(db, observability.NewNoopLogger(), nil)

	var rc *resultcache.ResultCache
	if withCache {
		mr := miniredis.RunT(t)
		redisStore := cache.NewRedisStore(cache.RedisConfig{Address: mr.Addr()}, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
		t.Cleanup(func() { _ = redisStore.Close() })
		rc = resultcache.New(redisStore, resultcache.Config{})
	}

	provider := embedding.NewMockProvider(2)
	embedder := embedding.NewCachedEmbedder(provider, rc, embedding.EmbedderConfig{
		Model:             "test-model",
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		RequestsPerSecond: 1000,
		Burst:             100,
	}, observability.NewNoopLogger(), nil)

	eng := New(store, embedder, rc, Config{DefaultTopK: 5, DefaultThreshold: 0.7, CacheResults: withCache},
		observability.NewNoopLogger(), nil)
	return &testEngine{engine: eng, mock: mock, provider: provider}
}

func expectSimilarityQuery(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(`1 - \(embedding <=> \$1::vector\)`).WillReturnRows(rows)
}

func resultRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"document_id", "content", "metadata", "score"})
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	te := newTestEngine(t, false)

	_, err := te.engine.Search(context.Background(), "", Options{TopK: 5})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchTopKZeroReturnsEmpty(t *testing.T) {
	te := newTestEngine(t, false)

	results, err := te.engine.Search(context.Background(), "anything", Options{TopK: 0, Collection: "documents"})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, te.provider.Calls(), "nothing should be embedded for an empty request")
	assert.NoError(t, te.mock.ExpectationsWereMet())
}

func TestSearchNoActiveCollection(t *testing.T) {
	te := newTestEngine(t, false)

	te.mock.ExpectQuery(`WHERE is_active`).WillReturnError(sql.ErrNoRows)

	_, err := te.engine.Search(context.Background(), "find documents", Options{TopK: 5, Threshold: 0.7})
	assert.ErrorIs(t, err, vectorstore.ErrNoActiveCollection)
}

func TestSearchUsesActiveCollectionByDefault(t *testing.T) {
	te := newTestEngine(t, false)

	te.mock.ExpectQuery(`WHERE is_active`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "dimensions", "description", "is_active", "created_at"},
		).AddRow(uuid.New(), "documents", 2, "", true, time.Now()))
	expectSimilarityQuery(te.mock, resultRows().
		AddRow("d1", "best match", nil, 0.95).
		AddRow("d2", "second", nil, 0.80))

	results, err := te.engine.Search(context.Background(), "find documents", Options{TopK: 5, Threshold: 0.7})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d1", results[0].DocumentID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.NoError(t, te.mock.ExpectationsWereMet())
}

func TestSearchExplicitCollectionSkipsActiveLookup(t *testing.T) {
	te := newTestEngine(t, false)

	expectSimilarityQuery(te.mock, resultRows().AddRow("d1", "hit", nil, 0.9))

	results, err := te.engine.Search(context.Background(), "query", Options{
		TopK: 3, Threshold: 0.5, Collection: "archive",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, te.mock.ExpectationsWereMet())
}

func TestSearchServesRepeatFromCache(t *testing.T) {
	te := newTestEngine(t, true)

	expectSimilarityQuery(te.mock, resultRows().AddRow("d1", "hit", nil, 0.9))

	opts := Options{TopK: 3, Threshold: 0.5, Collection: "documents"}
	first, err := te.engine.Search(context.Background(), "repeated query", opts)
	require.NoError(t, err)

	// Identical query again: served from the result cache, no second
	// database round trip.
	second, err := te.engine.Search(context.Background(), "repeated query", opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NoError(t, te.mock.ExpectationsWereMet())
}

func TestSearchDifferentParamsMissCache(t *testing.T) {
	te := newTestEngine(t, true)

	expectSimilarityQuery(te.mock, resultRows().AddRow("d1", "hit", nil, 0.9))
	expectSimilarityQuery(te.mock, resultRows().AddRow("d1", "hit", nil, 0.9))

	_, err := te.engine.Search(context.Background(), "query", Options{TopK: 3, Threshold: 0.5, Collection: "documents"})
	require.NoError(t, err)
	_, err = te.engine.Search(context.Background(), "query", Options{TopK: 4, Threshold: 0.5, Collection: "documents"})
	require.NoError(t, err)

	assert.NoError(t, te.mock.ExpectationsWereMet())
}

func TestDefaultOptions(t *testing.T) {
	te := newTestEngine(t, false)

	opts := te.engine.DefaultOptions()
	assert.Equal(t, 5, opts.TopK)
	assert.InDelta(t, 0.7, opts.Threshold, 1e-9)
	assert.Empty(t, opts.Collection)
}
