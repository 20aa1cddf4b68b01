package vectorstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack/rag-engine/pkg/database"
	"github.com/ragstack/rag-engine/pkg/models"
	"github.com/ragstack/rag-engine/pkg/observability"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := database.NewFromDB(sqlx.NewDb(mockDB, "sqlmock"), observability.NewNoopLogger())
	return New(db, observability.NewNoopLogger(), observability.NewNoopMetricsClient()), mock
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"documents", false},
		{"docs_v2", false},
		{"a", false},
		{"", true},
		{"9docs", true},
		{"Docs", true},
		{"docs-v2", true},
		{"select", true},
		{"collections", true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidName, "name %q", tt.name)
		} else {
			assert.NoError(t, err, "name %q", tt.name)
		}
	}
}

func TestCreateRejectsInvalidDimension(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Create(context.Background(), "documents", 0, "")
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, err = store.Create(context.Background(), "documents", -3, "")
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestCreateRejectsInvalidName(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Create(context.Background(), "Bad-Name", 1536, "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestCreateRegistersCollectionAndTable(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO rag.collections`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`CREATE TABLE rag.vec_documents`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX vec_documents_embedding_idx`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX vec_documents_document_id_idx`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	meta, err := store.Create(context.Background(), "documents", 1536, "primary corpus")
	require.NoError(t, err)
	assert.Equal(t, "documents", meta.Name)
	assert.Equal(t, 1536, meta.Dimensions)
	assert.False(t, meta.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateName(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO rag.collections`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := store.Create(context.Background(), "documents", 1536, "")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, name, dimensions`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetIncludesRowCount(t *testing.T) {
	store, mock := newTestStore(t)

	id := uuid.New()
	mock.ExpectQuery(`SELECT id, name, dimensions`).
		WithArgs("documents").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "dimensions", "description", "is_active", "created_at"},
		).AddRow(id, "documents", 1536, "", true, time.Now()))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rag.vec_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	meta, err := store.Get(context.Background(), "documents")
	require.NoError(t, err)
	assert.Equal(t, int64(42), meta.RowCount)
	assert.True(t, meta.IsActive)
}

func TestActiveNone(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`WHERE is_active`).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Active(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveCollection)
}

func TestSwitchActiveUnknownCollection(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM rag.collections WHERE name = \$1 FOR UPDATE`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.SwitchActive(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSwitchActiveClearsHolderBeforeSettingTarget(t *testing.T) {
	store, mock := newTestStore(t)

	// Order matters: the previous holder's flag must drop before the
	// target's rises, or the partial unique index rejects the row whose
	// flag is raised while the old TRUE entry is still live. Both
	// statements run in one transaction, so readers still see exactly
	// one active collection.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM rag.collections WHERE name = \$1 FOR UPDATE`).
		WithArgs("documents").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectExec(`UPDATE rag.collections SET is_active = FALSE\s+WHERE is_active AND name <> \$1`).
		WithArgs("documents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE rag.collections SET is_active = TRUE WHERE name = \$1`).
		WithArgs("documents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SwitchActive(context.Background(), "documents")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteActiveCollectionRefused(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_active FROM rag.collections WHERE name = \$1 FOR UPDATE`).
		WithArgs("documents").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))
	mock.ExpectRollback()

	err := store.Delete(context.Background(), "documents")
	assert.ErrorIs(t, err, ErrInUse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDropsTableAndRegistryRow(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_active FROM rag.collections WHERE name = \$1 FOR UPDATE`).
		WithArgs("old_docs").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(false))
	mock.ExpectExec(`DROP TABLE IF EXISTS rag.vec_old_docs`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM rag.collections WHERE name = \$1`).
		WithArgs("old_docs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Delete(context.Background(), "old_docs")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchDimensionMismatch(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT dimensions FROM rag.collections`).
		WithArgs("documents").
		WillReturnRows(sqlmock.NewRows([]string{"dimensions"}).AddRow(3))

	err := store.InsertBatch(context.Background(), "documents", []*models.VectorRecord{
		{DocumentID: "d1", Content: "hello", Embedding: []float32{0.1, 0.2}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestInsertBatchWritesAllRecords(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT dimensions FROM rag.collections`).
		WithArgs("documents").
		WillReturnRows(sqlmock.NewRows([]string{"dimensions"}).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO rag.vec_documents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO rag.vec_documents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InsertBatch(context.Background(), "documents", []*models.VectorRecord{
		{DocumentID: "d1", Content: "first", Embedding: []float32{0.1, 0.2}},
		{DocumentID: "d2", Content: "second", Embedding: []float32{0.3, 0.4}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTopKZeroReturnsEmpty(t *testing.T) {
	store, mock := newTestStore(t)

	results, err := store.Query(context.Background(), "documents", []float32{0.1}, 0, 0.7)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryPassesThresholdAndLimit(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"document_id", "content", "metadata", "score"}).
		AddRow("d1", "closest", []byte(`{"source":"a"}`), 0.98).
		AddRow("d2", "second", nil, 0.81)
	mock.ExpectQuery(`1 - \(embedding <=> \$1::vector\) >= \$2`).
		WithArgs("[0.5,0.5]", 0.7, 2).
		WillReturnRows(rows)

	results, err := store.Query(context.Background(), "documents", []float32{0.5, 0.5}, 2, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d1", results[0].DocumentID)
	assert.InDelta(t, 0.98, results[0].Score, 1e-9)
	assert.JSONEq(t, `{"source":"a"}`, string(results[0].Metadata))
	assert.Nil(t, results[1].Metadata)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestStatsAggregatesRowCounts(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT id, name, dimensions`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "dimensions", "description", "is_active", "created_at"},
		).
			AddRow(uuid.New(), "documents", 1536, "", true, now).
			AddRow(uuid.New(), "archive", 768, "", false, now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rag.vec_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(40))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rag.vec_archive`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.Collections, 2)
	assert.Equal(t, int64(42), stats.TotalRows)
	assert.Equal(t, int64(40), stats.Collections[0].Rows)
	assert.True(t, stats.Collections[0].IsActive)
	assert.Equal(t, 768, stats.Collections[1].Dimensions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", VectorLiteral(nil))
	assert.Equal(t, "[1,0,-1]", VectorLiteral([]float32{1, 0, -1}))
	assert.Equal(t, "[0.25,0.5]", VectorLiteral([]float32{0.25, 0.5}))
}
