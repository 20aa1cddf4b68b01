// Package vectorstore implements the vector collection store: a
// registry of named collections, one pgvector-indexed table per
// collection, and ranked similarity queries against them. All lifecycle
// mutations run inside a single transaction so a failed creation or
// deletion never leaves a half-visible collection.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ragstack/rag-engine/pkg/database"
	"github.com/ragstack/rag-engine/pkg/models"
	"github.com/ragstack/rag-engine/pkg/observability"
)

const (
	schemaName = "rag"

	// pq error code for unique_violation
	pqUniqueViolation = "23505"
)

// Store provides collection lifecycle and vector record operations.
type Store struct {
	db      *database.Database
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a collection store.
func New(db *database.Database, logger observability.Logger, metrics observability.MetricsClient) *Store {
	if logger == nil {
		logger = observability.NewStandardLogger("vectorstore")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Store{db: db, logger: logger, metrics: metrics}
}

// EnsureSchema creates the registry schema if it does not exist. The
// partial unique index enforces the at-most-one-active invariant at the
// storage layer, independent of application logic.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		stmts := []string{
			fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schemaName),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s.collections (
					id UUID PRIMARY KEY,
					name TEXT UNIQUE NOT NULL,
					dimensions INTEGER NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, schemaName),
			fmt.Sprintf(`
				CREATE UNIQUE INDEX IF NOT EXISTS collections_single_active_idx
				ON %s.collections ((TRUE)) WHERE is_active`, schemaName),
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to ensure schema: %w", err)
			}
		}
		return nil
	})
}

// Create registers a collection and creates its backing table and ANN
// index in one transaction.
func (s *Store) Create(ctx context.Context, name string, dimensions int, description string) (*models.CollectionMeta, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dimensions)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	meta := &models.CollectionMeta{
		ID:          uuid.New(),
		Name:        name,
		Dimensions:  dimensions,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	start := time.Now()
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.collections (id, name, dimensions, description, is_active, created_at)
			VALUES ($1, $2, $3, $4, FALSE, $5)`, schemaName),
			meta.ID, meta.Name, meta.Dimensions, meta.Description, meta.CreatedAt,
		)
		if err != nil {
			var pgErr *pq.Error
			if errors.As(err, &pgErr) && pgErr.Code == pqUniqueViolation {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
			}
			return fmt.Errorf("failed to register collection: %w", err)
		}

		table := dataTable(name)
		ddl := []string{
			fmt.Sprintf(`
				CREATE TABLE %s (
					id UUID PRIMARY KEY,
					document_id TEXT NOT NULL,
					content TEXT NOT NULL,
					embedding vector(%d) NOT NULL,
					metadata JSONB,
					seq BIGSERIAL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, table, dimensions),
			fmt.Sprintf(`
				CREATE INDEX vec_%s_embedding_idx ON %s
				USING hnsw (embedding vector_cosine_ops)
				WITH (m = 16, ef_construction = 64)`, name, table),
			fmt.Sprintf(`CREATE INDEX vec_%s_document_id_idx ON %s (document_id)`, name, table),
		}
		for _, stmt := range ddl {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create collection table: %w", err)
			}
		}
		return nil
	})
	s.metrics.RecordDatabaseOperation("create_collection", err == nil, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	s.logger.Info("collection created", map[string]interface{}{
		"collection": name,
		"dimensions": dimensions,
	})
	return meta, nil
}

// List returns every registered collection, newest first.
func (s *Store) List(ctx context.Context) ([]models.CollectionMeta, error) {
	var metas []models.CollectionMeta
	err := s.db.DB().SelectContext(ctx, &metas, fmt.Sprintf(`
		SELECT id, name, dimensions, description, is_active, created_at
		FROM %s.collections
		ORDER BY created_at DESC`, schemaName))
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return metas, nil
}

// Get returns a collection's metadata with its live row count.
func (s *Store) Get(ctx context.Context, name string) (*models.CollectionMeta, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var meta models.CollectionMeta
	err := s.db.DB().GetContext(ctx, &meta, fmt.Sprintf(`
		SELECT id, name, dimensions, description, is_active, created_at
		FROM %s.collections
		WHERE name = $1`, schemaName), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	if err := s.db.DB().GetContext(ctx, &meta.RowCount,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, dataTable(name))); err != nil {
		return nil, fmt.Errorf("failed to count collection rows: %w", err)
	}
	return &meta, nil
}

// Active returns the currently active collection.
func (s *Store) Active(ctx context.Context) (*models.CollectionMeta, error) {
	var meta models.CollectionMeta
	err := s.db.DB().GetContext(ctx, &meta, fmt.Sprintf(`
		SELECT id, name, dimensions, description, is_active, created_at
		FROM %s.collections
		WHERE is_active`, schemaName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveCollection
		}
		return nil, fmt.Errorf("failed to get active collection: %w", err)
	}
	return &meta, nil
}

// SwitchActive atomically moves the active flag to the named collection.
// The row lock on the target serializes concurrent switches. The clear
// runs before the set: the partial unique index checks uniqueness per
// row as it is updated, so raising the target while the previous holder
// still carries the flag would trip it. Commit-time atomicity still
// means readers see the old holder or the new one, never neither.
func (s *Store) SwitchActive(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	start := time.Now()
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT id FROM %s.collections WHERE name = $1 FOR UPDATE`, schemaName),
			name).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			return fmt.Errorf("failed to lock collection: %w", err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s.collections SET is_active = FALSE
			WHERE is_active AND name <> $1`, schemaName), name); err != nil {
			return fmt.Errorf("failed to clear active collection: %w", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s.collections SET is_active = TRUE WHERE name = $1`, schemaName),
			name); err != nil {
			return fmt.Errorf("failed to set active collection: %w", err)
		}
		return nil
	})
	s.metrics.RecordDatabaseOperation("switch_active", err == nil, time.Since(start).Seconds())
	if err != nil {
		return err
	}

	s.logger.Info("active collection switched", map[string]interface{}{
		"collection": name,
	})
	return nil
}

// Delete drops a collection's table and registry entry. The active
// collection cannot be deleted.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	start := time.Now()
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var isActive bool
		err := tx.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT is_active FROM %s.collections WHERE name = $1 FOR UPDATE`, schemaName),
			name).Scan(&isActive)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			return fmt.Errorf("failed to lock collection: %w", err)
		}
		if isActive {
			return fmt.Errorf("%w: %s", ErrInUse, name)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, dataTable(name))); err != nil {
			return fmt.Errorf("failed to drop collection table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s.collections WHERE name = $1`, schemaName), name); err != nil {
			return fmt.Errorf("failed to deregister collection: %w", err)
		}
		return nil
	})
	s.metrics.RecordDatabaseOperation("delete_collection", err == nil, time.Since(start).Seconds())
	if err != nil {
		return err
	}

	s.logger.Info("collection deleted", map[string]interface{}{
		"collection": name,
	})
	return nil
}

// Insert writes one embedding record into a collection.
func (s *Store) Insert(ctx context.Context, collection string, rec *models.VectorRecord) error {
	return s.InsertBatch(ctx, collection, []*models.VectorRecord{rec})
}

// InsertBatch writes several embedding records in one transaction. The
// vector length of every record must match the collection's registered
// dimensionality.
func (s *Store) InsertBatch(ctx context.Context, collection string, recs []*models.VectorRecord) error {
	if err := ValidateName(collection); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	var dims int
	err := s.db.DB().GetContext(ctx, &dims, fmt.Sprintf(`
		SELECT dimensions FROM %s.collections WHERE name = $1`, schemaName), collection)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, collection)
		}
		return fmt.Errorf("failed to resolve collection dimensions: %w", err)
	}

	for _, rec := range recs {
		if len(rec.Embedding) != dims {
			return fmt.Errorf("%w: got %d, collection %q expects %d",
				ErrDimensionMismatch, len(rec.Embedding), collection, dims)
		}
	}

	start := time.Now()
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		stmt := fmt.Sprintf(`
			INSERT INTO %s (id, document_id, content, embedding, metadata, created_at)
			VALUES ($1, $2, $3, $4::vector, $5, $6)`, dataTable(collection))

		for _, rec := range recs {
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = time.Now().UTC()
			}
			var metadata interface{}
			if len(rec.Metadata) > 0 {
				metadata = []byte(rec.Metadata)
			}
			if _, err := tx.ExecContext(ctx, stmt,
				rec.ID, rec.DocumentID, rec.Content, VectorLiteral(rec.Embedding),
				metadata, rec.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert embedding: %w", err)
			}
		}
		return nil
	})
	s.metrics.RecordDatabaseOperation("insert_embeddings", err == nil, time.Since(start).Seconds())
	return err
}

// Query runs a ranked cosine-similarity search. The threshold is an
// inclusive lower bound on a [0,1] score; ties break by insertion
// order. topK <= 0 short-circuits to an empty result.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, topK int, threshold float64) ([]models.SearchResult, error) {
	if err := ValidateName(collection); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []models.SearchResult{}, nil
	}

	query := fmt.Sprintf(`
		SELECT document_id, content, metadata,
		       1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE 1 - (embedding <=> $1::vector) >= $2
		ORDER BY score DESC, seq ASC
		LIMIT $3`, dataTable(collection))

	start := time.Now()
	rows, err := s.db.DB().QueryContext(ctx, query, VectorLiteral(vector), threshold, topK)
	s.metrics.RecordDatabaseOperation("query", err == nil, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity query: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	results := []models.SearchResult{}
	for rows.Next() {
		var r models.SearchResult
		var metadata []byte
		if err := rows.Scan(&r.DocumentID, &r.Content, &metadata, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if len(metadata) > 0 {
			r.Metadata = json.RawMessage(metadata)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	return results, nil
}

// CollectionStats summarizes one collection's size.
type CollectionStats struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
	IsActive   bool   `json:"is_active"`
	Rows       int64  `json:"rows"`
}

// Stats aggregates row counts across every registered collection.
type Stats struct {
	Collections []CollectionStats `json:"collections"`
	TotalRows   int64             `json:"total_rows"`
}

// Stats returns per-collection row counts and the total across the
// store. Counts are live, not cached.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	metas, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Collections: make([]CollectionStats, 0, len(metas))}
	for _, meta := range metas {
		var rows int64
		if err := s.db.DB().GetContext(ctx, &rows,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s`, dataTable(meta.Name))); err != nil {
			return nil, fmt.Errorf("failed to count rows for %q: %w", meta.Name, err)
		}
		stats.Collections = append(stats.Collections, CollectionStats{
			Name:       meta.Name,
			Dimensions: meta.Dimensions,
			IsActive:   meta.IsActive,
			Rows:       rows,
		})
		stats.TotalRows += rows
	}
	return stats, nil
}

// VectorLiteral renders a float32 slice in pgvector's input format.
func VectorLiteral(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
