// Package database manages the PostgreSQL connection pool used by the
// vector collection store.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	// PostgreSQL driver
	_ "github.com/lib/pq"

	"github.com/ragstack/rag-engine/pkg/observability"
)

// Config contains database connection configuration
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Database wraps the sqlx connection pool with transaction helpers.
type Database struct {
	db     *sqlx.DB
	logger observability.Logger
}

// New connects to PostgreSQL and verifies connectivity and the pgvector
// extension.
func New(ctx context.Context, cfg Config, logger observability.Logger) (*Database, error) {
	if logger == nil {
		logger = observability.NewStandardLogger("database")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{db: db, logger: logger}
	if err := d.checkVectorExtension(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return d, nil
}

// NewFromDB wraps an existing sqlx connection (used by tests).
func NewFromDB(db *sqlx.DB, logger observability.Logger) *Database {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Database{db: db, logger: logger}
}

func (d *Database) checkVectorExtension(ctx context.Context) error {
	var exists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_extension WHERE extname = 'vector'
		)
	`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !exists {
		return fmt.Errorf("pgvector extension is not installed")
	}
	return nil
}

// DB returns the underlying sqlx connection pool.
func (d *Database) DB() *sqlx.DB {
	return d.db
}

// Transaction runs fn in a transaction, rolling back on error.
func (d *Database) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("failed to roll back transaction", map[string]interface{}{
				"error": rbErr.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}
