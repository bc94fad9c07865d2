// Package postgres manages the connection pool to the canonical listing store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// Config holds pool settings for the transactional store.
type Config struct {
	DSN            string
	MaxOpenConns   int
	MaxIdleConns   int
	ConnectTimeout time.Duration
	MaxLifetime    time.Duration
}

// DB wraps *sql.DB with the pool configuration it was opened with.
type DB struct {
	*sql.DB
	cfg Config
}

// Open opens the pool, applies the pool limits and pings within ConnectTimeout.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return open(ctx, sqlDB, cfg, log)
}

// NewForTest wraps an already opened *sql.DB (e.g. sqlmock) without pinging.
func NewForTest(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB}
}

func open(ctx context.Context, sqlDB *sql.DB, cfg Config, log *zap.Logger) (*DB, error) {
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Info("Postgres connected",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return &DB{DB: sqlDB, cfg: cfg}, nil
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// DSN returns the connection string (used by the LISTEN connection).
func (d *DB) DSN() string { return d.cfg.DSN }
