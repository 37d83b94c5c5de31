package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection. Every strategy and grid
// evaluation persists through this pool concurrently, so sizing is exposed
// through options rather than left to pgx defaults.
type Pool struct {
	*pgxpool.Pool
}

// PoolOption customizes pool construction.
type PoolOption func(*pgxpool.Config)

// WithMaxConns caps the number of open connections. The scheduler runs one
// evaluation per instance, so this bounds write pressure under many instances.
func WithMaxConns(n int32) PoolOption {
	return func(cfg *pgxpool.Config) {
		cfg.MaxConns = n
	}
}

// WithConnectTimeout bounds how long establishing a single connection may take.
func WithConnectTimeout(d time.Duration) PoolOption {
	return func(cfg *pgxpool.Config) {
		cfg.ConnConfig.ConnectTimeout = d
	}
}

// NewPool creates a Postgres connection pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string, opts ...PoolOption) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	for _, opt := range opts {
		opt(config)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// unique_violation
const pgErrUniqueViolation = "23505"

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
