// Package db implements the session store on PostgreSQL: repositories per
// aggregate over a shared pgx pool, with goose migrations applied at
// startup.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool shared by the repositories.
type DB struct {
	pool *pgxpool.Pool

	// opTimeout is the per-operation deadline applied to every query when
	// the caller's context has none.
	opTimeout time.Duration
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, dsn string, opTimeout time.Duration) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &DB{pool: pool, opTimeout: opTimeout}, nil
}

// Close closes the connection pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool returns the underlying pool.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// opCtx applies the per-operation deadline when the caller has none.
func (d *DB) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.opTimeout)
}
