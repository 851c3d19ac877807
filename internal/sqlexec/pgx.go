package sqlexec

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cohortweaver/internal/core"
)

// PgxExecutor executes queries against PostgreSQL through a pgx pool.
type PgxExecutor struct {
	Pool *pgxpool.Pool
}

// NewPgxExecutor opens a pool for dsn and verifies it with a ping.
func NewPgxExecutor(ctx context.Context, dsn string) (*PgxExecutor, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PgxExecutor{Pool: pool}, nil
}

// Execute implements Executor.
func (e *PgxExecutor) Execute(ctx context.Context, sqlText string, timeout time.Duration) (*core.IdentifierSet, error) {
	qctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	rows, err := e.Pool.Query(qctx, sqlText)
	if err != nil {
		return nil, classify(ctx, qctx, timeout, err)
	}
	defer rows.Close()

	ids := core.NewIdentifierSet()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classify(ctx, qctx, timeout, err)
		}
		if len(values) == 0 {
			continue
		}
		if id, ok := identifierString(values[0]); ok {
			ids.Add(id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, qctx, timeout, err)
	}
	return ids, nil
}

// Close releases the pool.
func (e *PgxExecutor) Close() {
	e.Pool.Close()
}
