package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"cohortweaver/internal/cache"
	"cohortweaver/internal/config"
	"cohortweaver/internal/sqlexec"
)

// Driver names registered with database/sql.
const (
	sqliteDriver = "sqlite"
	pgxDriver    = "pgx"
)

type closeFunc func() error

func nopClose() error { return nil }

// openExecutor connects to the database cohort queries run against.
func openExecutor(ctx context.Context, cfg config.DatabaseConfig) (sqlexec.Executor, closeFunc, error) {
	if cfg.DSN == "" {
		return nil, nil, errors.New("database.dsn is required")
	}
	switch cfg.Driver {
	case config.DatabaseSQLite:
		db, err := sql.Open(sqliteDriver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping sqlite: %w", err)
		}
		return sqlexec.NewDBExecutor(db), db.Close, nil
	case config.DatabasePostgres:
		exec, err := sqlexec.NewPgxExecutor(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return exec, func() error { exec.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// openCache builds the cache manager for the configured medium. A nil
// manager means caching is disabled.
func openCache(ctx context.Context, cfg config.CacheConfig, log logrus.FieldLogger) (*cache.Coordinator, closeFunc, error) {
	var (
		store cache.Store
		done  closeFunc = nopClose
	)
	switch cfg.Driver {
	case config.CacheNone:
		return nil, nopClose, nil
	case config.CacheMemory:
		s, err := cache.NewMemoryStore(cfg.Size)
		if err != nil {
			return nil, nil, err
		}
		store = s
	case config.CacheFile:
		store = cache.NewFileStore(cfg.Path)
	case config.CacheSQLite, config.CachePostgres:
		driver, dialect := sqliteDriver, cache.DialectSQLite
		if cfg.Driver == config.CachePostgres {
			driver, dialect = pgxDriver, cache.DialectPostgres
		}
		db, err := sql.Open(driver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s cache: %w", cfg.Driver, err)
		}
		s, err := cache.NewSQLStore(ctx, db, dialect, cfg.Table)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		store, done = s, db.Close
	default:
		return nil, nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
	return cache.NewCoordinator(store, log), done, nil
}
