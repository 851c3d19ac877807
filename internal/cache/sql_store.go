package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cohortweaver/internal/core"
)

// Dialect selects the bind-parameter style of an SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DefaultTable is the table SQLStore uses when none is configured.
const DefaultTable = "cohort_cache"

// SQLStore keeps entries in a single table of a database/sql database.
//
// Schema:
//
//	fingerprint  TEXT PRIMARY KEY
//	identifiers  TEXT      (JSON array, ascending)
//	created_at   BIGINT    (unix nanoseconds, UTC)
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// NewSQLStore creates the cache table if needed and returns a store over it.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("nil database")
	}
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported cache dialect %q", dialect)
	}
	if table == "" {
		table = DefaultTable
	}
	if strings.ContainsAny(table, " ;'\"`") {
		return nil, fmt.Errorf("invalid cache table name %q", table)
	}

	s := &SQLStore{db: db, dialect: dialect, table: table}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	fingerprint TEXT PRIMARY KEY,
	identifiers TEXT NOT NULL,
	created_at  BIGINT NOT NULL
)`, table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("creating cache table: %w", err)
	}
	return s, nil
}

func (s *SQLStore) bind(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, fp core.Fingerprint) (*Entry, error) {
	q := fmt.Sprintf("SELECT identifiers, created_at FROM %s WHERE fingerprint = %s", s.table, s.bind(1))

	var raw string
	var created int64
	err := s.db.QueryRowContext(ctx, q, string(fp)).Scan(&raw, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache row: %w", err)
	}

	ids := core.NewIdentifierSet()
	if err := json.Unmarshal([]byte(raw), ids); err != nil {
		return nil, fmt.Errorf("parsing cache row: %w", err)
	}
	return &Entry{Fingerprint: fp, Identifiers: ids, CreatedAt: time.Unix(0, created).UTC()}, nil
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	raw, err := json.Marshal(entry.Identifiers)
	if err != nil {
		return fmt.Errorf("marshaling identifiers: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (fingerprint, identifiers, created_at) VALUES (%s, %s, %s)
ON CONFLICT (fingerprint) DO UPDATE SET identifiers = excluded.identifiers, created_at = excluded.created_at`,
		s.table, s.bind(1), s.bind(2), s.bind(3))
	if _, err := s.db.ExecContext(ctx, q, string(entry.Fingerprint), string(raw), entry.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("writing cache row: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, fp core.Fingerprint) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE fingerprint = %s", s.table, s.bind(1))
	if _, err := s.db.ExecContext(ctx, q, string(fp)); err != nil {
		return fmt.Errorf("deleting cache row: %w", err)
	}
	return nil
}
