package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"cohortweaver/internal/core"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewMemoryStore(8)
	require.NoError(t, err)
	sqlStore, err := NewSQLStore(context.Background(), openSQLite(t), DialectSQLite, "")
	require.NoError(t, err)
	return map[string]Store{
		"memory": mem,
		"file":   NewFileStore(t.TempDir()),
		"sql":    sqlStore,
	}
}

func TestStores_PutGetDelete(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fp := core.Fingerprint("ab12cd34")

			got, err := store.Get(ctx, fp)
			require.NoError(t, err)
			assert.Nil(t, got)

			created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, store.Put(ctx, &Entry{Fingerprint: fp, Identifiers: core.NewIdentifierSet("3", "1", "2"), CreatedAt: created}))

			got, err = store.Get(ctx, fp)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, fp, got.Fingerprint)
			assert.Equal(t, []string{"1", "2", "3"}, got.Identifiers.Slice())
			assert.True(t, created.Equal(got.CreatedAt))

			// Overwrite replaces the entry.
			require.NoError(t, store.Put(ctx, &Entry{Fingerprint: fp, Identifiers: core.NewIdentifierSet(), CreatedAt: created}))
			got, err = store.Get(ctx, fp)
			require.NoError(t, err)
			assert.Equal(t, 0, got.Identifiers.Len())

			require.NoError(t, store.Delete(ctx, fp))
			require.NoError(t, store.Delete(ctx, fp))
			got, err = store.Get(ctx, fp)
			require.NoError(t, err)
			assert.Nil(t, got)

			assert.Error(t, store.Put(ctx, nil))
		})
	}
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	fp := core.Fingerprint("ffee0011")
	require.NoError(t, store.Put(context.Background(), &Entry{Fingerprint: fp, Identifiers: core.NewIdentifierSet("a")}))

	entries, err := os.ReadDir(filepath.Join(dir, "ff"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ffee0011.json", entries[0].Name())
}

func TestFileStore_CorruptEntryIsAnError(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "de"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "de", "deadbeef.json"), []byte("{not json"), 0o644))

	_, err := store.Get(context.Background(), "deadbeef")
	assert.Error(t, err)
}

func TestMemoryStore_Bounded(t *testing.T) {
	store, err := NewMemoryStore(2)
	require.NoError(t, err)
	ctx := context.Background()
	for _, fp := range []core.Fingerprint{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, &Entry{Fingerprint: fp, Identifiers: core.NewIdentifierSet()}))
	}
	assert.Equal(t, 2, store.Len())
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = NewMemoryStore(0)
	assert.Error(t, err)
}

func TestNewSQLStore_RejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	_, err := NewSQLStore(ctx, nil, DialectSQLite, "")
	assert.Error(t, err)
	_, err = NewSQLStore(ctx, openSQLite(t), Dialect("oracle"), "")
	assert.Error(t, err)
	_, err = NewSQLStore(ctx, openSQLite(t), DialectSQLite, "x; DROP TABLE y")
	assert.Error(t, err)
}
