package sqlexec

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"cohortweaver/internal/core"
)

func openPatients(t *testing.T) *DBExecutor {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "patients.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`create table patients (id text, chi integer, birth_year integer)`)
	require.NoError(t, err)
	_, err = db.Exec(`insert into patients values
		('p1', 101, 1980), ('p2', 102, 1995), ('p3', 103, 2001),
		('p3', 103, 2001), (null, 104, 2010)`)
	require.NoError(t, err)
	return NewDBExecutor(db)
}

func TestDBExecutor_ReadsFirstColumnAsIdentifiers(t *testing.T) {
	exec := openPatients(t)

	ids, err := exec.Execute(context.Background(), `select id, birth_year from patients where birth_year > 1990`, time.Second)
	require.NoError(t, err)
	// Duplicates collapse and NULL identifiers are skipped.
	assert.Equal(t, []string{"p2", "p3"}, ids.Slice())

	ids, err = exec.Execute(context.Background(), `select chi from patients`, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "102", "103", "104"}, ids.Slice())
}

func TestDBExecutor_EmptyResultIsEmptySet(t *testing.T) {
	exec := openPatients(t)

	ids, err := exec.Execute(context.Background(), `select id from patients where birth_year > 3000`, time.Second)
	require.NoError(t, err)
	require.NotNil(t, ids)
	assert.Zero(t, ids.Len())
}

func TestDBExecutor_SyntaxErrorIsExecutionError(t *testing.T) {
	exec := openPatients(t)

	_, err := exec.Execute(context.Background(), `selec id frm patients`, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExecution)
	assert.NotErrorIs(t, err, core.ErrTimeout)
}

func TestDBExecutor_TimeoutIsReported(t *testing.T) {
	exec := openPatients(t)
	slow := `with recursive c(x) as (select 1 union all select x + 1 from c where x < 200000000)
		select count(*) from c`

	start := time.Now()
	_, err := exec.Execute(context.Background(), slow, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "50ms")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestDBExecutor_CallerCancellationWins(t *testing.T) {
	exec := openPatients(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, `select id from patients`, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIdentifierString(t *testing.T) {
	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	tests := []struct {
		in   any
		want string
		ok   bool
	}{
		{nil, "", false},
		{"abc", "abc", true},
		{[]byte("xyz"), "xyz", true},
		{int64(-7), "-7", true},
		{int32(12), "12", true},
		{float64(1.5), "1.5", true},
		{ts, "2020-01-02T02:04:05Z", true},
		{true, "true", true},
	}
	for _, tc := range tests {
		got, ok := identifierString(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}
}

func TestExecutorFunc(t *testing.T) {
	var gotTimeout time.Duration
	f := ExecutorFunc(func(_ context.Context, sqlText string, timeout time.Duration) (*core.IdentifierSet, error) {
		gotTimeout = timeout
		return core.NewIdentifierSet(sqlText), nil
	})

	ids, err := f.Execute(context.Background(), "x", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids.Slice())
	assert.Equal(t, 3*time.Second, gotTimeout)
}
