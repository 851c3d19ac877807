// Package sqlexec runs resolved query text against a database and reads the
// first column of every row as a record identifier.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cohortweaver/internal/core"
)

// Executor is the execution collaborator of the runner.
//
// Execute must honour ctx promptly and apply timeout (when positive) to the
// query alone. Errors match core.ErrCancelled when ctx was cancelled,
// core.ErrTimeout when the timeout elapsed and core.ErrExecution otherwise.
type Executor interface {
	Execute(ctx context.Context, sqlText string, timeout time.Duration) (*core.IdentifierSet, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, sqlText string, timeout time.Duration) (*core.IdentifierSet, error)

func (f ExecutorFunc) Execute(ctx context.Context, sqlText string, timeout time.Duration) (*core.IdentifierSet, error) {
	return f(ctx, sqlText, timeout)
}

// DBExecutor executes queries through database/sql.
type DBExecutor struct {
	DB *sql.DB
}

// NewDBExecutor wraps db.
func NewDBExecutor(db *sql.DB) *DBExecutor {
	return &DBExecutor{DB: db}
}

// Execute implements Executor.
func (e *DBExecutor) Execute(ctx context.Context, sqlText string, timeout time.Duration) (*core.IdentifierSet, error) {
	qctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	rows, err := e.DB.QueryContext(qctx, sqlText)
	if err != nil {
		return nil, classify(ctx, qctx, timeout, err)
	}
	defer rows.Close()

	ids := core.NewIdentifierSet()
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, classify(ctx, qctx, timeout, err)
		}
		if id, ok := identifierString(v); ok {
			ids.Add(id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, qctx, timeout, err)
	}
	// Some drivers report an interrupted query as end of rows.
	if qctx.Err() != nil {
		return nil, classify(ctx, qctx, timeout, qctx.Err())
	}
	return ids, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// classify maps a driver error onto the error taxonomy. Cancellation of the
// caller's context wins over the query's own deadline.
func classify(parent, qctx context.Context, timeout time.Duration, err error) error {
	switch {
	case parent.Err() != nil:
		return core.NewError(core.ErrCancelled, "", parent.Err(), "query cancelled")
	case errors.Is(qctx.Err(), context.DeadlineExceeded):
		return core.NewError(core.ErrTimeout, "", context.DeadlineExceeded, "query exceeded timeout of %s", timeout)
	default:
		return core.NewError(core.ErrExecution, "", err, "query failed")
	}
}

// identifierString renders one identifier cell; NULL cells are skipped.
func identifierString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}
