package dag

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cohortweaver/internal/cache"
	"cohortweaver/internal/core"
)

// fakeExec serves identifier sets keyed by query text and records how often
// and how concurrently each query ran.
type fakeExec struct {
	mu      sync.Mutex
	results map[string][]string
	errs    map[string]error
	panics  map[string]bool
	// gates hold a query until closed or until its context is done.
	gates   map[string]chan struct{}
	delay   time.Duration
	onStart func(sql string)
	started chan string

	calls   map[string]int
	running int
	peak    int
}

func (f *fakeExec) Execute(ctx context.Context, sql string, _ time.Duration) (*core.IdentifierSet, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[sql]++
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	gate := f.gates[sql]
	hook := f.onStart
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if hook != nil {
		hook(sql)
	}
	if f.started != nil {
		f.started <- sql
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// Encourage scheduler interleavings.
	runtime.Gosched()

	f.mu.Lock()
	err := f.errs[sql]
	doPanic := f.panics[sql]
	ids := f.results[sql]
	f.mu.Unlock()

	if doPanic {
		panic("driver exploded")
	}
	if err != nil {
		return nil, err
	}
	return core.NewIdentifierSet(ids...), nil
}

func (f *fakeExec) Calls(sql string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[sql]
}

func (f *fakeExec) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeExec) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func leaf(id, sql string) *core.Node {
	return &core.Node{ID: id, Kind: core.KindLeaf, SQL: sql}
}

// container orders children as given.
func container(id string, op core.SetOperation, children ...*core.Node) *core.Node {
	for i, c := range children {
		c.Order = i + 1
	}
	return &core.Node{ID: id, Kind: core.KindContainer, Operation: op, Children: children}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func newCoordinator(t *testing.T) *cache.Coordinator {
	t.Helper()
	store, err := cache.NewMemoryStore(64)
	require.NoError(t, err)
	c := cache.NewCoordinator(store, quietLogger())
	c.CommitRetries = 0
	return c
}

func compile(t *testing.T, root *core.Node, opts CompileOptions) *Graph {
	t.Helper()
	g, err := Compile(root, nil, nil, opts)
	require.NoError(t, err)
	return g
}

func newRunner(t *testing.T, g *Graph, exec *fakeExec, opts Options) *Runner {
	t.Helper()
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = 4
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	r, err := NewRunner(g, exec, opts)
	require.NoError(t, err)
	return r
}

func run(t *testing.T, g *Graph, exec *fakeExec, opts Options) *Outcome {
	t.Helper()
	out, err := newRunner(t, g, exec, opts).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}
