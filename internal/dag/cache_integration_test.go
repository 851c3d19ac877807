package dag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortweaver/internal/cache"
	"cohortweaver/internal/core"
)

func TestRunner_SecondRunIsPureCacheHit(t *testing.T) {
	exec := twoLeafExec()
	mgr := newCoordinator(t)

	first := compile(t, leaf("a", "select a"), CompileOptions{})
	out := run(t, first, exec, Options{Cache: mgr})
	require.Equal(t, StatusSuccess, out.Status)
	assert.False(t, first.Root.FromCache())

	second := compile(t, leaf("a", "select a"), CompileOptions{})
	out = run(t, second, exec, Options{Cache: mgr})
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, []string{"1", "2", "3"}, out.Identifiers.Slice())
	assert.True(t, second.Root.FromCache())
	assert.Equal(t, 1, exec.Calls("select a"))
}

func TestRunner_CachedTreeSkipsExecution(t *testing.T) {
	exec := twoLeafExec()
	mgr := newCoordinator(t)
	tree := func() *core.Node {
		return container("root", core.Intersect, leaf("a", "select a"), leaf("b", "select b"))
	}

	run(t, compile(t, tree(), CompileOptions{}), exec, Options{Cache: mgr})
	g := compile(t, tree(), CompileOptions{})
	out := run(t, g, exec, Options{Cache: mgr})

	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, []string{"2", "3"}, out.Identifiers.Slice())
	assert.Equal(t, 2, exec.TotalCalls())
	for _, task := range g.Tasks() {
		assert.True(t, task.FromCache(), task.ID())
	}
}

func TestRunner_ConcurrentRunsBuildOnce(t *testing.T) {
	exec := twoLeafExec()
	exec.started = make(chan string, 8)
	gate := make(chan struct{})
	exec.gates = map[string]chan struct{}{"select a": gate}
	mgr := newCoordinator(t)

	// Different ids, same queries: the fingerprints are shared.
	g1 := compile(t, container("r1", core.Union, leaf("a1", "select a"), leaf("b1", "select b")), CompileOptions{})
	g2 := compile(t, container("r2", core.Union, leaf("a2", "select a"), leaf("b2", "select b")), CompileOptions{})

	var wg sync.WaitGroup
	outs := make([]*Outcome, 2)
	for i, g := range []*Graph{g1, g2} {
		wg.Add(1)
		go func(i int, g *Graph) {
			defer wg.Done()
			outs[i] = run(t, g, exec, Options{Cache: mgr})
		}(i, g)
	}

	// Wait until one run builds "select a" and the other is parked behind it.
	require.Eventually(t, func() bool {
		a1, _ := g1.Task("a1")
		a2, _ := g2.Task("a2")
		s1, s2 := a1.State(), a2.State()
		return (s1 == TaskExecuting && s2 == TaskScheduled) || (s1 == TaskScheduled && s2 == TaskExecuting)
	}, 5*time.Second, time.Millisecond)
	// The follower stays parked while the builder is held.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, exec.Calls("select a"))
	assert.Equal(t, 1, mgr.InFlight())

	close(gate)
	wg.Wait()

	for _, out := range outs {
		require.Equal(t, StatusSuccess, out.Status)
		assert.Equal(t, []string{"1", "2", "3", "4"}, out.Identifiers.Slice())
	}
	assert.Equal(t, 1, exec.Calls("select a"))
	assert.Equal(t, 1, exec.Calls("select b"))
	assert.Zero(t, mgr.InFlight())

	a1, _ := g1.Task("a1")
	a2, _ := g2.Task("a2")
	assert.NotEqual(t, a1.FromCache(), a2.FromCache(), "exactly one run builds")
}

func TestRunner_FailedBuildIsNotCached(t *testing.T) {
	exec := twoLeafExec()
	exec.errs = map[string]error{"select a": errors.New("connection reset")}
	mgr := newCoordinator(t)

	out := run(t, compile(t, leaf("a", "select a"), CompileOptions{}), exec, Options{Cache: mgr})
	require.Equal(t, StatusFailure, out.Status)
	assert.Zero(t, mgr.InFlight())

	exec.mu.Lock()
	exec.errs = nil
	exec.mu.Unlock()

	out = run(t, compile(t, leaf("a", "select a"), CompileOptions{}), exec, Options{Cache: mgr})
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 2, exec.Calls("select a"))
}

func TestRunner_ClearCacheForcesReexecution(t *testing.T) {
	exec := twoLeafExec()
	mgr := newCoordinator(t)
	tree := func() *core.Node {
		return container("root", core.Union, leaf("a", "select a"), leaf("b", "select b"))
	}

	run(t, compile(t, tree(), CompileOptions{}), exec, Options{Cache: mgr})

	g := compile(t, tree(), CompileOptions{})
	require.NoError(t, g.ClearCache(context.Background(), mgr))
	out := run(t, g, exec, Options{Cache: mgr})

	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 2, exec.Calls("select a"))
	assert.Equal(t, 2, exec.Calls("select b"))
	assert.False(t, g.Root.FromCache())
}

func TestRunner_ParameterChangeReexecutes(t *testing.T) {
	exec := &fakeExec{results: map[string][]string{
		"select id from p where y > 1990": {"1"},
		"select id from p where y > 2000": {"2"},
	}}
	mgr := newCoordinator(t)
	node := func() *core.Node { return leaf("a", "select id from p where y > @year") }
	runWith := func(year string) *Outcome {
		g, err := Compile(node(), core.Parameters{"year": year}, nil, CompileOptions{})
		require.NoError(t, err)
		return run(t, g, exec, Options{Cache: mgr})
	}

	assert.Equal(t, []string{"1"}, runWith("1990").Identifiers.Slice())
	assert.Equal(t, []string{"2"}, runWith("2000").Identifiers.Slice())
	assert.Equal(t, []string{"1"}, runWith("1990").Identifiers.Slice())
	assert.Equal(t, 2, exec.TotalCalls())
}

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Get(context.Context, core.Fingerprint) (*cache.Entry, error) {
	return nil, errors.New("database is locked")
}

func (brokenStore) Put(context.Context, *cache.Entry) error {
	return errors.New("database is locked")
}

func (brokenStore) Delete(context.Context, core.Fingerprint) error {
	return errors.New("database is locked")
}

func TestRunner_CacheFailuresDegradeToMiss(t *testing.T) {
	exec := twoLeafExec()
	mgr := cache.NewCoordinator(brokenStore{}, quietLogger())
	mgr.CommitRetries = 0
	tree := func() *core.Node {
		return container("root", core.Except, leaf("a", "select a"), leaf("b", "select b"))
	}

	for i := 0; i < 2; i++ {
		out := run(t, compile(t, tree(), CompileOptions{}), exec, Options{Cache: mgr})
		require.Equal(t, StatusSuccess, out.Status)
		assert.Equal(t, []string{"1"}, out.Identifiers.Slice())
	}
	assert.Equal(t, 2, exec.Calls("select a"))

	err := compile(t, tree(), CompileOptions{}).ClearCache(context.Background(), mgr)
	assert.ErrorIs(t, err, core.ErrCache)
}
