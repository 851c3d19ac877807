package dag

import (
	"context"
	"sort"
	"time"

	"cohortweaver/internal/cache"
	"cohortweaver/internal/core"
)

// CompileOptions configures one compilation.
type CompileOptions struct {
	// Timeout is the per-task wall-clock budget. Zero disables it.
	Timeout time.Duration

	// Direct compiles only the root, as a single task running the full query
	// text of the tree. Used when no cache is configured.
	Direct bool
}

// Graph is the task graph of one run.
//
// The structure is immutable once compiled; task states are not.
type Graph struct {
	// Root is the task whose result is the cohort.
	Root *Task

	tasks []*Task // canonical order: children before parents, siblings by Order
	byID  map[string]*Task
}

// Compile builds the task graph of root for exactly one run.
//
// One Task is created per enabled node, with edges mirroring the tree's
// parent/child relationship. A nil builder selects core.TemplateBuilder.
// Malformed trees fail with an error matching core.ErrConfiguration before
// any task exists.
func Compile(root *core.Node, params core.Parameters, builder core.QueryBuilder, opts CompileOptions) (*Graph, error) {
	if err := validateTree(root); err != nil {
		return nil, err
	}
	if builder == nil {
		builder = core.TemplateBuilder{}
	}
	if opts.Timeout < 0 {
		return nil, invalidf(root.ID, "negative task timeout %s", opts.Timeout)
	}

	frozen := make(core.Parameters, len(params))
	for k, v := range params {
		frozen[k] = v
	}

	g := &Graph{byID: make(map[string]*Task)}
	newTask := func(n *core.Node, parent *Task) *Task {
		return &Task{
			node:    n,
			params:  frozen,
			builder: builder,
			timeout: opts.Timeout,
			parent:  parent,
			state:   TaskNotScheduled,
		}
	}

	if opts.Direct {
		t := newTask(root, nil)
		t.direct = true
		g.add(t)
		g.Root = t
		return g, nil
	}

	var build func(n *core.Node, parent *Task) *Task
	build = func(n *core.Node, parent *Task) *Task {
		t := newTask(n, parent)
		for _, c := range n.EnabledChildren() {
			ct := build(c, t)
			t.children = append(t.children, ct)
			if ct.depth+1 > t.depth {
				t.depth = ct.depth + 1
			}
		}
		g.add(t)
		return t
	}
	g.Root = build(root, nil)
	return g, nil
}

func (g *Graph) add(t *Task) {
	g.tasks = append(g.tasks, t)
	g.byID[t.ID()] = t
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Tasks returns every task, children before parents.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, len(g.tasks))
	copy(out, g.tasks)
	return out
}

// Task returns the task compiled for node id.
func (g *Graph) Task(id string) (*Task, bool) {
	t, ok := g.byID[id]
	return t, ok
}

// Edges maps each task id to the ids of the tasks it depends on, in
// combination order. Leaves map to an empty list.
func (g *Graph) Edges() map[string][]string {
	out := make(map[string][]string, len(g.tasks))
	for _, t := range g.tasks {
		deps := make([]string, 0, len(t.children))
		for _, c := range t.children {
			deps = append(deps, c.ID())
		}
		out[t.ID()] = deps
	}
	return out
}

// Depth returns the height of the task above the leaves (leaves are 0).
func (g *Graph) Depth(id string) (int, bool) {
	t, ok := g.byID[id]
	if !ok {
		return 0, false
	}
	return t.depth, true
}

// StateSnapshot returns a copy of the current task states.
func (g *Graph) StateSnapshot() ExecutionState {
	out := make(ExecutionState, len(g.tasks))
	for _, t := range g.tasks {
		out[t.ID()] = t.State()
	}
	return out
}

// onRootPath reports whether the root depends on t, directly or transitively.
func (g *Graph) onRootPath(t *Task) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur == g.Root {
			return true
		}
	}
	return false
}

// Fingerprints returns the fingerprint of every task keyed by node id.
func (g *Graph) Fingerprints() (map[string]core.Fingerprint, error) {
	out := make(map[string]core.Fingerprint, len(g.tasks))
	for _, t := range g.tasks {
		fp, err := t.Fingerprint()
		if err != nil {
			return nil, err
		}
		out[t.ID()] = fp
	}
	return out, nil
}

// ClearCache invalidates the cache entry of every task so the next run
// re-executes the whole tree. Fingerprints are invalidated in id order.
func (g *Graph) ClearCache(ctx context.Context, mgr cache.Manager) error {
	fps, err := g.Fingerprints()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(fps))
	for id := range fps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := mgr.Invalidate(ctx, fps[id]); err != nil {
			return err
		}
	}
	return nil
}
