package dag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cohortweaver/internal/core"
)

// Task wraps the execution of one node for the lifetime of one run.
//
// Task is safe for concurrent use: the Runner's loop, the task's own unit of
// work and the timeout watchdog all touch it.
type Task struct {
	node    *core.Node
	params  core.Parameters
	builder core.QueryBuilder
	timeout time.Duration

	// direct tasks run their full query text even when the node is a
	// container.
	direct bool

	children []*Task
	parent   *Task
	depth    int

	queryOnce sync.Once
	sqlText   string
	sqlErr    error
	fp        core.Fingerprint

	mu           sync.Mutex
	state        TaskState
	startedAt    time.Time
	settledAt    time.Time
	result       *core.IdentifierSet
	fromCache    bool
	crashMessage string
	crashCause   error
	cancel       context.CancelFunc
}

// ID returns the node id.
func (t *Task) ID() string { return t.node.ID }

// Node returns the node this task executes. The node is not owned by the task.
func (t *Task) Node() *core.Node { return t.node }

// Kind returns the node kind.
func (t *Task) Kind() core.Kind { return t.node.Kind }

// Timeout is the wall-clock budget of the task once it is executing.
func (t *Task) Timeout() time.Duration { return t.timeout }

// Children returns the tasks t depends on, in combination order.
func (t *Task) Children() []*Task {
	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

// Parent returns the task depending on t, or nil for the root.
func (t *Task) Parent() *Task { return t.parent }

// runsQuery reports whether executing t means running SQL rather than
// combining children.
func (t *Task) runsQuery() bool { return t.direct || !t.node.IsContainer() }

// SQL returns the resolved query text. It is computed on first access and
// reused afterwards.
func (t *Task) SQL() (string, error) {
	t.resolveQuery()
	return t.sqlText, t.sqlErr
}

// Fingerprint returns the cache identity of the resolved query text.
func (t *Task) Fingerprint() (core.Fingerprint, error) {
	t.resolveQuery()
	return t.fp, t.sqlErr
}

func (t *Task) resolveQuery() {
	t.queryOnce.Do(func() {
		text, err := t.builder.BuildQueryText(t.node, t.params)
		if err != nil {
			t.sqlErr = core.NewError(core.ErrConfiguration, t.ID(), err, "building query text")
			return
		}
		t.sqlText = text
		t.fp = core.ComputeFingerprint(t.node, text, t.params)
	})
}

// State returns the current state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Result returns the identifiers produced by a finished task, nil otherwise.
func (t *Task) Result() *core.IdentifierSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// FromCache reports whether the result was served by the cache.
func (t *Task) FromCache() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fromCache
}

// CrashMessage returns the diagnostic of a crashed task.
func (t *Task) CrashMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.crashMessage
}

// CrashCause returns the error that crashed the task.
func (t *Task) CrashCause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.crashCause
}

// Elapsed returns the time spent executing so far, or in total once settled.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked(time.Now())
}

func (t *Task) elapsedLocked(now time.Time) time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	if !t.settledAt.IsZero() {
		return t.settledAt.Sub(t.startedAt)
	}
	return now.Sub(t.startedAt)
}

// begin moves a scheduled task to EXECUTING. cancel aborts the task's unit of
// work and is invoked by the timeout watchdog.
func (t *Task) begin(now time.Time, cancel context.CancelFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(TaskScheduled, TaskExecuting); err != nil {
		return err
	}
	t.startedAt = now
	t.cancel = cancel
	return nil
}

// finish records a result. A scheduled task finishes directly on a cache hit.
// It returns false when the task had already settled.
func (t *Task) finish(now time.Time, ids *core.IdentifierSet, fromCache bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(t.state, TaskFinished); err != nil {
		return false
	}
	if ids == nil {
		ids = core.NewIdentifierSet()
	}
	t.result = ids
	t.fromCache = fromCache
	t.settledAt = now
	t.cancel = nil
	return true
}

// crash records a failure. A task failing before it got to execute passes
// through EXECUTING so that CRASHED is only ever entered from there.
func (t *Task) crash(now time.Time, msg string, cause error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TaskScheduled {
		if err := t.transitionLocked(TaskScheduled, TaskExecuting); err != nil {
			return false
		}
		t.startedAt = now
	}
	if err := t.transitionLocked(TaskExecuting, TaskCrashed); err != nil {
		return false
	}
	t.crashMessage = msg
	t.crashCause = cause
	t.settledAt = now
	t.cancel = nil
	return true
}

// abandon records cooperative cancellation.
func (t *Task) abandon(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(t.state, TaskCancelled); err != nil {
		return false
	}
	t.settledAt = now
	t.cancel = nil
	return true
}

// expire crashes an executing task whose elapsed time reached its timeout and
// cancels its unit of work. It reports whether the task was expired.
func (t *Task) expire(now time.Time) bool {
	t.mu.Lock()
	if t.state != TaskExecuting || t.timeout <= 0 || t.elapsedLocked(now) < t.timeout {
		t.mu.Unlock()
		return false
	}
	msg := timeoutMessage(t)
	if err := t.transitionLocked(TaskExecuting, TaskCrashed); err != nil {
		t.mu.Unlock()
		return false
	}
	t.crashMessage = msg
	t.crashCause = core.NewError(core.ErrTimeout, t.ID(), context.DeadlineExceeded, "%s", msg)
	t.settledAt = now
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

func timeoutMessage(t *Task) string {
	return fmt.Sprintf("%s timed out after %s", t.ID(), t.timeout)
}

func (t *Task) String() string {
	return fmt.Sprintf("%s[%s]", t.ID(), t.State())
}
