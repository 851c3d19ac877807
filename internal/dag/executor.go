package dag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"cohortweaver/internal/cache"
	"cohortweaver/internal/core"
	"cohortweaver/internal/sqlexec"
)

// DefaultPollInterval is how often the scheduling loop checks executing tasks
// for timeouts when Options.PollInterval is zero.
const DefaultPollInterval = 100 * time.Millisecond

// Options configures a Runner.
type Options struct {
	// MaxConcurrency bounds the number of EXECUTING tasks. Must be > 0.
	MaxConcurrency int

	// PollInterval is the timeout watchdog period.
	PollInterval time.Duration

	// Cache serves and stores per-task results. Nil runs without caching.
	Cache cache.Manager

	Logger    logrus.FieldLogger
	Observers []Observer

	// RunID labels logs, traces and the outcome. Generated when empty.
	RunID string
}

// Runner executes one Graph.
//
// Each task runs as an independent unit of work. A unit first consults the
// cache; if another caller is building the same fingerprint it waits in
// SCHEDULED without holding an execution slot. Only units holding one of the
// MaxConcurrency slots are EXECUTING.
type Runner struct {
	graph        *Graph
	exec         sqlexec.Executor
	cache        cache.Manager
	pollInterval time.Duration
	log          *logrus.Entry
	observers    []Observer
	runID        string
	now          func() time.Time

	slots *semaphore.Weighted
	done  chan *Task

	mu        sync.Mutex
	phase     Phase
	started   bool
	cancel    context.CancelFunc
	cancelReq bool
}

// NewRunner creates a runner for g.
func NewRunner(g *Graph, exec sqlexec.Executor, opts Options) (*Runner, error) {
	if g == nil || g.Root == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if exec == nil {
		return nil, fmt.Errorf("nil executor")
	}
	if opts.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("max concurrency must be > 0")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	var log logrus.FieldLogger = logrus.StandardLogger()
	if opts.Logger != nil {
		log = opts.Logger
	}

	return &Runner{
		graph:        g,
		exec:         exec,
		cache:        opts.Cache,
		pollInterval: opts.PollInterval,
		log:          log.WithField("run_id", opts.RunID),
		observers:    opts.Observers,
		runID:        opts.RunID,
		now:          time.Now,
		slots:        semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		done:         make(chan *Task, g.Len()),
	}, nil
}

// RunID returns the id of the run.
func (r *Runner) RunID() string { return r.runID }

// Phase returns the current phase.
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Cancel requests cooperative cancellation of every non-terminal task. It may
// be called before, during or after Run.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelReq = true
	if r.cancel != nil {
		r.cancel()
	}
}

// Run drives the graph until the root task is terminal or the run aborts.
//
// The returned error is only non-nil when the runner could not run at all;
// task failures, timeouts and cancellation are reported through the Outcome.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, ErrRunnerUsed
	}
	r.started = true
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	if r.cancelReq {
		cancel()
	}
	r.mu.Unlock()
	defer cancel()

	span, runCtx := opentracing.StartSpanFromContext(runCtx, "cohort run")
	span.SetTag("run_id", r.runID)
	span.SetTag("tasks", r.graph.Len())
	defer span.Finish()

	pool, err := ants.NewPool(r.graph.Len(), ants.WithPanicHandler(func(v any) {
		r.log.WithField("panic", v).Error("Unit of work panicked outside task recovery")
	}))
	if err != nil {
		return nil, fmt.Errorf("creating task pool: %w", err)
	}
	defer pool.Release()

	start := r.now()
	r.log.WithFields(logrus.Fields{
		"tasks": r.graph.Len(),
		"root":  r.graph.Root.ID(),
	}).Info("Starting cohort run")

	var (
		outstanding int
		firstCrash  *Task
		stopping    bool
		ctxDone     = runCtx.Done()
		reported    = make(map[*Task]bool, r.graph.Len())
	)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	// abortOn records a crash and, when the root depends on the crashed task,
	// cancels everything still scheduled or executing.
	abortOn := func(t *Task) {
		if t.State() != TaskCrashed {
			return
		}
		if !r.graph.onRootPath(t) {
			r.log.WithField("node", t.ID()).Warn("Task off the root's dependency path crashed; run continues")
			return
		}
		if firstCrash == nil {
			firstCrash = t
			stopping = true
			cancel()
		}
	}

	for {
		if !stopping && !IsTerminal(r.graph.Root.State()) {
			for _, id := range GetReadyTasks(r.graph, r.graph.StateSnapshot()) {
				t := r.graph.byID[id]
				if err := t.transition(TaskNotScheduled, TaskScheduled); err != nil {
					return nil, err
				}
				r.enterPhaseFor(t)
				outstanding++
				if err := pool.Submit(func() { r.runUnit(runCtx, t) }); err != nil {
					r.log.WithError(err).Warn("Task pool rejected unit, running it on its own goroutine")
					go r.runUnit(runCtx, t)
				}
			}
		}
		if outstanding == 0 {
			break
		}

		select {
		case t := <-r.done:
			outstanding--
			if !reported[t] {
				reported[t] = true
				r.report(t)
				abortOn(t)
			}
		case <-ticker.C:
			now := r.now()
			for _, t := range r.graph.tasks {
				if t.expire(now) {
					r.log.WithFields(logrus.Fields{
						"node":    t.ID(),
						"timeout": t.timeout,
					}).Warn("Task timed out")
					reported[t] = true
					r.report(t)
					abortOn(t)
				}
			}
		case <-ctxDone:
			stopping = true
			ctxDone = nil
		}
	}

	out := r.outcome(runCtx, firstCrash)
	out.Elapsed = r.now().Sub(start)
	if out.Status == StatusSuccess {
		r.advancePhase(PhaseFinished)
	} else {
		r.advancePhase(PhaseAborted)
	}
	out.Phase = r.Phase()

	metrics.runs.WithLabelValues(string(out.Status)).Inc()
	span.SetTag("status", string(out.Status))
	log := r.log.WithFields(logrus.Fields{
		"status":  out.Status,
		"elapsed": out.Elapsed,
	})
	switch out.Status {
	case StatusSuccess:
		log.WithField("identifiers", out.Identifiers.Len()).Info("Cohort run finished")
	case StatusFailure:
		log.WithFields(logrus.Fields{
			"node":  out.FailingNodeID,
			"cause": out.CrashMessage,
		}).Warn("Cohort run failed")
	default:
		log.Info("Cohort run cancelled")
	}
	return out, nil
}

func (r *Runner) outcome(runCtx context.Context, firstCrash *Task) *Outcome {
	out := &Outcome{RunID: r.runID, FinalState: r.graph.StateSnapshot()}
	root := r.graph.Root
	switch {
	case firstCrash != nil:
		out.Status = StatusFailure
		out.FailingNodeID = firstCrash.ID()
		out.CrashMessage = firstCrash.CrashMessage()
		out.CrashCause = firstCrash.CrashCause()
	case root.State() == TaskFinished:
		out.Status = StatusSuccess
		out.Identifiers = root.Result()
		out.Empty = out.Identifiers.Len() == 0
	case runCtx.Err() != nil:
		out.Status = StatusCancelled
	default:
		out.Status = StatusFailure
		out.FailingNodeID = root.ID()
		out.CrashMessage = fmt.Sprintf("%s never became ready", root.ID())
		out.CrashCause = core.NewError(core.ErrExecution, root.ID(), nil, "run ended with root in state %s", root.State())
	}
	return out
}

// runUnit is the unit of work of one task: cache lookup, execution under a
// slot, publication, settlement. It always reports the task on r.done.
func (r *Runner) runUnit(ctx context.Context, t *Task) {
	var token *cache.BuildToken
	defer func() { r.done <- t }()
	defer func() {
		if p := recover(); p != nil {
			err := panicError(t, p)
			r.release(token, err)
			r.settle(ctx, t, nil, false, err)
		}
	}()

	if r.cache != nil {
		// A task whose query text cannot be built skips the cache and crashes
		// while executing.
		if fp, err := t.Fingerprint(); err == nil {
			ids, hit, tok, err := r.lookup(ctx, t, fp)
			switch {
			case err != nil:
				r.settle(ctx, t, nil, false, err)
				return
			case hit:
				r.settle(ctx, t, ids, true, nil)
				return
			}
			token = tok
		}
	}

	if err := ctx.Err(); err != nil {
		r.release(token, err)
		r.settle(ctx, t, nil, false, err)
		return
	}
	if err := r.slots.Acquire(ctx, 1); err != nil {
		r.release(token, err)
		r.settle(ctx, t, nil, false, err)
		return
	}
	defer r.slots.Release(1)

	ids, err := r.execute(ctx, t)
	if token != nil {
		if err != nil {
			r.release(token, err)
		} else if cerr := r.cache.Commit(ctx, token, ids); cerr != nil {
			r.log.WithError(cerr).WithField("node", t.ID()).Warn("Could not store result; continuing without cache")
		}
		token = nil
	}
	// Settle while still holding the slot so EXECUTING never exceeds the limit.
	r.settle(ctx, t, ids, false, err)
}

// lookup consults the cache for fp. It returns a hit, a build token (the
// caller must commit or release it), or neither when the cache is unusable.
// A non-nil error means the run was cancelled while waiting.
func (r *Runner) lookup(ctx context.Context, t *Task, fp core.Fingerprint) (*core.IdentifierSet, bool, *cache.BuildToken, error) {
	log := r.log.WithFields(logrus.Fields{"node": t.ID(), "fingerprint": fp.Short()})
	degrade := func(err error) (*core.IdentifierSet, bool, *cache.BuildToken, error) {
		if ctx.Err() != nil {
			return nil, false, nil, ctx.Err()
		}
		log.WithError(err).Warn("Cache unavailable; treating as miss")
		return nil, false, nil, nil
	}

	for {
		ids, ok, err := r.cache.TryGet(ctx, fp)
		if err != nil {
			return degrade(err)
		}
		if ok {
			log.Debug("Cache hit")
			return ids, true, nil, nil
		}

		acq, err := r.cache.Acquire(ctx, fp)
		if err != nil {
			return degrade(err)
		}
		if acq.Acquired() {
			// Another builder may have committed between TryGet and Acquire.
			if ids, ok, err := r.cache.TryGet(ctx, fp); err == nil && ok {
				r.cache.Release(acq.Token, nil)
				return ids, true, nil, nil
			}
			return nil, false, acq.Token, nil
		}

		log.Debug("Waiting on in-flight build")
		select {
		case <-acq.Building:
		case <-ctx.Done():
			return nil, false, nil, ctx.Err()
		}
	}
}

func (r *Runner) release(token *cache.BuildToken, cause error) {
	if token != nil {
		r.cache.Release(token, cause)
	}
}

// execute runs t while it holds an execution slot.
func (r *Runner) execute(ctx context.Context, t *Task) (*core.IdentifierSet, error) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := t.begin(r.now(), cancel); err != nil {
		return nil, err
	}
	metrics.executing.Inc()
	defer metrics.executing.Dec()

	span, execCtx := opentracing.StartSpanFromContext(execCtx, "cohort task")
	span.SetTag("node", t.ID())
	span.SetTag("kind", string(t.Kind()))
	defer span.Finish()

	if !t.runsQuery() {
		return r.combine(t)
	}
	sqlText, err := t.SQL()
	if err != nil {
		return nil, err
	}
	ids, err := r.exec.Execute(execCtx, sqlText, t.timeout)
	if err != nil {
		span.SetTag("error", true)
		return nil, err
	}
	if ids == nil {
		ids = core.NewIdentifierSet()
	}
	span.SetTag("identifiers", ids.Len())
	return ids, nil
}

// combine applies the container's set operation over its children's results
// in combination order.
func (r *Runner) combine(t *Task) (*core.IdentifierSet, error) {
	sets := make([]*core.IdentifierSet, 0, len(t.children))
	for _, c := range t.children {
		if st := c.State(); st != TaskFinished {
			return nil, core.NewError(core.ErrExecution, t.ID(), nil, "child %q is %s", c.ID(), st)
		}
		sets = append(sets, c.Result())
	}
	ids, err := core.Combine(t.node.Operation, sets)
	if err != nil {
		return nil, core.NewError(core.ErrExecution, t.ID(), err, "combining children")
	}
	return ids, nil
}

// settle moves t to its terminal state. Cancellation of the run wins over any
// error the unit observed as a consequence.
func (r *Runner) settle(ctx context.Context, t *Task, ids *core.IdentifierSet, fromCache bool, err error) {
	now := r.now()
	var settled bool
	switch {
	case err == nil:
		settled = t.finish(now, ids, fromCache)
	case ctx.Err() != nil:
		settled = t.abandon(now)
	default:
		msg, cause := crashDetails(t, err)
		settled = t.crash(now, msg, cause)
	}
	if !settled {
		r.log.WithFields(logrus.Fields{
			"node":  t.ID(),
			"state": t.State(),
		}).Debug("Task already settled")
	}
}

// report publishes a terminal task to metrics, logs and observers.
func (r *Runner) report(t *Task) {
	st := t.State()
	ev := TaskEvent{
		RunID:     r.runID,
		NodeID:    t.ID(),
		Kind:      t.Kind(),
		State:     st,
		FromCache: t.FromCache(),
		Elapsed:   t.Elapsed(),
	}
	if fp, err := t.Fingerprint(); err == nil {
		ev.Fingerprint = fp
	}
	if res := t.Result(); res != nil {
		ev.Identifiers = res.Len()
	}
	if st == TaskCrashed {
		ev.Message = t.CrashMessage()
		ev.Cause = t.CrashCause()
	}

	metrics.tasks.WithLabelValues(string(ev.Kind), string(st)).Inc()
	if !ev.FromCache && ev.Elapsed > 0 {
		metrics.taskDuration.WithLabelValues(string(ev.Kind)).Observe(ev.Elapsed.Seconds())
	}

	log := r.log.WithFields(logrus.Fields{
		"node":       t.ID(),
		"state":      st,
		"from_cache": ev.FromCache,
		"elapsed":    ev.Elapsed,
	})
	if st == TaskCrashed {
		log.WithError(t.CrashCause()).Warn("Task crashed")
	} else {
		log.Debug("Task settled")
	}

	for _, o := range r.observers {
		o.TaskSettled(ev)
	}
}

func (r *Runner) enterPhaseFor(t *Task) {
	if t.Kind() == core.KindContainer {
		r.advancePhase(PhaseRunningContainers)
		return
	}
	r.advancePhase(PhaseRunningLeaves)
}

// advancePhase moves the run forward to p. Phases never move backwards.
func (r *Runner) advancePhase(p Phase) {
	r.mu.Lock()
	from := r.phase
	if p <= from {
		r.mu.Unlock()
		return
	}
	r.phase = p
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"from": from, "to": p}).Debug("Phase changed")
	for _, o := range r.observers {
		o.PhaseChanged(r.runID, from, p)
	}
}
