package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"cohortweaver/internal/cache"
	"cohortweaver/internal/config"
	"cohortweaver/internal/core"
	"cohortweaver/internal/dag"
	"cohortweaver/internal/logging"
	"cohortweaver/internal/recovery/state"
	"cohortweaver/internal/sqlexec"
	"cohortweaver/internal/trace"
)

// Deps overrides what Execute would otherwise build from configuration.
// Zero fields are built from the loaded config.
type Deps struct {
	Config   *config.Config
	Log      logrus.FieldLogger
	Executor sqlexec.Executor
	Cache    cache.Manager
	Stdout   io.Writer
}

// Result is what a finished command reports.
type Result struct {
	ExitCode int
	Outcome  *dag.Outcome
	Run      *state.Run
}

// session is the configured environment of one command.
type session struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	exec    sqlexec.Executor
	cache   cache.Manager
	stdout  io.Writer
	closers []closeFunc
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.WithError(err).Warn("Closing resource failed")
		}
	}
}

type needs int

const (
	needExecutor needs = 1 << iota
	needCache
)

func newSession(ctx context.Context, inv Invocation, deps Deps, n needs) (*session, error) {
	s := &session{cfg: deps.Config, log: deps.Log, exec: deps.Executor, cache: deps.Cache, stdout: deps.Stdout}
	if s.stdout == nil {
		s.stdout = io.Discard
	}
	if s.cfg == nil {
		cfg, err := config.Load(inv.ConfigPath)
		if err != nil {
			return nil, exitErr(ExitConfigError, err)
		}
		s.cfg = cfg
	}
	if s.log == nil {
		log, err := logging.New(s.cfg.Log.Level, s.cfg.Log.Format)
		if err != nil {
			return nil, exitErr(ExitConfigError, err)
		}
		s.log = log
	}
	if s.exec == nil && n&needExecutor != 0 {
		exec, done, err := openExecutor(ctx, s.cfg.Database)
		if err != nil {
			return nil, exitErr(ExitConfigError, err)
		}
		s.exec = exec
		s.closers = append(s.closers, done)
	}
	if s.cache == nil && n&needCache != 0 {
		coord, done, err := openCache(ctx, s.cfg.Cache, s.log)
		if err != nil {
			s.close()
			return nil, exitErr(ExitConfigError, err)
		}
		// A nil *Coordinator must stay a nil Manager.
		if coord != nil {
			s.cache = coord
		}
		s.closers = append(s.closers, done)
	}
	return s, nil
}

func (s *session) compile(inv Invocation, direct bool) (*core.Node, *dag.Graph, error) {
	root, err := LoadTree(inv.TreePath)
	if err != nil {
		return nil, nil, exitErr(ExitConfigError, err)
	}
	g, err := dag.Compile(root, inv.Params, nil, dag.CompileOptions{Timeout: s.cfg.Timeout(), Direct: direct})
	if err != nil {
		return nil, nil, exitErr(ExitConfigError, err)
	}
	return root, g, nil
}

// Execute runs the tree named by inv and prints the cohort, one identifier
// per line, to deps.Stdout.
func Execute(ctx context.Context, inv Invocation, deps Deps) (res Result, err error) {
	res.ExitCode = ExitInternalError
	if inv, err = inv.canonicalize(true); err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	s, err := newSession(ctx, inv, deps, needExecutor|needCache)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	defer s.close()

	direct := inv.Direct || s.cache == nil
	root, g, err := s.compile(inv, direct)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	// Hashing builds every task's query text, so missing parameters surface
	// here as configuration errors.
	graphHash, err := g.Hash()
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	if inv.ClearCache && s.cache != nil {
		if err := g.ClearCache(ctx, s.cache); err != nil {
			return res, fmt.Errorf("clear cache: %w", err)
		}
	}

	if inv.MetricsAddr != "" {
		stop, err := serveMetrics(inv.MetricsAddr, s.log)
		if err != nil {
			res.ExitCode = ExitConfigError
			return res, err
		}
		defer stop()
	}

	recorder := trace.NewRecorder()
	runner, err := dag.NewRunner(g, s.exec, dag.Options{
		MaxConcurrency: s.cfg.MaxConcurrency,
		PollInterval:   s.cfg.PollInterval,
		Cache:          s.cache,
		Logger:         s.log,
		Observers:      []dag.Observer{trace.NewObserver(recorder)},
	})
	if err != nil {
		return res, err
	}

	mode := state.ExecutionModeGraph
	if direct {
		mode = state.ExecutionModeDirect
	}
	log := s.log.WithField("run_id", runner.RunID())
	var rec *state.Recorder
	run := state.Run{RunID: runner.RunID(), GraphHash: graphHash.String(), RootID: root.ID, Mode: mode}
	if st, serr := state.NewStore(s.cfg.StateDir); serr != nil {
		log.WithError(serr).Warn("Run records disabled")
	} else {
		rec = &state.Recorder{Store: st}
		if run, serr = rec.StartRun(run); serr != nil {
			log.WithError(serr).Warn("Recording run start failed")
			rec = nil
		}
	}

	out, err := runner.Run(ctx)
	if err != nil {
		if rec != nil {
			if rerr := rec.RecordFailure(run, err); rerr != nil {
				log.WithError(rerr).Warn("Recording run failure failed")
			}
		}
		return res, err
	}
	res.Outcome = out
	if rec != nil {
		if run, err = rec.FinishRun(run, out); err != nil {
			log.WithError(err).Warn("Recording run outcome failed")
		} else {
			res.Run = &run
		}
	}

	if inv.TracePath != "" {
		if err := trace.WriteFile(inv.TracePath, recorder.Trace(graphHash.String())); err != nil {
			log.WithError(err).Warn("Writing trace failed")
		}
	}

	switch out.Status {
	case dag.StatusSuccess:
		var werr error
		out.Identifiers.Ascend(func(id string) bool {
			_, werr = fmt.Fprintln(s.stdout, id)
			return werr == nil
		})
		if werr != nil {
			return res, fmt.Errorf("write identifiers: %w", werr)
		}
		res.ExitCode = ExitSuccess
		return res, nil
	default:
		res.ExitCode = ExitGraphFailure
		return res, out.Err()
	}
}

// ClearCache invalidates the cache entry of every node of the tree.
func ClearCache(ctx context.Context, inv Invocation, deps Deps) (Result, error) {
	res := Result{ExitCode: ExitInternalError}
	inv, err := inv.canonicalize(true)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	s, err := newSession(ctx, inv, deps, needCache)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	defer s.close()
	if s.cache == nil {
		res.ExitCode = ExitConfigError
		return res, errors.New("no cache configured (cache.driver is none)")
	}
	_, g, err := s.compile(inv, false)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	if err := g.ClearCache(ctx, s.cache); err != nil {
		if errors.Is(err, core.ErrConfiguration) {
			res.ExitCode = ExitConfigError
		}
		return res, err
	}
	s.log.WithField("tasks", g.Len()).Info("Cache cleared")
	res.ExitCode = ExitSuccess
	return res, nil
}

// Fingerprints prints "id<TAB>fingerprint" for every node, sorted by id,
// followed by the graph hash.
func Fingerprints(ctx context.Context, inv Invocation, deps Deps) (Result, error) {
	res := Result{ExitCode: ExitInternalError}
	inv, err := inv.canonicalize(true)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	s, err := newSession(ctx, inv, deps, 0)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	defer s.close()

	_, g, err := s.compile(inv, inv.Direct)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	fps, err := g.Fingerprints()
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	hash, err := g.Hash()
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	ids := make([]string, 0, len(fps))
	for id := range fps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := fmt.Fprintf(s.stdout, "%s\t%s\n", id, fps[id]); err != nil {
			return res, err
		}
	}
	if _, err := fmt.Fprintf(s.stdout, "graph\t%s\n", hash); err != nil {
		return res, err
	}
	res.ExitCode = ExitSuccess
	return res, nil
}
