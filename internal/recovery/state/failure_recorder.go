package state

import (
	"errors"
	"fmt"
	"time"

	"cohortweaver/internal/dag"
)

// Recorder writes run.json when a run starts and again when it ends, plus
// failure.json for runs that did not succeed.
type Recorder struct {
	Store *Store
	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// StartRun persists run in the running state, linking it to the latest
// earlier run of the same graph.
func (r *Recorder) StartRun(run Run) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	if run.StartTime.IsZero() {
		run.StartTime = r.now()
	}
	if run.Mode == "" {
		run.Mode = ExecutionModeGraph
	}
	run.Status = RunStatusRunning
	run.EndTime = nil
	if run.PreviousRunID == nil {
		prev, ok, err := r.Store.LatestRun(run.GraphHash)
		if err != nil {
			return Run{}, fmt.Errorf("find previous run: %w", err)
		}
		if ok && prev.RunID != run.RunID {
			id := prev.RunID
			run.PreviousRunID = &id
		}
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run: %w", err)
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// FinishRun records the outcome of a started run.
func (r *Recorder) FinishRun(run Run, out *dag.Outcome) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	if out == nil {
		return Run{}, errors.New("nil outcome")
	}
	end := r.now()
	if end.Before(run.StartTime) {
		end = run.StartTime
	}
	run.EndTime = &end
	run.Status = statusFromOutcome(out)
	run.Empty = out.Empty
	run.Identifiers = 0
	if out.Identifiers != nil {
		run.Identifiers = out.Identifiers.Len()
	}

	if f, failed := FailureFromOutcome(out); failed {
		if err := r.Store.SaveFailure(run.RunID, f); err != nil {
			return Run{}, err
		}
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// RecordFailure marks a started run as failed because of err, for failures
// that happen outside the graph (the runner could not be built or returned an
// error instead of an outcome).
func (r *Recorder) RecordFailure(run Run, err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := FailureFromError(err)
	if ferr != nil {
		return ferr
	}
	if err := r.Store.SaveFailure(run.RunID, f); err != nil {
		return err
	}
	end := r.now()
	if end.Before(run.StartTime) {
		end = run.StartTime
	}
	run.EndTime = &end
	run.Status = RunStatusFailure
	if f.FailureClass == FailureClassCancelled {
		run.Status = RunStatusCancelled
	}
	return r.Store.SaveRun(run)
}
