package dag

import (
	"fmt"
	"time"

	"cohortweaver/internal/core"
)

// Status is the overall result of a run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// Outcome is the single terminal result of a run.
type Outcome struct {
	RunID  string
	Status Status

	// Identifiers is the cohort of a successful run. Empty distinguishes an
	// empty cohort from a run that never produced one.
	Identifiers *core.IdentifierSet
	Empty       bool

	// Failure details: the first crash on the root's dependency path.
	CrashMessage  string
	CrashCause    error
	FailingNodeID string

	// FinalState is the state of each task by node id when the run ended.
	FinalState ExecutionState
	Phase      Phase
	Elapsed    time.Duration
}

// Err returns nil for a successful run and an error describing the failure
// or cancellation otherwise. It matches core.ErrCancelled for cancelled runs
// and the crash cause for failed ones.
func (o *Outcome) Err() error {
	if o == nil {
		return nil
	}
	switch o.Status {
	case StatusSuccess:
		return nil
	case StatusCancelled:
		return core.NewError(core.ErrCancelled, "", nil, "run %s cancelled", o.RunID)
	default:
		if o.CrashCause != nil {
			return fmt.Errorf("run %s failed: %s: %w", o.RunID, o.CrashMessage, o.CrashCause)
		}
		return fmt.Errorf("run %s failed: %s", o.RunID, o.CrashMessage)
	}
}
