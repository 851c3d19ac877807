package state

import (
	"context"
	"errors"

	"cohortweaver/internal/core"
	"cohortweaver/internal/dag"
)

// Error codes written to failure.json.
const (
	CodeInvalidTree    = "InvalidTree"
	CodeQueryFailed    = "QueryFailed"
	CodeQueryTimeout   = "QueryTimeout"
	CodeRunCancelled   = "RunCancelled"
	CodeCacheFailure   = "CacheFailure"
	CodeNeverReady     = "RootNeverReady"
	CodeUnknownFailure = "UnknownError"
)

// FailureFromError classifies err into the failure taxonomy using the core
// error kinds. Errors of no known kind are system failures.
func FailureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}
	f := Failure{ErrorMessage: err.Error()}
	var ce *core.Error
	if errors.As(err, &ce) && ce.NodeID != "" {
		n := ce.NodeID
		f.NodeID = &n
	}

	switch {
	// Cancellation is checked first: a cancelled query also carries the
	// context error it was interrupted by.
	case errors.Is(err, core.ErrCancelled), errors.Is(err, context.Canceled):
		f.FailureClass, f.ErrorCode, f.Retryable = FailureClassCancelled, CodeRunCancelled, true
	case errors.Is(err, core.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		f.FailureClass, f.ErrorCode, f.Retryable = FailureClassTimeout, CodeQueryTimeout, true
	case errors.Is(err, core.ErrConfiguration):
		f.FailureClass, f.ErrorCode = FailureClassConfiguration, CodeInvalidTree
	case errors.Is(err, core.ErrExecution):
		f.FailureClass, f.ErrorCode, f.Retryable = FailureClassExecution, CodeQueryFailed, true
	case errors.Is(err, core.ErrCache):
		f.FailureClass, f.ErrorCode, f.Retryable = FailureClassSystem, CodeCacheFailure, true
	default:
		f.FailureClass, f.ErrorCode, f.Retryable = FailureClassSystem, CodeUnknownFailure, true
	}
	return f, nil
}

// FailureFromOutcome describes why out did not succeed. ok is false for a
// successful outcome.
func FailureFromOutcome(out *dag.Outcome) (f Failure, ok bool) {
	if out == nil || out.Status == dag.StatusSuccess {
		return Failure{}, false
	}
	if out.Status == dag.StatusCancelled {
		return Failure{
			FailureClass: FailureClassCancelled,
			ErrorCode:    CodeRunCancelled,
			ErrorMessage: "run " + out.RunID + " cancelled",
			Retryable:    true,
		}, true
	}

	msg := nonEmptyOr(out.CrashMessage, "root task never became ready")
	if out.CrashCause != nil {
		f, _ = FailureFromError(out.CrashCause)
	} else {
		f = Failure{FailureClass: FailureClassSystem, ErrorCode: CodeNeverReady, Retryable: true}
	}
	f.ErrorMessage = msg
	if out.FailingNodeID != "" {
		n := out.FailingNodeID
		f.NodeID = &n
	}
	return f, true
}

func statusFromOutcome(out *dag.Outcome) RunStatus {
	switch out.Status {
	case dag.StatusSuccess:
		return RunStatusSuccess
	case dag.StatusCancelled:
		return RunStatusCancelled
	default:
		return RunStatusFailure
	}
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
