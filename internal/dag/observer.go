package dag

import (
	"time"

	"cohortweaver/internal/core"
)

// TaskEvent describes a task that reached a terminal state.
type TaskEvent struct {
	RunID       string
	NodeID      string
	Kind        core.Kind
	State       TaskState
	FromCache   bool
	Fingerprint core.Fingerprint
	Elapsed     time.Duration
	// Identifiers is the size of the result of a finished task.
	Identifiers int
	// Message and Cause describe a crashed task.
	Message string
	Cause   error
}

// Observer receives progress notifications from a Runner.
//
// Callbacks are invoked sequentially from the Runner's scheduling loop and
// must not block.
type Observer interface {
	PhaseChanged(runID string, from, to Phase)
	TaskSettled(ev TaskEvent)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnPhase func(runID string, from, to Phase)
	OnTask  func(ev TaskEvent)
}

func (o ObserverFuncs) PhaseChanged(runID string, from, to Phase) {
	if o.OnPhase != nil {
		o.OnPhase(runID, from, to)
	}
}

func (o ObserverFuncs) TaskSettled(ev TaskEvent) {
	if o.OnTask != nil {
		o.OnTask(ev)
	}
}
