package dag

import (
	"errors"
	"fmt"

	"cohortweaver/internal/core"
)

var (
	// ErrRunnerUsed is returned when Run is called more than once.
	ErrRunnerUsed = errors.New("runner already ran")
)

func invalidf(nodeID string, format string, args ...any) error {
	return core.Configurationf(nodeID, format, args...)
}

// crashDetails derives the crash message and cause recorded on a task from
// the error its unit of work returned. The cause always carries the node id.
func crashDetails(t *Task, err error) (string, error) {
	var ce *core.Error
	if !errors.As(err, &ce) {
		ce = core.NewError(core.ErrExecution, t.ID(), err, "query failed")
	} else if ce.NodeID == "" {
		cp := *ce
		cp.NodeID = t.ID()
		ce = &cp
	}

	if errors.Is(err, core.ErrTimeout) {
		return timeoutMessage(t), ce
	}
	return fmt.Sprintf("%s crashed: %v", t.ID(), err), ce
}

func panicError(t *Task, v any) error {
	return core.NewError(core.ErrExecution, t.ID(), fmt.Errorf("panic: %v", v), "unit of work panicked")
}
