package dag

import "fmt"

// IsTerminal reports whether the state is terminal. No task leaves a terminal
// state.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskFinished, TaskCrashed, TaskCancelled:
		return true
	default:
		return false
	}
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskNotScheduled:
		return to == TaskScheduled
	case TaskScheduled:
		return to == TaskExecuting || to == TaskFinished || to == TaskCancelled
	case TaskExecuting:
		return to == TaskFinished || to == TaskCrashed || to == TaskCancelled
	default:
		return false
	}
}

// transitionLocked performs one validated transition. The caller supplies the
// expected prior state (from) to make races observable. t.mu must be held.
func (t *Task) transitionLocked(from, to TaskState) error {
	if t.state != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", t.ID(), from, t.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", t.ID(), from, to)
	}
	t.state = to
	return nil
}

func (t *Task) transition(from, to TaskState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(from, to)
}
