package dag

// TaskState is the runtime state of one task.
//
//	NOT_SCHEDULED -> SCHEDULED -> EXECUTING -> FINISHED | CRASHED | CANCELLED
//	SCHEDULED -> FINISHED (cache hit) | CANCELLED
type TaskState string

const (
	TaskNotScheduled TaskState = "NOT_SCHEDULED"
	TaskScheduled    TaskState = "SCHEDULED"
	TaskExecuting    TaskState = "EXECUTING"
	TaskFinished     TaskState = "FINISHED"
	TaskCrashed      TaskState = "CRASHED"
	TaskCancelled    TaskState = "CANCELLED"
)

// ExecutionState maps node id to task state. It is only ever a snapshot;
// the live state is held by each Task.
type ExecutionState map[string]TaskState

// Count returns how many tasks are in s.
func (e ExecutionState) Count(s TaskState) int {
	n := 0
	for _, st := range e {
		if st == s {
			n++
		}
	}
	return n
}
