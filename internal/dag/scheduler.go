package dag

import (
	"sort"
)

// GetReadyTasks returns the deterministically ordered ids of the tasks that
// are eligible to be scheduled.
//
// Policy:
//   - A task is ready iff it is NOT_SCHEDULED and all its dependencies are FINISHED.
//   - The returned list is sorted by (depth asc, id asc), so leaves come first.
//
// This function is pure: it does not mutate graph or state.
func GetReadyTasks(g *Graph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, t := range g.tasks {
		if st, ok := state[t.ID()]; !ok || st != TaskNotScheduled {
			continue
		}
		depsOK := true
		for _, c := range t.children {
			if st, ok := state[c.ID()]; !ok || st != TaskFinished {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, t.ID())
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})
	return ready
}
