package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCycle reports a subtask graph that cannot be fully ordered. The
// planner still returns a terminal batch holding the stuck subtasks so
// callers configured for degraded execution can run them anyway.
var ErrCycle = errors.New("dependency cycle in subtask graph")

// BuildBatches orders subtasks into execution waves. Each batch holds
// every subtask whose dependencies were satisfied by earlier batches,
// sorted by descending priority. Input order breaks priority ties.
func BuildBatches(subtasks []SubTask) ([]ExecutionBatch, error) {
	if len(subtasks) == 0 {
		return nil, nil
	}

	scheduled := make(map[string]bool, len(subtasks))
	remaining := make([]SubTask, len(subtasks))
	copy(remaining, subtasks)

	var batches []ExecutionBatch
	for len(remaining) > 0 {
		var ready, blocked []SubTask
		for _, st := range remaining {
			if depsSatisfied(st, scheduled) {
				ready = append(ready, st)
			} else {
				blocked = append(blocked, st)
			}
		}

		if len(ready) == 0 {
			// No progress: ship whatever is stuck as one last batch and
			// surface the cycle to the caller.
			sortByPriority(blocked)
			batches = append(batches, ExecutionBatch{SubTasks: blocked})
			return batches, fmt.Errorf("%w: unresolved %s", ErrCycle, subtaskIDs(blocked))
		}

		sortByPriority(ready)
		for _, st := range ready {
			scheduled[st.ID] = true
		}
		batches = append(batches, ExecutionBatch{SubTasks: ready})
		remaining = blocked
	}

	return batches, nil
}

func depsSatisfied(st SubTask, scheduled map[string]bool) bool {
	for _, dep := range st.DependsOn {
		if !scheduled[dep] {
			return false
		}
	}
	return true
}

func sortByPriority(subtasks []SubTask) {
	sort.SliceStable(subtasks, func(i, j int) bool {
		return subtasks[i].Priority > subtasks[j].Priority
	})
}

func subtaskIDs(subtasks []SubTask) string {
	ids := make([]string, len(subtasks))
	for i, st := range subtasks {
		ids[i] = st.ID
	}
	return strings.Join(ids, ", ")
}
