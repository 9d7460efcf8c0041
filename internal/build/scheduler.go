// Package build contains the task scheduler, the build driver, and the
// free-text task classifier. Phases are strict barriers; within a phase,
// tasks run in dependency order in batches capped by the concurrency limit.
package build

import (
	"sort"

	"forgemind/internal/types"
)

// PhaseGroup is the ordered slice of task ids sharing one phase number.
type PhaseGroup struct {
	Phase int
	Tasks []string
}

// PhaseGroups partitions the PRD's tasks by phase, ascending.
func PhaseGroups(prd *types.PRD) []PhaseGroup {
	byPhase := make(map[int][]string)
	for i := range prd.Tasks {
		t := &prd.Tasks[i]
		byPhase[t.Phase] = append(byPhase[t.Phase], t.ID)
	}

	phases := make([]int, 0, len(byPhase))
	for p := range byPhase {
		phases = append(phases, p)
	}
	sort.Ints(phases)

	groups := make([]PhaseGroup, 0, len(phases))
	for _, p := range phases {
		groups = append(groups, PhaseGroup{Phase: p, Tasks: byPhase[p]})
	}
	return groups
}

// isTerminal reports whether a task needs no further scheduling.
func isTerminal(status types.TaskStatus) bool {
	switch status {
	case types.TaskDone, types.TaskFailed, types.TaskBlocked, types.TaskTimeout:
		return true
	}
	return false
}

// ReadyTasks returns the ids in the phase group that can start now: not yet
// terminal or running, with every dependency done. Dependencies on tasks in
// the same phase hold a task back until those complete.
func ReadyTasks(prd *types.PRD, group PhaseGroup) []string {
	inPhase := make(map[string]bool, len(group.Tasks))
	for _, id := range group.Tasks {
		inPhase[id] = true
	}

	var ready []string
	for _, id := range group.Tasks {
		task := prd.TaskByID(id)
		if task == nil || isTerminal(task.Status) || task.Status == types.TaskRunning {
			continue
		}
		if depsSatisfied(prd, task) {
			ready = append(ready, id)
		}
	}
	return ready
}

// depsSatisfied reports whether every dependency is done.
func depsSatisfied(prd *types.PRD, task *types.Task) bool {
	for _, depID := range task.Dependencies {
		dep := prd.TaskByID(depID)
		if dep == nil || dep.Status != types.TaskDone {
			return false
		}
	}
	return true
}

// BlockedByFailure returns phase-group tasks that can never become ready
// because a dependency is terminally not-done.
func BlockedByFailure(prd *types.PRD, group PhaseGroup) []string {
	var blocked []string
	for _, id := range group.Tasks {
		task := prd.TaskByID(id)
		if task == nil || isTerminal(task.Status) || task.Status == types.TaskRunning {
			continue
		}
		for _, depID := range task.Dependencies {
			dep := prd.TaskByID(depID)
			if dep != nil && isTerminal(dep.Status) && dep.Status != types.TaskDone {
				blocked = append(blocked, id)
				break
			}
		}
	}
	return blocked
}

// Batches splits ready ids into runs of at most concurrency.
func Batches(ready []string, concurrency int) [][]string {
	if concurrency <= 0 {
		concurrency = 1
	}
	var out [][]string
	for len(ready) > 0 {
		n := concurrency
		if n > len(ready) {
			n = len(ready)
		}
		out = append(out, ready[:n])
		ready = ready[n:]
	}
	return out
}
