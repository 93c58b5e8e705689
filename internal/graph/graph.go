package graph

import (
	"fmt"
	"sort"
	"time"
)

// Graph is the in-memory task-dependency model for one ceremony. It is a
// cache of the ledger, rebuilt from it on every orchestration cycle; the
// ledger alone holds authoritative status.
type Graph struct {
	tasks map[string]*Task
	order []string // manifest order
}

// New validates the task set and builds a Graph. Validation failures are
// construction errors: duplicate or empty IDs, references to undeclared
// dependencies, dependency cycles, an empty task set, or a synthesis task
// that does not depend on every other task. All are fatal before dispatch.
func New(tasks []Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("graph: no tasks declared")
	}

	g := &Graph{tasks: make(map[string]*Task, len(tasks))}
	for i := range tasks {
		t := tasks[i]
		if t.ID == "" {
			return nil, fmt.Errorf("graph: task %d has empty id", i)
		}
		if _, exists := g.tasks[t.ID]; exists {
			return nil, fmt.Errorf("graph: duplicate task id %q", t.ID)
		}
		if t.Priority == "" {
			t.Priority = PriorityMedium
		}
		if t.Status == "" {
			t.Status = StatusPending
		}
		g.tasks[t.ID] = &t
		g.order = append(g.order, t.ID)
	}

	for _, id := range g.order {
		for _, dep := range g.tasks[id].DependsOn {
			if dep == id {
				return nil, fmt.Errorf("graph: task %q depends on itself", id)
			}
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("graph: dependency %q referenced by %q not declared", dep, id)
			}
		}
	}

	if cyclic, path := detectCycle(g.tasks); cyclic {
		return nil, fmt.Errorf("graph: dependency cycle involving %q", path)
	}

	if syn, ok := g.Synthesis(); ok {
		want := len(g.order) - 1
		if len(syn.DependsOn) != want {
			return nil, fmt.Errorf("graph: synthesis task %q must depend on all %d other tasks, has %d",
				syn.ID, want, len(syn.DependsOn))
		}
	}

	return g, nil
}

// DetectCycle reports whether the task set contains a dependency cycle.
// Unknown dependency references are ignored here; New rejects them
// separately.
func DetectCycle(tasks []Task) bool {
	m := make(map[string]*Task, len(tasks))
	for i := range tasks {
		m[tasks[i].ID] = &tasks[i]
	}
	cyclic, _ := detectCycle(m)
	return cyclic
}

// detectCycle runs an iterative-coloring DFS over the dependency edges.
// Returns the first task found on a cycle, for the error message.
func detectCycle(tasks map[string]*Task) (bool, string) {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		t, ok := tasks[id]
		if !ok {
			color[id] = black
			return ""
		}
		for _, dep := range t.DependsOn {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	// Deterministic iteration order keeps the reported task stable.
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if hit := visit(id); hit != "" {
				return true, hit
			}
		}
	}
	return false, ""
}

// Task returns the task with the given id.
func (g *Graph) Task(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns all tasks in manifest order.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Synthesis returns the synthesis task, if one is declared.
func (g *Graph) Synthesis() (*Task, bool) {
	for _, id := range g.order {
		if g.tasks[id].Synthesis {
			return g.tasks[id], true
		}
	}
	return nil, false
}

// depSatisfied reports whether a dependency allows its dependents to run.
// COMPLETE always satisfies. A terminal failure or skip satisfies only when
// the dependency is optional; by the time a cycle snapshot shows FAILED, the
// retry policy has already declined to requeue it.
func depSatisfied(dep *Task) bool {
	switch dep.Status {
	case StatusComplete:
		return true
	case StatusFailed, StatusSkipped:
		return dep.Optional
	default:
		return false
	}
}

// Ready returns every PENDING task whose dependencies are all satisfied,
// ordered by priority then identifier so dispatch order is deterministic.
func (g *Graph) Ready() []*Task {
	var ready []*Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if !depSatisfied(g.tasks[dep]) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority.rank() != ready[j].Priority.rank() {
			return ready[i].Priority.rank() < ready[j].Priority.rank()
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// ApplyTransition moves a task to newStatus in the in-memory model,
// validating against the monotonic order and failing closed on anything
// illegal. Output replaces the task's recorded output when non-empty.
// The authoritative transition must already have been written to the
// ledger; this keeps the cache coherent between full re-reads.
func (g *Graph) ApplyTransition(taskID string, newStatus Status, output string) error {
	t, ok := g.tasks[taskID]
	if !ok {
		return fmt.Errorf("graph: unknown task %q", taskID)
	}
	if err := ValidateTransition(t.Status, newStatus); err != nil {
		return err
	}
	now := time.Now().UTC()
	switch newStatus {
	case StatusInProgress:
		t.StartedAt = &now
	case StatusComplete, StatusFailed, StatusSkipped:
		t.FinishedAt = &now
	case StatusPending:
		// Retry edge: the next attempt gets fresh timestamps and assignee.
		t.Assignee = ""
		t.StartedAt = nil
		t.FinishedAt = nil
	}
	t.Status = newStatus
	if output != "" {
		t.Output = output
	}
	return nil
}

// Outstanding reports whether any task still has work ahead of it:
// PENDING, ASSIGNED, or IN_PROGRESS.
func (g *Graph) Outstanding() bool {
	for _, id := range g.order {
		switch g.tasks[id].Status {
		case StatusPending, StatusAssigned, StatusInProgress:
			return true
		}
	}
	return false
}

// Counts returns the number of tasks per status.
func (g *Graph) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, id := range g.order {
		counts[g.tasks[id].Status]++
	}
	return counts
}

// Failed returns all tasks currently FAILED, in manifest order.
func (g *Graph) Failed() []*Task {
	var out []*Task
	for _, id := range g.order {
		if g.tasks[id].Status == StatusFailed {
			out = append(out, g.tasks[id])
		}
	}
	return out
}
