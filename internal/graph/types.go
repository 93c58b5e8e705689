package graph

import (
	"fmt"
	"strings"
	"time"
)

// --- Enums ---

// Priority orders otherwise-ready tasks. It is a tie-break only and never
// overrides dependency order.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// rank returns the sort weight of a priority; lower sorts first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// ParsePriority converts a string (any case) to a Priority.
// An empty string defaults to MEDIUM.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case "HIGH":
		return PriorityHigh, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return "", fmt.Errorf("graph: unknown priority %q", s)
	}
}

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
	StatusFailed     Status = "FAILED"
	// StatusSkipped marks a task that was still PENDING when its ceremony
	// was aborted. Terminal; a skipped task is never dispatched.
	StatusSkipped Status = "SKIPPED"
)

// IsTerminal returns true if the status is a final state for the attempt.
// FAILED is terminal for the attempt; the retry policy may still requeue
// the task to PENDING as a fresh attempt.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// ParseStatus converts a string (any case) to a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return StatusPending, nil
	case "ASSIGNED":
		return StatusAssigned, nil
	case "IN_PROGRESS":
		return StatusInProgress, nil
	case "COMPLETE":
		return StatusComplete, nil
	case "FAILED":
		return StatusFailed, nil
	case "SKIPPED":
		return StatusSkipped, nil
	default:
		return "", fmt.Errorf("graph: unknown status %q", s)
	}
}

// allowedTransitions encodes the monotonic status order. FAILED -> PENDING
// is the retry edge; SKIPPED is reachable only from PENDING during abort.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusAssigned: {},
		StatusSkipped:  {},
	},
	StatusAssigned: {
		StatusInProgress: {},
		StatusFailed:     {},
	},
	StatusInProgress: {
		StatusComplete: {},
		StatusFailed:   {},
	},
	StatusFailed: {
		StatusPending: {},
	},
	StatusComplete: {},
	StatusSkipped:  {},
}

// ValidateTransition checks whether from -> to is a legal status change.
// It fails closed: anything not explicitly allowed is an error.
func ValidateTransition(from, to Status) error {
	next, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("graph: unknown status %q", from)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("graph: invalid task transition: %s -> %s", from, to)
	}
	return nil
}

// --- Task ---

// Task is one unit of work within a ceremony: a node of the dependency DAG.
// The Description is an opaque payload for the worker; the Orchestrator never
// interprets it.
type Task struct {
	// ID is unique within the ceremony and stable for its life.
	ID string

	// Name is a short human-readable label.
	Name string

	// Description is the full worker payload.
	Description string

	Priority Priority
	Status   Status

	// Assignee identifies the worker instance holding the current attempt.
	// Empty until first claimed; replaced, never mutated, on retry.
	Assignee string

	// Attempt counts claims: 0 before the first ASSIGNED transition.
	Attempt int

	// DependsOn lists the IDs of tasks that must resolve first.
	DependsOn []string

	// Optional tasks may fail permanently without failing the ceremony;
	// dependents treat their terminal failure as a satisfied dependency.
	Optional bool

	// Synthesis marks the designated final task. Exactly one per ceremony;
	// its dependency set is every other task and its output is the
	// ceremony's final result.
	Synthesis bool

	// Timeout overrides the priority-derived attempt timeout when non-zero.
	Timeout time.Duration

	// Output is the free-text result captured on COMPLETE or FAILED.
	Output string

	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	cp := *t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		cp.FinishedAt = &ts
	}
	return &cp
}
