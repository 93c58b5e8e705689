package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
)

// EventKind classifies a monitor observation.
type EventKind string

const (
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed" // permanent: no attempts left
	EventRequeued  EventKind = "requeued"
	EventTimedOut  EventKind = "timed-out"
	EventSkipped   EventKind = "skipped"
)

// StatusEvent reports one settled observation from a poll cycle.
type StatusEvent struct {
	TaskID  string
	Kind    EventKind
	Attempt int
	Detail  string
}

// Monitor watches launched attempts and the ledger. It settles finished
// attempts, reaps attempts past their liveness deadline, and requeues
// retryable failures. Requeues happen inside the poll cycle, so a FAILED
// status seen by the scheduler afterwards is always a permanent one.
type Monitor struct {
	cfg      *Config
	store    ledger.Store
	progress *ProgressReporter
	now      func() time.Time
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg *Config, store ledger.Store, progress *ProgressReporter, now func() time.Time) *Monitor {
	return &Monitor{
		cfg:      cfg,
		store:    store,
		progress: progress,
		now:      now,
	}
}

// Poll reconciles the handle set against the ledger. It returns the poll's
// observations and the handles still live afterwards.
func (m *Monitor) Poll(ctx context.Context, handles []*Handle) ([]StatusEvent, []*Handle, error) {
	doc, err := m.store.Read(ctx)
	if err != nil {
		return nil, handles, err
	}

	var (
		events  []StatusEvent
		active  []*Handle
		covered = make(map[string]bool, len(handles))
	)
	for _, h := range handles {
		covered[h.TaskID] = true
		task := doc.Task(h.TaskID)
		if task == nil {
			continue
		}
		if h.Finished() {
			ev, keep := m.settleFinished(ctx, doc, task, h)
			events = append(events, ev...)
			if keep {
				active = append(active, h)
			}
			continue
		}
		if m.now().After(h.Deadline) {
			events = append(events, m.expire(ctx, doc, task)...)
			continue
		}
		active = append(active, h)
	}

	// Attempts the ledger says are in flight but no handle covers, left by
	// an interrupted run. They expire on the same deadlines.
	for i := range doc.Tasks {
		task := &doc.Tasks[i]
		if covered[task.ID] {
			continue
		}
		switch task.Status {
		case graph.StatusAssigned, graph.StatusInProgress:
			if m.orphanExpired(doc, task) {
				events = append(events, m.expire(ctx, doc, task)...)
			}
		}
	}
	return events, active, nil
}

// Sweep requeues every retryable FAILED task. Called once before the
// dispatch loop starts so a resumed ceremony picks up where it stopped.
func (m *Monitor) Sweep(ctx context.Context) ([]StatusEvent, error) {
	doc, err := m.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	var events []StatusEvent
	for i := range doc.Tasks {
		task := &doc.Tasks[i]
		if task.Status != graph.StatusFailed {
			continue
		}
		if ev, ok := m.resolveFailure(ctx, doc, task); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// settleFinished resolves a handle whose attempt goroutine has returned.
func (m *Monitor) settleFinished(ctx context.Context, doc *ledger.Document, task *graph.Task, h *Handle) ([]StatusEvent, bool) {
	switch task.Status {
	case graph.StatusComplete:
		return []StatusEvent{{TaskID: task.ID, Kind: EventCompleted, Attempt: task.Attempt}}, false
	case graph.StatusFailed:
		if ev, ok := m.resolveFailure(ctx, doc, task); ok {
			return []StatusEvent{ev}, false
		}
		return nil, false
	case graph.StatusSkipped:
		return []StatusEvent{{TaskID: task.ID, Kind: EventSkipped, Attempt: task.Attempt}}, false
	case graph.StatusPending:
		return nil, false
	default:
		// Still ASSIGNED or IN_PROGRESS. If this handle's worker no longer
		// owns the task, another attempt took over and the handle is dead.
		// Otherwise its terminal write never landed; the deadline reaps it.
		return nil, task.Assignee == h.Assignee
	}
}

// expire fails an attempt past its liveness deadline. Losing the write
// means the worker finished in the same instant; the next poll settles it.
func (m *Monitor) expire(ctx context.Context, doc *ledger.Document, task *graph.Task) []StatusEvent {
	limit := m.cfg.deadlineFor(task)
	err := m.store.UpdateTask(ctx, task.ID, ledger.TaskMutation{
		ExpectStatus: task.Status,
		NewStatus:    graph.StatusFailed,
		Output:       fmt.Sprintf("attempt %d timed out after %s", task.Attempt, limit),
		Actor:        actorMonitor,
		Note:         "liveness deadline exceeded",
	})
	if err != nil {
		return nil
	}
	m.emit(ProgressEvent{
		CeremonyID: doc.Header.CeremonyID,
		Task:       task.ID,
		Status:     ProgressTimedOut,
		Message:    fmt.Sprintf("after %s", limit),
	})
	events := []StatusEvent{{
		TaskID:  task.ID,
		Kind:    EventTimedOut,
		Attempt: task.Attempt,
		Detail:  fmt.Sprintf("deadline %s exceeded", limit),
	}}
	failed := task.Clone()
	failed.Status = graph.StatusFailed
	if ev, ok := m.resolveFailure(ctx, doc, failed); ok {
		events = append(events, ev)
	}
	return events
}

// resolveFailure decides a FAILED task's fate: requeue it while attempts
// remain, otherwise report the failure as permanent.
func (m *Monitor) resolveFailure(ctx context.Context, doc *ledger.Document, task *graph.Task) (StatusEvent, bool) {
	maxAttempts := m.cfg.MaxRetries + 1
	if task.Attempt >= maxAttempts {
		return StatusEvent{
			TaskID:  task.ID,
			Kind:    EventFailed,
			Attempt: task.Attempt,
			Detail:  fmt.Sprintf("no attempts left (%d of %d)", task.Attempt, maxAttempts),
		}, true
	}
	err := m.store.UpdateTask(ctx, task.ID, ledger.TaskMutation{
		ExpectStatus: graph.StatusFailed,
		NewStatus:    graph.StatusPending,
		Actor:        actorMonitor,
		Note:         fmt.Sprintf("requeued for attempt %d of %d", task.Attempt+1, maxAttempts),
	})
	if err != nil {
		return StatusEvent{}, false
	}
	m.emit(ProgressEvent{
		CeremonyID: doc.Header.CeremonyID,
		Task:       task.ID,
		Status:     ProgressRequeued,
		Message:    fmt.Sprintf("attempt %d of %d", task.Attempt+1, maxAttempts),
	})
	return StatusEvent{
		TaskID:  task.ID,
		Kind:    EventRequeued,
		Attempt: task.Attempt,
		Detail:  fmt.Sprintf("next attempt %d of %d", task.Attempt+1, maxAttempts),
	}, true
}

// orphanExpired judges an uncovered in-flight task by the timestamps the
// ledger itself records.
func (m *Monitor) orphanExpired(doc *ledger.Document, task *graph.Task) bool {
	base := doc.Header.CreatedAt
	if task.StartedAt != nil {
		base = *task.StartedAt
	} else if at, ok := lastAssignTime(doc, task.ID); ok {
		base = at
	}
	return m.now().After(base.Add(m.cfg.deadlineFor(task)))
}

func lastAssignTime(doc *ledger.Document, taskID string) (time.Time, bool) {
	for i := len(doc.Log) - 1; i >= 0; i-- {
		entry := doc.Log[i]
		if entry.Task == taskID && strings.HasSuffix(entry.Transition, "-> "+string(graph.StatusAssigned)) {
			return entry.At, true
		}
	}
	return time.Time{}, false
}

func (m *Monitor) emit(ev ProgressEvent) {
	if m.progress != nil {
		m.progress.Emit(ev)
	}
}
