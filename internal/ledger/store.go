package ledger

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dusk-indust/orchestrate/internal/graph"
)

// TaskMutation describes one guarded status change. ExpectStatus is the
// optimistic precondition: if the stored status differs, the write fails
// with ErrStaleWrite and nothing is modified.
type TaskMutation struct {
	ExpectStatus graph.Status
	NewStatus    graph.Status

	// Assignee is recorded when claiming a task. Required for ASSIGNED.
	Assignee string

	// Output is recorded on terminal transitions: the result summary for
	// COMPLETE, the error summary for FAILED.
	Output string

	// Actor and Note feed the event log entry written with the change.
	Actor string
	Note  string

	// BumpAttempt increments the attempt counter, used on the claim path.
	BumpAttempt bool
}

// Store is the sole access path to a ceremony's ledger. Every mutation is
// guarded by the ledger lock, checked against the caller's expectation, and
// audited with an event log entry in the same write.
//
// Implementations: FileStore (production), MemStore (testing).
type Store interface {
	io.Closer

	// Create writes a brand new ledger. Fails with ErrLedgerExists if one
	// is already present.
	Create(ctx context.Context, doc *Document) error

	// Read returns the full parsed document.
	Read(ctx context.Context) (*Document, error)

	// ReadGraph parses the ledger and builds the task graph from it.
	ReadGraph(ctx context.Context) (*graph.Graph, error)

	// ReadTask returns a single task by id.
	ReadTask(ctx context.Context, taskID string) (*graph.Task, error)

	// UpdateTask applies a guarded status change to one task and appends
	// the matching event log entry.
	UpdateTask(ctx context.Context, taskID string, mut TaskMutation) error

	// UpdateCeremony advances the ceremony lifecycle, guarded the same way
	// task changes are.
	UpdateCeremony(ctx context.Context, expect, next CeremonyStatus, actor, note string) error

	// UpdateKnowledge rewrites the shared knowledge section through the
	// given function, which receives the current text.
	UpdateKnowledge(ctx context.Context, actor string, update func(string) string) error

	// AppendLog adds an event log entry without touching any other section.
	AppendLog(ctx context.Context, entry LogEntry) error
}

// --- Options ---

type options struct {
	now func() time.Time
}

// Option configures a store.
type Option func(*options)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// --- Shared mutation semantics ---

// applyTaskMutation performs the guarded change on an in-memory document.
// Both stores funnel through here so their semantics cannot drift.
func applyTaskMutation(doc *Document, taskID string, mut TaskMutation, now time.Time) error {
	task := doc.Task(taskID)
	if task == nil {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if task.Status != mut.ExpectStatus {
		return fmt.Errorf("%w: task %q expected %s, found %s", ErrStaleWrite, taskID, mut.ExpectStatus, task.Status)
	}
	if err := graph.ValidateTransition(task.Status, mut.NewStatus); err != nil {
		return err
	}
	if mut.NewStatus == graph.StatusAssigned && mut.Assignee == "" {
		return fmt.Errorf("ledger: assignee required to claim task %q", taskID)
	}

	from := task.Status
	task.Status = mut.NewStatus
	if mut.BumpAttempt {
		task.Attempt++
	}
	if mut.Assignee != "" {
		task.Assignee = mut.Assignee
	}
	switch {
	case mut.NewStatus == graph.StatusInProgress:
		ts := now
		task.StartedAt = &ts
	case mut.NewStatus.IsTerminal():
		ts := now
		task.FinishedAt = &ts
		if mut.Output != "" {
			task.Output = mut.Output
		}
	case mut.NewStatus == graph.StatusPending:
		// Requeued for retry: the next attempt starts clean.
		task.Assignee = ""
		task.StartedAt = nil
		task.FinishedAt = nil
	}
	doc.Log = append(doc.Log, LogEntry{
		At:         now,
		Actor:      mut.Actor,
		Task:       taskID,
		Transition: Transition(from, mut.NewStatus),
		Note:       mut.Note,
	})
	return nil
}

func applyCeremonyMutation(doc *Document, expect, next CeremonyStatus, actor, note string, now time.Time) error {
	if doc.Header.Status != expect {
		return fmt.Errorf("%w: ceremony expected %s, found %s", ErrStaleWrite, expect, doc.Header.Status)
	}
	if err := ValidateCeremonyTransition(doc.Header.Status, next); err != nil {
		return err
	}
	from := doc.Header.Status
	doc.Header.Status = next
	if next.IsTerminal() {
		ts := now
		doc.Header.CompletedAt = &ts
	}
	doc.Log = append(doc.Log, LogEntry{
		At:         now,
		Actor:      actor,
		Transition: Transition(from, next),
		Note:       note,
	})
	return nil
}
