package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/worker"
)

// Handle tracks one launched attempt: who runs it and how long it may live.
type Handle struct {
	TaskID   string
	Assignee string
	Deadline time.Time
	done     chan struct{}
}

// Finished reports whether the attempt goroutine has returned.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Dispatcher claims ready tasks and runs one worker per claim. The pool
// limit is the concurrency ceiling: TryGo refuses work once the ceiling is
// reached, so the number of running attempts can never exceed it.
type Dispatcher struct {
	cfg      *Config
	store    ledger.Store
	registry *worker.Registry
	progress *ProgressReporter
	now      func() time.Time
	group    errgroup.Group
}

// NewDispatcher creates a Dispatcher bounded by cfg.Concurrency.
func NewDispatcher(cfg *Config, store ledger.Store, registry *worker.Registry, progress *ProgressReporter, now func() time.Time) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		store:    store,
		registry: registry,
		progress: progress,
		now:      now,
	}
	d.group.SetLimit(cfg.Concurrency)
	return d
}

// Dispatch launches attempts for ready tasks in the given order until the
// pool is full, returning a handle per launched attempt. The claim itself
// happens inside the attempt goroutine; a claim lost to a concurrent writer
// ends the attempt without effect.
func (d *Dispatcher) Dispatch(ctx context.Context, doc *ledger.Document, ready []*graph.Task) []*Handle {
	var handles []*Handle
	for _, task := range ready {
		task := task.Clone()
		h := &Handle{
			TaskID:   task.ID,
			Assignee: worker.NewAssigneeID(),
			Deadline: d.now().Add(d.cfg.deadlineFor(task)),
			done:     make(chan struct{}),
		}
		accepted := d.group.TryGo(func() error {
			defer close(h.done)
			d.runAttempt(ctx, doc, task, h.Assignee)
			return nil
		})
		if !accepted {
			break
		}
		handles = append(handles, h)
	}
	return handles
}

// Wait blocks until every launched attempt has returned.
func (d *Dispatcher) Wait() {
	_ = d.group.Wait()
}

// runAttempt drives one attempt through its full life: claim, start, run,
// record. Every ledger write is guarded; losing a guard means another actor
// got there first and this attempt stands down.
func (d *Dispatcher) runAttempt(ctx context.Context, doc *ledger.Document, task *graph.Task, assignee string) {
	ceremonyID := doc.Header.CeremonyID

	err := d.store.UpdateTask(ctx, task.ID, ledger.TaskMutation{
		ExpectStatus: graph.StatusPending,
		NewStatus:    graph.StatusAssigned,
		Assignee:     assignee,
		Actor:        actorDispatcher,
		Note:         "claimed by " + assignee,
		BumpAttempt:  true,
	})
	if errors.Is(err, ledger.ErrStaleWrite) {
		return
	}
	if err != nil {
		d.emit(ProgressEvent{CeremonyID: ceremonyID, Task: task.ID, Status: ProgressFailed, Message: err.Error()})
		return
	}
	d.emit(ProgressEvent{CeremonyID: ceremonyID, Task: task.ID, Status: ProgressDispatched})

	w, err := d.registry.ForTask(task)
	if err != nil {
		_ = d.store.UpdateTask(ctx, task.ID, ledger.TaskMutation{
			ExpectStatus: graph.StatusAssigned,
			NewStatus:    graph.StatusFailed,
			Output:       "worker spawn failed: " + err.Error(),
			Actor:        actorDispatcher,
			Note:         "worker spawn failed",
		})
		d.emit(ProgressEvent{CeremonyID: ceremonyID, Task: task.ID, Status: ProgressFailed, Message: err.Error()})
		return
	}

	if err := d.store.UpdateTask(ctx, task.ID, ledger.TaskMutation{
		ExpectStatus: graph.StatusAssigned,
		NewStatus:    graph.StatusInProgress,
		Actor:        assignee,
	}); err != nil {
		return
	}
	d.emit(ProgressEvent{CeremonyID: ceremonyID, Task: task.ID, Status: ProgressStarted})

	claimed, err := d.store.ReadTask(ctx, task.ID)
	if err != nil {
		claimed = task
		claimed.Attempt = task.Attempt + 1
	}

	attemptCtx := ctx
	if deadline := d.cfg.deadlineFor(task); deadline > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	result, err := w.Run(attemptCtx, worker.Assignment{
		CeremonyID: ceremonyID,
		Intention:  doc.Header.Intention,
		Task:       *claimed,
		Assignee:   assignee,
		LedgerPath: d.cfg.LedgerPath,
		Workspace:  filepath.Join(d.cfg.WorkspaceDir, fmt.Sprintf("%s-attempt-%d", task.ID, claimed.Attempt)),
		Knowledge:  doc.Knowledge,
	})
	if err != nil {
		if recErr := d.store.UpdateTask(ctx, task.ID, ledger.TaskMutation{
			ExpectStatus: graph.StatusInProgress,
			NewStatus:    graph.StatusFailed,
			Output:       err.Error(),
			Actor:        assignee,
			Note:         "attempt failed",
		}); recErr != nil {
			// Superseded, usually by the monitor's timeout write.
			return
		}
		d.emit(ProgressEvent{CeremonyID: ceremonyID, Task: task.ID, Status: ProgressFailed, Message: err.Error()})
		return
	}

	if result.Knowledge != "" {
		_ = d.store.UpdateKnowledge(ctx, assignee, func(cur string) string {
			if cur == "" {
				return result.Knowledge
			}
			return cur + "\n" + result.Knowledge
		})
	}
	if err := d.store.UpdateTask(ctx, task.ID, ledger.TaskMutation{
		ExpectStatus: graph.StatusInProgress,
		NewStatus:    graph.StatusComplete,
		Output:       result.Output,
		Actor:        assignee,
	}); err != nil {
		return
	}
	d.emit(ProgressEvent{CeremonyID: ceremonyID, Task: task.ID, Status: ProgressComplete})
}

func (d *Dispatcher) emit(ev ProgressEvent) {
	if d.progress != nil {
		d.progress.Emit(ev)
	}
}
