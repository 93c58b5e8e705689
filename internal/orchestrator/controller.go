package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/worker"
)

// FailedTask is one permanent failure in a report.
type FailedTask struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
}

// Report is the final account of a ceremony.
type Report struct {
	CeremonyID string                `json:"ceremonyId"`
	Status     ledger.CeremonyStatus `json:"status"`
	Output     string                `json:"output,omitempty"`
	Failed     []FailedTask          `json:"failed,omitempty"`
	Blocked    []string              `json:"blocked,omitempty"`
}

// Controller drives one ceremony from INITIATED to a terminal state: it
// polls the monitor, dispatches whatever became ready, and settles the
// ceremony when nothing is left to run.
type Controller struct {
	cfg        Config
	store      ledger.Store
	registry   *worker.Registry
	progress   *ProgressReporter
	dispatcher *Dispatcher
	monitor    *Monitor
	now        func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a Controller for the ceremony behind store.
func New(cfg Config, store ledger.Store, registry *worker.Registry, opts ...Option) *Controller {
	cfg.normalize()
	c := &Controller{
		cfg:      cfg,
		store:    store,
		registry: registry,
		progress: NewProgressReporter(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatcher = NewDispatcher(&c.cfg, store, registry, c.progress, c.now)
	c.monitor = NewMonitor(&c.cfg, store, c.progress, c.now)
	return c
}

// Progress returns a channel that emits progress events.
func (c *Controller) Progress() <-chan ProgressEvent {
	return c.progress.Subscribe()
}

// Close shuts down the progress reporter. Callers should invoke this when
// the controller is no longer needed.
func (c *Controller) Close() {
	c.progress.Close()
}

// Run executes the ceremony to a terminal state and returns its report.
// A ceremony interrupted by context cancellation stays IN_PROGRESS and can
// be resumed by a later Run.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	ceremonyID := doc.Header.CeremonyID
	switch doc.Header.Status {
	case ledger.CeremonyComplete, ledger.CeremonyFailed:
		return c.Result(ctx)
	case ledger.CeremonyInitiated:
		err := c.store.UpdateCeremony(ctx, ledger.CeremonyInitiated, ledger.CeremonyInProgress, actorController, "dispatch loop started")
		if err != nil && !errors.Is(err, ledger.ErrStaleWrite) {
			return nil, err
		}
		c.progress.Emit(ProgressEvent{CeremonyID: ceremonyID, Status: ProgressCeremony, Message: "ceremony started"})
	default:
		c.progress.Emit(ProgressEvent{CeremonyID: ceremonyID, Status: ProgressCeremony, Message: "ceremony resumed"})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Failures left behind by an interrupted run get their retry decision
	// before the first readiness computation.
	if _, err := c.monitor.Sweep(runCtx); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var handles []*Handle
	for {
		_, live, err := c.monitor.Poll(runCtx, handles)
		if err != nil {
			cancel()
			c.dispatcher.Wait()
			return nil, err
		}
		handles = live

		doc, err := c.store.Read(runCtx)
		if err != nil {
			cancel()
			c.dispatcher.Wait()
			return nil, err
		}
		if doc.Header.Status.IsTerminal() {
			// Aborted from outside while we were running.
			cancel()
			c.dispatcher.Wait()
			return c.Result(ctx)
		}
		g, err := doc.Graph()
		if err != nil {
			cancel()
			c.dispatcher.Wait()
			return nil, err
		}
		if !g.Outstanding() {
			break
		}

		ready := g.Ready()
		if len(ready) == 0 && len(handles) == 0 && !anyInFlight(g) {
			// Nothing runs and nothing can: the remaining tasks sit behind
			// a permanent failure. Close them out instead of spinning.
			c.skipBlocked(runCtx, ceremonyID, g)
			break
		}

		handles = append(handles, c.dispatcher.Dispatch(runCtx, doc, ready)...)

		select {
		case <-runCtx.Done():
			c.dispatcher.Wait()
			return nil, runCtx.Err()
		case <-ticker.C:
		}
	}
	c.dispatcher.Wait()
	return c.finalize(ctx, ceremonyID)
}

// Abort ends the ceremony early: pending tasks are skipped and the ceremony
// is marked FAILED. Attempts already running are left to settle on their
// own; a concurrent Run loop stops dispatching as soon as it sees the
// terminal header.
func (c *Controller) Abort(ctx context.Context, reason string) (*Report, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	if doc.Header.Status.IsTerminal() {
		return c.Result(ctx)
	}
	for i := range doc.Tasks {
		task := &doc.Tasks[i]
		if task.Status != graph.StatusPending {
			continue
		}
		err := c.store.UpdateTask(ctx, task.ID, ledger.TaskMutation{
			ExpectStatus: graph.StatusPending,
			NewStatus:    graph.StatusSkipped,
			Actor:        actorController,
			Note:         "ceremony aborted",
		})
		if err == nil {
			c.progress.Emit(ProgressEvent{CeremonyID: doc.Header.CeremonyID, Task: task.ID, Status: ProgressSkipped})
		}
	}
	note := "aborted"
	if reason != "" {
		note = "aborted: " + reason
	}
	err = c.store.UpdateCeremony(ctx, doc.Header.Status, ledger.CeremonyFailed, actorController, note)
	switch {
	case err == nil:
		c.progress.Emit(ProgressEvent{CeremonyID: doc.Header.CeremonyID, Status: ProgressCeremony, Message: note})
	case errors.Is(err, ledger.ErrStaleWrite):
		// Lost to a concurrent finalize: the ceremony settled on its own
		// terms, so no "aborted" event goes to watchers.
	default:
		return nil, err
	}
	return c.Result(ctx)
}

// Result builds the report for the ceremony's current state.
func (c *Controller) Result(ctx context.Context) (*Report, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	return c.buildReport(ctx, doc)
}

// --- Internals ---

// finalize settles the ceremony once every task is terminal.
func (c *Controller) finalize(ctx context.Context, ceremonyID string) (*Report, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	if doc.Header.Status.IsTerminal() {
		return c.buildReport(ctx, doc)
	}

	success := false
	if syn := synthesisOf(doc); syn != nil {
		success = syn.Status == graph.StatusComplete
	}
	if success {
		err = c.store.UpdateCeremony(ctx, ledger.CeremonyInProgress, ledger.CeremonyComplete, actorController, "synthesis complete")
	} else {
		err = c.store.UpdateCeremony(ctx, ledger.CeremonyInProgress, ledger.CeremonyFailed, actorController, failureNote(doc))
	}
	switch {
	case err == nil:
		status := ledger.CeremonyFailed
		if success {
			status = ledger.CeremonyComplete
		}
		c.progress.Emit(ProgressEvent{CeremonyID: ceremonyID, Status: ProgressCeremony, Message: "ceremony " + string(status)})
	case errors.Is(err, ledger.ErrStaleWrite):
		// An abort got there first; its event already went out.
	default:
		return nil, err
	}
	return c.Result(ctx)
}

// skipBlocked marks every still-pending task SKIPPED with a note naming the
// failure that blocks it.
func (c *Controller) skipBlocked(ctx context.Context, ceremonyID string, g *graph.Graph) {
	for _, task := range g.Tasks() {
		if task.Status != graph.StatusPending {
			continue
		}
		err := c.store.UpdateTask(ctx, task.ID, ledger.TaskMutation{
			ExpectStatus: graph.StatusPending,
			NewStatus:    graph.StatusSkipped,
			Actor:        actorController,
			Note:         "blocked by permanent failure",
		})
		if err == nil {
			c.progress.Emit(ProgressEvent{CeremonyID: ceremonyID, Task: task.ID, Status: ProgressSkipped})
		}
	}
}

// buildReport assembles the report from the document, using the dependency
// index to name tasks blocked by the permanent failures.
func (c *Controller) buildReport(ctx context.Context, doc *ledger.Document) (*Report, error) {
	report := &Report{
		CeremonyID: doc.Header.CeremonyID,
		Status:     doc.Header.Status,
	}
	var failedIDs []string
	for i := range doc.Tasks {
		task := &doc.Tasks[i]
		if task.Synthesis && task.Status == graph.StatusComplete {
			report.Output = task.Output
		}
		if task.Status != graph.StatusFailed {
			continue
		}
		report.Failed = append(report.Failed, FailedTask{
			ID:       task.ID,
			Name:     task.Name,
			Attempts: task.Attempt,
			Reason:   task.Output,
		})
		if !task.Optional {
			failedIDs = append(failedIDs, task.ID)
		}
	}
	if len(failedIDs) > 0 {
		g, err := doc.Graph()
		if err != nil {
			return nil, err
		}
		idx := graph.NewMemIndex()
		if err := idx.Load(ctx, g); err != nil {
			return nil, err
		}
		defer idx.Close()
		blocked, err := idx.Blocked(ctx, failedIDs)
		if err != nil {
			return nil, err
		}
		report.Blocked = blocked
	}
	return report, nil
}

func synthesisOf(doc *ledger.Document) *graph.Task {
	for i := range doc.Tasks {
		if doc.Tasks[i].Synthesis {
			return &doc.Tasks[i]
		}
	}
	return nil
}

func anyInFlight(g *graph.Graph) bool {
	counts := g.Counts()
	return counts[graph.StatusAssigned] > 0 || counts[graph.StatusInProgress] > 0
}

func failureNote(doc *ledger.Document) string {
	for i := range doc.Tasks {
		task := &doc.Tasks[i]
		if task.Status == graph.StatusFailed && !task.Optional {
			return fmt.Sprintf("task %s failed permanently", task.ID)
		}
	}
	return "synthesis did not complete"
}
