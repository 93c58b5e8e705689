package orchestrator

import "fmt"

// Actor names recorded in ledger event log entries. Workers log under
// their per-attempt assignee id instead.
const (
	actorController = "controller"
	actorDispatcher = "dispatcher"
	actorMonitor    = "monitor"
)

// ProgressEvent is emitted to observers while a ceremony runs.
type ProgressEvent struct {
	CeremonyID string
	Task       string // empty for ceremony-level events
	Status     ProgressStatus
	Message    string
}

// ProgressStatus is the reported state of a task attempt, or of the
// ceremony itself.
type ProgressStatus string

const (
	ProgressDispatched ProgressStatus = "dispatched"
	ProgressStarted    ProgressStatus = "started"
	ProgressComplete   ProgressStatus = "complete"
	ProgressFailed     ProgressStatus = "failed"
	ProgressRequeued   ProgressStatus = "requeued"
	ProgressTimedOut   ProgressStatus = "timed-out"
	ProgressSkipped    ProgressStatus = "skipped"
	ProgressCeremony   ProgressStatus = "ceremony"
)

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	switch event.Status {
	case ProgressDispatched:
		return fmt.Sprintf("  ○ %s dispatched", event.Task)
	case ProgressStarted:
		return fmt.Sprintf("  ● %s...", event.Task)
	case ProgressComplete:
		return fmt.Sprintf("  ✓ %s complete", event.Task)
	case ProgressFailed:
		return fmt.Sprintf("  ✗ %s failed: %s", event.Task, event.Message)
	case ProgressRequeued:
		return fmt.Sprintf("  ↻ %s requeued: %s", event.Task, event.Message)
	case ProgressTimedOut:
		return fmt.Sprintf("  ⧖ %s timed out: %s", event.Task, event.Message)
	case ProgressSkipped:
		return fmt.Sprintf("  - %s skipped", event.Task)
	case ProgressCeremony:
		return fmt.Sprintf("[%s] %s", event.CeremonyID, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", event.Task)
	}
}
