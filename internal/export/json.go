package export

import (
	"strings"
	"time"

	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
)

// CeremonyExport is the top-level JSON export structure: one ceremony's
// ledger flattened for machine consumers.
type CeremonyExport struct {
	ID          string          `json:"id"`
	Initiator   string          `json:"initiator"`
	Intention   string          `json:"intention"`
	Status      string          `json:"status"`
	CreatedAt   string          `json:"createdAt"`
	CompletedAt string          `json:"completedAt,omitempty"`
	ExportedAt  string          `json:"exportedAt"`
	Files       []string        `json:"files,omitempty"`
	Tasks       []TaskExport    `json:"tasks"`
	Failures    []FailureExport `json:"failures,omitempty"`
	Knowledge   string          `json:"knowledge,omitempty"`
	Events      int             `json:"events"`
}

// TaskExport describes a single task record.
type TaskExport struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Priority   string   `json:"priority"`
	Status     string   `json:"status"`
	Assignee   string   `json:"assignee,omitempty"`
	Attempt    int      `json:"attempt"`
	DependsOn  []string `json:"dependsOn,omitempty"`
	Optional   bool     `json:"optional,omitempty"`
	Synthesis  bool     `json:"synthesis,omitempty"`
	Output     string   `json:"output,omitempty"`
	StartedAt  string   `json:"startedAt,omitempty"`
	FinishedAt string   `json:"finishedAt,omitempty"`
	DurationMS int64    `json:"durationMs,omitempty"`
}

// FailureExport is one permanently failed task with the reason recorded in
// the event log.
type FailureExport struct {
	TaskID   string `json:"taskId"`
	Name     string `json:"name"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
}

// ExportCeremony flattens a ledger document into its JSON export shape.
func ExportCeremony(doc *ledger.Document) *CeremonyExport {
	export := &CeremonyExport{
		ID:         doc.Header.CeremonyID,
		Initiator:  doc.Header.Initiator,
		Intention:  doc.Header.Intention,
		Status:     string(doc.Header.Status),
		CreatedAt:  doc.Header.CreatedAt.UTC().Format(time.RFC3339),
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Files:      doc.Header.Files,
		Events:     len(doc.Log),
		Knowledge:  doc.Knowledge,
	}
	if doc.Header.CompletedAt != nil {
		export.CompletedAt = doc.Header.CompletedAt.UTC().Format(time.RFC3339)
	}

	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		te := TaskExport{
			ID:        t.ID,
			Name:      t.Name,
			Priority:  string(t.Priority),
			Status:    string(t.Status),
			Assignee:  t.Assignee,
			Attempt:   t.Attempt,
			DependsOn: t.DependsOn,
			Optional:  t.Optional,
			Synthesis: t.Synthesis,
			Output:    t.Output,
		}
		if t.StartedAt != nil {
			te.StartedAt = t.StartedAt.UTC().Format(time.RFC3339)
		}
		if t.FinishedAt != nil {
			te.FinishedAt = t.FinishedAt.UTC().Format(time.RFC3339)
			if t.StartedAt != nil {
				te.DurationMS = t.FinishedAt.Sub(*t.StartedAt).Milliseconds()
			}
		}
		export.Tasks = append(export.Tasks, te)

		// A task still FAILED at export time is a permanent failure;
		// transient failures are requeued back to PENDING.
		if t.Status == graph.StatusFailed {
			export.Failures = append(export.Failures, FailureExport{
				TaskID:   t.ID,
				Name:     t.Name,
				Attempts: t.Attempt,
				Reason:   failureReason(doc, t.ID),
			})
		}
	}

	return export
}

// failureReason finds the note on the task's last FAILED transition in the
// event log.
func failureReason(doc *ledger.Document, taskID string) string {
	for i := len(doc.Log) - 1; i >= 0; i-- {
		e := &doc.Log[i]
		if e.Task != taskID {
			continue
		}
		if strings.HasSuffix(e.Transition, string(graph.StatusFailed)) {
			return e.Note
		}
	}
	return ""
}
