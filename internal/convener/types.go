package convener

import (
	"fmt"
	"time"

	"github.com/dusk-indust/orchestrate/internal/config"
	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/orchestrator"
	"github.com/dusk-indust/orchestrate/internal/status"
)

// --- Wire Types ---

// TaskView is the wire representation of one task.
type TaskView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Priority   string     `json:"priority"`
	Status     string     `json:"status"`
	Assignee   string     `json:"assignee,omitempty"`
	Attempt    int        `json:"attempt"`
	DependsOn  []string   `json:"dependsOn,omitempty"`
	Optional   bool       `json:"optional,omitempty"`
	Synthesis  bool       `json:"synthesis,omitempty"`
	Output     string     `json:"output,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// CeremonySummary is the wire representation of a ceremony's header line.
type CeremonySummary struct {
	ID          string     `json:"id"`
	Initiator   string     `json:"initiator"`
	Intention   string     `json:"intention"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	TasksDone   int        `json:"tasksDone"`
	TasksTotal  int        `json:"tasksTotal"`
}

// CeremonyView is the full wire representation of one ceremony.
type CeremonyView struct {
	CeremonySummary
	Files     []string   `json:"files,omitempty"`
	Tasks     []TaskView `json:"tasks"`
	Knowledge string     `json:"knowledge,omitempty"`
}

// ProgressUpdate is one streamed progress event.
type ProgressUpdate struct {
	CeremonyID string `json:"ceremonyId"`
	Task       string `json:"task,omitempty"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// StreamEvent is a typed event received from an SSE subscription.
type StreamEvent struct {
	// Exactly one of these is set.
	Progress *ProgressUpdate      `json:"progress,omitempty"`
	Report   *orchestrator.Report `json:"report,omitempty"`

	// Err is set if the stream encountered an error.
	Err error `json:"-"`
}

// --- Request / Response Types ---

// InitiateTask describes one subtask in an initiate call.
type InitiateTask struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Priority    string   `json:"priority,omitempty"`
	Description string   `json:"description"`
	DependsOn   []string `json:"dependsOn,omitempty"`
	Optional    bool     `json:"optional,omitempty"`
	Timeout     string   `json:"timeout,omitempty"` // Go duration string, e.g. "15m"
}

// InitiateParams starts a new ceremony.
type InitiateParams struct {
	Ceremony      string         `json:"ceremony,omitempty"`
	Initiator     string         `json:"initiator,omitempty"`
	Intention     string         `json:"intention"`
	Files         []string       `json:"files,omitempty"`
	Tasks         []InitiateTask `json:"tasks"`
	SynthesisName string         `json:"synthesisName,omitempty"`
	SynthesisDesc string         `json:"synthesisDescription,omitempty"`
}

// toRequest converts wire params into an orchestration request.
func (p *InitiateParams) toRequest() (*orchestrator.Request, error) {
	req := &orchestrator.Request{
		Ceremony:  p.Ceremony,
		Initiator: p.Initiator,
		Intention: p.Intention,
		Files:     p.Files,
		Synthesis: orchestrator.SynthesisRequest{
			Name:        p.SynthesisName,
			Description: p.SynthesisDesc,
		},
	}
	for _, t := range p.Tasks {
		tr := orchestrator.TaskRequest{
			ID:          t.ID,
			Name:        t.Name,
			Priority:    t.Priority,
			Description: t.Description,
			DependsOn:   t.DependsOn,
			Optional:    t.Optional,
		}
		if t.Timeout != "" {
			d, err := time.ParseDuration(t.Timeout)
			if err != nil {
				return nil, fmt.Errorf("convener: task %q: parse timeout %q: %w", t.ID, t.Timeout, err)
			}
			tr.Timeout = config.Duration(d)
		}
		req.Tasks = append(req.Tasks, tr)
	}
	return req, nil
}

// GetParams retrieves one ceremony.
type GetParams struct {
	ID string `json:"id"`
}

// ListParams queries ceremonies with filtering and pagination.
type ListParams struct {
	Status    string `json:"status,omitempty"`
	PageSize  int    `json:"pageSize,omitempty"`
	PageToken string `json:"pageToken,omitempty"`
}

// ListResult is the paginated response for ceremony/list.
type ListResult struct {
	Ceremonies    []CeremonySummary `json:"ceremonies"`
	TotalSize     int               `json:"totalSize"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

// AbortParams ends a ceremony early.
type AbortParams struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// ResultParams retrieves the final report of a ceremony.
type ResultParams struct {
	ID string `json:"id"`
}

// --- Service Card ---

// ServiceCard is the self-describing manifest served at the well-known path.
type ServiceCard struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Version      string              `json:"version"`
	Endpoint     string              `json:"endpoint"`
	Capabilities ServiceCapabilities `json:"capabilities"`
}

// ServiceCapabilities declares optional features of the service.
type ServiceCapabilities struct {
	Streaming bool `json:"streaming"`
}

// --- Conversions ---

func taskView(t *graph.Task) TaskView {
	return TaskView{
		ID:         t.ID,
		Name:       t.Name,
		Priority:   string(t.Priority),
		Status:     string(t.Status),
		Assignee:   t.Assignee,
		Attempt:    t.Attempt,
		DependsOn:  append([]string(nil), t.DependsOn...),
		Optional:   t.Optional,
		Synthesis:  t.Synthesis,
		Output:     t.Output,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
}

func summaryOf(doc *ledger.Document) CeremonySummary {
	done := 0
	for i := range doc.Tasks {
		if doc.Tasks[i].Status == graph.StatusComplete {
			done++
		}
	}
	return CeremonySummary{
		ID:          doc.Header.CeremonyID,
		Initiator:   doc.Header.Initiator,
		Intention:   doc.Header.Intention,
		Status:      string(doc.Header.Status),
		CreatedAt:   doc.Header.CreatedAt,
		CompletedAt: doc.Header.CompletedAt,
		TasksDone:   done,
		TasksTotal:  len(doc.Tasks),
	}
}

func viewOf(doc *ledger.Document) *CeremonyView {
	view := &CeremonyView{
		CeremonySummary: summaryOf(doc),
		Files:           append([]string(nil), doc.Header.Files...),
		Knowledge:       doc.Knowledge,
	}
	for i := range doc.Tasks {
		view.Tasks = append(view.Tasks, taskView(&doc.Tasks[i]))
	}
	return view
}

func summaryFromScan(s status.Summary) CeremonySummary {
	return CeremonySummary{
		ID:          s.CeremonyID,
		Initiator:   s.Initiator,
		Intention:   s.Intention,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
		TasksDone:   s.Done(),
		TasksTotal:  s.Total,
	}
}

func updateFrom(ev orchestrator.ProgressEvent) ProgressUpdate {
	return ProgressUpdate{
		CeremonyID: ev.CeremonyID,
		Task:       ev.Task,
		Status:     string(ev.Status),
		Message:    ev.Message,
	}
}
