package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/orchestrate/internal/config"
	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
)

// SynthesisTaskID is the reserved id of the auto-appended closing task.
const SynthesisTaskID = "t-synthesis"

// TaskRequest describes one subtask in a ceremony request.
type TaskRequest struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Priority    string          `yaml:"priority,omitempty"`
	Description string          `yaml:"description"`
	DependsOn   []string        `yaml:"dependsOn,omitempty"`
	Optional    bool            `yaml:"optional,omitempty"`
	Timeout     config.Duration `yaml:"timeout,omitempty"`
}

// SynthesisRequest customizes the closing task. Both fields have defaults.
type SynthesisRequest struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Request is a convener's ask: one intention, decomposed into tasks. The
// synthesis task is appended automatically and depends on every other task.
type Request struct {
	Ceremony  string           `yaml:"ceremony,omitempty"`
	Initiator string           `yaml:"initiator,omitempty"`
	Intention string           `yaml:"intention"`
	Files     []string         `yaml:"files,omitempty"`
	Tasks     []TaskRequest    `yaml:"tasks"`
	Synthesis SynthesisRequest `yaml:"synthesis,omitempty"`
}

// ParseRequest decodes a yaml ceremony request.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("orchestrator: parse request: %w", err)
	}
	return &req, nil
}

// Document materializes the request into a fresh ledger document with every
// task PENDING and the ceremony INITIATED. The task set is validated the
// same way the scheduler will read it, so a malformed request is rejected
// before anything is persisted.
func (r *Request) Document(now time.Time) (*ledger.Document, error) {
	if r.Intention == "" {
		return nil, fmt.Errorf("orchestrator: request: intention required")
	}
	if len(r.Tasks) == 0 {
		return nil, fmt.Errorf("orchestrator: request: at least one task required")
	}

	ceremonyID := r.Ceremony
	if ceremonyID == "" {
		ceremonyID = "cer-" + uuid.NewString()[:8]
	}
	initiator := r.Initiator
	if initiator == "" {
		initiator = "local"
	}

	tasks := make([]graph.Task, 0, len(r.Tasks)+1)
	allIDs := make([]string, 0, len(r.Tasks))
	for _, tr := range r.Tasks {
		if tr.ID == SynthesisTaskID {
			return nil, fmt.Errorf("orchestrator: request: task id %q is reserved", SynthesisTaskID)
		}
		priority, err := graph.ParsePriority(tr.Priority)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: request: task %q: %w", tr.ID, err)
		}
		tasks = append(tasks, graph.Task{
			ID:          tr.ID,
			Name:        tr.Name,
			Priority:    priority,
			Status:      graph.StatusPending,
			Description: tr.Description,
			DependsOn:   tr.DependsOn,
			Optional:    tr.Optional,
			Timeout:     tr.Timeout.Std(),
		})
		allIDs = append(allIDs, tr.ID)
	}

	synthesis := graph.Task{
		ID:          SynthesisTaskID,
		Name:        r.Synthesis.Name,
		Priority:    graph.PriorityHigh,
		Status:      graph.StatusPending,
		Description: r.Synthesis.Description,
		DependsOn:   allIDs,
		Synthesis:   true,
	}
	if synthesis.Name == "" {
		synthesis.Name = "Assemble final result"
	}
	if synthesis.Description == "" {
		synthesis.Description = "Assemble the final result from the outputs of every completed task."
	}
	tasks = append(tasks, synthesis)

	if _, err := graph.New(tasks); err != nil {
		return nil, fmt.Errorf("orchestrator: request: %w", err)
	}

	return &ledger.Document{
		Header: ledger.Header{
			CeremonyID: ceremonyID,
			Initiator:  initiator,
			Intention:  r.Intention,
			Status:     ledger.CeremonyInitiated,
			CreatedAt:  now,
			Files:      r.Files,
		},
		Tasks: tasks,
		Log: []ledger.LogEntry{
			{At: now, Actor: actorController, Note: "ceremony record created"},
		},
	}, nil
}
