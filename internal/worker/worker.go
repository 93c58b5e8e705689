package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/dusk-indust/orchestrate/internal/graph"
)

// Assignment is everything one attempt needs: the task snapshot taken at
// claim time plus the ceremony context it runs under.
type Assignment struct {
	CeremonyID string
	Intention  string
	Task       graph.Task
	Assignee   string
	LedgerPath string
	Workspace  string
	Knowledge  string
}

// Result is what a finished attempt reports back for recording.
type Result struct {
	// Output is the task's result summary, written to the ledger on the
	// terminal transition.
	Output string

	// Knowledge, when non-empty, is appended to the ledger's shared
	// knowledge section.
	Knowledge string
}

// Worker executes exactly one task attempt in isolation. The caller records
// the outcome; a worker never touches any task other than its own.
//
// Implementations: ProcessWorker (production), SynthesisWorker (final
// assembly), FuncWorker (testing and embedding).
type Worker interface {
	Run(ctx context.Context, a Assignment) (*Result, error)
}

// FuncWorker adapts a plain function to the Worker interface.
type FuncWorker func(ctx context.Context, a Assignment) (*Result, error)

func (f FuncWorker) Run(ctx context.Context, a Assignment) (*Result, error) {
	return f(ctx, a)
}

// NewAssigneeID mints a fresh worker identity. Every attempt gets its own,
// so stale writes from a superseded attempt are refused by the ledger.
func NewAssigneeID() string {
	return "worker-" + uuid.NewString()[:8]
}
