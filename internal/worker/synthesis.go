package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
)

// SynthesisWorker assembles the ceremony's final result from the outputs of
// every completed task. It runs last: the synthesis task depends on all
// other tasks, so by the time it is dispatched each dependency is settled.
type SynthesisWorker struct {
	store ledger.Store
}

var _ Worker = (*SynthesisWorker)(nil)

func NewSynthesisWorker(store ledger.Store) *SynthesisWorker {
	return &SynthesisWorker{store: store}
}

func (w *SynthesisWorker) Run(ctx context.Context, a Assignment) (*Result, error) {
	doc, err := w.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker: synthesis read ledger: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Ceremony Result\n\n")
	fmt.Fprintf(&b, "%s\n", doc.Header.Intention)

	var skipped []string
	for i := range doc.Tasks {
		task := &doc.Tasks[i]
		if task.ID == a.Task.ID || task.Synthesis {
			continue
		}
		switch task.Status {
		case graph.StatusComplete:
			fmt.Fprintf(&b, "\n## %s\n\n", task.Name)
			if out := strings.TrimSpace(task.Output); out != "" {
				b.WriteString(out + "\n")
			} else {
				b.WriteString("(no output recorded)\n")
			}
		case graph.StatusFailed, graph.StatusSkipped:
			if !task.Optional {
				return nil, fmt.Errorf("worker: synthesis requires task %q, found %s", task.ID, task.Status)
			}
			skipped = append(skipped, fmt.Sprintf("%s (%s)", task.Name, task.Status))
		default:
			return nil, fmt.Errorf("worker: synthesis requires task %q, found %s", task.ID, task.Status)
		}
	}
	if len(skipped) > 0 {
		b.WriteString("\n## Not Completed\n\n")
		for _, s := range skipped {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if doc.Knowledge != "" {
		b.WriteString("\n## Shared Knowledge\n\n")
		b.WriteString(doc.Knowledge + "\n")
	}
	return &Result{Output: b.String()}, nil
}
