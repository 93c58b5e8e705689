package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// File names inside an attempt's workspace. The brief is written before the
// command starts; the command reports by writing the output file, falling
// back to the log tail when it does not.
const (
	briefFile  = "task.md"
	outputFile = "output.md"
	logFile    = "worker.log"
)

const logTailBytes = 2048

// ProcessWorker runs each attempt as a fresh subprocess in its own
// workspace directory. The task context is passed through a brief file and
// ORCHESTRATE_* environment variables; stdout and stderr are captured in
// the workspace log.
type ProcessWorker struct {
	Command string
	Args    []string
}

var _ Worker = (*ProcessWorker)(nil)

func (w *ProcessWorker) Run(ctx context.Context, a Assignment) (*Result, error) {
	if w.Command == "" {
		return nil, errors.New("worker: no command configured")
	}
	if err := os.MkdirAll(a.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("worker: workspace %s: %w", a.Workspace, err)
	}
	briefPath := filepath.Join(a.Workspace, briefFile)
	if err := os.WriteFile(briefPath, []byte(renderBrief(a)), 0o644); err != nil {
		return nil, fmt.Errorf("worker: write brief: %w", err)
	}
	logPath := filepath.Join(a.Workspace, logFile)
	log, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("worker: create log: %w", err)
	}
	defer log.Close()

	cmd := exec.CommandContext(ctx, w.Command, w.Args...)
	cmd.Dir = a.Workspace
	cmd.Stdout = log
	cmd.Stderr = log
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(os.Environ(),
		"ORCHESTRATE_CEREMONY="+a.CeremonyID,
		"ORCHESTRATE_TASK="+a.Task.ID,
		"ORCHESTRATE_ATTEMPT="+fmt.Sprint(a.Task.Attempt),
		"ORCHESTRATE_ASSIGNEE="+a.Assignee,
		"ORCHESTRATE_LEDGER="+a.LedgerPath,
		"ORCHESTRATE_BRIEF="+briefPath,
	)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("worker: run %s: %w\n%s", w.Command, err, tailOf(logPath))
	}

	output, err := os.ReadFile(filepath.Join(a.Workspace, outputFile))
	if err != nil {
		return &Result{Output: tailOf(logPath)}, nil
	}
	return &Result{Output: strings.TrimSpace(string(output))}, nil
}

// renderBrief produces the markdown handed to the subprocess.
func renderBrief(a Assignment) string {
	var b strings.Builder
	b.WriteString("# Task Brief\n\n")
	fmt.Fprintf(&b, "- Ceremony: %s\n", a.CeremonyID)
	fmt.Fprintf(&b, "- Task: %s (%s)\n", a.Task.ID, a.Task.Name)
	fmt.Fprintf(&b, "- Attempt: %d\n", a.Task.Attempt)
	if a.Intention != "" {
		b.WriteString("\n## Intention\n\n")
		b.WriteString(a.Intention + "\n")
	}
	b.WriteString("\n## Description\n\n")
	b.WriteString(a.Task.Description + "\n")
	if a.Knowledge != "" {
		b.WriteString("\n## Shared Knowledge\n\n")
		b.WriteString(a.Knowledge + "\n")
	}
	return b.String()
}

func tailOf(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > logTailBytes {
		data = data[len(data)-logTailBytes:]
	}
	return strings.TrimSpace(string(data))
}
