package worker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestrate/internal/graph"
)

func shWorker(t *testing.T, script string) (*ProcessWorker, Assignment) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	return &ProcessWorker{Command: "sh", Args: []string{"-c", script}}, Assignment{
		CeremonyID: "cer-42",
		Intention:  "Refit the billing pipeline",
		Task: graph.Task{
			ID:          "t-audit",
			Name:        "Audit current flow",
			Description: "Walk the ingest path.",
			Attempt:     1,
		},
		Assignee:   "worker-abc",
		LedgerPath: "/tmp/cer-42.ledger.md",
		Workspace:  filepath.Join(t.TempDir(), "t-audit-1"),
		Knowledge:  "Rate limits live in config.",
	}
}

func TestProcessWorker_RunReadsOutputFile(t *testing.T) {
	w, a := shWorker(t, `printf 'task=%s attempt=%s' "$ORCHESTRATE_TASK" "$ORCHESTRATE_ATTEMPT" > output.md`)

	res, err := w.Run(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "task=t-audit attempt=1", res.Output)

	brief, err := os.ReadFile(filepath.Join(a.Workspace, briefFile))
	require.NoError(t, err)
	assert.Contains(t, string(brief), "# Task Brief")
	assert.Contains(t, string(brief), "Walk the ingest path.")
	assert.Contains(t, string(brief), "Rate limits live in config.")
}

func TestProcessWorker_FallsBackToLogTail(t *testing.T) {
	w, a := shWorker(t, `echo "did the work"`)

	res, err := w.Run(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "did the work", res.Output)
}

func TestProcessWorker_FailureCarriesLogTail(t *testing.T) {
	w, a := shWorker(t, `echo "boom: missing input" >&2; exit 3`)

	_, err := w.Run(context.Background(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "boom: missing input")
}

func TestProcessWorker_CanceledContextKillsCommand(t *testing.T) {
	w, a := shWorker(t, `sleep 30`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := w.Run(ctx, a)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestProcessWorker_NoCommandConfigured(t *testing.T) {
	w := &ProcessWorker{}
	_, err := w.Run(context.Background(), Assignment{Workspace: t.TempDir()})
	require.ErrorContains(t, err, "no command configured")
}
