//go:build e2e

package e2e

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
	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/orchestrator"
	"github.com/dusk-indust/orchestrate/internal/worker"
)

// diamondRequest is the canonical end-to-end graph: A and B run first and in
// parallel, C waits on both, and the auto-appended synthesis task closes over
// all three.
func diamondRequest(ceremonyID string) *orchestrator.Request {
	return &orchestrator.Request{
		Ceremony:  ceremonyID,
		Initiator: "e2e",
		Intention: "Refit the billing pipeline without downtime.",
		Tasks: []orchestrator.TaskRequest{
			{ID: "t-a", Name: "Audit ingest", Priority: "high", Description: "Catalog the current ingest path."},
			{ID: "t-b", Name: "Audit egress", Description: "Catalog the current egress path."},
			{ID: "t-c", Name: "Draft cutover plan", DependsOn: []string{"t-a", "t-b"}, Description: "Combine both audits into a plan."},
		},
	}
}

// startCeremony materializes the request into a fresh file-backed ledger and
// returns the store plus the ledger path.
func startCeremony(t *testing.T, req *orchestrator.Request) (*ledger.FileStore, string) {
	t.Helper()
	doc, err := req.Document(time.Now().UTC())
	require.NoError(t, err)

	path := ledger.LedgerPath(t.TempDir(), doc.Header.CeremonyID)
	store := ledger.NewFileStore(path)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Create(context.Background(), doc))
	return store, path
}

// processRegistry wires a registry whose default worker runs script under sh
// in a fresh workspace per attempt, the way a production run does.
func processRegistry(t *testing.T, store ledger.Store, script string) *worker.Registry {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	reg := worker.NewRegistry(worker.KindProcess)
	reg.Register(worker.KindProcess, func() worker.Worker {
		return &worker.ProcessWorker{Command: "sh", Args: []string{"-c", script}}
	})
	reg.Register(worker.KindSynthesis, func() worker.Worker {
		return worker.NewSynthesisWorker(store)
	})
	return reg
}

func e2eConfig(t *testing.T, path string, maxRetries int) orchestrator.Config {
	t.Helper()
	return orchestrator.Config{
		LedgerPath:   path,
		WorkspaceDir: filepath.Join(t.TempDir(), "work"),
		Concurrency:  2,
		MaxRetries:   maxRetries,
		PollInterval: 10 * time.Millisecond,
	}
}

func drainProgress(ctrl *orchestrator.Controller) func() {
	ch := ctrl.Progress()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()
	return func() {
		ctrl.Close()
		<-done
	}
}

// TestCeremony_E2E_Complete runs the diamond graph with real subprocess
// workers over a file-backed ledger and verifies the ceremony completes with
// the synthesis output as the final result.
func TestCeremony_E2E_Complete(t *testing.T) {
	store, path := startCeremony(t, diamondRequest("cer-e2e-ok"))
	reg := processRegistry(t, store,
		`printf 'finished %s (attempt %s)' "$ORCHESTRATE_TASK" "$ORCHESTRATE_ATTEMPT" > output.md`)

	ctrl := orchestrator.New(e2eConfig(t, path, 0), store, reg)
	stop := drainProgress(ctrl)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := ctrl.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.CeremonyComplete, report.Status)
	assert.Empty(t, report.Failed)
	assert.Contains(t, report.Output, "# Ceremony Result")
	assert.Contains(t, report.Output, "finished t-c")

	// The ledger on disk is the authoritative record of the same outcome.
	doc, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.CeremonyComplete, doc.Header.Status)
	require.NotNil(t, doc.Header.CompletedAt)
	for _, task := range doc.Tasks {
		assert.Equal(t, graph.StatusComplete, task.Status, "task %s", task.ID)
		assert.NotEmpty(t, task.Assignee, "task %s", task.ID)
	}
	assert.Equal(t, report.Output, doc.Task(orchestrator.SynthesisTaskID).Output)
}

// TestCeremony_E2E_PermanentFailure makes t-c exit nonzero on every attempt.
// The ceremony fails after the bounded retries, the completed audits stay
// COMPLETE in the ledger, and synthesis never runs.
func TestCeremony_E2E_PermanentFailure(t *testing.T) {
	store, path := startCeremony(t, diamondRequest("cer-e2e-fail"))
	reg := processRegistry(t, store,
		`case "$ORCHESTRATE_TASK" in
  t-c) echo "cutover plan rejected" >&2; exit 1 ;;
  *)   printf 'finished %s' "$ORCHESTRATE_TASK" > output.md ;;
esac`)

	ctrl := orchestrator.New(e2eConfig(t, path, 1), store, reg)
	stop := drainProgress(ctrl)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := ctrl.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.CeremonyFailed, report.Status)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "t-c", report.Failed[0].ID)
	assert.Equal(t, 2, report.Failed[0].Attempts)
	assert.Contains(t, report.Failed[0].Reason, "cutover plan rejected")
	assert.Contains(t, report.Blocked, orchestrator.SynthesisTaskID)
	assert.Empty(t, report.Output)

	doc, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusComplete, doc.Task("t-a").Status)
	assert.Equal(t, graph.StatusComplete, doc.Task("t-b").Status)
	assert.Equal(t, graph.StatusFailed, doc.Task("t-c").Status)
	assert.Equal(t, graph.StatusSkipped, doc.Task(orchestrator.SynthesisTaskID).Status)
}

// TestCeremony_E2E_WorkspaceArtifacts checks the per-attempt workspace
// contract: each attempt gets its own directory with the brief and the
// captured log.
func TestCeremony_E2E_WorkspaceArtifacts(t *testing.T) {
	store, path := startCeremony(t, &orchestrator.Request{
		Ceremony:  "cer-e2e-ws",
		Intention: "Single task ceremony.",
		Tasks: []orchestrator.TaskRequest{
			{ID: "t-solo", Name: "Solo", Description: "One step."},
		},
	})
	reg := processRegistry(t, store, `cat task.md; printf 'done' > output.md`)

	cfg := e2eConfig(t, path, 0)
	ctrl := orchestrator.New(cfg, store, reg)
	stop := drainProgress(ctrl)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := ctrl.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, ledger.CeremonyComplete, report.Status)

	workspace := filepath.Join(cfg.WorkspaceDir, "t-solo-attempt-1")
	brief, err := os.ReadFile(filepath.Join(workspace, "task.md"))
	require.NoError(t, err)
	assert.Contains(t, string(brief), "Single task ceremony.")
	assert.Contains(t, string(brief), "One step.")

	log, err := os.ReadFile(filepath.Join(workspace, "worker.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "# Task Brief")
}
