package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/orchestrator"
)

// runCeremony executes one ceremony request end to end in this process:
// create the ledger, drive the controller to a terminal state, print the
// report. Interrupting leaves the ledger IN_PROGRESS; a second --run of the
// same ceremony id resumes it.
func runCeremony(flags cliFlags) error {
	proj, err := loadProject(flags.ProjectRoot)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(flags.Run)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	req, err := orchestrator.ParseRequest(data)
	if err != nil {
		return err
	}
	doc, err := req.Document(time.Now().UTC())
	if err != nil {
		return err
	}
	ceremonyID := doc.Header.CeremonyID

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(proj.ledgerDir(), 0o755); err != nil {
		return err
	}
	path := ledger.LedgerPath(proj.ledgerDir(), ceremonyID)
	store := ledger.NewFileStore(path)
	defer store.Close()

	switch err := store.Create(ctx, doc); {
	case err == nil:
		fmt.Printf("ceremony %s initiated, ledger at %s\n", ceremonyID, dotRelative(proj.root, path))
	case req.Ceremony != "" && errors.Is(err, ledger.ErrLedgerExists):
		// Resuming an explicit ceremony id is allowed; the ledger on disk wins.
		fmt.Printf("ceremony %s already has a ledger, resuming\n", ceremonyID)
	default:
		return err
	}

	ctrl := orchestrator.New(proj.controllerConfig(path, ceremonyID, flags.Verbose), store, proj.registryFactory()(store))

	verbose := flags.Verbose || proj.cfg.Verbose
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range ctrl.Progress() {
			if verbose {
				fmt.Println(orchestrator.FormatProgress(ev))
			}
		}
	}()

	report, err := ctrl.Run(ctx)
	ctrl.Close()
	<-drained
	if err != nil {
		return err
	}

	printReport(report)
	if report.Status == ledger.CeremonyFailed {
		return fmt.Errorf("ceremony %s failed", report.CeremonyID)
	}
	return nil
}

func printReport(report *orchestrator.Report) {
	fmt.Printf("\nceremony %s settled: %s\n", report.CeremonyID, report.Status)
	for _, f := range report.Failed {
		fmt.Printf("  failed: %s (%s) after %d attempts: %s\n", f.ID, f.Name, f.Attempts, f.Reason)
	}
	if len(report.Blocked) > 0 {
		fmt.Printf("  blocked: %s\n", strings.Join(report.Blocked, ", "))
	}
	if report.Output != "" {
		fmt.Println()
		fmt.Println(report.Output)
	}
}
