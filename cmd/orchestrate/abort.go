package main

import (
	"context"

	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/orchestrator"
)

// runAbort ends a ceremony early. It works on a ledger no live controller is
// driving: every task that has not started is skipped, and the ceremony
// settles as FAILED.
func runAbort(flags cliFlags) error {
	proj, err := loadProject(flags.ProjectRoot)
	if err != nil {
		return err
	}
	ctx := context.Background()

	path := ledger.LedgerPath(proj.ledgerDir(), flags.Abort)
	store := ledger.NewFileStore(path)
	defer store.Close()

	ctrl := orchestrator.New(proj.controllerConfig(path, flags.Abort, false), store, proj.registryFactory()(store))
	defer ctrl.Close()

	reason := flags.Reason
	if reason == "" {
		reason = "aborted from the command line"
	}

	report, err := ctrl.Abort(ctx, reason)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}
