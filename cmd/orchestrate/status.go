package main

import (
	"context"
	"fmt"

	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/status"
)

func runStatus(flags cliFlags) error {
	proj, err := loadProject(flags.ProjectRoot)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if flags.Ceremony != "" {
		return printSingleStatus(ctx, proj, flags.Ceremony)
	}
	return printAllStatuses(ctx, proj)
}

// printSingleStatus shows one ceremony with a per-task breakdown.
func printSingleStatus(ctx context.Context, proj *project, ceremonyID string) error {
	path := ledger.LedgerPath(proj.ledgerDir(), ceremonyID)
	store := ledger.NewFileStore(path)
	defer store.Close()

	doc, err := store.Read(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Ceremony: %s  [%s]\n", doc.Header.CeremonyID, doc.Header.Status)
	fmt.Printf("Intention: %s\n\n", doc.Header.Intention)

	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		marker := "  "
		if t.Status == graph.StatusAssigned || t.Status == graph.StatusInProgress {
			marker = "->"
		}
		attempt := ""
		if t.Attempt > 0 {
			attempt = fmt.Sprintf("  attempt %d", t.Attempt)
		}
		assignee := ""
		if t.Assignee != "" {
			assignee = "  " + t.Assignee
		}
		fmt.Printf("  %s %-16s %-12s %-28s%s%s\n", marker, t.ID, t.Status, t.Name, attempt, assignee)
	}
	return nil
}

// printAllStatuses shows one line per ceremony found in the ledger directory.
func printAllStatuses(ctx context.Context, proj *project) error {
	sums, err := status.Scan(ctx, proj.ledgerDir())
	if err != nil {
		return err
	}

	if len(sums) == 0 {
		fmt.Println("No ceremonies found.")
		fmt.Println("Run 'orchestrate --run <request.yml>' to start one.")
		return nil
	}

	for _, s := range sums {
		fmt.Println(s.Line())
	}
	return nil
}
