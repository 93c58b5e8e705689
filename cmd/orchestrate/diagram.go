package main

import (
	"context"
	"fmt"

	"github.com/dusk-indust/orchestrate/internal/export"
	"github.com/dusk-indust/orchestrate/internal/ledger"
)

func runDiagram(flags cliFlags) error {
	proj, err := loadProject(flags.ProjectRoot)
	if err != nil {
		return err
	}

	path := ledger.LedgerPath(proj.ledgerDir(), flags.Diagram)
	store := ledger.NewFileStore(path)
	defer store.Close()

	doc, err := store.Read(context.Background())
	if err != nil {
		return err
	}

	fmt.Print(export.GenerateMermaid(doc))
	return nil
}
