package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dusk-indust/orchestrate/internal/export"
	"github.com/dusk-indust/orchestrate/internal/ledger"
)

func runExport(flags cliFlags) error {
	proj, err := loadProject(flags.ProjectRoot)
	if err != nil {
		return err
	}

	path := ledger.LedgerPath(proj.ledgerDir(), flags.Export)
	store := ledger.NewFileStore(path)
	defer store.Close()

	doc, err := store.Read(context.Background())
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(export.ExportCeremony(doc), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}
