package status

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
)

// Summary describes one ceremony ledger found on disk.
type Summary struct {
	CeremonyID  string
	Path        string
	Initiator   string
	Intention   string
	Status      ledger.CeremonyStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Counts      map[graph.Status]int
	Total       int

	// Err is set when the ledger file could not be read or parsed; the
	// other fields besides Path are zero in that case.
	Err error
}

// Done returns the number of completed tasks.
func (s Summary) Done() int {
	return s.Counts[graph.StatusComplete]
}

// Line formats the summary as a single status row.
func (s Summary) Line() string {
	if s.Err != nil {
		return fmt.Sprintf("%-12s  %-12s  %s", filepath.Base(s.Path), "UNREADABLE", s.Err)
	}
	return fmt.Sprintf("%-12s  %-12s  %d/%d tasks complete  %s",
		s.CeremonyID, s.Status, s.Done(), s.Total, s.Intention)
}

// Summarize builds a Summary from an already-loaded document.
func Summarize(doc *ledger.Document, path string) Summary {
	counts := make(map[graph.Status]int, len(doc.Tasks))
	for i := range doc.Tasks {
		counts[doc.Tasks[i].Status]++
	}
	return Summary{
		CeremonyID:  doc.Header.CeremonyID,
		Path:        path,
		Initiator:   doc.Header.Initiator,
		Intention:   doc.Header.Intention,
		Status:      doc.Header.Status,
		CreatedAt:   doc.Header.CreatedAt,
		CompletedAt: doc.Header.CompletedAt,
		Counts:      counts,
		Total:       len(doc.Tasks),
	}
}

// Inspect summarizes a single ceremony ledger file.
func Inspect(ctx context.Context, path string) (Summary, error) {
	store := ledger.NewFileStore(path)
	defer store.Close()
	doc, err := store.Read(ctx)
	if err != nil {
		return Summary{Path: path, Err: err}, err
	}
	return Summarize(doc, path), nil
}

// Scan summarizes every ceremony ledger under dir, ordered by creation time
// then ceremony ID. A missing directory yields no summaries. Unreadable
// ledgers are included with Err set so callers can surface them.
func Scan(ctx context.Context, dir string) ([]Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("status: read dir %s: %w", dir, err)
	}

	var out []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ledger.FileSuffix) {
			continue
		}
		sum, _ := Inspect(ctx, filepath.Join(dir, entry.Name()))
		out = append(out, sum)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CeremonyID < out[j].CeremonyID
	})
	return out, nil
}

// Find returns the summary for one ceremony ID under dir.
func Find(ctx context.Context, dir, ceremonyID string) (Summary, error) {
	return Inspect(ctx, ledger.LedgerPath(dir, ceremonyID))
}
