package ledger

import (
	"fmt"
	"time"

	"github.com/dusk-indust/orchestrate/internal/graph"
)

// --- Enums ---

// CeremonyStatus represents the lifecycle state of a ceremony.
type CeremonyStatus string

const (
	CeremonyInitiated  CeremonyStatus = "INITIATED"
	CeremonyInProgress CeremonyStatus = "IN_PROGRESS"
	CeremonyComplete   CeremonyStatus = "COMPLETE"
	CeremonyFailed     CeremonyStatus = "FAILED"
)

// IsTerminal returns true if the ceremony status is a final state.
func (s CeremonyStatus) IsTerminal() bool {
	switch s {
	case CeremonyComplete, CeremonyFailed:
		return true
	default:
		return false
	}
}

// ceremonyTransitions encodes the ceremony lifecycle. FAILED is reachable
// from INITIATED so an abort before the first cycle still closes the record.
var ceremonyTransitions = map[CeremonyStatus]map[CeremonyStatus]struct{}{
	CeremonyInitiated: {
		CeremonyInProgress: {},
		CeremonyFailed:     {},
	},
	CeremonyInProgress: {
		CeremonyComplete: {},
		CeremonyFailed:   {},
	},
	CeremonyComplete: {},
	CeremonyFailed:   {},
}

// ValidateCeremonyTransition checks whether from -> to is a legal lifecycle
// change. Fails closed.
func ValidateCeremonyTransition(from, to CeremonyStatus) error {
	next, ok := ceremonyTransitions[from]
	if !ok {
		return fmt.Errorf("ledger: unknown ceremony status %q", from)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("ledger: invalid ceremony transition: %s -> %s", from, to)
	}
	return nil
}

// ParseCeremonyStatus converts a string to a CeremonyStatus.
func ParseCeremonyStatus(s string) (CeremonyStatus, error) {
	switch CeremonyStatus(s) {
	case CeremonyInitiated, CeremonyInProgress, CeremonyComplete, CeremonyFailed:
		return CeremonyStatus(s), nil
	default:
		return "", fmt.Errorf("ledger: unknown ceremony status %q", s)
	}
}

// --- Document ---

// Header is the ceremony metadata at the top of the ledger.
type Header struct {
	CeremonyID  string
	Initiator   string
	Intention   string
	Status      CeremonyStatus
	CreatedAt   time.Time
	CompletedAt *time.Time

	// Files is the advisory list of files the ceremony may touch.
	// Declarative only; the orchestrator does not enforce it.
	Files []string
}

// LogEntry is one row of the append-only event log. Task and Transition are
// "-" for ceremony-level entries.
type LogEntry struct {
	At         time.Time
	Actor      string
	Task       string
	Transition string
	Note       string
}

// Transition formats a from -> to pair for a log entry. Works for task and
// ceremony statuses alike.
func Transition(from, to any) string {
	return fmt.Sprintf("%s -> %s", from, to)
}

// Document is the in-memory form of one ledger: the sole durable state of a
// ceremony. Tasks appear in manifest order.
type Document struct {
	Header    Header
	Tasks     []graph.Task
	Knowledge string
	Log       []LogEntry
}

// Task returns a pointer to the task with the given id, or nil.
func (d *Document) Task(id string) *graph.Task {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	cp := &Document{
		Header:    d.Header,
		Knowledge: d.Knowledge,
	}
	cp.Header.Files = append([]string(nil), d.Header.Files...)
	if d.Header.CompletedAt != nil {
		ts := *d.Header.CompletedAt
		cp.Header.CompletedAt = &ts
	}
	for i := range d.Tasks {
		cp.Tasks = append(cp.Tasks, *d.Tasks[i].Clone())
	}
	cp.Log = append([]LogEntry(nil), d.Log...)
	return cp
}

// Graph builds the in-memory task graph from the document. The result is a
// cache; the document remains authoritative.
func (d *Document) Graph() (*graph.Graph, error) {
	return graph.New(d.Tasks)
}
