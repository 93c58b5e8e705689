package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dusk-indust/orchestrate/internal/graph"
)

// MemStore keeps the document in memory with the same guarded-write
// semantics as FileStore. Used by tests and anywhere persistence is not
// wanted.
type MemStore struct {
	mu  sync.Mutex
	doc *Document
	now func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore(opts ...Option) *MemStore {
	o := buildOptions(opts)
	return &MemStore{now: o.now}
}

func (s *MemStore) Close() error {
	return nil
}

func (s *MemStore) Create(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc != nil {
		return fmt.Errorf("%w: in-memory ledger", ErrLedgerExists)
	}
	s.doc = doc.Clone()
	return nil
}

func (s *MemStore) Read(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, ErrLedgerMissing
	}
	return s.doc.Clone(), nil
}

func (s *MemStore) ReadGraph(ctx context.Context) (*graph.Graph, error) {
	doc, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Graph()
}

func (s *MemStore) ReadTask(ctx context.Context, taskID string) (*graph.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, ErrLedgerMissing
	}
	task := s.doc.Task(taskID)
	if task == nil {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	return task.Clone(), nil
}

func (s *MemStore) UpdateTask(ctx context.Context, taskID string, mut TaskMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ErrLedgerMissing
	}
	return applyTaskMutation(s.doc, taskID, mut, s.now())
}

func (s *MemStore) UpdateCeremony(ctx context.Context, expect, next CeremonyStatus, actor, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ErrLedgerMissing
	}
	return applyCeremonyMutation(s.doc, expect, next, actor, note, s.now())
}

func (s *MemStore) UpdateKnowledge(ctx context.Context, actor string, update func(string) string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ErrLedgerMissing
	}
	s.doc.Knowledge = update(s.doc.Knowledge)
	s.doc.Log = append(s.doc.Log, LogEntry{
		At:    s.now(),
		Actor: actor,
		Note:  "shared knowledge updated",
	})
	return nil
}

func (s *MemStore) AppendLog(ctx context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ErrLedgerMissing
	}
	s.doc.Log = append(s.doc.Log, entry)
	return nil
}
