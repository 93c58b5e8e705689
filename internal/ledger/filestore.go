package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/dusk-indust/orchestrate/internal/graph"
)

// FileSuffix is the naming convention for ledger files on disk.
const FileSuffix = ".ledger.md"

const lockRetryDelay = 25 * time.Millisecond

// LedgerPath returns the conventional ledger location for a ceremony.
func LedgerPath(dir, ceremonyID string) string {
	return filepath.Join(dir, ceremonyID+FileSuffix)
}

// FileStore persists one ceremony's ledger as a markdown file. Writes hold
// an exclusive flock on a sidecar lock file (the ledger itself is swapped by
// rename, so its inode is not a stable lock target), re-read the current
// bytes, verify the caller's expectation, and splice only the affected
// sections before an atomic rename.
type FileStore struct {
	path     string
	lockPath string
	now      func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store for the ledger at path. The file may not
// exist yet; Create writes it.
func NewFileStore(path string, opts ...Option) *FileStore {
	o := buildOptions(opts)
	return &FileStore{
		path:     path,
		lockPath: path + ".lock",
		now:      o.now,
	}
}

// Path returns the ledger file location.
func (s *FileStore) Path() string {
	return s.path
}

// Close releases nothing; locks are held only for the duration of a call.
func (s *FileStore) Close() error {
	return nil
}

// Create writes a brand new ledger file.
func (s *FileStore) Create(ctx context.Context, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ledger: create dir: %w", err)
	}
	return s.withLock(ctx, true, func() error {
		if _, err := os.Stat(s.path); err == nil {
			return fmt.Errorf("%w: %s", ErrLedgerExists, s.path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ledger: stat %s: %w", s.path, err)
		}
		return s.writeAtomic(Render(doc))
	})
}

// Read returns the full parsed document.
func (s *FileStore) Read(ctx context.Context) (*Document, error) {
	var doc *Document
	err := s.withLock(ctx, false, func() error {
		data, err := s.readBytes()
		if err != nil {
			return err
		}
		doc, err = Parse(data)
		return err
	})
	return doc, err
}

// ReadGraph parses the ledger and builds the task graph from it.
func (s *FileStore) ReadGraph(ctx context.Context) (*graph.Graph, error) {
	doc, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Graph()
}

// ReadTask returns a single task by id.
func (s *FileStore) ReadTask(ctx context.Context, taskID string) (*graph.Task, error) {
	doc, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	task := doc.Task(taskID)
	if task == nil {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	return task.Clone(), nil
}

// UpdateTask applies a guarded status change. Only the task's manifest row,
// its detail block, and the event log are rewritten; all other bytes pass
// through untouched.
func (s *FileStore) UpdateTask(ctx context.Context, taskID string, mut TaskMutation) error {
	return s.withLock(ctx, true, func() error {
		data, err := s.readBytes()
		if err != nil {
			return err
		}
		doc, lay, err := parseDocument(data)
		if err != nil {
			return err
		}
		if err := applyTaskMutation(doc, taskID, mut, s.now()); err != nil {
			return err
		}
		task := doc.Task(taskID)
		row, ok := lay.rows[taskID]
		block, blockOK := lay.blocks[taskID]
		if !ok || !blockOK {
			return fmt.Errorf("ledger: no layout for task %q", taskID)
		}
		text := string(data)
		next := text[:row.start] +
			renderManifestRow(task) +
			text[row.end:block.start] +
			renderDetailBlock(task) +
			text[block.end:] +
			renderLogRow(doc.Log[len(doc.Log)-1])
		return s.writeAtomic([]byte(next))
	})
}

// UpdateCeremony advances the ceremony lifecycle in the header section.
func (s *FileStore) UpdateCeremony(ctx context.Context, expect, next CeremonyStatus, actor, note string) error {
	return s.withLock(ctx, true, func() error {
		data, err := s.readBytes()
		if err != nil {
			return err
		}
		doc, lay, err := parseDocument(data)
		if err != nil {
			return err
		}
		if err := applyCeremonyMutation(doc, expect, next, actor, note, s.now()); err != nil {
			return err
		}
		text := string(data)
		out := renderHeaderSection(doc.Header) +
			text[lay.manifestStart:] +
			renderLogRow(doc.Log[len(doc.Log)-1])
		return s.writeAtomic([]byte(out))
	})
}

// UpdateKnowledge rewrites the shared knowledge section through the given
// function.
func (s *FileStore) UpdateKnowledge(ctx context.Context, actor string, update func(string) string) error {
	return s.withLock(ctx, true, func() error {
		data, err := s.readBytes()
		if err != nil {
			return err
		}
		doc, lay, err := parseDocument(data)
		if err != nil {
			return err
		}
		doc.Knowledge = update(doc.Knowledge)
		entry := LogEntry{
			At:    s.now(),
			Actor: actor,
			Note:  "shared knowledge updated",
		}
		text := string(data)
		out := text[:lay.knowledgeStart] +
			renderKnowledgeSection(doc.Knowledge) +
			text[lay.logStart:] +
			renderLogRow(entry)
		return s.writeAtomic([]byte(out))
	})
}

// AppendLog adds one event log row. The log is the final section, so this
// is a plain append on the live file.
func (s *FileStore) AppendLog(ctx context.Context, entry LogEntry) error {
	return s.withLock(ctx, true, func() error {
		if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrLedgerMissing, s.path)
		} else if err != nil {
			return fmt.Errorf("ledger: stat %s: %w", s.path, err)
		}
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("ledger: open %s: %w", s.path, err)
		}
		if _, err := f.WriteString(renderLogRow(entry)); err != nil {
			f.Close()
			return fmt.Errorf("ledger: append %s: %w", s.path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("ledger: close %s: %w", s.path, err)
		}
		return nil
	})
}

// --- Internals ---

// withLock runs fn while holding the sidecar lock, exclusive for writers
// and shared for readers.
func (s *FileStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	lock := flock.New(s.lockPath)
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("ledger: lock %s: %w", s.lockPath, err)
	}
	if !ok {
		return fmt.Errorf("ledger: lock %s: not acquired", s.lockPath)
	}
	defer lock.Unlock()
	return fn()
}

func (s *FileStore) readBytes() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrLedgerMissing, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", s.path, err)
	}
	return data, nil
}

// writeAtomic replaces the ledger via temp file and rename so readers never
// observe a half-written document.
func (s *FileStore) writeAtomic(data []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ledger: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ledger: rename %s: %w", s.path, err)
	}
	return nil
}
