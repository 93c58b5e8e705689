package convener

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/orchestrator"
	"github.com/dusk-indust/orchestrate/internal/status"
	"github.com/dusk-indust/orchestrate/internal/worker"
)

// Sentinel errors the HTTP layer maps to JSON-RPC error codes.
var (
	ErrCeremonyNotFound = errors.New("convener: ceremony not found")
	ErrCeremonyExists   = errors.New("convener: ceremony already exists")
	ErrCeremonySettled  = errors.New("convener: ceremony already settled")
	ErrShuttingDown     = errors.New("convener: service shutting down")
)

// RegistryFactory builds the worker registry for one ceremony. Registries are
// per-run because the synthesis worker reads through the ceremony's own store.
type RegistryFactory func(store ledger.Store) *worker.Registry

// ServiceConfig configures a Service. Registry is required; the rest falls
// back to orchestrator defaults.
type ServiceConfig struct {
	// LedgerDir is where ceremony ledgers live, one file per ceremony.
	LedgerDir string

	// WorkspaceDir is the root for per-attempt scratch directories. Each
	// ceremony gets its own subdirectory.
	WorkspaceDir string

	Concurrency  int
	MaxRetries   int
	PollInterval time.Duration
	Timeouts     orchestrator.Timeouts

	// Registry builds the worker registry for each initiated ceremony.
	Registry RegistryFactory
}

// Service runs ceremonies on behalf of remote conveners. Initiated ceremonies
// execute in the background; every read answers from the ledger, so results
// survive a restart and settled ceremonies stay queryable forever.
type Service struct {
	cfg ServiceConfig

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

// NewService creates a Service. It does not touch the ledger directory until
// the first call.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		cfg:  cfg,
		runs: make(map[string]*run),
	}
}

// --- Active run registry ---

// run is one ceremony executing in the background: its controller, the fan-out
// of progress events to watchers, and the final report once settled.
type run struct {
	ceremonyID string
	ctrl       *orchestrator.Controller
	cancel     context.CancelFunc

	mu       sync.Mutex
	watchers map[chan StreamEvent]struct{}
	report   *orchestrator.Report
	runErr   error
}

func newRun(ceremonyID string, ctrl *orchestrator.Controller, cancel context.CancelFunc) *run {
	return &run{
		ceremonyID: ceremonyID,
		ctrl:       ctrl,
		cancel:     cancel,
		watchers:   make(map[chan StreamEvent]struct{}),
	}
}

// subscribe adds a watcher channel. It reports false once the run has
// settled; late watchers read the ledger instead.
func (r *run) subscribe() (chan StreamEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watchers == nil {
		return nil, false
	}
	ch := make(chan StreamEvent, 16)
	r.watchers[ch] = struct{}{}
	return ch, true
}

// unsubscribe removes and closes a watcher channel. The membership check
// keeps it safe against a concurrent settle, which closes every channel.
func (r *run) unsubscribe(ch chan StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watchers[ch]; ok {
		delete(r.watchers, ch)
		close(ch)
	}
}

// broadcast delivers an event to every watcher. Sends never block; a watcher
// that cannot keep up misses events and catches up from the ledger.
func (r *run) broadcast(ev StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// settle records the final outcome, pushes the report to every watcher, and
// closes them. Subscriptions after settle are refused.
func (r *run) settle(report *orchestrator.Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = report
	r.runErr = err
	for ch := range r.watchers {
		if report != nil {
			select {
			case ch <- StreamEvent{Report: report}:
			default:
			}
		}
		close(ch)
	}
	r.watchers = nil
}

// --- Handler methods ---

// Initiate validates the request, creates the ledger, and starts the ceremony
// in the background. The returned view is the ceremony's initial state.
func (s *Service) Initiate(ctx context.Context, params InitiateParams) (*CeremonyView, error) {
	if s.cfg.Registry == nil {
		return nil, errors.New("convener: no worker registry configured")
	}

	req, err := params.toRequest()
	if err != nil {
		return nil, err
	}
	doc, err := req.Document(time.Now())
	if err != nil {
		return nil, err
	}
	ceremonyID := doc.Header.CeremonyID

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, exists := s.runs[ceremonyID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCeremonyExists, ceremonyID)
	}
	s.mu.Unlock()

	// The ledger file is the arbiter for duplicate ids: Create refuses an
	// occupied path, so a racing initiate loses here, not in the map.
	path := ledger.LedgerPath(s.cfg.LedgerDir, ceremonyID)
	store := ledger.NewFileStore(path)
	if err := store.Create(ctx, doc); err != nil {
		store.Close()
		if errors.Is(err, ledger.ErrLedgerExists) {
			return nil, fmt.Errorf("%w: %s", ErrCeremonyExists, ceremonyID)
		}
		return nil, err
	}

	ctrl := orchestrator.New(orchestrator.Config{
		LedgerPath:   path,
		WorkspaceDir: filepath.Join(s.cfg.WorkspaceDir, ceremonyID),
		Concurrency:  s.cfg.Concurrency,
		MaxRetries:   s.cfg.MaxRetries,
		PollInterval: s.cfg.PollInterval,
		Timeouts:     s.cfg.Timeouts,
	}, store, s.cfg.Registry(store))

	runCtx, cancel := context.WithCancel(context.Background())
	r := newRun(ceremonyID, ctrl, cancel)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		ctrl.Close()
		store.Close()
		return nil, ErrShuttingDown
	}
	s.runs[ceremonyID] = r
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(runCtx, r, store)

	return viewOf(doc), nil
}

// execute drives one ceremony to settlement and tears the run down.
func (s *Service) execute(ctx context.Context, r *run, store ledger.Store) {
	defer s.wg.Done()

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range r.ctrl.Progress() {
			u := updateFrom(ev)
			r.broadcast(StreamEvent{Progress: &u})
		}
	}()

	report, err := r.ctrl.Run(ctx)
	r.ctrl.Close()
	<-forwarded
	r.settle(report, err)
	store.Close()

	s.mu.Lock()
	delete(s.runs, r.ceremonyID)
	s.mu.Unlock()
}

// Get returns the current state of a ceremony, read from its ledger.
func (s *Service) Get(ctx context.Context, params GetParams) (*CeremonyView, error) {
	doc, err := s.readDocument(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return viewOf(doc), nil
}

// List returns ceremony summaries from the ledger directory, newest last,
// optionally filtered by status and paginated.
//
// PageToken is the ID of the last ceremony from the previous page; results
// resume after it. PageSize <= 0 returns everything.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	summaries, err := status.Scan(ctx, s.cfg.LedgerDir)
	if err != nil {
		return nil, err
	}

	startIdx := 0
	if params.PageToken != "" {
		found := false
		for i := range summaries {
			if summaries[i].CeremonyID == params.PageToken {
				startIdx = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("convener: invalid page token %q", params.PageToken)
		}
	}

	matches := func(sum status.Summary) bool {
		if sum.Err != nil {
			return false
		}
		return params.Status == "" || string(sum.Status) == params.Status
	}

	var matched []CeremonySummary
	for i := startIdx; i < len(summaries); i++ {
		if matches(summaries[i]) {
			matched = append(matched, summaryFromScan(summaries[i]))
		}
	}
	totalSize := len(matched)
	for i := 0; i < startIdx; i++ {
		if matches(summaries[i]) {
			totalSize++
		}
	}

	var nextPageToken string
	if params.PageSize > 0 && len(matched) > params.PageSize {
		nextPageToken = matched[params.PageSize-1].ID
		matched = matched[:params.PageSize]
	}
	if matched == nil {
		matched = []CeremonySummary{}
	}

	return &ListResult{
		Ceremonies:    matched,
		TotalSize:     totalSize,
		NextPageToken: nextPageToken,
	}, nil
}

// Abort ends a ceremony early. Pending tasks are skipped and the ceremony is
// marked FAILED. Aborting a settled ceremony is an error.
func (s *Service) Abort(ctx context.Context, params AbortParams) (*orchestrator.Report, error) {
	doc, err := s.readDocument(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if doc.Header.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrCeremonySettled, params.ID, doc.Header.Status)
	}

	reason := params.Reason
	if reason == "" {
		reason = "aborted by convener"
	}

	s.mu.Lock()
	r := s.runs[params.ID]
	s.mu.Unlock()
	if r != nil {
		// The live controller emits skip events to this run's watchers.
		return r.ctrl.Abort(ctx, reason)
	}

	// Nothing running here: abort through a transient controller. A
	// controller on another host sees the terminal header and stands down.
	ctrl, store := s.transient(params.ID)
	defer store.Close()
	defer ctrl.Close()
	return ctrl.Abort(ctx, reason)
}

// Result returns the report for a ceremony in its current state. For a
// settled ceremony this is the final report.
func (s *Service) Result(ctx context.Context, params ResultParams) (*orchestrator.Report, error) {
	ctrl, store := s.transient(params.ID)
	defer store.Close()
	defer ctrl.Close()
	report, err := ctrl.Result(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerMissing) {
			return nil, fmt.Errorf("%w: %s", ErrCeremonyNotFound, params.ID)
		}
		return nil, err
	}
	return report, nil
}

// Watch subscribes to a ceremony's progress stream. For an active ceremony
// the channel carries progress events and ends with the final report; for a
// settled one it carries just the report. The returned stop function releases
// the subscription and is safe to call more than once.
func (s *Service) Watch(ctx context.Context, ceremonyID string) (<-chan StreamEvent, func(), error) {
	s.mu.Lock()
	r := s.runs[ceremonyID]
	s.mu.Unlock()

	if r != nil {
		if ch, ok := r.subscribe(); ok {
			return ch, func() { r.unsubscribe(ch) }, nil
		}
	}

	// Settled or never live here: replay the final report.
	report, err := s.Result(ctx, ResultParams{ID: ceremonyID})
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan StreamEvent, 1)
	ch <- StreamEvent{Report: report}
	close(ch)
	return ch, func() {}, nil
}

// Shutdown cancels every active run and waits for them to wind down.
// Interrupted ceremonies stay IN_PROGRESS in their ledgers and resume on the
// next run.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.runs {
		r.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("convener: shutdown: %w", ctx.Err())
	}
}

// --- Helpers ---

// readDocument reads a ceremony's ledger, mapping a missing file to
// ErrCeremonyNotFound.
func (s *Service) readDocument(ctx context.Context, ceremonyID string) (*ledger.Document, error) {
	store := ledger.NewFileStore(ledger.LedgerPath(s.cfg.LedgerDir, ceremonyID))
	defer store.Close()
	doc, err := store.Read(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerMissing) {
			return nil, fmt.Errorf("%w: %s", ErrCeremonyNotFound, ceremonyID)
		}
		return nil, err
	}
	return doc, nil
}

// transient builds a short-lived controller over a ceremony's ledger for
// abort and result calls that have no live run to delegate to.
func (s *Service) transient(ceremonyID string) (*orchestrator.Controller, ledger.Store) {
	path := ledger.LedgerPath(s.cfg.LedgerDir, ceremonyID)
	store := ledger.NewFileStore(path)
	var registry *worker.Registry
	if s.cfg.Registry != nil {
		registry = s.cfg.Registry(store)
	} else {
		registry = worker.NewRegistry(worker.KindFunc)
	}
	ctrl := orchestrator.New(orchestrator.Config{
		LedgerPath:   path,
		WorkspaceDir: filepath.Join(s.cfg.WorkspaceDir, ceremonyID),
		Concurrency:  s.cfg.Concurrency,
		MaxRetries:   s.cfg.MaxRetries,
		PollInterval: s.cfg.PollInterval,
		Timeouts:     s.cfg.Timeouts,
	}, store, registry)
	return ctrl, store
}
