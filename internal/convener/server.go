package convener

import (
	"context"
	"net/http"

	"github.com/dusk-indust/orchestrate/internal/orchestrator"
)

// Handler processes incoming convener requests.
type Handler interface {
	// Initiate creates a ceremony and starts running it.
	Initiate(ctx context.Context, params InitiateParams) (*CeremonyView, error)

	// Get returns the current state of a ceremony.
	Get(ctx context.Context, params GetParams) (*CeremonyView, error)

	// List returns ceremony summaries, filtered and paginated.
	List(ctx context.Context, params ListParams) (*ListResult, error)

	// Abort ends a ceremony early.
	Abort(ctx context.Context, params AbortParams) (*orchestrator.Report, error)

	// Result returns a ceremony's report.
	Result(ctx context.Context, params ResultParams) (*orchestrator.Report, error)

	// Watch subscribes to a ceremony's progress stream. The stop function
	// releases the subscription.
	Watch(ctx context.Context, ceremonyID string) (<-chan StreamEvent, func(), error)
}

var _ Handler = (*Service)(nil)

// Server exposes a Handler over HTTP: JSON-RPC on POST /, the service card
// on its well-known path, and per-ceremony SSE event streams.
type Server struct {
	card    ServiceCard
	handler Handler
	http    *http.Server
}

// NewServer creates a convener server for the given handler.
func NewServer(card ServiceCard, handler Handler) *Server {
	return &Server{
		card:    card,
		handler: handler,
	}
}
