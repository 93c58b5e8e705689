package convener

import (
	"context"

	"github.com/dusk-indust/orchestrate/internal/orchestrator"
)

// Client talks to a remote convener service.
type Client interface {
	// Initiate starts a ceremony on the remote orchestrator.
	Initiate(ctx context.Context, endpoint string, params InitiateParams) (*CeremonyView, error)

	// Get retrieves the current state of a ceremony.
	Get(ctx context.Context, endpoint string, params GetParams) (*CeremonyView, error)

	// List queries ceremonies with filtering and pagination.
	List(ctx context.Context, endpoint string, params ListParams) (*ListResult, error)

	// Abort ends a ceremony early.
	Abort(ctx context.Context, endpoint string, params AbortParams) (*orchestrator.Report, error)

	// Result retrieves a ceremony's report.
	Result(ctx context.Context, endpoint string, params ResultParams) (*orchestrator.Report, error)

	// Watch opens an SSE stream of a ceremony's progress events.
	Watch(ctx context.Context, endpoint string, ceremonyID string) (<-chan StreamEvent, error)

	// Discover fetches the service card from the well-known URI.
	Discover(ctx context.Context, baseURL string) (*ServiceCard, error)
}
