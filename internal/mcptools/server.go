package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewCeremonyMCPServer creates an MCP server with the 6 ceremony tools
// registered: initiate_ceremony, get_ceremony, list_ceremonies,
// abort_ceremony, get_result, and read_ledger.
func NewCeremonyMCPServer(svc *CeremonyService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "orchestrate",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "initiate_ceremony",
		Description: "Start a new ceremony: validate the task graph, create its ledger, and begin dispatching workers in the background. Returns the ceremony id.",
	}, svc.InitiateCeremony)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_ceremony",
		Description: "Get the current state of a ceremony: lifecycle status, task counts, and per-task status, assignee, and attempt.",
	}, svc.GetCeremony)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_ceremonies",
		Description: "List ceremonies in the ledger directory, optionally filtered by lifecycle state, with pagination.",
	}, svc.ListCeremonies)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "abort_ceremony",
		Description: "Abort a running ceremony: skip every task that has not started and settle the ceremony as FAILED. Returns the final report.",
	}, svc.AbortCeremony)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_result",
		Description: "Get the final report of a settled ceremony: outcome, synthesis output, and any permanently failed or blocked tasks.",
	}, svc.GetResult)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_ledger",
		Description: "Read the raw markdown ledger of a ceremony. The ledger is the single source of truth and doubles as the audit trail.",
	}, svc.ReadLedger)

	return server
}

// RunMCPServerStdio runs the MCP server on stdio transport, blocking until
// stdin is closed or the context is cancelled.
func RunMCPServerStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunMCPServerHTTP starts an HTTP server exposing the ceremony MCP tools on
// the streamable HTTP transport.
func RunMCPServerHTTP(ctx context.Context, svc *CeremonyService, addr string) error {
	server := NewCeremonyMCPServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
