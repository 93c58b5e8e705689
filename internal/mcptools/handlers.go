package mcptools

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dusk-indust/orchestrate/internal/convener"
	"github.com/dusk-indust/orchestrate/internal/ledger"
	"github.com/dusk-indust/orchestrate/internal/orchestrator"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CeremonyService handles MCP tool calls for the ceremony server mode. It
// wraps a convener handler, so tool calls and JSON-RPC calls share the same
// semantics, and reads raw ledgers straight from the ledger directory.
type CeremonyService struct {
	handler   convener.Handler
	ledgerDir string
}

// NewCeremonyService creates a CeremonyService over the given handler.
// ledgerDir is where read_ledger looks for ceremony files.
func NewCeremonyService(handler convener.Handler, ledgerDir string) *CeremonyService {
	return &CeremonyService{
		handler:   handler,
		ledgerDir: ledgerDir,
	}
}

// InitiateCeremony creates a ceremony and starts running it in the background.
func (s *CeremonyService) InitiateCeremony(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input InitiateCeremonyInput,
) (*mcp.CallToolResult, InitiateCeremonyOutput, error) {
	initiator := input.Initiator
	if initiator == "" {
		initiator = "mcp"
	}

	params := convener.InitiateParams{
		Initiator:     initiator,
		Intention:     input.Intention,
		Files:         input.Files,
		SynthesisName: input.SynthesisName,
		SynthesisDesc: input.SynthesisDescription,
	}
	for _, t := range input.Tasks {
		params.Tasks = append(params.Tasks, convener.InitiateTask{
			ID:          t.ID,
			Name:        t.Name,
			Priority:    t.Priority,
			Description: t.Description,
			DependsOn:   t.DependsOn,
			Optional:    t.Optional,
			Timeout:     t.Timeout,
		})
	}

	view, err := s.handler.Initiate(ctx, params)
	if err != nil {
		return nil, InitiateCeremonyOutput{}, err
	}

	return nil, InitiateCeremonyOutput{
		CeremonyID: view.ID,
		Status:     view.Status,
		TasksTotal: view.TasksTotal,
	}, nil
}

// GetCeremony reports the current state of one ceremony.
func (s *CeremonyService) GetCeremony(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetCeremonyInput,
) (*mcp.CallToolResult, GetCeremonyOutput, error) {
	view, err := s.handler.Get(ctx, convener.GetParams{ID: input.CeremonyID})
	if err != nil {
		return nil, GetCeremonyOutput{}, err
	}

	out := GetCeremonyOutput{
		CeremonyID: view.ID,
		Intention:  view.Intention,
		Status:     view.Status,
		TasksDone:  view.TasksDone,
		TasksTotal: view.TasksTotal,
	}
	for _, t := range view.Tasks {
		out.Tasks = append(out.Tasks, TaskSnapshot{
			ID:        t.ID,
			Name:      t.Name,
			Priority:  t.Priority,
			Status:    t.Status,
			Assignee:  t.Assignee,
			Attempt:   t.Attempt,
			DependsOn: t.DependsOn,
			Optional:  t.Optional,
			Synthesis: t.Synthesis,
		})
	}
	return nil, out, nil
}

// ListCeremonies enumerates ceremonies in the ledger directory.
func (s *CeremonyService) ListCeremonies(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListCeremoniesInput,
) (*mcp.CallToolResult, ListCeremoniesOutput, error) {
	res, err := s.handler.List(ctx, convener.ListParams{
		Status:    input.Status,
		PageSize:  input.PageSize,
		PageToken: input.PageToken,
	})
	if err != nil {
		return nil, ListCeremoniesOutput{}, err
	}

	out := ListCeremoniesOutput{
		TotalSize:     res.TotalSize,
		NextPageToken: res.NextPageToken,
	}
	for _, c := range res.Ceremonies {
		out.Ceremonies = append(out.Ceremonies, CeremonyOverview{
			CeremonyID: c.ID,
			Intention:  c.Intention,
			Status:     c.Status,
			TasksDone:  c.TasksDone,
			TasksTotal: c.TasksTotal,
		})
	}
	return nil, out, nil
}

// AbortCeremony ends a ceremony early and returns its final report.
func (s *CeremonyService) AbortCeremony(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AbortCeremonyInput,
) (*mcp.CallToolResult, CeremonyReport, error) {
	report, err := s.handler.Abort(ctx, convener.AbortParams{
		ID:     input.CeremonyID,
		Reason: input.Reason,
	})
	if err != nil {
		return nil, CeremonyReport{}, err
	}
	return nil, ceremonyReport(report), nil
}

// GetResult returns the final report of a settled ceremony.
func (s *CeremonyService) GetResult(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetResultInput,
) (*mcp.CallToolResult, CeremonyReport, error) {
	report, err := s.handler.Result(ctx, convener.ResultParams{ID: input.CeremonyID})
	if err != nil {
		return nil, CeremonyReport{}, err
	}
	return nil, ceremonyReport(report), nil
}

// ReadLedger returns the raw markdown of a ceremony's ledger file. The ledger
// is the source of truth, so this is the full audit trail of the ceremony.
func (s *CeremonyService) ReadLedger(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ReadLedgerInput,
) (*mcp.CallToolResult, ReadLedgerOutput, error) {
	if input.CeremonyID == "" {
		return nil, ReadLedgerOutput{}, errors.New("ceremonyId is required")
	}

	path := ledger.LedgerPath(s.ledgerDir, input.CeremonyID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ReadLedgerOutput{}, convener.ErrCeremonyNotFound
		}
		return nil, ReadLedgerOutput{}, fmt.Errorf("read ledger: %w", err)
	}

	return nil, ReadLedgerOutput{
		Path:     path,
		Markdown: string(data),
	}, nil
}

// ceremonyReport converts an orchestrator report into its wire shape.
func ceremonyReport(r *orchestrator.Report) CeremonyReport {
	out := CeremonyReport{
		CeremonyID: r.CeremonyID,
		Status:     string(r.Status),
		Output:     r.Output,
		Blocked:    r.Blocked,
	}
	for _, f := range r.Failed {
		out.Failed = append(out.Failed, FailedTaskReport{
			ID:       f.ID,
			Name:     f.Name,
			Attempts: f.Attempts,
			Reason:   f.Reason,
		})
	}
	return out
}
