package mcptools

// --- MCP Tool Types for the ceremony server mode (--serve-mcp) ---
// These tools are exposed when the binary runs as an MCP server, so an agent
// can initiate and track ceremonies through structured tools instead of
// shelling out to the CLI.

// TaskSpec describes one subtask in an initiate_ceremony call.
type TaskSpec struct {
	ID          string   `json:"id" jsonschema:"task identifier, unique within the ceremony"`
	Name        string   `json:"name" jsonschema:"short human-readable task name"`
	Priority    string   `json:"priority,omitempty" jsonschema:"HIGH, MEDIUM, or LOW (default MEDIUM)"`
	Description string   `json:"description" jsonschema:"full instructions for the worker"`
	DependsOn   []string `json:"dependsOn,omitempty" jsonschema:"ids of tasks that must finish first"`
	Optional    bool     `json:"optional,omitempty" jsonschema:"permanent failure does not fail the ceremony"`
	Timeout     string   `json:"timeout,omitempty" jsonschema:"per-task liveness deadline as a Go duration, e.g. 15m"`
}

// InitiateCeremonyInput is the input for the initiate_ceremony MCP tool.
type InitiateCeremonyInput struct {
	Intention            string     `json:"intention" jsonschema:"overall goal of the ceremony"`
	Initiator            string     `json:"initiator,omitempty" jsonschema:"who is asking (default: mcp)"`
	Files                []string   `json:"files,omitempty" jsonschema:"files in scope for the work"`
	Tasks                []TaskSpec `json:"tasks" jsonschema:"the subtasks to run"`
	SynthesisName        string     `json:"synthesisName,omitempty" jsonschema:"name for the final synthesis task"`
	SynthesisDescription string     `json:"synthesisDescription,omitempty" jsonschema:"instructions for the synthesis task"`
}

// InitiateCeremonyOutput is the result of the initiate_ceremony MCP tool.
type InitiateCeremonyOutput struct {
	CeremonyID string `json:"ceremonyId"`
	Status     string `json:"status"`
	TasksTotal int    `json:"tasksTotal"`
}

// TaskSnapshot is the per-task view returned by get_ceremony.
type TaskSnapshot struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Priority  string   `json:"priority"`
	Status    string   `json:"status"`
	Assignee  string   `json:"assignee,omitempty"`
	Attempt   int      `json:"attempt"`
	DependsOn []string `json:"dependsOn,omitempty"`
	Optional  bool     `json:"optional,omitempty"`
	Synthesis bool     `json:"synthesis,omitempty"`
}

// GetCeremonyInput is the input for the get_ceremony MCP tool.
type GetCeremonyInput struct {
	CeremonyID string `json:"ceremonyId" jsonschema:"the ceremony to inspect"`
}

// GetCeremonyOutput is the result of the get_ceremony MCP tool.
type GetCeremonyOutput struct {
	CeremonyID string         `json:"ceremonyId"`
	Intention  string         `json:"intention"`
	Status     string         `json:"status"`
	TasksDone  int            `json:"tasksDone"`
	TasksTotal int            `json:"tasksTotal"`
	Tasks      []TaskSnapshot `json:"tasks"`
}

// ListCeremoniesInput is the input for the list_ceremonies MCP tool.
type ListCeremoniesInput struct {
	Status    string `json:"status,omitempty" jsonschema:"filter by lifecycle state (INITIATED, IN_PROGRESS, COMPLETE, FAILED)"`
	PageSize  int    `json:"pageSize,omitempty" jsonschema:"maximum ceremonies to return"`
	PageToken string `json:"pageToken,omitempty" jsonschema:"continuation token from a previous call"`
}

// CeremonyOverview is one row in a list_ceremonies result.
type CeremonyOverview struct {
	CeremonyID string `json:"ceremonyId"`
	Intention  string `json:"intention"`
	Status     string `json:"status"`
	TasksDone  int    `json:"tasksDone"`
	TasksTotal int    `json:"tasksTotal"`
}

// ListCeremoniesOutput is the result of the list_ceremonies MCP tool.
type ListCeremoniesOutput struct {
	Ceremonies    []CeremonyOverview `json:"ceremonies"`
	TotalSize     int                `json:"totalSize"`
	NextPageToken string             `json:"nextPageToken,omitempty"`
}

// AbortCeremonyInput is the input for the abort_ceremony MCP tool.
type AbortCeremonyInput struct {
	CeremonyID string `json:"ceremonyId" jsonschema:"the ceremony to abort"`
	Reason     string `json:"reason,omitempty" jsonschema:"why the ceremony is being aborted"`
}

// FailedTaskReport is one permanent failure in a ceremony report.
type FailedTaskReport struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
}

// CeremonyReport is the final account of a ceremony, returned by
// abort_ceremony and get_result.
type CeremonyReport struct {
	CeremonyID string             `json:"ceremonyId"`
	Status     string             `json:"status"`
	Output     string             `json:"output,omitempty"`
	Failed     []FailedTaskReport `json:"failed,omitempty"`
	Blocked    []string           `json:"blocked,omitempty"`
}

// GetResultInput is the input for the get_result MCP tool.
type GetResultInput struct {
	CeremonyID string `json:"ceremonyId" jsonschema:"the settled ceremony to report on"`
}

// ReadLedgerInput is the input for the read_ledger MCP tool.
type ReadLedgerInput struct {
	CeremonyID string `json:"ceremonyId" jsonschema:"the ceremony whose ledger to read"`
}

// ReadLedgerOutput is the result of the read_ledger MCP tool.
type ReadLedgerOutput struct {
	Path     string `json:"path"`
	Markdown string `json:"markdown"`
}
