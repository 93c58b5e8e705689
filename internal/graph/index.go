package graph

import (
	"context"
	"io"
)

// Direction selects which way dependency edges are traversed.
type Direction string

const (
	// DirectionUpstream walks toward a task's prerequisites.
	DirectionUpstream Direction = "upstream"
	// DirectionDownstream walks toward the tasks that depend on it.
	DirectionDownstream Direction = "downstream"
)

// Chain is one dependency path discovered during traversal. Nodes[0] is the
// starting task; Depth is the number of hops to the last node.
type Chain struct {
	Nodes []string `json:"nodes"`
	Depth int      `json:"depth"`
}

// IndexStats summarizes an index's contents.
type IndexStats struct {
	TaskCount int `json:"taskCount"`
	EdgeCount int `json:"edgeCount"`
}

// Index answers reachability questions over one ceremony's dependency edges:
// which tasks feed into this one, and which tasks can never run once this one
// fails. Implementations: KuzuIndex (cgo builds), MemIndex (default).
type Index interface {
	io.Closer

	// Load replaces the index contents with a snapshot of the graph.
	Load(ctx context.Context, g *Graph) error

	// Dependencies traverses from taskID in the given direction, returning
	// one chain per reachable task, up to maxDepth hops.
	Dependencies(ctx context.Context, taskID string, dir Direction, maxDepth int) ([]Chain, error)

	// Blocked returns the IDs of every non-failed task downstream of the
	// given failed set: the tasks that can never become ready. Sorted.
	Blocked(ctx context.Context, failedIDs []string) ([]string, error)

	// Stats returns node and edge counts.
	Stats(ctx context.Context) (*IndexStats, error)
}
