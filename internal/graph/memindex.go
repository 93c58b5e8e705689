package graph

import (
	"context"
	"sort"
	"sync"
)

// Compile-time assertion: *MemIndex satisfies Index.
var _ Index = (*MemIndex)(nil)

// MemIndex implements Index with adjacency maps. Thread-safe via
// sync.RWMutex.
type MemIndex struct {
	mu       sync.RWMutex
	optional map[string]bool
	deps     map[string][]string // task -> its prerequisites
	rdeps    map[string][]string // task -> its dependents
	edges    int
}

// NewMemIndex returns an empty MemIndex ready for Load.
func NewMemIndex() *MemIndex {
	return &MemIndex{
		optional: make(map[string]bool),
		deps:     make(map[string][]string),
		rdeps:    make(map[string][]string),
	}
}

// Load replaces the index contents with a snapshot of the graph.
func (m *MemIndex) Load(_ context.Context, g *Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.optional = make(map[string]bool, g.Len())
	m.deps = make(map[string][]string, g.Len())
	m.rdeps = make(map[string][]string, g.Len())
	m.edges = 0

	for _, t := range g.Tasks() {
		m.optional[t.ID] = t.Optional
		m.deps[t.ID] = append([]string(nil), t.DependsOn...)
		for _, dep := range t.DependsOn {
			m.rdeps[dep] = append(m.rdeps[dep], t.ID)
			m.edges++
		}
	}
	return nil
}

// Dependencies performs a BFS from taskID along dependency edges in the
// given direction. It returns one Chain per reachable task.
func (m *MemIndex) Dependencies(_ context.Context, taskID string, dir Direction, maxDepth int) ([]Chain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if maxDepth <= 0 {
		maxDepth = len(m.optional)
	}

	type bfsEntry struct {
		id   string
		path []string
	}

	visited := map[string]bool{taskID: true}
	queue := []bfsEntry{{id: taskID, path: []string{taskID}}}
	var chains []Chain

	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var next []bfsEntry
		for _, entry := range queue {
			for _, nb := range m.neighbors(entry.id, dir) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				path := make([]string, len(entry.path), len(entry.path)+1)
				copy(path, entry.path)
				path = append(path, nb)
				chains = append(chains, Chain{Nodes: path, Depth: len(path) - 1})
				next = append(next, bfsEntry{id: nb, path: path})
			}
		}
		queue = next
	}
	return chains, nil
}

// neighbors returns IDs one hop from id in the given direction, sorted for
// deterministic traversal.
func (m *MemIndex) neighbors(id string, dir Direction) []string {
	var src []string
	switch dir {
	case DirectionUpstream:
		src = m.deps[id]
	case DirectionDownstream:
		src = m.rdeps[id]
	}
	out := append([]string(nil), src...)
	sort.Strings(out)
	return out
}

// Blocked expands downstream from the failed set: every dependent that
// transitively required a failed, non-optional task. Dependents of an
// optional failure are not blocked by it.
func (m *MemIndex) Blocked(_ context.Context, failedIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failed := make(map[string]bool, len(failedIDs))
	frontier := make(map[string]bool)
	for _, id := range failedIDs {
		failed[id] = true
		if !m.optional[id] {
			frontier[id] = true
		}
	}

	blocked := make(map[string]bool)
	for len(frontier) > 0 {
		next := make(map[string]bool)
		for id := range frontier {
			for _, dep := range m.rdeps[id] {
				if failed[dep] || blocked[dep] {
					continue
				}
				blocked[dep] = true
				next[dep] = true
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(blocked))
	for id := range blocked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Stats returns node and edge counts.
func (m *MemIndex) Stats(_ context.Context) (*IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &IndexStats{TaskCount: len(m.optional), EdgeCount: m.edges}, nil
}

// Close is a no-op for the in-memory index.
func (m *MemIndex) Close() error {
	return nil
}
