//go:build cgo

package graph

import (
	"context"
	"fmt"
	"sort"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuIndex implements the Index interface using KuzuDB as the graph
// backend. It requires CGO because the go-kuzu driver wraps KuzuDB's C
// library.
type KuzuIndex struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuIndex satisfies Index.
var _ Index = (*KuzuIndex)(nil)

// NewKuzuIndex creates a KuzuIndex backed by an in-memory KuzuDB instance.
func NewKuzuIndex() (*KuzuIndex, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(":memory:", cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuIndex{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (k *KuzuIndex) Close() error {
	if k.conn != nil {
		k.conn.Close()
	}
	if k.db != nil {
		k.db.Close()
	}
	return nil
}

// ddlStatements defines the Cypher DDL executed before loading.
// The node table must precede the relationship table.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Task(
		id STRING,
		name STRING,
		priority STRING,
		status STRING,
		optional BOOLEAN,
		PRIMARY KEY(id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS DEPENDS_ON(FROM Task TO Task)`,
}

// Load replaces the index contents with a snapshot of the graph.
func (k *KuzuIndex) Load(_ context.Context, g *Graph) error {
	for _, stmt := range ddlStatements {
		res, err := k.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}

	if res, err := k.conn.Query("MATCH (t:Task) DETACH DELETE t"); err == nil {
		res.Close()
	}

	for _, t := range g.Tasks() {
		err := k.exec(
			`CREATE (t:Task {id: $id, name: $name, priority: $prio, status: $status, optional: $opt})`,
			map[string]any{
				"id":     t.ID,
				"name":   t.Name,
				"prio":   string(t.Priority),
				"status": string(t.Status),
				"opt":    t.Optional,
			},
		)
		if err != nil {
			return fmt.Errorf("kuzu: add task %s: %w", t.ID, err)
		}
	}

	for _, t := range g.Tasks() {
		for _, dep := range t.DependsOn {
			err := k.exec(
				`MATCH (a:Task {id: $src}), (b:Task {id: $dst})
				 CREATE (a)-[:DEPENDS_ON]->(b)`,
				map[string]any{"src": t.ID, "dst": dep},
			)
			if err != nil {
				return fmt.Errorf("kuzu: add edge %s->%s: %w", t.ID, dep, err)
			}
		}
	}
	return nil
}

// Dependencies performs a BFS from taskID along DEPENDS_ON edges. Traversal
// runs hop by hop in Go so chains carry the full path.
func (k *KuzuIndex) Dependencies(_ context.Context, taskID string, dir Direction, maxDepth int) ([]Chain, error) {
	if maxDepth <= 0 {
		stats, err := k.Stats(context.Background())
		if err != nil {
			return nil, err
		}
		maxDepth = stats.TaskCount
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
			neighbors, err := k.taskNeighbors(entry.id, dir)
			if err != nil {
				return nil, err
			}
			for _, nb := range neighbors {
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

// taskNeighbors returns immediate neighbors along DEPENDS_ON edges, sorted.
func (k *KuzuIndex) taskNeighbors(id string, dir Direction) ([]string, error) {
	var cypher string
	switch dir {
	case DirectionUpstream:
		cypher = "MATCH (a:Task {id: $id})-[:DEPENDS_ON]->(b:Task) RETURN b.id"
	case DirectionDownstream:
		cypher = "MATCH (a:Task)-[:DEPENDS_ON]->(b:Task {id: $id}) RETURN a.id"
	default:
		return nil, fmt.Errorf("kuzu: unknown direction: %s", dir)
	}
	rows, err := k.query(cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, coerceString(r[0]))
	}
	sort.Strings(out)
	return out, nil
}

// Blocked expands downstream from the failed set, skipping dependents of
// optional failures, and returns the sorted closure.
func (k *KuzuIndex) Blocked(_ context.Context, failedIDs []string) ([]string, error) {
	failed := make(map[string]bool, len(failedIDs))
	frontier := make(map[string]bool)
	for _, id := range failedIDs {
		failed[id] = true
		opt, err := k.isOptional(id)
		if err != nil {
			return nil, err
		}
		if !opt {
			frontier[id] = true
		}
	}

	blocked := make(map[string]bool)
	for len(frontier) > 0 {
		next := make(map[string]bool)
		for id := range frontier {
			dependents, err := k.taskNeighbors(id, DirectionDownstream)
			if err != nil {
				return nil, err
			}
			for _, dep := range dependents {
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

// isOptional reads the optional flag of one task node.
func (k *KuzuIndex) isOptional(id string) (bool, error) {
	rows, err := k.query(
		"MATCH (t:Task {id: $id}) RETURN t.optional",
		map[string]any{"id": id},
	)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return false, nil
	}
	return coerceBool(rows[0][0]), nil
}

// Stats returns node and edge counts.
func (k *KuzuIndex) Stats(_ context.Context) (*IndexStats, error) {
	tasks, err := k.countRows("MATCH (t:Task) RETURN count(t)")
	if err != nil {
		return nil, err
	}
	edges, err := k.countRows("MATCH ()-[r:DEPENDS_ON]->() RETURN count(r)")
	if err != nil {
		return nil, err
	}
	return &IndexStats{TaskCount: tasks, EdgeCount: edges}, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (k *KuzuIndex) exec(cypher string, params map[string]any) error {
	stmt, err := k.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := k.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
func (k *KuzuIndex) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = k.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = k.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = k.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// countRows runs a single-value count query.
func (k *KuzuIndex) countRows(cypher string) (int, error) {
	rows, err := k.query(cypher, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return coerceInt(rows[0][0]), nil
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, bool, string). These helpers
// safely coerce any -> concrete type.

func coerceString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func coerceInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func coerceBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
