package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/orchestrate/internal/graph"
	"github.com/dusk-indust/orchestrate/internal/ledger"
)

// statusClasses maps each task status to a Mermaid class name and style.
var statusClasses = []struct {
	status graph.Status
	class  string
	style  string
}{
	{graph.StatusPending, "pending", "fill:#f1f3f5,stroke:#868e96"},
	{graph.StatusAssigned, "assigned", "fill:#fff9db,stroke:#f08c00"},
	{graph.StatusInProgress, "inprogress", "fill:#d0ebff,stroke:#1971c2"},
	{graph.StatusComplete, "complete", "fill:#d3f9d8,stroke:#2b8a3e"},
	{graph.StatusFailed, "failed", "fill:#ffe3e3,stroke:#c92a2a"},
	{graph.StatusSkipped, "skipped", "fill:#e9ecef,stroke:#adb5bd,stroke-dasharray:3"},
}

// GenerateMermaid produces a Mermaid graph TD diagram of a ceremony's task
// DAG. Dependencies become arrows; each node is colored by task status, and
// the synthesis task gets the subroutine shape.
func GenerateMermaid(doc *ledger.Document) string {
	// Build node → ID mapping for Mermaid (alphanumeric only).
	nodeIDs := make(map[string]string)
	nextID := 0
	getID := func(taskID string) string {
		if id, ok := nodeIDs[taskID]; ok {
			return id
		}
		id := fmt.Sprintf("N%d", nextID)
		nextID++
		nodeIDs[taskID] = id
		return id
	}

	var sb strings.Builder
	sb.WriteString("graph TD\n")

	// Emit nodes in manifest order.
	classMembers := make(map[string][]string)
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		id := getID(t.ID)
		label := nodeLabel(t)
		if t.Synthesis {
			sb.WriteString(fmt.Sprintf("  %s[[\"%s\"]]\n", id, label))
		} else {
			sb.WriteString(fmt.Sprintf("  %s[\"%s\"]\n", id, label))
		}
		class := statusClass(t.Status)
		classMembers[class] = append(classMembers[class], id)
	}

	// Emit dependency edges, prerequisite first.
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		for _, dep := range t.DependsOn {
			sb.WriteString(fmt.Sprintf("  %s --> %s\n", getID(dep), getID(t.ID)))
		}
	}

	// Emit status styling.
	for _, sc := range statusClasses {
		members, ok := classMembers[sc.class]
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("  classDef %s %s\n", sc.class, sc.style))
		sb.WriteString(fmt.Sprintf("  class %s %s\n", strings.Join(members, ","), sc.class))
	}

	return sb.String()
}

// nodeLabel renders a task's display label: truncated name plus status.
func nodeLabel(t *graph.Task) string {
	name := strings.ReplaceAll(t.Name, `"`, "'")
	return fmt.Sprintf("%.40s<br/>%s", name, t.Status)
}

func statusClass(s graph.Status) string {
	for _, sc := range statusClasses {
		if sc.status == s {
			return sc.class
		}
	}
	return "pending"
}
