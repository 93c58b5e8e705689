package ledger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dusk-indust/orchestrate/internal/graph"
)

// The ledger is one markdown file with five fixed sections. Headings are
// reserved words at line start; free-text bodies are stored as blockquotes
// so no payload line can collide with them.
const (
	headingTitle     = "# Ceremony Ledger"
	headingManifest  = "## Task Manifest"
	headingDetails   = "## Task Details"
	headingKnowledge = "## Shared Knowledge"
	headingLog       = "## Event Log"
)

const (
	manifestHead = "| ID | Name | Priority | Status | Assignee |\n|----|------|----------|--------|----------|\n"
	logHead      = "| Time | Actor | Task | Transition | Note |\n|------|-------|------|------------|------|\n"
)

var bulletRe = regexp.MustCompile(`^- \*\*([^*]+)\*\*: (.*)$`)

// --- Rendering ---

// Render produces the canonical byte form of a document. Rendering the
// result of a parse yields the same bytes.
func Render(doc *Document) []byte {
	var b strings.Builder
	b.WriteString(renderHeaderSection(doc.Header))
	b.WriteString(renderManifestSection(doc.Tasks))
	b.WriteString(headingDetails + "\n\n")
	for i := range doc.Tasks {
		b.WriteString(renderDetailBlock(&doc.Tasks[i]))
	}
	b.WriteString(renderKnowledgeSection(doc.Knowledge))
	b.WriteString(headingLog + "\n\n")
	b.WriteString(logHead)
	for _, e := range doc.Log {
		b.WriteString(renderLogRow(e))
	}
	return []byte(b.String())
}

func renderHeaderSection(h Header) string {
	var b strings.Builder
	b.WriteString(headingTitle + "\n\n")
	fmt.Fprintf(&b, "- **Ceremony**: %s\n", oneLine(h.CeremonyID))
	fmt.Fprintf(&b, "- **Initiator**: %s\n", oneLine(h.Initiator))
	fmt.Fprintf(&b, "- **Intention**: %s\n", oneLine(h.Intention))
	fmt.Fprintf(&b, "- **Status**: %s\n", h.Status)
	fmt.Fprintf(&b, "- **Created**: %s\n", fmtTime(h.CreatedAt))
	fmt.Fprintf(&b, "- **Completed**: %s\n", fmtTimePtr(h.CompletedAt))
	fmt.Fprintf(&b, "- **Files**: %s\n", dash(strings.Join(h.Files, ", ")))
	b.WriteString("\n")
	return b.String()
}

func renderManifestSection(tasks []graph.Task) string {
	var b strings.Builder
	b.WriteString(headingManifest + "\n\n")
	b.WriteString(manifestHead)
	for i := range tasks {
		b.WriteString(renderManifestRow(&tasks[i]))
	}
	b.WriteString("\n")
	return b.String()
}

func renderManifestRow(t *graph.Task) string {
	return fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
		escapeCell(t.ID), escapeCell(t.Name), t.Priority, t.Status, dash(escapeCell(t.Assignee)))
}

func renderDetailBlock(t *graph.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n", t.ID)
	deps := "(none)"
	if len(t.DependsOn) > 0 {
		deps = strings.Join(t.DependsOn, ", ")
	}
	fmt.Fprintf(&b, "- **Depends on**: %s\n", deps)
	if t.Optional {
		b.WriteString("- **Optional**: yes\n")
	}
	if t.Synthesis {
		b.WriteString("- **Role**: synthesis\n")
	}
	if t.Timeout > 0 {
		fmt.Fprintf(&b, "- **Timeout**: %s\n", t.Timeout)
	}
	fmt.Fprintf(&b, "- **Attempt**: %d\n", t.Attempt)
	fmt.Fprintf(&b, "- **Started**: %s\n", fmtTimePtr(t.StartedAt))
	fmt.Fprintf(&b, "- **Finished**: %s\n", fmtTimePtr(t.FinishedAt))
	b.WriteString("\n#### Description\n\n")
	b.WriteString(textBody(t.Description))
	b.WriteString("\n#### Output\n\n")
	b.WriteString(textBody(t.Output))
	b.WriteString("\n")
	return b.String()
}

func renderKnowledgeSection(knowledge string) string {
	return headingKnowledge + "\n\n" + textBody(knowledge) + "\n"
}

func renderLogRow(e LogEntry) string {
	return fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
		fmtTime(e.At), dash(escapeCell(e.Actor)), dash(escapeCell(e.Task)),
		dash(escapeCell(e.Transition)), dash(escapeCell(e.Note)))
}

// --- Parsing ---

// span is a half-open byte range within the raw document.
type span struct{ start, end int }

// layout records where each splice-able region sits in the raw bytes, so a
// task update touches only its own manifest row and detail block.
type layout struct {
	manifestStart  int
	detailsStart   int
	knowledgeStart int
	logStart       int
	rows           map[string]span
	blocks         map[string]span
}

// Parse decodes raw ledger bytes into a document. Any structural defect
// fails the whole read.
func Parse(data []byte) (*Document, error) {
	doc, _, err := parseDocument(data)
	return doc, err
}

func parseDocument(data []byte) (*Document, *layout, error) {
	text := string(data)
	if !strings.HasPrefix(text, headingTitle+"\n") {
		return nil, nil, fmt.Errorf("ledger: parse: missing %q title", headingTitle)
	}
	lay := &layout{rows: map[string]span{}, blocks: map[string]span{}}
	var err error
	if lay.manifestStart, err = findHeading(text, headingManifest, 0); err != nil {
		return nil, nil, err
	}
	if lay.detailsStart, err = findHeading(text, headingDetails, lay.manifestStart); err != nil {
		return nil, nil, err
	}
	if lay.knowledgeStart, err = findHeading(text, headingKnowledge, lay.detailsStart); err != nil {
		return nil, nil, err
	}
	if lay.logStart, err = findHeading(text, headingLog, lay.knowledgeStart); err != nil {
		return nil, nil, err
	}

	doc := &Document{}
	if err := parseHeader(text[:lay.manifestStart], &doc.Header); err != nil {
		return nil, nil, err
	}
	rows, err := parseManifest(text, lay)
	if err != nil {
		return nil, nil, err
	}
	if err := parseDetails(text, lay, rows, doc); err != nil {
		return nil, nil, err
	}
	doc.Knowledge = parseKnowledge(text, lay)
	if err := parseLog(text[lay.logStart:], doc); err != nil {
		return nil, nil, err
	}
	return doc, lay, nil
}

// findHeading locates a section heading at line start, searching from the
// given offset.
func findHeading(text, heading string, from int) (int, error) {
	needle := "\n" + heading + "\n"
	i := strings.Index(text[from:], needle)
	if i < 0 {
		return 0, fmt.Errorf("ledger: parse: missing %q section", heading)
	}
	return from + i + 1, nil
}

func parseHeader(segment string, h *Header) error {
	fields := map[string]string{}
	for _, line := range strings.Split(segment, "\n") {
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		fields[m[1]] = m[2]
	}
	for _, key := range []string{"Ceremony", "Initiator", "Intention", "Status", "Created", "Completed", "Files"} {
		if _, ok := fields[key]; !ok {
			return fmt.Errorf("ledger: parse: header missing %q", key)
		}
	}
	h.CeremonyID = fields["Ceremony"]
	h.Initiator = fields["Initiator"]
	h.Intention = fields["Intention"]
	status, err := ParseCeremonyStatus(fields["Status"])
	if err != nil {
		return fmt.Errorf("ledger: parse: header: %w", err)
	}
	h.Status = status
	if h.CreatedAt, err = parseTime(fields["Created"]); err != nil {
		return fmt.Errorf("ledger: parse: header created: %w", err)
	}
	if h.CompletedAt, err = parseTimePtr(fields["Completed"]); err != nil {
		return fmt.Errorf("ledger: parse: header completed: %w", err)
	}
	if v := undash(fields["Files"]); v != "" {
		h.Files = splitList(v)
	}
	return nil
}

// manifestRow is the quick-scan view of one task before its detail block is
// merged in.
type manifestRow struct {
	id       string
	name     string
	priority graph.Priority
	status   graph.Status
	assignee string
}

func parseManifest(text string, lay *layout) ([]manifestRow, error) {
	var rows []manifestRow
	offset := lay.manifestStart
	segment := text[lay.manifestStart:lay.detailsStart]
	for _, line := range splitLines(segment) {
		lineStart := offset + line.start
		raw := segment[line.start:line.end]
		cells, ok := parseRow(raw)
		if !ok || cells[0] == "ID" {
			continue
		}
		if len(cells) != 5 {
			return nil, fmt.Errorf("ledger: parse: manifest row %q has %d cells, want 5", raw, len(cells))
		}
		priority, err := graph.ParsePriority(cells[2])
		if err != nil {
			return nil, fmt.Errorf("ledger: parse: manifest row %q: %w", cells[0], err)
		}
		status, err := graph.ParseStatus(cells[3])
		if err != nil {
			return nil, fmt.Errorf("ledger: parse: manifest row %q: %w", cells[0], err)
		}
		row := manifestRow{
			id:       cells[0],
			name:     cells[1],
			priority: priority,
			status:   status,
			assignee: undash(cells[4]),
		}
		if _, dup := lay.rows[row.id]; dup {
			return nil, fmt.Errorf("ledger: parse: duplicate manifest row %q", row.id)
		}
		lay.rows[row.id] = span{lineStart, lineStart + len(raw) + 1}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ledger: parse: empty task manifest")
	}
	return rows, nil
}

func parseDetails(text string, lay *layout, rows []manifestRow, doc *Document) error {
	segment := text[lay.detailsStart:lay.knowledgeStart]
	type block struct {
		id   string
		body string
		sp   span
	}
	var blocks []block
	starts := blockStarts(segment)
	for i, s := range starts {
		end := len(segment)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		head := segment[s:]
		nl := strings.IndexByte(head, '\n')
		id := strings.TrimSpace(head[len("### "):nl])
		blocks = append(blocks, block{
			id:   id,
			body: segment[s+nl+1 : end],
			sp:   span{lay.detailsStart + s, lay.detailsStart + end},
		})
	}
	byID := map[string]block{}
	for _, b := range blocks {
		if _, dup := byID[b.id]; dup {
			return fmt.Errorf("ledger: parse: duplicate detail block %q", b.id)
		}
		byID[b.id] = b
	}
	for _, row := range rows {
		b, ok := byID[row.id]
		if !ok {
			return fmt.Errorf("ledger: parse: task %q has no detail block", row.id)
		}
		delete(byID, row.id)
		task := graph.Task{
			ID:       row.id,
			Name:     row.name,
			Priority: row.priority,
			Status:   row.status,
			Assignee: row.assignee,
		}
		if err := parseDetailBlock(b.body, &task); err != nil {
			return fmt.Errorf("ledger: parse: task %q: %w", row.id, err)
		}
		lay.blocks[row.id] = b.sp
		doc.Tasks = append(doc.Tasks, task)
	}
	for id := range byID {
		return fmt.Errorf("ledger: parse: detail block %q has no manifest row", id)
	}
	return nil
}

func parseDetailBlock(body string, task *graph.Task) error {
	bullets, description, output, err := splitDetailBody(body)
	if err != nil {
		return err
	}
	task.Description = description
	task.Output = output
	for key, value := range bullets {
		switch key {
		case "Depends on":
			if value != "(none)" {
				task.DependsOn = splitList(value)
			}
		case "Optional":
			task.Optional = value == "yes"
		case "Role":
			task.Synthesis = value == "synthesis"
		case "Timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("timeout: %w", err)
			}
			task.Timeout = d
		case "Attempt":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("attempt: %w", err)
			}
			task.Attempt = n
		case "Started":
			if task.StartedAt, err = parseTimePtr(value); err != nil {
				return fmt.Errorf("started: %w", err)
			}
		case "Finished":
			if task.FinishedAt, err = parseTimePtr(value); err != nil {
				return fmt.Errorf("finished: %w", err)
			}
		default:
			return fmt.Errorf("unknown field %q", key)
		}
	}
	return nil
}

func splitDetailBody(body string) (bullets map[string]string, description, output string, err error) {
	// Markers are anchored to line start; quoted body lines cannot match.
	const descMark = "\n#### Description\n"
	const outMark = "\n#### Output\n"
	descIdx := strings.Index(body, descMark)
	outIdx := strings.Index(body, outMark)
	if descIdx < 0 || outIdx < 0 || outIdx < descIdx {
		return nil, "", "", fmt.Errorf("malformed detail block")
	}
	bullets = map[string]string{}
	for _, line := range strings.Split(body[:descIdx], "\n") {
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			bullets[m[1]] = m[2]
		}
	}
	description = parseTextBody(body[descIdx+len(descMark) : outIdx])
	output = parseTextBody(body[outIdx+len(outMark):])
	return bullets, description, output, nil
}

func parseKnowledge(text string, lay *layout) string {
	segment := text[lay.knowledgeStart:lay.logStart]
	return parseTextBody(strings.TrimPrefix(segment, headingKnowledge+"\n"))
}

func parseLog(segment string, doc *Document) error {
	for _, line := range splitLines(segment) {
		raw := segment[line.start:line.end]
		cells, ok := parseRow(raw)
		if !ok || cells[0] == "Time" {
			continue
		}
		if len(cells) != 5 {
			return fmt.Errorf("ledger: parse: log row %q has %d cells, want 5", raw, len(cells))
		}
		at, err := parseTime(cells[0])
		if err != nil {
			return fmt.Errorf("ledger: parse: log row: %w", err)
		}
		doc.Log = append(doc.Log, LogEntry{
			At:         at,
			Actor:      undash(cells[1]),
			Task:       undash(cells[2]),
			Transition: undash(cells[3]),
			Note:       undash(cells[4]),
		})
	}
	return nil
}

// --- Small helpers ---

func blockStarts(segment string) []int {
	var starts []int
	for i := 0; i < len(segment); {
		j := strings.Index(segment[i:], "### ")
		if j < 0 {
			break
		}
		at := i + j
		if at == 0 || segment[at-1] == '\n' {
			starts = append(starts, at)
		}
		i = at + len("### ")
	}
	return starts
}

type lineSpan struct{ start, end int }

// splitLines yields each line's span within the segment, excluding the
// trailing newline.
func splitLines(segment string) []lineSpan {
	var out []lineSpan
	start := 0
	for i := 0; i < len(segment); i++ {
		if segment[i] == '\n' {
			out = append(out, lineSpan{start, i})
			start = i + 1
		}
	}
	if start < len(segment) {
		out = append(out, lineSpan{start, len(segment)})
	}
	return out
}

// parseRow splits a markdown table row into unescaped cells. Returns false
// for non-row lines such as the column separator.
func parseRow(line string) ([]string, bool) {
	if !strings.HasPrefix(line, "| ") || !strings.HasSuffix(line, " |") {
		return nil, false
	}
	inner := line[1 : len(line)-1]
	var cells []string
	var cur strings.Builder
	escaped := false
	for _, r := range inner {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	cells = append(cells, strings.TrimSpace(cur.String()))
	return cells, true
}

func escapeCell(s string) string {
	s = oneLine(s)
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "|", `\|`)
}

// oneLine collapses newlines so a value fits a single bullet or table cell.
func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// textBody renders free text for a section body: "-" when empty, otherwise
// every line blockquoted so payload text can never open a line with a
// reserved heading or table row. Always newline terminated.
func textBody(s string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return "-\n"
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + line
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func parseTextBody(s string) string {
	s = strings.Trim(s, "\n")
	if s == "-" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "> "):
			lines[i] = line[len("> "):]
		case line == ">":
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func undash(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "-" || s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
