package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxBoxText = 40

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "skipped":
		return "[SKIP]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as text, one row of boxes per level,
// followed by the list of labelled transitions.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for i, level := range model.Levels {
		var boxes []asciiBox
		for _, id := range level {
			if node := findNode(model.Nodes, id); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if i < len(model.Levels)-1 && len(boxes) > 0 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	renderTransitions(&b, model)
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

// makeBox draws a node: every label line, then status and duration, then
// the error of a failed step.
func makeBox(node *Node) asciiBox {
	content := strings.Split(node.Label, "\n")
	if st := node.Status; st != nil {
		line := statusTag(st.Status)
		if st.DurationMs > 0 {
			line = strings.TrimSpace(fmt.Sprintf("%s %dms", line, st.DurationMs))
		}
		if line != "" {
			content = append(content, line)
		}
		if st.Error != "" {
			content = append(content, truncate(st.Error, maxBoxText))
		}
	}

	inner := 0
	for _, line := range content {
		inner = max(inner, utf8.RuneCountInString(line))
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", inner+2)+"┐")
	for _, line := range content {
		pad := strings.Repeat(" ", inner-utf8.RuneCountInString(line))
		lines = append(lines, "│ "+line+pad+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", inner+2)+"┘")

	return asciiBox{lines: lines, width: inner + 4}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side, padding shorter boxes.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}
	for row := 0; row < height; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderTransitions lists every step-to-step edge with its condition, since
// the level layout cannot show branching. Taken edges are starred.
func renderTransitions(b *strings.Builder, model *DiagramModel) {
	var lines []string
	for _, edge := range model.Edges {
		if edge.From == StartNodeID || edge.To == EndNodeID {
			continue
		}
		from, to := findNode(model.Nodes, edge.From), findNode(model.Nodes, edge.To)
		if from == nil || to == nil {
			continue
		}
		line := fmt.Sprintf("  %s ─→ %s", firstLine(from.Label), firstLine(to.Label))
		if edge.Label != "" {
			line += " [" + edge.Label + "]"
		}
		if edge.Taken {
			line += " *"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("\n--- transitions ---\n")
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
