package diagram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/flowsim/internal/engine"
	"github.com/rendis/flowsim/pkg/schema"
)

// Build constructs a DiagramModel from a workflow graph. exec may be nil;
// when given, its logs overlay step statuses and mark the transitions the
// run followed.
func Build(g *schema.WorkflowGraph, exec *schema.Execution) (*DiagramModel, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: workflow graph is nil")
	}

	ix := engine.IndexGraph(g)
	start, _ := ix.StartStep() // nil for a workflow without steps

	nodes := make([]*Node, 0, len(g.Steps)+2)
	nodes = append(nodes, &Node{ID: StartNodeID, Label: "Start", Kind: NodeKindStart})
	overlays := overlayFromLogs(exec)
	for _, s := range g.Steps {
		nodes = append(nodes, &Node{
			ID:     s.ID,
			Label:  nodeLabel(s),
			Kind:   stepTypeToKind(s.StepType),
			Status: overlays[s.ID],
		})
	}
	nodes = append(nodes, &Node{ID: EndNodeID, Label: "End", Kind: NodeKindEnd})

	edges := buildEdges(ix, start)
	if exec != nil {
		markTaken(edges, exec)
	}

	return &DiagramModel{
		Title:  titleFromGraph(g),
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(ix, start),
	}, nil
}

func stepTypeToKind(stepType string) NodeKind {
	switch stepType {
	case schema.StepTypeApproval:
		return NodeKindApproval
	case schema.StepTypeNotification:
		return NodeKindNotification
	case schema.StepTypeDataEntry:
		return NodeKindDataEntry
	case schema.StepTypeTransform, schema.StepTypeAssign:
		return NodeKindTransform
	default:
		return NodeKindStep
	}
}

// nodeLabel is the step name with its type on a second line.
func nodeLabel(s *schema.WorkflowStep) string {
	return fmt.Sprintf("%s\n(%s)", s.Name, s.StepType)
}

// overlayFromLogs keeps the last log recorded for each step.
func overlayFromLogs(exec *schema.Execution) map[string]*StatusOverlay {
	out := make(map[string]*StatusOverlay)
	if exec == nil {
		return out
	}
	for _, l := range exec.Logs {
		if l.StepID == nil {
			continue
		}
		ov := &StatusOverlay{
			Status:  strings.ToLower(string(l.Status)),
			Message: l.Message,
			Error:   l.Error,
		}
		if l.CompletedAt != nil {
			ov.DurationMs = l.CompletedAt.Sub(l.StartedAt).Milliseconds()
		}
		out[*l.StepID] = ov
	}
	return out
}

// buildEdges links Start to the start step, every known transition, and
// each step without outgoing transitions to End.
func buildEdges(ix *engine.GraphIndex, start *schema.WorkflowStep) []Edge {
	if start == nil {
		return []Edge{{From: StartNodeID, To: EndNodeID}}
	}

	edges := []Edge{{From: StartNodeID, To: start.ID}}
	dangling := make(map[*schema.WorkflowTransition]bool, len(ix.Dangling))
	for _, t := range ix.Dangling {
		dangling[t] = true
	}
	for _, t := range ix.Graph.Transitions {
		if dangling[t] {
			continue
		}
		edges = append(edges, Edge{From: t.FromStepID, To: t.ToStepID, Label: transitionLabel(t)})
	}
	for _, s := range ix.Graph.Steps {
		if len(ix.Out[s.ID]) == 0 {
			edges = append(edges, Edge{From: s.ID, To: EndNodeID})
		}
	}
	return edges
}

// markTaken flags the edges along the execution's step sequence. Between
// two steps the first matching edge is marked.
func markTaken(edges []Edge, exec *schema.Execution) {
	var path []string
	for _, l := range exec.Logs {
		if l.StepID != nil {
			path = append(path, *l.StepID)
		}
	}
	if len(path) == 0 {
		return
	}

	mark := func(from, to string) {
		for i := range edges {
			if edges[i].From == from && edges[i].To == to {
				edges[i].Taken = true
				return
			}
		}
	}
	mark(StartNodeID, path[0])
	for i := 1; i < len(path); i++ {
		mark(path[i-1], path[i])
	}
	if exec.Status == schema.ExecutionStatusCompleted {
		mark(path[len(path)-1], EndNodeID)
	}
}

// transitionLabel renders a transition's condition in a compact form.
func transitionLabel(t *schema.WorkflowTransition) string {
	c := t.Condition
	switch {
	case t.IsDefault:
		return "default"
	case c.IsTriple():
		return fmt.Sprintf("%s %s %s", c.Field, c.Operator, formatValue(c.Value))
	case c != nil && c.Expression != "":
		return c.Expression
	default:
		return ""
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(val)
	default:
		return fmt.Sprint(val)
	}
}

// buildLevels layers nodes by breadth-first distance from the start step.
// Steps a run can never reach share a level just above End.
func buildLevels(ix *engine.GraphIndex, start *schema.WorkflowStep) [][]string {
	levels := [][]string{{StartNodeID}}
	if start != nil {
		seen := map[string]bool{start.ID: true}
		frontier := []string{start.ID}
		for len(frontier) > 0 {
			levels = append(levels, frontier)
			var next []string
			for _, id := range frontier {
				for _, to := range ix.Out[id] {
					if !seen[to] {
						seen[to] = true
						next = append(next, to)
					}
				}
			}
			frontier = next
		}

		var rest []string
		for _, s := range ix.Graph.Steps {
			if !seen[s.ID] {
				rest = append(rest, s.ID)
			}
		}
		if len(rest) > 0 {
			levels = append(levels, rest)
		}
	}
	return append(levels, []string{EndNodeID})
}

func titleFromGraph(g *schema.WorkflowGraph) string {
	if g.Workflow != nil && g.Workflow.Name != "" {
		return g.Workflow.Name
	}
	return "Workflow"
}
