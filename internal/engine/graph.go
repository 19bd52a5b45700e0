package engine

import (
	"github.com/rendis/flowsim/pkg/schema"
)

// GraphIndex is an adjacency view of a workflow graph. Unlike a DAG it
// tolerates cycles and dangling transitions; both are reported, not rejected.
type GraphIndex struct {
	Graph    *schema.WorkflowGraph
	Out      map[string][]string // step ID -> target step IDs, in transition order
	InDegree map[string]int      // step ID -> incoming transitions from known steps
	Roots    []*schema.WorkflowStep
	Dangling []*schema.WorkflowTransition
}

// IndexGraph builds a GraphIndex. Steps keep the graph's order.
func IndexGraph(g *schema.WorkflowGraph) *GraphIndex {
	ix := &GraphIndex{
		Graph:    g,
		Out:      make(map[string][]string, len(g.Steps)),
		InDegree: make(map[string]int, len(g.Steps)),
	}
	known := make(map[string]bool, len(g.Steps))
	for _, s := range g.Steps {
		known[s.ID] = true
		ix.InDegree[s.ID] = 0
	}
	for _, t := range g.Transitions {
		// Any transition naming a step as its target makes it a non-root,
		// even when the source step is gone.
		if known[t.ToStepID] {
			ix.InDegree[t.ToStepID]++
		}
		if !known[t.FromStepID] || !known[t.ToStepID] {
			ix.Dangling = append(ix.Dangling, t)
			continue
		}
		ix.Out[t.FromStepID] = append(ix.Out[t.FromStepID], t.ToStepID)
	}
	for _, s := range g.Steps {
		if ix.InDegree[s.ID] == 0 {
			ix.Roots = append(ix.Roots, s)
		}
	}
	return ix
}

// StartStep picks where a run begins: the lowest-order step without incoming
// transitions, or the lowest-order step overall when every step has one.
// Ties go to the step listed first.
func (ix *GraphIndex) StartStep() (*schema.WorkflowStep, error) {
	if len(ix.Graph.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNoSteps, "workflow %s has no steps", workflowID(ix.Graph))
	}
	candidates := ix.Roots
	if len(candidates) == 0 {
		candidates = ix.Graph.Steps
	}
	start := candidates[0]
	for _, s := range candidates[1:] {
		if s.Order < start.Order {
			start = s
		}
	}
	return start, nil
}

// StartStep is IndexGraph(g).StartStep().
func StartStep(g *schema.WorkflowGraph) (*schema.WorkflowStep, error) {
	return IndexGraph(g).StartStep()
}

// Reachable returns the IDs of steps reachable from stepID, stepID included.
func (ix *GraphIndex) Reachable(stepID string) map[string]bool {
	seen := map[string]bool{stepID: true}
	queue := []string{stepID}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range ix.Out[node] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// Unreachable returns the steps a run can never visit from the start step,
// in graph order.
func (ix *GraphIndex) Unreachable() []*schema.WorkflowStep {
	start, err := ix.StartStep()
	if err != nil {
		return nil
	}
	seen := ix.Reachable(start.ID)
	var out []*schema.WorkflowStep
	for _, s := range ix.Graph.Steps {
		if !seen[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// HasCycle reports whether any cycle exists among known steps, using Kahn's
// algorithm. A run through a cycle stops at the first revisit.
func (ix *GraphIndex) HasCycle() bool {
	// InDegree also counts transitions from unknown steps; Kahn's needs
	// only the edges it can walk.
	inDegree := make(map[string]int, len(ix.Graph.Steps))
	for _, targets := range ix.Out {
		for _, next := range targets {
			inDegree[next]++
		}
	}
	queue := make([]string, 0, len(ix.Graph.Steps))
	for _, s := range ix.Graph.Steps {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range ix.Out[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(ix.Graph.Steps)
}

func workflowID(g *schema.WorkflowGraph) string {
	if g.Workflow == nil {
		return ""
	}
	return g.Workflow.ID
}
