package engine

import (
	"github.com/rendis/flowsim/internal/conditions"
	"github.com/rendis/flowsim/pkg/schema"
)

// MatchTransition returns the first outgoing transition of current that is
// marked default or whose condition holds against runCtx. Transitions are
// tried in list order. nil means current is terminal.
func MatchTransition(current *schema.WorkflowStep, graph *schema.WorkflowGraph, ev *conditions.Evaluator, runCtx map[string]any) *schema.WorkflowTransition {
	if ev == nil {
		ev = conditions.Default()
	}
	scope := conditions.Scope{Context: runCtx, Step: current}
	for _, t := range graph.Outgoing(current.ID) {
		if t.IsDefault || ev.EvaluateIn(t.Condition, scope) {
			return t
		}
	}
	return nil
}

// ResolveNext returns the step to run after current, or nil when the run
// should end. A matching transition that points at an unknown step also ends
// the run.
func ResolveNext(current *schema.WorkflowStep, graph *schema.WorkflowGraph, ev *conditions.Evaluator, runCtx map[string]any) *schema.WorkflowStep {
	t := MatchTransition(current, graph, ev, runCtx)
	if t == nil {
		return nil
	}
	return graph.Step(t.ToStepID)
}
