package validation

import (
	"fmt"

	"github.com/rendis/flowsim/internal/engine"
	"github.com/rendis/flowsim/pkg/schema"
)

// validateGraph reports the shape problems a run tolerates but an author
// probably did not intend. Everything here is a warning: cycles stop at the
// first revisit and unreachable steps simply never run.
func validateGraph(def *Definition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ix := engine.IndexGraph(def.Graph())
	start, err := ix.StartStep()
	if err != nil {
		return result
	}

	if len(ix.Roots) > 1 {
		keys := make([]string, 0, len(ix.Roots))
		for _, r := range ix.Roots {
			keys = append(keys, r.ID)
		}
		result.AddWarning("steps", schema.ErrCodeValidation,
			fmt.Sprintf("workflow has %d entry steps %v; runs start at %q", len(keys), keys, start.ID))
	}

	if ix.HasCycle() {
		result.AddWarning("transitions", schema.ErrCodeValidation,
			"transitions form a cycle; a run stops when it revisits a step")
	}

	for _, s := range ix.Unreachable() {
		result.StepWarning(s.ID, "", schema.ErrCodeValidation,
			fmt.Sprintf("step %q is unreachable from start step %q", s.ID, start.ID))
	}

	return result
}
