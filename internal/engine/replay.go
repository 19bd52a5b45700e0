package engine

import (
	"github.com/rendis/flowsim/pkg/schema"
)

// ReplayContext rebuilds the context a finished run ended with: the stored
// input and run identifiers, merged with each step log's data in sequence.
// Run-level and FAILED entries contribute nothing, as in a live run.
func ReplayContext(exec *schema.Execution) map[string]any {
	var input map[string]any
	if m, ok := exec.Metadata["inputData"].(map[string]any); ok {
		input = m
	}
	runCtx := seedContext(input, exec)
	for _, l := range exec.Logs {
		if l.StepID == nil || l.Status == schema.StepStatusFailed {
			continue
		}
		for k, v := range l.Data {
			runCtx[k] = v
		}
	}
	return runCtx
}
