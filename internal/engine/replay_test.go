package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowsim/pkg/schema"
)

func TestReplayContext(t *testing.T) {
	a, b := "a", "b"
	exec := &schema.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		ClientID:   "client-1",
		Metadata:   map[string]any{"simulation": true, "inputData": map[string]any{"k": "input", "score": 1.0}},
		Logs: []*schema.ExecutionLog{
			{StepID: &a, Status: schema.StepStatusCompleted, Data: map[string]any{"k": "first", "approved": true}},
			{StepID: &b, Status: schema.StepStatusCompleted, Data: map[string]any{"k": "second"}},
			{StepID: &b, Status: schema.StepStatusFailed, Data: map[string]any{"k": "ignored"}},
			{Status: schema.StepStatusFailed, Data: map[string]any{"k": "run-level"}},
		},
	}

	got := ReplayContext(exec)
	assert.Equal(t, map[string]any{
		"k":           "second",
		"score":       1.0,
		"approved":    true,
		"workflowId":  "wf-1",
		"clientId":    "client-1",
		"executionId": "exec-1",
	}, got)
}

func TestReplayContext_NoInput(t *testing.T) {
	got := ReplayContext(&schema.Execution{ID: "e", WorkflowID: "w", ClientID: "c"})
	assert.Equal(t, map[string]any{"workflowId": "w", "clientId": "c", "executionId": "e"}, got)
}
