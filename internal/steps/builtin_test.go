package steps

import (
	"context"
	"testing"

	"github.com/rendis/flowsim/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(stepType string, config map[string]any) *schema.WorkflowStep {
	return &schema.WorkflowStep{ID: "s-" + stepType, Name: "My " + stepType, StepType: stepType, Config: config}
}

func TestBuiltins(t *testing.T) {
	x := NewExecutor(nil)
	ctx := context.Background()
	input := map[string]any{"companyName": "Acme", "employees": 40.0}

	tests := []struct {
		name     string
		step     *schema.WorkflowStep
		wantData map[string]any
		wantMsg  string
	}{
		{"approval", step(schema.StepTypeApproval, nil), map[string]any{"approved": true}, `approval step "My approval" approved`},
		{"notification", step(schema.StepTypeNotification, map[string]any{"template": "welcome"}), map[string]any{"notified": true}, `notification sent for step "My notification"`},
		{"data entry echoes input", step(schema.StepTypeDataEntry, nil), input, `data entry step "My data_entry" completed`},
		{"custom echoes config", step(schema.StepTypeCustom, map[string]any{"score": 7.0}), map[string]any{"score": 7.0}, `custom step "My custom" executed`},
		{"custom without config", step(schema.StepTypeCustom, nil), map[string]any{}, `custom step "My custom" executed`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := x.Execute(ctx, tt.step, "exec-1", map[string]any{"workflowId": "wf"}, input)
			assert.Equal(t, schema.StepStatusCompleted, out.Status)
			assert.Equal(t, tt.wantData, out.Data)
			assert.Equal(t, tt.wantMsg, out.Message)
			assert.Empty(t, out.Error)
		})
	}
}

func TestDataEntry_NoInputYieldsEmptyData(t *testing.T) {
	out := NewExecutor(nil).Execute(context.Background(), step(schema.StepTypeDataEntry, nil), "exec-1", nil, nil)
	assert.Equal(t, map[string]any{}, out.Data)
}

func TestDataEntry_DataIsACopy(t *testing.T) {
	input := map[string]any{"k": "v"}
	out := NewExecutor(nil).Execute(context.Background(), step(schema.StepTypeDataEntry, nil), "exec-1", nil, input)
	out.Data["k"] = "changed"
	assert.Equal(t, "v", input["k"])
}

func TestTransform(t *testing.T) {
	x := NewExecutor(nil)
	runCtx := map[string]any{
		"documents": []any{
			map[string]any{"type": "passport", "verified": true},
			map[string]any{"type": "bill", "verified": false},
		},
	}

	out := x.Execute(context.Background(), step(schema.StepTypeTransform, map[string]any{
		"query":  "[.documents[] | select(.verified)] | length",
		"target": "verifiedDocuments",
	}), "exec-1", runCtx, nil)
	require.Equal(t, schema.StepStatusCompleted, out.Status, out.Error)
	assert.Equal(t, map[string]any{"verifiedDocuments": 1}, out.Data)

	out = x.Execute(context.Background(), step(schema.StepTypeTransform, map[string]any{
		"query": "{documentTypes: [.documents[].type]}",
	}), "exec-1", runCtx, nil)
	require.Equal(t, schema.StepStatusCompleted, out.Status, out.Error)
	assert.Equal(t, map[string]any{"documentTypes": []any{"passport", "bill"}}, out.Data)
}

func TestTransform_RunVariables(t *testing.T) {
	x := NewExecutor(nil)
	st := step(schema.StepTypeTransform, map[string]any{
		"query": `{requested: $input.amount, by: $step.name, run: $execution, limit: $step.config.limit, seen: .riskScore}`,
		"limit": int64(500),
	})
	out := x.Execute(context.Background(), st, "exec-9",
		map[string]any{"riskScore": int32(70)}, map[string]any{"amount": 1200.0})
	require.Equal(t, schema.StepStatusCompleted, out.Status, out.Error)
	assert.Equal(t, map[string]any{
		"requested": 1200.0,
		"by":        "My transform",
		"run":       "exec-9",
		"limit":     500,
		"seen":      70,
	}, out.Data)
}

func TestTransform_Failures(t *testing.T) {
	x := NewExecutor(nil)
	tests := map[string]map[string]any{
		"missing query":         nil,
		"scalar without target": {"query": ".documents | length"},
		"bad query":             {"query": ".["},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			out := x.Execute(context.Background(), step(schema.StepTypeTransform, cfg), "exec-1", map[string]any{"documents": []any{}}, nil)
			assert.Equal(t, schema.StepStatusFailed, out.Status)
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestAssign(t *testing.T) {
	x := NewExecutor(nil)
	out := x.Execute(context.Background(), step(schema.StepTypeAssign, map[string]any{
		"set": map[string]any{
			"riskScore": "amount > 10000 ? 80 : 20",
			"reviewer":  `tier == "gold" ? "senior" : "junior"`,
		},
	}), "exec-1", map[string]any{"amount": 25000.0, "tier": "gold"}, nil)

	require.Equal(t, schema.StepStatusCompleted, out.Status, out.Error)
	assert.Equal(t, map[string]any{"riskScore": 80, "reviewer": "senior"}, out.Data)
}

func TestAssign_Failures(t *testing.T) {
	x := NewExecutor(nil)
	tests := map[string]map[string]any{
		"missing set":     nil,
		"non-string expr": {"set": map[string]any{"a": 1}},
		"runtime error":   {"set": map[string]any{"a": "name.first"}},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			out := x.Execute(context.Background(), step(schema.StepTypeAssign, cfg), "exec-1", map[string]any{"name": "x"}, nil)
			assert.Equal(t, schema.StepStatusFailed, out.Status)
			assert.NotEmpty(t, out.Error)
		})
	}
}
