package diagram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsim/pkg/schema"
)

// --- Test graph builders ---

func step(id, name, stepType string, order int) *schema.WorkflowStep {
	return &schema.WorkflowStep{ID: id, Name: name, StepType: stepType, Order: order}
}

func linearGraph() *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		Workflow: &schema.Workflow{ID: "wf", Name: "Client Onboarding"},
		Steps: []*schema.WorkflowStep{
			step("welcome", "Welcome", schema.StepTypeNotification, 1),
			step("docs", "Documents", schema.StepTypeDataEntry, 2),
			step("review", "Review", schema.StepTypeApproval, 3),
		},
		Transitions: []*schema.WorkflowTransition{
			{ID: "t1", FromStepID: "welcome", ToStepID: "docs", IsDefault: true},
			{ID: "t2", FromStepID: "docs", ToStepID: "review"},
		},
	}
}

func branchingGraph() *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		Workflow: &schema.Workflow{ID: "wf", Name: "Branching"},
		Steps: []*schema.WorkflowStep{
			step("docs", "Documents", schema.StepTypeDataEntry, 1),
			step("review", "Review", schema.StepTypeApproval, 2),
			step("remind", "Reminder", schema.StepTypeNotification, 3),
			step("audit", "Audit", schema.StepTypeCustom, 4),
		},
		Transitions: []*schema.WorkflowTransition{
			{ID: "t1", FromStepID: "docs", ToStepID: "review",
				Condition: schema.NewCondition("count", "greaterThan", 1)},
			{ID: "t2", FromStepID: "docs", ToStepID: "remind",
				Condition: schema.NewExpressionCondition(`context.count == 0`)},
			{ID: "t3", FromStepID: "remind", ToStepID: "ghost", IsDefault: true},
		},
	}
}

func logAt(stepID string, status schema.StepStatus, seq int64) *schema.ExecutionLog {
	started := time.Date(2026, 1, 1, 9, 0, int(seq), 0, time.UTC)
	completed := started.Add(25 * time.Millisecond)
	id := stepID
	return &schema.ExecutionLog{
		Sequence: seq, StepID: &id, Status: status,
		StartedAt: started, CompletedAt: &completed,
	}
}

func nodeByID(model *DiagramModel, id string) *Node {
	return findNode(model.Nodes, id)
}

// --- Tests ---

func TestBuildLinear(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Client Onboarding", model.Title)
	assert.Len(t, model.Nodes, 5)
	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindEnd, model.Nodes[4].Kind)
	assert.Equal(t, NodeKindNotification, nodeByID(model, "welcome").Kind)
	assert.Equal(t, NodeKindDataEntry, nodeByID(model, "docs").Kind)
	assert.Equal(t, NodeKindApproval, nodeByID(model, "review").Kind)
	assert.Equal(t, "Documents\n(data_entry)", nodeByID(model, "docs").Label)

	assert.Equal(t, []Edge{
		{From: StartNodeID, To: "welcome"},
		{From: "welcome", To: "docs", Label: "default"},
		{From: "docs", To: "review"},
		{From: "review", To: EndNodeID},
	}, model.Edges)

	assert.Equal(t, [][]string{{StartNodeID}, {"welcome"}, {"docs"}, {"review"}, {EndNodeID}}, model.Levels)
}

func TestBuildBranching(t *testing.T) {
	model, err := Build(branchingGraph(), nil)
	require.NoError(t, err)

	labels := map[string]string{}
	for _, e := range model.Edges {
		labels[e.From+">"+e.To] = e.Label
	}
	assert.Equal(t, "count greaterThan 1", labels["docs>review"])
	assert.Equal(t, "context.count == 0", labels["docs>remind"])
	_, dangling := labels["remind>ghost"]
	assert.False(t, dangling, "transitions to unknown steps are not drawn")
	assert.Contains(t, labels, "remind>"+EndNodeID)
	assert.Contains(t, labels, "audit>"+EndNodeID)

	assert.Equal(t, [][]string{
		{StartNodeID}, {"docs"}, {"review", "remind"}, {"audit"}, {EndNodeID},
	}, model.Levels, "unreachable steps share a level above End")
}

func TestBuildWithExecutionOverlay(t *testing.T) {
	exec := &schema.Execution{
		ID:     "exec-1",
		Status: schema.ExecutionStatusCompleted,
		Logs: []*schema.ExecutionLog{
			logAt("welcome", schema.StepStatusCompleted, 1),
			logAt("docs", schema.StepStatusCompleted, 2),
			logAt("review", schema.StepStatusCompleted, 3),
		},
	}
	model, err := Build(linearGraph(), exec)
	require.NoError(t, err)

	ov := nodeByID(model, "docs").Status
	require.NotNil(t, ov)
	assert.Equal(t, "completed", ov.Status)
	assert.Equal(t, int64(25), ov.DurationMs)

	for _, e := range model.Edges {
		assert.True(t, e.Taken, "%s -> %s", e.From, e.To)
	}
}

func TestBuildFailedRunStopsTakenPath(t *testing.T) {
	failed := logAt("docs", schema.StepStatusFailed, 2)
	failed.Error = "missing passport"
	exec := &schema.Execution{
		Status: schema.ExecutionStatusFailed,
		Logs: []*schema.ExecutionLog{
			logAt("welcome", schema.StepStatusCompleted, 1),
			failed,
			{Sequence: 3, Status: schema.StepStatusFailed, Message: "run-level entry"},
		},
	}
	model, err := Build(linearGraph(), exec)
	require.NoError(t, err)

	assert.Equal(t, "failed", nodeByID(model, "docs").Status.Status)
	assert.Equal(t, "missing passport", nodeByID(model, "docs").Status.Error)
	assert.Nil(t, nodeByID(model, "review").Status)

	taken := 0
	for _, e := range model.Edges {
		if e.Taken {
			taken++
		}
	}
	assert.Equal(t, 2, taken, "start->welcome and welcome->docs")
}

func TestBuildEmptyWorkflow(t *testing.T) {
	model, err := Build(&schema.WorkflowGraph{Workflow: &schema.Workflow{Name: "empty"}}, nil)
	require.NoError(t, err)
	assert.Len(t, model.Nodes, 2)
	assert.Equal(t, []Edge{{From: StartNodeID, To: EndNodeID}}, model.Edges)
	assert.Equal(t, [][]string{{StartNodeID}, {EndNodeID}}, model.Levels)
}

func TestBuildCycle(t *testing.T) {
	g := &schema.WorkflowGraph{
		Steps: []*schema.WorkflowStep{step("a", "A", "custom", 1), step("b", "B", "custom", 2)},
		Transitions: []*schema.WorkflowTransition{
			{FromStepID: "a", ToStepID: "b"},
			{FromStepID: "b", ToStepID: "a"},
		},
	}
	model, err := Build(g, nil)
	require.NoError(t, err)
	assert.Equal(t, "Workflow", model.Title)
	assert.Equal(t, [][]string{{StartNodeID}, {"a"}, {"b"}, {EndNodeID}}, model.Levels)
	assert.Len(t, model.Edges, 3, "start edge plus the two transitions; no step ends the run")
}

func TestBuildNilGraph(t *testing.T) {
	_, err := Build(nil, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestTransitionLabel(t *testing.T) {
	tests := []struct {
		name string
		tr   *schema.WorkflowTransition
		want string
	}{
		{"unconditional", &schema.WorkflowTransition{}, ""},
		{"default wins", &schema.WorkflowTransition{IsDefault: true, Condition: schema.NewCondition("a", "equals", 1)}, "default"},
		{"string value", &schema.WorkflowTransition{Condition: schema.NewCondition("plan", "equals", "gold")}, `plan equals "gold"`},
		{"null value", &schema.WorkflowTransition{Condition: schema.NewCondition("reviewer", "equals", nil)}, "reviewer equals null"},
		{"expression", &schema.WorkflowTransition{Condition: schema.NewExpressionCondition("true")}, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transitionLabel(tt.tr))
		})
	}
}
