package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition_EmptyForms(t *testing.T) {
	var nilCond *Condition
	assert.True(t, nilCond.IsEmpty())
	assert.True(t, (&Condition{}).IsEmpty())
	assert.True(t, (&Condition{Field: "amount", Operator: "equals"}).IsEmpty(), "missing value")
	assert.False(t, NewCondition("amount", "equals", nil).IsEmpty(), "explicit null is a value")
	assert.False(t, NewExpressionCondition("context.amount > 10.0").IsEmpty())
}

func TestCondition_JSONTracksValuePresence(t *testing.T) {
	var absent Condition
	require.NoError(t, json.Unmarshal([]byte(`{"field":"tier","operator":"equals"}`), &absent))
	assert.False(t, absent.HasValue())
	assert.False(t, absent.IsTriple())

	var null Condition
	require.NoError(t, json.Unmarshal([]byte(`{"field":"tier","operator":"equals","value":null}`), &null))
	assert.True(t, null.HasValue())
	assert.Nil(t, null.Value)

	out, err := json.Marshal(null)
	require.NoError(t, err)
	assert.JSONEq(t, `{"field":"tier","operator":"equals","value":null}`, string(out))

	out, err = json.Marshal(absent)
	require.NoError(t, err)
	assert.JSONEq(t, `{"field":"tier","operator":"equals"}`, string(out))
}

func TestTransition_ConditionRoundTrip(t *testing.T) {
	tr := WorkflowTransition{ID: "t1", FromStepID: "a", ToStepID: "b", Condition: NewCondition("score", "greaterThan", 70.0)}
	raw, err := json.Marshal(tr)
	require.NoError(t, err)

	var back WorkflowTransition
	require.NoError(t, json.Unmarshal(raw, &back))
	require.NotNil(t, back.Condition)
	assert.True(t, back.Condition.IsTriple())
	assert.Equal(t, 70.0, back.Condition.Value)
}

func TestExecutionStatus(t *testing.T) {
	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())

	st, err := ParseExecutionStatus("COMPLETED")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, st)

	_, err = ParseExecutionStatus("done")
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))
}

func TestParseWorkflowStatus(t *testing.T) {
	for _, in := range []string{"ACTIVE", "active", " Active "} {
		st, err := ParseWorkflowStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, WorkflowStatusActive, st)
	}

	st, err := ParseWorkflowStatus("draft")
	require.NoError(t, err)
	assert.Equal(t, WorkflowStatusDraft, st)

	_, err = ParseWorkflowStatus("live")
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))
	_, err = ParseWorkflowStatus("")
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))
}
