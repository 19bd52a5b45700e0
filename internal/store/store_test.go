package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsim/pkg/schema"
)

// runStoreContract exercises the behavior every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ClientRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c := &schema.Client{Name: "Acme", Email: "ops@acme.test", IsActive: true, Metadata: map[string]any{"tier": "gold"}}
		require.NoError(t, s.CreateClient(ctx, c))
		assert.NotEmpty(t, c.ID)
		assert.False(t, c.CreatedAt.IsZero())

		got, err := s.GetClient(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Acme", got.Name)
		assert.Equal(t, "ops@acme.test", got.Email)
		assert.Equal(t, "gold", got.Metadata["tier"])
		assert.True(t, got.IsActive)

		dormant := &schema.Client{Name: "Dormant"}
		require.NoError(t, s.CreateClient(ctx, dormant))
		all, err := s.ListClients(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.True(t, all[0].IsActive)
		assert.False(t, all[1].IsActive)

		_, err = s.GetClient(ctx, "missing")
		assert.True(t, schema.IsNotFound(err))
	})

	t.Run("ClientRequiresName", func(t *testing.T) {
		s := newStore(t)
		err := s.CreateClient(context.Background(), &schema.Client{})
		assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
	})

	t.Run("DuplicateIDConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedClient(t, s)
		err := s.CreateClient(ctx, &schema.Client{ID: c.ID, Name: "again"})
		assert.Equal(t, schema.ErrCodeConflict, schema.ErrorCode(err))

		wf := seedWorkflow(t, s)
		err = s.CreateWorkflow(ctx, &schema.Workflow{ID: wf.ID, Name: "again"})
		assert.Equal(t, schema.ErrCodeConflict, schema.ErrorCode(err))
	})

	t.Run("GraphOrdering", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		wf := seedWorkflow(t, s)

		third := addStep(t, s, wf.ID, "third", 3)
		first := addStep(t, s, wf.ID, "first", 1)
		second := addStep(t, s, wf.ID, "second", 2)

		addTransition(t, s, wf.ID, first.ID, third.ID, schema.NewCondition("x", "equals", "b"))
		addTransition(t, s, wf.ID, first.ID, second.ID, nil)

		g, err := s.LoadWorkflowWithGraph(ctx, wf.ID)
		require.NoError(t, err)
		require.Len(t, g.Steps, 3)
		assert.Equal(t, []string{"first", "second", "third"},
			[]string{g.Steps[0].Name, g.Steps[1].Name, g.Steps[2].Name})

		require.Len(t, g.Transitions, 2)
		assert.Equal(t, third.ID, g.Transitions[0].ToStepID)
		require.NotNil(t, g.Transitions[0].Condition)
		assert.True(t, g.Transitions[0].Condition.IsTriple())
		assert.Equal(t, "b", g.Transitions[0].Condition.Value)
		assert.Nil(t, g.Transitions[1].Condition)
	})

	t.Run("EqualOrderKeepsInsertion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		wf := seedWorkflow(t, s)
		addStep(t, s, wf.ID, "a", 1)
		addStep(t, s, wf.ID, "b", 1)

		g, err := s.LoadWorkflowWithGraph(ctx, wf.ID)
		require.NoError(t, err)
		require.Len(t, g.Steps, 2)
		assert.Equal(t, "a", g.Steps[0].Name)
		assert.Equal(t, "b", g.Steps[1].Name)
	})

	t.Run("NullConditionValueSurvives", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		wf := seedWorkflow(t, s)
		a := addStep(t, s, wf.ID, "a", 1)
		b := addStep(t, s, wf.ID, "b", 2)
		addTransition(t, s, wf.ID, a.ID, b.ID, schema.NewCondition("flag", "equals", nil))

		g, err := s.LoadWorkflowWithGraph(ctx, wf.ID)
		require.NoError(t, err)
		require.Len(t, g.Transitions, 1)
		assert.True(t, g.Transitions[0].Condition.IsTriple())
		assert.Nil(t, g.Transitions[0].Condition.Value)
	})

	t.Run("TransitionAcrossWorkflowsRejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		wf1 := seedWorkflow(t, s)
		wf2 := seedWorkflow(t, s)
		a := addStep(t, s, wf1.ID, "a", 1)
		b := addStep(t, s, wf2.ID, "b", 1)

		err := s.AddTransition(ctx, &schema.WorkflowTransition{WorkflowID: wf1.ID, FromStepID: a.ID, ToStepID: b.ID})
		assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

		err = s.AddTransition(ctx, &schema.WorkflowTransition{WorkflowID: wf1.ID, FromStepID: a.ID, ToStepID: "ghost"})
		assert.True(t, schema.IsNotFound(err))
	})

	t.Run("LoadUnknownWorkflow", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadWorkflowWithGraph(context.Background(), "nope")
		assert.True(t, schema.IsNotFound(err))
	})

	t.Run("ListWorkflowsFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedClient(t, s)
		active := &schema.Workflow{Name: "active", ClientID: c.ID, Status: schema.WorkflowStatusActive}
		draft := &schema.Workflow{Name: "draft", ClientID: c.ID}
		require.NoError(t, s.CreateWorkflow(ctx, active))
		require.NoError(t, s.CreateWorkflow(ctx, draft))
		assert.Equal(t, schema.WorkflowStatusDraft, draft.Status)
		seedWorkflow(t, s)

		got, err := s.ListWorkflows(ctx, WorkflowFilter{ClientID: c.ID})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.ListWorkflows(ctx, WorkflowFilter{ClientID: c.ID, Status: schema.WorkflowStatusActive})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "active", got[0].Name)
		assert.Equal(t, schema.WorkflowStatusActive, got[0].Status)

		got, err = s.ListWorkflows(ctx, WorkflowFilter{Status: schema.WorkflowStatusDraft})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "draft", got[0].Name)

		got, err = s.ListWorkflows(ctx, WorkflowFilter{Status: schema.WorkflowStatusArchived})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("WorkflowStatusValidated", func(t *testing.T) {
		s := newStore(t)
		err := s.CreateWorkflow(context.Background(), &schema.Workflow{Name: "wf", Status: "retired"})
		assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

		wf := &schema.Workflow{Name: "wf", Status: "archived"}
		require.NoError(t, s.CreateWorkflow(context.Background(), wf))
		got, err := s.GetWorkflow(context.Background(), wf.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.WorkflowStatusArchived, got.Status)
	})

	t.Run("ExecutionLogsSequenced", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		exec := seedExecution(t, s)

		stepID := "step-1"
		for i := 0; i < 3; i++ {
			l := &schema.ExecutionLog{ExecutionID: exec.ID, StepID: &stepID, Status: schema.StepStatusCompleted,
				Message: "ok", Data: map[string]any{"i": float64(i)}}
			require.NoError(t, s.AppendExecutionLog(ctx, l))
			assert.Equal(t, int64(i+1), l.Sequence)
		}
		require.NoError(t, s.AppendExecutionLog(ctx, &schema.ExecutionLog{
			ExecutionID: exec.ID, Status: schema.StepStatusFailed, Error: "boom",
		}))

		got, err := s.LoadExecutionWithLogs(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, got.Logs, 4)
		for i, l := range got.Logs {
			assert.Equal(t, int64(i+1), l.Sequence)
		}
		assert.Equal(t, "step-1", got.Logs[0].StepIDValue())
		assert.Equal(t, float64(2), got.Logs[2].Data["i"])
		assert.Nil(t, got.Logs[3].StepID)
		assert.Equal(t, "boom", got.Logs[3].Error)
	})

	t.Run("ConcurrentAppendsStayGapFree", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		exec := seedExecution(t, s)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.AppendExecutionLog(ctx, &schema.ExecutionLog{
					ExecutionID: exec.ID, Status: schema.StepStatusCompleted,
				}))
			}()
		}
		wg.Wait()

		got, err := s.LoadExecutionWithLogs(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, got.Logs, 8)
		for i, l := range got.Logs {
			assert.Equal(t, int64(i+1), l.Sequence)
		}
	})

	t.Run("UpdateExecutionStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		exec := seedExecution(t, s)

		require.NoError(t, s.UpdateExecutionStatus(ctx, exec.ID, schema.ExecutionStatusRunning, time.Time{}))
		got, err := s.LoadExecutionWithLogs(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.ExecutionStatusRunning, got.Status)
		assert.Nil(t, got.CompletedAt)
		assert.Empty(t, got.Logs)

		done := time.Now().UTC()
		require.NoError(t, s.UpdateExecutionStatus(ctx, exec.ID, schema.ExecutionStatusCompleted, done))
		got, err = s.LoadExecutionWithLogs(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.ExecutionStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.WithinDuration(t, done, *got.CompletedAt, time.Second)
		assert.Equal(t, true, got.Metadata["simulation"])

		err = s.UpdateExecutionStatus(ctx, "missing", schema.ExecutionStatusFailed, time.Time{})
		assert.True(t, schema.IsNotFound(err))
	})

	t.Run("ListExecutionsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := seedClient(t, s)
		wf := seedWorkflow(t, s)

		base := time.Now().UTC().Add(-time.Hour)
		var ids []string
		for i := 0; i < 3; i++ {
			e := &schema.Execution{WorkflowID: wf.ID, ClientID: c.ID, Status: schema.ExecutionStatusCompleted,
				StartedAt: base.Add(time.Duration(i) * time.Minute)}
			require.NoError(t, s.CreateExecution(ctx, e))
			ids = append(ids, e.ID)
		}
		require.NoError(t, s.UpdateExecutionStatus(ctx, ids[0], schema.ExecutionStatusFailed, time.Time{}))

		all, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: wf.ID})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[2], all[0].ID)
		assert.Equal(t, ids[0], all[2].ID)

		failed := schema.ExecutionStatusFailed
		only, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: wf.ID, Status: &failed})
		require.NoError(t, err)
		require.Len(t, only, 1)
		assert.Equal(t, ids[0], only[0].ID)

		page, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: wf.ID, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[1], page[0].ID)
	})

	t.Run("LoadUnknownExecution", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadExecutionWithLogs(context.Background(), "nope")
		assert.True(t, schema.IsNotFound(err))

		err = s.AppendExecutionLog(context.Background(), &schema.ExecutionLog{
			ExecutionID: "nope", Status: schema.StepStatusCompleted,
		})
		assert.True(t, schema.IsNotFound(err))
	})
}

func seedClient(t *testing.T, s Store) *schema.Client {
	t.Helper()
	c := &schema.Client{Name: "client"}
	require.NoError(t, s.CreateClient(context.Background(), c))
	return c
}

func seedWorkflow(t *testing.T, s Store) *schema.Workflow {
	t.Helper()
	wf := &schema.Workflow{Name: "wf", Status: schema.WorkflowStatusActive}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func addStep(t *testing.T, s Store, workflowID, name string, order int) *schema.WorkflowStep {
	t.Helper()
	st := &schema.WorkflowStep{WorkflowID: workflowID, Name: name, StepType: schema.StepTypeCustom, Order: order}
	require.NoError(t, s.AddStep(context.Background(), st))
	return st
}

func addTransition(t *testing.T, s Store, workflowID, from, to string, cond *schema.Condition) *schema.WorkflowTransition {
	t.Helper()
	tr := &schema.WorkflowTransition{WorkflowID: workflowID, FromStepID: from, ToStepID: to, Condition: cond}
	require.NoError(t, s.AddTransition(context.Background(), tr))
	return tr
}

func seedExecution(t *testing.T, s Store) *schema.Execution {
	t.Helper()
	c := seedClient(t, s)
	wf := seedWorkflow(t, s)
	e := &schema.Execution{WorkflowID: wf.ID, ClientID: c.ID, Status: schema.ExecutionStatusPending,
		Metadata: map[string]any{"simulation": true}}
	require.NoError(t, s.CreateExecution(context.Background(), e))
	return e
}
