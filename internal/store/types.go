package store

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rendis/flowsim/pkg/schema"
)

// WorkflowFilter narrows ListWorkflows. An empty Status matches every status.
type WorkflowFilter struct {
	ClientID string
	Status   schema.WorkflowStatus
	Limit    int
	Offset   int
}

// ExecutionFilter narrows ListExecutions. Results are newest first.
type ExecutionFilter struct {
	WorkflowID string
	ClientID   string
	Status     *schema.ExecutionStatus
	Limit      int
	Offset     int
}

// The prepare helpers fill ids and timestamps left empty by callers and
// reject records missing required fields. Every Store implementation calls
// them before writing.

func prepareClient(c *schema.Client) error {
	if c.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "client name is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = timeOrNow(c.CreatedAt)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return nil
}

func prepareWorkflow(wf *schema.Workflow) error {
	if wf.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.Version == 0 {
		wf.Version = 1
	}
	if wf.Status == "" {
		wf.Status = schema.WorkflowStatusDraft
	}
	st, err := schema.ParseWorkflowStatus(string(wf.Status))
	if err != nil {
		return err
	}
	wf.Status = st
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = wf.CreatedAt
	}
	return nil
}

func prepareStep(s *schema.WorkflowStep) error {
	if s.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step workflow_id is required")
	}
	if s.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "step name is required")
	}
	if s.StepType == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "step %q has no step_type", s.Name)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = timeOrNow(s.CreatedAt)
	return nil
}

func prepareTransition(t *schema.WorkflowTransition) error {
	if t.WorkflowID == "" || t.FromStepID == "" || t.ToStepID == "" {
		return schema.NewError(schema.ErrCodeValidation, "transition requires workflow_id, from_step_id and to_step_id")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = timeOrNow(t.CreatedAt)
	return nil
}

// checkTransitionEnds enforces that both ends of a transition are steps of
// the transition's workflow. ownerOf returns the workflow id of a step.
func checkTransitionEnds(t *schema.WorkflowTransition, ownerOf func(stepID string) (string, error)) error {
	for _, end := range []struct{ role, id string }{{"from", t.FromStepID}, {"to", t.ToStepID}} {
		owner, err := ownerOf(end.id)
		if err != nil {
			return err
		}
		if owner != t.WorkflowID {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"transition %s step %s belongs to workflow %s, not %s", end.role, end.id, owner, t.WorkflowID).
				WithDetails(map[string]any{"step_id": end.id, "workflow_id": t.WorkflowID})
		}
	}
	return nil
}

func prepareExecution(e *schema.Execution) error {
	if e.WorkflowID == "" || e.ClientID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution requires workflow_id and client_id")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = schema.ExecutionStatusPending
	}
	e.StartedAt = timeOrNow(e.StartedAt)
	return nil
}

func prepareLog(l *schema.ExecutionLog) error {
	if l.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution log requires execution_id")
	}
	if l.Status == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution log requires status")
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.StartedAt = timeOrNow(l.StartedAt)
	return nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NotFound(resource, id)
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if schema.ErrorCode(err) != "" {
		return err
	}
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "%s: record already exists", op).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}

// isUniqueViolation recognises duplicate keys from PostgreSQL (SQLSTATE
// 23505) and libSQL, which only reports them in the message.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullPtrStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// encodeJSON renders v as a JSON string, or nil for a nil map/pointer.
func encodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	case *schema.Condition:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeCondition(raw []byte) (*schema.Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	c := &schema.Condition{}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, err
	}
	return c, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
