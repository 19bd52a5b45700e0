package schema

import (
	"encoding/json"
	"strings"
	"time"
)

// Built-in step type tags. Any other registered tag is accepted as well.
const (
	StepTypeApproval     = "approval"
	StepTypeNotification = "notification"
	StepTypeDataEntry    = "data_entry"
	StepTypeCustom       = "custom"
	StepTypeTransform    = "transform"
	StepTypeAssign       = "assign"
)

// WorkflowStatus is the editorial state of a workflow. It does not gate
// simulation: any workflow can be run.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "DRAFT"
	WorkflowStatusActive   WorkflowStatus = "ACTIVE"
	WorkflowStatusInactive WorkflowStatus = "INACTIVE"
	WorkflowStatusArchived WorkflowStatus = "ARCHIVED"
)

// WorkflowStatuses lists every workflow status in lifecycle order.
var WorkflowStatuses = []WorkflowStatus{
	WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusInactive, WorkflowStatusArchived,
}

// ParseWorkflowStatus accepts a workflow status in any letter case.
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	st := WorkflowStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range WorkflowStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", NewErrorf(ErrCodeValidation, "unknown workflow status %q", s)
}

// Client is the party a workflow is simulated for.
type Client struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email,omitempty"`
	Company   string         `json:"company,omitempty"`
	IsActive  bool           `json:"is_active"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Workflow is the header of a workflow definition.
type Workflow struct {
	ID          string         `json:"id"`
	ClientID    string         `json:"client_id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     int            `json:"version"`
	Status      WorkflowStatus `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowStep is a typed unit of work. Config is interpreted only by the
// behavior registered for StepType.
type WorkflowStep struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Name       string         `json:"name"`
	StepType   string         `json:"step_type"`
	Order      int            `json:"order"`
	Config     map[string]any `json:"config,omitempty"`
	IsRequired bool           `json:"is_required"`
	CreatedAt  time.Time      `json:"created_at"`
}

// WorkflowTransition is a directed, optionally conditional edge.
type WorkflowTransition struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	FromStepID string     `json:"from_step_id"`
	ToStepID   string     `json:"to_step_id"`
	Condition  *Condition `json:"condition,omitempty"`
	IsDefault  bool       `json:"is_default"`
	CreatedAt  time.Time  `json:"created_at"`
}

// WorkflowGraph is a workflow loaded with its steps (ordered by Order) and
// transitions (in creation order).
type WorkflowGraph struct {
	Workflow    *Workflow             `json:"workflow"`
	Steps       []*WorkflowStep       `json:"steps"`
	Transitions []*WorkflowTransition `json:"transitions"`
}

// Step returns the step with the given id, or nil.
func (g *WorkflowGraph) Step(id string) *WorkflowStep {
	for _, s := range g.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Outgoing returns the transitions leaving stepID in list order.
func (g *WorkflowGraph) Outgoing(stepID string) []*WorkflowTransition {
	var out []*WorkflowTransition
	for _, t := range g.Transitions {
		if t.FromStepID == stepID {
			out = append(out, t)
		}
	}
	return out
}

// Execution is one simulated run of a workflow for a client.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	ClientID    string          `json:"client_id"`
	Status      ExecutionStatus `json:"status"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Logs        []*ExecutionLog `json:"logs,omitempty"`
}

// ExecutionLog is one append-only audit entry. A nil StepID marks a
// run-level failure not attributable to a step.
type ExecutionLog struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Sequence    int64          `json:"sequence"`
	StepID      *string        `json:"step_id"`
	Status      StepStatus     `json:"status"`
	Message     string         `json:"message,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StepIDValue returns the log's step id or "" for run-level entries.
func (l *ExecutionLog) StepIDValue() string {
	if l.StepID == nil {
		return ""
	}
	return *l.StepID
}

// CloneMap returns a shallow copy of m. A nil map yields an empty one.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DecodeMap unmarshals a JSON object, treating empty input and JSON null as nil.
func DecodeMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
