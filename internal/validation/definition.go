package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowsim/pkg/schema"
)

// Definition is a portable workflow document. Steps are addressed by Key
// inside the document; store IDs are assigned on import.
type Definition struct {
	Client      *ClientDefinition      `json:"client,omitempty"`
	Workflow    WorkflowDefinition     `json:"workflow"`
	Steps       []StepDefinition       `json:"steps"`
	Transitions []TransitionDefinition `json:"transitions,omitempty"`
}

// ClientDefinition names the client that owns the workflow. When ID refers
// to an existing client it is reused. IsActive defaults to true.
type ClientDefinition struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Email    string         `json:"email,omitempty"`
	Company  string         `json:"company,omitempty"`
	IsActive *bool          `json:"is_active,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type WorkflowDefinition struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     int            `json:"version,omitempty"`
	Status      string         `json:"status,omitempty"` // DRAFT when empty
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// StepDefinition is one step. Order defaults to the step's 1-based position
// in the document and Name defaults to Key.
type StepDefinition struct {
	Key        string         `json:"key"`
	Name       string         `json:"name,omitempty"`
	Type       string         `json:"type"`
	Order      *int           `json:"order,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	IsRequired bool           `json:"is_required,omitempty"`
}

// TransitionDefinition connects two step keys.
type TransitionDefinition struct {
	From      string            `json:"from"`
	To        string            `json:"to"`
	Condition *schema.Condition `json:"condition,omitempty"`
	IsDefault bool              `json:"is_default,omitempty"`
}

// StepName returns the display name of s.
func (s StepDefinition) StepName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Key
}

// StepOrder returns the explicit order of s, or position+1.
func (s StepDefinition) StepOrder(position int) int {
	if s.Order != nil {
		return *s.Order
	}
	return position + 1
}

// Graph renders the definition as a WorkflowGraph keyed by step keys, so
// the engine's graph analysis can run before anything is stored.
func (d *Definition) Graph() *schema.WorkflowGraph {
	g := &schema.WorkflowGraph{
		Workflow: &schema.Workflow{ID: d.Workflow.ID, Name: d.Workflow.Name},
	}
	for i, s := range d.Steps {
		g.Steps = append(g.Steps, &schema.WorkflowStep{
			ID:       s.Key,
			Name:     s.StepName(),
			StepType: s.Type,
			Order:    s.StepOrder(i),
			Config:   s.Config,
		})
	}
	sortStepsByOrder(g.Steps)
	for _, t := range d.Transitions {
		g.Transitions = append(g.Transitions, &schema.WorkflowTransition{
			FromStepID: t.From,
			ToStepID:   t.To,
			Condition:  t.Condition,
			IsDefault:  t.IsDefault,
		})
	}
	return g
}

// sortStepsByOrder is a stable insertion sort, matching how stores order
// steps with equal Order by creation.
func sortStepsByOrder(steps []*schema.WorkflowStep) {
	for i := 1; i < len(steps); i++ {
		for j := i; j > 0 && steps[j].Order < steps[j-1].Order; j-- {
			steps[j], steps[j-1] = steps[j-1], steps[j]
		}
	}
}

// DecodeDocument parses a YAML or JSON document into a generic value
// suitable for schema validation. JSON input is valid YAML.
func DecodeDocument(data []byte) (any, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition document is empty")
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition is neither valid YAML nor JSON").WithCause(err)
	}
	doc, err := toJSONValue(raw)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition cannot be represented as JSON").WithCause(err)
	}
	return doc, nil
}

// definitionFromDocument converts a schema-valid document into a Definition.
func definitionFromDocument(doc any) (*Definition, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var def Definition
	if err := json.Unmarshal(b, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition does not match the document layout").WithCause(err)
	}
	return &def, nil
}

// toJSONValue round-trips a Go value through JSON encoding so that numbers
// become json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
