package validation

import (
	"context"
	"log/slog"

	"github.com/rendis/flowsim/internal/store"
	"github.com/rendis/flowsim/pkg/schema"
)

// ImportResult describes what an import stored.
type ImportResult struct {
	Client   *schema.Client           `json:"client,omitempty"`
	Workflow *schema.Workflow         `json:"workflow"`
	StepIDs  map[string]string        `json:"step_ids"` // step key -> stored step ID
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// Importer validates definitions and persists them.
type Importer struct {
	store     store.Store
	validator *DefinitionValidator
	logger    *slog.Logger
}

// NewImporter creates an Importer. logger may be nil.
func NewImporter(s store.Store, v *DefinitionValidator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: s, validator: v, logger: logger}
}

// ImportDocument parses, validates and stores a YAML or JSON document.
func (im *Importer) ImportDocument(ctx context.Context, data []byte) (*ImportResult, error) {
	def, result, err := im.validator.Parse(data)
	if err != nil {
		return nil, err
	}
	return im.persist(ctx, def, result)
}

// Import validates and stores an already decoded definition.
func (im *Importer) Import(ctx context.Context, def *Definition) (*ImportResult, error) {
	result, err := im.validator.Check(def)
	if err != nil {
		return nil, err
	}
	if err := result.ToError(); err != nil {
		return nil, err
	}
	return im.persist(ctx, def, result)
}

// persist writes client, workflow, steps and transitions in that order.
// Nothing is written before validation passes; a store failure part way
// leaves the rows written so far.
func (im *Importer) persist(ctx context.Context, def *Definition, result *schema.ValidationResult) (*ImportResult, error) {
	out := &ImportResult{StepIDs: make(map[string]string, len(def.Steps)), Warnings: result.Warnings}

	clientID := ""
	if def.Client != nil {
		c, err := im.ensureClient(ctx, def.Client)
		if err != nil {
			return nil, err
		}
		out.Client = c
		clientID = c.ID
	}

	wf := &schema.Workflow{
		ID:          def.Workflow.ID,
		ClientID:    clientID,
		Name:        def.Workflow.Name,
		Description: def.Workflow.Description,
		Version:     def.Workflow.Version,
		Status:      schema.WorkflowStatus(def.Workflow.Status),
		Metadata:    def.Workflow.Metadata,
	}
	if err := im.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	out.Workflow = wf

	for i, sd := range def.Steps {
		step := &schema.WorkflowStep{
			WorkflowID: wf.ID,
			Name:       sd.StepName(),
			StepType:   sd.Type,
			Order:      sd.StepOrder(i),
			Config:     sd.Config,
			IsRequired: sd.IsRequired,
		}
		if err := im.store.AddStep(ctx, step); err != nil {
			return nil, err
		}
		out.StepIDs[sd.Key] = step.ID
	}

	for _, td := range def.Transitions {
		tr := &schema.WorkflowTransition{
			WorkflowID: wf.ID,
			FromStepID: out.StepIDs[td.From],
			ToStepID:   out.StepIDs[td.To],
			Condition:  td.Condition,
			IsDefault:  td.IsDefault,
		}
		if err := im.store.AddTransition(ctx, tr); err != nil {
			return nil, err
		}
	}

	im.logger.InfoContext(ctx, "workflow imported",
		slog.String("workflow_id", wf.ID),
		slog.String("name", wf.Name),
		slog.Int("steps", len(def.Steps)),
		slog.Int("transitions", len(def.Transitions)),
		slog.Int("warnings", len(out.Warnings)),
	)
	return out, nil
}

// ensureClient reuses an existing client when the definition names its ID.
func (im *Importer) ensureClient(ctx context.Context, cd *ClientDefinition) (*schema.Client, error) {
	if cd.ID != "" {
		existing, err := im.store.GetClient(ctx, cd.ID)
		if err == nil {
			return existing, nil
		}
		if !schema.IsNotFound(err) {
			return nil, err
		}
	}
	c := &schema.Client{
		ID:       cd.ID,
		Name:     cd.Name,
		Email:    cd.Email,
		Company:  cd.Company,
		IsActive: cd.IsActive == nil || *cd.IsActive,
		Metadata: cd.Metadata,
	}
	if err := im.store.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
