// Package validation checks workflow definition documents and imports them
// into a store.
package validation

import (
	"github.com/rendis/flowsim/pkg/schema"
)

// DefinitionValidator runs the three-stage pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (keys, references, step types, operators, expressions)
// 3. Graph (entry steps, cycles, reachability; warnings only)
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
	stepTypes  StepTypeLookup
	conditions ConditionChecker
}

// NewDefinitionValidator creates a DefinitionValidator. Either lookup may be
// nil to skip the checks that need it.
func NewDefinitionValidator(stepTypes StepTypeLookup, conds ConditionChecker) (*DefinitionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{
		jsonSchema: jsv,
		stepTypes:  stepTypes,
		conditions: conds,
	}, nil
}

// Schema exposes the underlying JSON Schema validator.
func (v *DefinitionValidator) Schema() *JSONSchemaValidator {
	return v.jsonSchema
}

// Parse decodes and validates a YAML or JSON document. The definition is
// nil when structural validation fails. The returned error is the result's
// ToError, or a decoding error.
func (v *DefinitionValidator) Parse(data []byte) (*Definition, *schema.ValidationResult, error) {
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, nil, err
	}

	result := validateStructural(v.jsonSchema, doc)
	if !result.Valid() {
		return nil, result, result.ToError()
	}

	def, err := definitionFromDocument(doc)
	if err != nil {
		return nil, result, err
	}

	result.Merge(v.Validate(def))
	return def, result, result.ToError()
}

// Check runs all three stages on a definition built in code, by encoding it
// back into a document for the structural stage.
func (v *DefinitionValidator) Check(def *Definition) (*schema.ValidationResult, error) {
	if def == nil {
		return v.Validate(nil), nil
	}
	doc, err := toJSONValue(def)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize definition").WithCause(err)
	}
	result := validateStructural(v.jsonSchema, doc)
	if !result.Valid() {
		return result, nil
	}
	return v.Validate(def), nil
}

// Validate runs the semantic and graph stages on an already decoded
// definition. Graph checks are skipped when semantic errors exist.
func (v *DefinitionValidator) Validate(def *Definition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := validateSemantic(def, v.stepTypes, v.conditions)
	if result.Valid() {
		result.Merge(validateGraph(def))
	}
	return result
}

// validateStructural turns the schema validator's error into issues.
func validateStructural(v *JSONSchemaValidator, doc any) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDocument(doc)
	if err == nil {
		return result
	}

	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
