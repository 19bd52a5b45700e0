package validation

import (
	"errors"
	"fmt"

	"github.com/rendis/flowsim/pkg/schema"
)

// StepTypeLookup reports whether a step type has a registered behavior.
type StepTypeLookup interface {
	Has(stepType string) bool
}

// StepConfigChecker is an optional StepTypeLookup extension that checks a
// step's config against its behavior.
type StepConfigChecker interface {
	ValidateConfig(stepType string, config map[string]any) error
}

// ConditionChecker knows the registered operators and can compile
// condition expressions.
type ConditionChecker interface {
	Has(operator string) bool
	CompileExpression(expr string) error
}

// validateSemantic checks what the document schema cannot express: key
// uniqueness, transition references, step types, operators and expressions.
// Either lookup may be nil to skip its checks.
func validateSemantic(def *Definition, stepTypes StepTypeLookup, conds ConditionChecker) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	keys := make(map[string]int, len(def.Steps))
	for i, s := range def.Steps {
		if prev, dup := keys[s.Key]; dup {
			result.StepError(s.Key, "key", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step key %q at position %d (first defined at position %d)", s.Key, i+1, prev+1))
			continue
		}
		keys[s.Key] = i

		if stepTypes != nil && !stepTypes.Has(s.Type) {
			result.StepWarning(s.Key, "type", schema.ErrCodeValidation,
				fmt.Sprintf("step type %q has no registered behavior; it will complete without effect", s.Type))
		}
		if cc, ok := stepTypes.(StepConfigChecker); ok {
			if err := cc.ValidateConfig(s.Type, s.Config); err != nil {
				code := schema.ErrorCode(err)
				if code == "" {
					code = schema.ErrCodeValidation
				}
				result.StepError(s.Key, "config", code, issueMessage(err))
			}
		}
	}

	defaultFrom := make(map[string]int)
	for i, t := range def.Transitions {
		if _, ok := keys[t.From]; !ok {
			result.TransitionError(i, t.From, t.To, "from", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", t.From))
		}
		if _, ok := keys[t.To]; !ok {
			result.TransitionError(i, t.From, t.To, "to", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", t.To))
		}

		if first, shadowed := defaultFrom[t.From]; shadowed {
			result.TransitionWarning(i, t.From, t.To, "", schema.ErrCodeValidation,
				fmt.Sprintf("never taken: default %s from %q is tried first",
					schema.TransitionPath(first, def.Transitions[first].From, def.Transitions[first].To, ""), t.From))
		}
		if t.IsDefault {
			if _, seen := defaultFrom[t.From]; !seen {
				defaultFrom[t.From] = i
			}
			if !t.Condition.IsEmpty() {
				result.TransitionWarning(i, t.From, t.To, "condition", schema.ErrCodeValidation,
					"condition is ignored on a default transition")
			}
		}

		validateCondition(t.Condition, i, t, conds, result)
	}

	return result
}

func validateCondition(cond *schema.Condition, index int, t TransitionDefinition, conds ConditionChecker, result *schema.ValidationResult) {
	if cond == nil || conds == nil {
		return
	}
	if cond.IsTriple() {
		if !conds.Has(cond.Operator) {
			result.TransitionError(index, t.From, t.To, "condition.operator", schema.ErrCodeValidation,
				fmt.Sprintf("unknown operator %q", cond.Operator))
		}
		if cond.Expression != "" {
			result.TransitionWarning(index, t.From, t.To, "condition.expression", schema.ErrCodeValidation,
				"expression is ignored when field, operator and value are all set")
		}
		return
	}
	if cond.Expression != "" {
		if err := conds.CompileExpression(cond.Expression); err != nil {
			result.TransitionError(index, t.From, t.To, "condition.expression", schema.ErrCodeExpression,
				fmt.Sprintf("expression does not compile: %v", err))
		}
	}
}

func issueMessage(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
