package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationSeverity separates issues that block an import from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a workflow definition. Path
// addresses the offending element by step key, e.g. "steps[review].type" or
// "transitions[2:review->approve].condition.operator". Step and Transition
// repeat the element in structured form so callers can group issues.
type ValidationIssue struct {
	Path       string             `json:"path"`
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Severity   ValidationSeverity `json:"severity"`
	Step       string             `json:"step,omitempty"`
	Transition string             `json:"transition,omitempty"`
}

// ValidationResult collects the issues of one definition check.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// StepPath addresses a step by key, optionally narrowed to one field.
func StepPath(key, field string) string {
	return joinField("steps["+key+"]", field)
}

// TransitionPath addresses a transition by its position and endpoints.
func TransitionPath(index int, from, to, field string) string {
	return joinField(fmt.Sprintf("transitions[%d:%s]", index, TransitionRef(from, to)), field)
}

// TransitionRef names a transition by its endpoint keys.
func TransitionRef(from, to string) string {
	return from + "->" + to
}

func joinField(base, field string) string {
	if field == "" {
		return base
	}
	return base + "." + field
}

// Valid reports whether no error was recorded. Warnings never invalidate.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records a definition-wide error.
func (r *ValidationResult) AddError(path, code, message string) {
	r.add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

// AddWarning records a definition-wide warning.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// StepError records an error against step key. field may be empty.
func (r *ValidationResult) StepError(key, field, code, message string) {
	r.add(ValidationIssue{
		Path: StepPath(key, field), Code: code, Message: message,
		Severity: SeverityError, Step: key,
	})
}

// StepWarning records a warning against step key. field may be empty.
func (r *ValidationResult) StepWarning(key, field, code, message string) {
	r.add(ValidationIssue{
		Path: StepPath(key, field), Code: code, Message: message,
		Severity: SeverityWarning, Step: key,
	})
}

// TransitionError records an error against the index-th transition. Step is
// set to the source step key.
func (r *ValidationResult) TransitionError(index int, from, to, field, code, message string) {
	r.add(ValidationIssue{
		Path: TransitionPath(index, from, to, field), Code: code, Message: message,
		Severity: SeverityError, Step: from, Transition: TransitionRef(from, to),
	})
}

// TransitionWarning records a warning against the index-th transition.
func (r *ValidationResult) TransitionWarning(index int, from, to, field, code, message string) {
	r.add(ValidationIssue{
		Path: TransitionPath(index, from, to, field), Code: code, Message: message,
		Severity: SeverityWarning, Step: from, Transition: TransitionRef(from, to),
	})
}

func (r *ValidationResult) add(is ValidationIssue) {
	if is.Severity == SeverityError {
		r.Errors = append(r.Errors, is)
		return
	}
	r.Warnings = append(r.Warnings, is)
}

// Merge appends other's issues. A nil other is a no-op.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ForStep returns the errors then warnings recorded against step key,
// including those on transitions leaving it.
func (r *ValidationResult) ForStep(key string) []ValidationIssue {
	var out []ValidationIssue
	for _, list := range [][]ValidationIssue{r.Errors, r.Warnings} {
		for _, is := range list {
			if is.Step == key {
				out = append(out, is)
			}
		}
	}
	return out
}

// Steps returns the sorted step keys that have at least one error.
func (r *ValidationResult) Steps() []string {
	seen := map[string]bool{}
	for _, is := range r.Errors {
		if is.Step != "" {
			seen[is.Step] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToError returns nil for a valid result, otherwise a VALIDATION_ERROR whose
// details list the issues and the step keys they touch.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if r.Errors[0].Step != "" {
		msg = r.Errors[0].Path + ": " + msg
	}
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("workflow definition has %d errors", len(r.Errors))
		if steps := r.Steps(); len(steps) > 0 {
			msg += " (steps: " + strings.Join(steps, ", ") + ")"
		}
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"steps":         r.Steps(),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
