package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrVersionConflict is returned when an update carries a stale version.
	ErrVersionConflict = fmt.Errorf("%w: stale version", ErrConflict)
)

// ValidationError reports malformed or missing input, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates a ValidationError with a single field message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records a message for field and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
	return e
}

// HasErrors reports whether any field message was recorded.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// OrNil returns nil when no field failed, so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FieldRCAPhase is the state field assumed when an error leaves Field empty.
const FieldRCAPhase = "rca_phase"

// InvalidStateError is returned when an operation's precondition on the
// current RCA phase does not hold (e.g. starting an RCA twice).
type InvalidStateError struct {
	// Field names the state attribute Current and Expected refer to.
	Field    string
	Current  string
	Expected string
	Message  string
}

func (e *InvalidStateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s %q, expected %q", e.StateField(), e.Current, e.Expected)
}

// StateField returns Field, defaulting to rca_phase.
func (e *InvalidStateError) StateField() string {
	return stateField(e.Field)
}

// IllegalTransitionError is returned when a requested phase or status is not
// reachable from the current one.
type IllegalTransitionError struct {
	// Field names the state attribute Current and Target refer to.
	Field   string
	Current string
	Target  string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition from %q to %q", e.StateField(), e.Current, e.Target)
}

// StateField returns Field, defaulting to rca_phase.
func (e *IllegalTransitionError) StateField() string {
	return stateField(e.Field)
}

func stateField(field string) string {
	if field == "" {
		return FieldRCAPhase
	}
	return field
}

// BusinessRuleViolation is returned when a request is well formed but breaks
// a workflow rule, such as resolving a problem before its root cause is known.
type BusinessRuleViolation struct {
	Rule    string
	Message string
}

func (e *BusinessRuleViolation) Error() string {
	return e.Message
}

// Error codes reported to API clients and in bulk failure lists.
const (
	CodeValidation        = "validation_error"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInvalidState      = "invalid_state"
	CodeIllegalTransition = "illegal_transition"
	CodeBusinessRule      = "business_rule_violation"
	CodeInternal          = "internal_error"
)

// Code classifies err into one of the Code* constants.
func Code(err error) string {
	var validationErr *ValidationError
	var stateErr *InvalidStateError
	var transitionErr *IllegalTransitionError
	var ruleErr *BusinessRuleViolation

	switch {
	case errors.As(err, &validationErr):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.As(err, &transitionErr):
		return CodeIllegalTransition
	case errors.As(err, &stateErr):
		return CodeInvalidState
	case errors.As(err, &ruleErr):
		return CodeBusinessRule
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}
