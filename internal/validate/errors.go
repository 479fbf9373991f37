// Package validate parses the facts a user supplies during the conversation.
// Every validator is a pure function; none of them touches conversation state.
package validate

import (
	"fmt"

	"mediaplan/backend/internal/mediaplan"
)

type Code string

const (
	CodeInvalidURL      Code = "InvalidUrl"
	CodeInvalidBudget   Code = "InvalidBudget"
	CodeInvalidDate     Code = "InvalidDate"
	CodeEmptyPreference Code = "EmptyPreference"
	CodeInvalidDuration Code = "InvalidDuration"
	CodeEmptyIndustry   Code = "EmptyIndustry"
)

// ValidationError is always recoverable: the user is asked again.
type ValidationError struct {
	Field  mediaplan.Field
	Code   Code
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%q)", e.Code, e.Reason, e.Input)
}

func invalid(field mediaplan.Field, code Code, input, reason string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Input: input, Reason: reason}
}
