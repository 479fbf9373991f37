package mediaplan

import (
	"errors"
	"fmt"
	"strings"
)

type AnalysisErrorKind string

const (
	AnalysisTimeout     AnalysisErrorKind = "timeout"
	AnalysisUnreachable AnalysisErrorKind = "unreachable"
	AnalysisNoSignal    AnalysisErrorKind = "no_signal"
	AnalysisUpstream    AnalysisErrorKind = "upstream"
)

// AnalysisError is a recoverable failure to resolve a website into business
// facts. The controller turns it into a retry or manual-industry prompt.
type AnalysisError struct {
	Kind AnalysisErrorKind
	URL  string
	Err  error
}

func (e *AnalysisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("analysis %s for %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("analysis %s for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// ContractViolation marks a component called before its preconditions held.
// It is an implementation bug, never a user error.
type ContractViolation struct {
	Component string
	Missing   []Field
	Err       error
}

func (e *ContractViolation) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, field := range e.Missing {
		names = append(names, string(field))
	}
	msg := fmt.Sprintf("%s contract violation", e.Component)
	if len(names) > 0 {
		msg += ": missing " + strings.Join(names, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ContractViolation) Unwrap() error {
	return e.Err
}

func IsContractViolation(err error) bool {
	var violation *ContractViolation
	return errors.As(err, &violation)
}
