package errors

import (
	"fmt"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Dependency errors - fatal to the current stage. Data errors never
	// surface as Go errors; they are recorded as ValidationIssue rows.
	ErrCodeDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"

	// Degradations - run continues with warnings
	ErrCodeLookupDegraded ErrorCode = "LOOKUP_DEGRADED"
)

// Severity classifies how an error affects the current run
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// PipelineError represents a standardized error
type PipelineError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Severity Severity               `json:"severity"`
	Details  map[string]interface{} `json:"details,omitempty"`
	wrapped  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.wrapped
}

// New creates a new PipelineError
func New(code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Code:     code,
		Message:  message,
		Severity: severityFor(code),
		Details:  make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a PipelineError
func Wrap(err error, code ErrorCode, message string) *PipelineError {
	e := New(code, message)
	e.wrapped = err
	e.Details["original_error"] = err.Error()
	return e
}

// AddDetail adds a detail to the error
func (e *PipelineError) AddDetail(key string, value interface{}) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsDependencyFailure reports whether the error is fatal to the current stage
func IsDependencyFailure(err error) bool {
	var pe *PipelineError
	if As(err, &pe) {
		return pe.Code == ErrCodeDependencyUnavailable || pe.Code == ErrCodeTimeout
	}
	return false
}

func severityFor(code ErrorCode) Severity {
	switch code {
	case ErrCodeDependencyUnavailable, ErrCodeTimeout:
		return SeverityCritical
	case ErrCodeLookupDegraded:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// DependencyUnavailable builds the fatal-stage error for an unreachable gateway
func DependencyUnavailable(dependency string, err error) *PipelineError {
	return Wrap(err, ErrCodeDependencyUnavailable,
		fmt.Sprintf("dependency %s unavailable", dependency)).
		AddDetail("dependency", dependency)
}

// LookupDegraded builds the non-fatal error for a single failed risk lookup
func LookupDegraded(lookup string, err error) *PipelineError {
	return Wrap(err, ErrCodeLookupDegraded,
		fmt.Sprintf("lookup %s degraded", lookup)).
		AddDetail("lookup", lookup)
}
