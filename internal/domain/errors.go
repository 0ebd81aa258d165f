package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the pipeline.

// ErrorKind classifies analysis failures. Every kind is non-fatal to the
// pipeline except ReportAssemblyFailure, which aborts the artifact.
type ErrorKind string

const (
	KindInsufficientData      ErrorKind = "insufficient_data"
	KindInsufficientHistory   ErrorKind = "insufficient_history"
	KindFeatureSchemaMismatch ErrorKind = "feature_schema_mismatch"
	KindModelFitFailure       ErrorKind = "model_fit_failure"
	KindForecastFailure       ErrorKind = "forecast_failure"
	KindNarrativeUnavailable  ErrorKind = "narrative_unavailable"
	KindReportAssembly        ErrorKind = "report_assembly_failure"
)

// Sentinels for errors.Is matching against an *AnalysisError of the same kind.
var (
	ErrInsufficientData      = &AnalysisError{Kind: KindInsufficientData}
	ErrInsufficientHistory   = &AnalysisError{Kind: KindInsufficientHistory}
	ErrFeatureSchemaMismatch = &AnalysisError{Kind: KindFeatureSchemaMismatch}
	ErrModelFit              = &AnalysisError{Kind: KindModelFitFailure}
	ErrForecast              = &AnalysisError{Kind: KindForecastFailure}
	ErrNarrativeUnavailable  = &AnalysisError{Kind: KindNarrativeUnavailable}
	ErrReportAssembly        = &AnalysisError{Kind: KindReportAssembly}
)

// AnalysisError is the typed "no result" returned by analysis components.
type AnalysisError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewAnalysisError builds an AnalysisError for op.
func NewAnalysisError(kind ErrorKind, op string, err error) *AnalysisError {
	return &AnalysisError{Kind: kind, Op: op, Err: err}
}

func (e *AnalysisError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Is matches any AnalysisError with the same kind.
func (e *AnalysisError) Is(target error) bool {
	t, ok := target.(*AnalysisError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first AnalysisError in err's chain,
// or "" when there is none.
func KindOf(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
