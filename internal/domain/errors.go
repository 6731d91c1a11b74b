package domain

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ValidationError reports malformed input: out-of-range parameters,
// dimension mismatches, missing required fields. Surfaced as HTTP 422 or
// CLI exit 2.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError wraps a field/message pair with stack context.
func NewValidationError(field, message string) error {
	return errors.Wrap(&ValidationError{Field: field, Message: message}, "invalid input")
}

// CompanyNotFoundError reports that a query identifier did not resolve to
// any known Company. Surfaced as HTTP 404.
type CompanyNotFoundError struct {
	Identifier string
}

func (e *CompanyNotFoundError) Error() string {
	return fmt.Sprintf("company not found: %q", e.Identifier)
}

func NewCompanyNotFoundError(identifier string) error {
	return &CompanyNotFoundError{Identifier: identifier}
}

// OptimisticLockError reports a version mismatch during update. Callers
// retry locally a bounded number of times.
type OptimisticLockError struct {
	ConceptID       string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock: concept %s expected version %d, found %d",
		e.ConceptID, e.ExpectedVersion, e.ActualVersion)
}

// UniqueViolationError reports a race on insert: a concurrent fuser already
// created the (company_code, concept_name) row. Callers fall back to update.
type UniqueViolationError struct {
	CompanyCode string
	ConceptName string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique violation: company %s concept %q already exists",
		e.CompanyCode, e.ConceptName)
}

// RepositoryError wraps a transient store I/O failure that survived the
// circuit breaker's retries. May surface as HTTP 500.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

func NewRepositoryError(op string, err error) error {
	return errors.Wrap(&RepositoryError{Op: op, Err: err}, "repository operation failed")
}

// ExternalServiceErrorKind distinguishes which collaborator failed.
type ExternalServiceErrorKind string

const (
	ExternalServiceEmbedding  ExternalServiceErrorKind = "embedding"
	ExternalServiceRerank     ExternalServiceErrorKind = "rerank"
	ExternalServiceMarketData ExternalServiceErrorKind = "market_data"
)

// ExternalServiceError reports a transport failure, timeout, or 5xx from an
// external collaborator (embedding, rerank, market-data provider).
type ExternalServiceError struct {
	Kind ExternalServiceErrorKind
	Op   string
	Err  error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s service: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func NewExternalServiceError(kind ExternalServiceErrorKind, op string, err error) error {
	return errors.Wrap(&ExternalServiceError{Kind: kind, Op: op, Err: err}, "external service call failed")
}

// CircuitOpenError is thrown when a breaker is open. Treated as a degraded
// path (not a 500) for rerank and market data; treated as 500 for hard
// dependencies (the concept store).
type CircuitOpenError struct {
	Dependency string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open: %s", e.Dependency)
}

func NewCircuitOpenError(dependency string) error {
	return &CircuitOpenError{Dependency: dependency}
}

// FatalConfigError reports missing or invalid startup configuration. CLI
// exit code 2.
type FatalConfigError struct {
	Field   string
	Message string
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func NewFatalConfigError(field, message string) error {
	return &FatalConfigError{Field: field, Message: message}
}

// EmbeddingDimensionError is a fatal condition within the embedding client:
// the provider returned a different number of vectors than texts submitted.
type EmbeddingDimensionError struct {
	Expected int
	Got      int
}

func (e *EmbeddingDimensionError) Error() string {
	return fmt.Sprintf("embedding count mismatch: expected %d, got %d", e.Expected, e.Got)
}

// As, Is and Wrap/Wrapf are re-exported so call sites never need to import
// go-faster/errors directly alongside this package.
var (
	As     = errors.As
	Is     = errors.Is
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	New    = errors.New
)
