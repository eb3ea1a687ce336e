/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Config errors - Malformed schedule or report configuration
  2. Stage errors - Aggregation, render and dispatch failures during a run
  3. Store errors - Missing records, lost compare-and-swap races
  4. State errors - Illegal status transitions

USAGE:
  if errors.Is(err, generic.ErrConfig) {
      // reject the request, nothing was started
  }

SEE ALSO:
  - reports/pipeline.go: Wraps collaborator failures in StageError
  - reconciliation/matcher.go: Returns TransitionError
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfig is returned for malformed schedule or report configuration.
	// Raised at creation/update time, never silently defaulted.
	ErrConfig = errors.New("invalid configuration")

	// ErrAggregation is returned when metric computation fails, either because
	// the data source failed or the data is inconsistent.
	ErrAggregation = errors.New("aggregation failed")

	// ErrRender is returned when an artifact cannot be produced.
	ErrRender = errors.New("render failed")

	// ErrDispatch is returned when artifacts cannot be delivered.
	ErrDispatch = errors.New("dispatch failed")

	// ErrNotFound is returned when a referenced job, run or record is missing.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when a compare-and-swap update
	// loses against another writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned when an operation collides with existing state.
	ErrConflict = errors.New("conflict")

	// ErrInvalidPeriod is returned when a date range ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigError names the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// NewConfigError builds a ConfigError.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// Stage names a step of the report pipeline.
type Stage string

const (
	StageAggregate Stage = "aggregate"
	StageRender    Stage = "render"
	StageDispatch  Stage = "dispatch"
)

// StageError wraps a collaborator failure with the stage it happened in.
// Error() returns the collaborator's message unchanged so runs record it verbatim.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }

func (e *StageError) Unwrap() []error {
	switch e.Stage {
	case StageAggregate:
		return []error{ErrAggregation, e.Err}
	case StageRender:
		return []error{ErrRender, e.Err}
	case StageDispatch:
		return []error{ErrDispatch, e.Err}
	}
	return []error{e.Err}
}

// NotFoundError names what was missing.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// TransitionError reports an illegal status change.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConfig) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a state or write conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConcurrentModification)
}
