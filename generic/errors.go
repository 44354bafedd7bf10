/*
errors.go - Centralized error types for the allocator

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. DataUnavailable - An external query failed or returned unparsable
     data. Fatal for the current tick, nothing is persisted, safe to
     retry on the next scheduled run.
  2. Configuration - Malformed configuration (e.g. period table without
     a terminal sentinel). Fatal at startup, never silently defaulted.
  3. ConsistencyWarning - Suspicious but recoverable data (a user in the
     usage data but not on the roster, a group missing from the active
     period). Logged and reported; processing continues with a documented
     default. This is a value, not an error.

USAGE:
  if errors.Is(err, generic.ErrDataUnavailable) {
      // abort the tick; the scheduler retries on its next run
  }

SEE ALSO:
  - store.go: ErrNotFound for missing state
  - allocation/engine.go: Raises and reports these
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
	// ErrDataUnavailable is returned when an external collaborator failed or
	// returned data that could not be parsed.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrConfiguration is returned for invalid configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned by stores when a key has never been written.
	// Callers treat it as "state not yet established".
	ErrNotFound = errors.New("state not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DataUnavailableError records which collaborator failed.
type DataUnavailableError struct {
	Source string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("data unavailable from %s", e.Source)
	}
	return fmt.Sprintf("data unavailable from %s: %v", e.Source, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *DataUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDataUnavailable}
	}
	return []error{ErrDataUnavailable, e.Err}
}

// NewDataUnavailable wraps err as a DataUnavailableError.
func NewDataUnavailable(source string, err error) error {
	return &DataUnavailableError{Source: source, Err: err}
}

// ConfigurationError names the offending configuration field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// =============================================================================
// CONSISTENCY WARNINGS - Reported, never returned
// =============================================================================

type WarningKind string

const (
	WarnUnknownUser        WarningKind = "unknown_user"         // usage for a user not on the roster
	WarnUnknownCategory    WarningKind = "unknown_category"     // roster entry with an undefined category
	WarnUnknownGroup       WarningKind = "unknown_group"        // usage for a group that is not configured
	WarnGroupNotInPeriod   WarningKind = "group_not_in_period"  // group appeared mid-period
	WarnGroupMissingUsage  WarningKind = "group_missing_usage"  // allocated group absent from usage data
	WarnNegativeUsage      WarningKind = "negative_usage"       // cumulative counter went backwards
	WarnMissingPrevQuarter WarningKind = "missing_prev_quarter" // no record for the previous quarter
)

// ConsistencyWarning describes data that was accepted with a default.
type ConsistencyWarning struct {
	Kind    WarningKind `json:"kind"`
	GroupID string      `json:"group_id,omitempty"`
	UserID  string      `json:"user_id,omitempty"`
	Detail  string      `json:"detail"`
}

func (w ConsistencyWarning) String() string {
	s := string(w.Kind)
	if w.GroupID != "" {
		s += " group=" + w.GroupID
	}
	if w.UserID != "" {
		s += " user=" + w.UserID
	}
	return s + ": " + w.Detail
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on the next run.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDataUnavailable)
}

// IsConfigurationError returns true for configuration problems.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsNotFound returns true if the error indicates missing state.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
