/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match sentinels with errors.Is(); structured errors carry the
  context operators need to fix the underlying data problem.

ERROR CATEGORIES:
  1. Lookup errors     - referenced entity absent
  2. Conflict errors   - idempotency short-circuits, double closes
  3. Integrity errors  - overlapping windows, immutability violations
  4. Validation errors - malformed magnitude/unit/timestamp input

RECOVERABILITY:
  Unmapped records and unresolved tap assignments are NOT errors: the
  engine skips and counts them. ErrAmbiguousWindow and ErrImmutableEvent
  indicate a correctness bug or bad configuration and abort the
  operation that hit them.
*/
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyDepleted is the idempotency short-circuit: the sales record
	// already has a ledger event. Not fatal; reported as a skip count.
	ErrAlreadyDepleted = errors.New("sales record already depleted")

	// ErrAmbiguousWindow is returned when more than one effective window
	// matches an instant. This is a data-integrity defect, never silently
	// resolved by picking a row.
	ErrAmbiguousWindow = errors.New("ambiguous effective window")

	// ErrImmutableEvent is returned on any attempted update or delete of a
	// posted ledger event. The storage layer enforces this independently.
	ErrImmutableEvent = errors.New("consumption events are immutable")

	// ErrMissingVarianceReason blocks a session close pending operator
	// input. Recoverable: resupply reasons and retry.
	ErrMissingVarianceReason = errors.New("variance reason required")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrSessionClosed is returned when closing an already-closed session.
	ErrSessionClosed = errors.New("session already closed")

	// ErrReverseReversal is returned when a correction targets an event
	// that is itself a reversal. Correction chains are forbidden.
	ErrReverseReversal = errors.New("cannot reverse a reversal")

	// ErrUnknownMappingMode is a configuration defect on a single record;
	// the batch continues and the failure is surfaced in the run stats.
	ErrUnknownMappingMode = errors.New("unknown mapping mode")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AmbiguousMappingError reports overlapping item-mapping windows.
type AmbiguousMappingError struct {
	LocationID LocationID
	Source     SourceSystem
	POSItemID  string
	At         time.Time
	Matches    int
}

func (e *AmbiguousMappingError) Error() string {
	return fmt.Sprintf("ambiguous mapping: %d windows effective for %s/%s at location %s at %s",
		e.Matches, e.Source, e.POSItemID, e.LocationID, e.At.Format(time.RFC3339))
}

func (e *AmbiguousMappingError) Unwrap() error { return ErrAmbiguousWindow }

// AmbiguousAssignmentError reports overlapping tap-assignment windows.
type AmbiguousAssignmentError struct {
	TapLineID TapLineID
	At        time.Time
	Matches   int
}

func (e *AmbiguousAssignmentError) Error() string {
	return fmt.Sprintf("ambiguous tap assignment: %d windows effective for tap %s at %s",
		e.Matches, e.TapLineID, e.At.Format(time.RFC3339))
}

func (e *AmbiguousAssignmentError) Unwrap() error { return ErrAmbiguousWindow }

// MissingVarianceReasonError lists every item whose variance exceeded the
// threshold without a supplied reason. The close is aborted whole; no
// partial adjustment is posted.
type MissingVarianceReasonError struct {
	SessionID SessionID
	Items     []ItemID
}

func (e *MissingVarianceReasonError) Error() string {
	return fmt.Sprintf("session %s: variance reason required for %d item(s)", e.SessionID, len(e.Items))
}

func (e *MissingVarianceReasonError) Unwrap() error { return ErrMissingVarianceReason }

// ValidationError reports one malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether the error is an idempotency or state
// conflict rather than a failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyDepleted) || errors.Is(err, ErrSessionClosed)
}

// IsClientError reports whether the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrReverseReversal) ||
		errors.Is(err, ErrMissingVarianceReason)
}
