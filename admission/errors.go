/*
errors.go - Error kinds returned by the admission engine

PURPOSE:
  Every failure crosses the engine boundary as a typed error value. No
  operation panics, and a returned error always means the transaction that
  produced it was rolled back.

ERROR CATEGORIES:
  1. Client errors - bad input or a rule the caller broke (validation,
     duplicate visit, past date, wrong sign-in state)
  2. Not found - person, visit or host missing
  3. Retryable - lock contention on a person or host/date boundary

USAGE:
  _, err := engine.RegisterVisit(ctx, req)
  switch {
  case errors.Is(err, admission.ErrDuplicateVisit):
      // already booked
  case admission.IsRetryable(err):
      // retry the request
  }

SEE ALSO:
  - store/sqlstore: maps driver errors onto these kinds
  - api/handlers.go: maps these kinds onto HTTP status codes
*/
package admission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateVisit is returned when the person already holds a
	// non-cancelled visit on the requested date.
	ErrDuplicateVisit = errors.New("duplicate visit")

	// ErrPastDate is returned when registering a visit before today.
	ErrPastDate = errors.New("visit date is in the past")

	// ErrInvalidHost is returned when the host is unknown or inactive.
	ErrInvalidHost = errors.New("invalid host")

	ErrPersonNotFound = errors.New("person not found")
	ErrVisitNotFound  = errors.New("visit not found")
	ErrHostNotFound   = errors.New("host not found")

	// ErrIneligibleStanding is returned when a suspended or banned person
	// attempts to sign in.
	ErrIneligibleStanding = errors.New("person standing does not allow this")

	ErrAlreadySignedIn  = errors.New("visit already signed in")
	ErrAlreadySignedOut = errors.New("visit already signed out")
	ErrNotSignedIn      = errors.New("visit not signed in")

	// ErrNotVisitDate is returned when signing in on a day other than the visit date.
	ErrNotVisitDate = errors.New("visit is not scheduled for today")

	// ErrVisitNotApproved is returned when signing in to a visit whose status
	// is not approved (unapproved, cancelled, suspended, banned).
	ErrVisitNotApproved = errors.New("visit is not approved")

	ErrAlreadyCancelled = errors.New("visit already cancelled")

	// ErrVisitAttended is returned when cancelling a visit the person has
	// already signed in to.
	ErrVisitAttended = errors.New("visit already attended")

	// ErrPersonHasVisits is returned when deleting a reciprocating member
	// that still has visit records.
	ErrPersonHasVisits = errors.New("person has visit records")

	// ErrConcurrencyConflict is returned when the store could not acquire a
	// person or host/date lock, or detected a serialization failure.
	// The caller should retry.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes malformed or missing input.
type ValidationError struct {
	Fields map[string]string // field -> reason
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range sortedKeys(e.Fields) {
		parts = append(parts, f+": "+e.Fields[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// DuplicateVisitError identifies the visit already occupying the date.
type DuplicateVisitError struct {
	PersonID PersonID
	Date     Date
	Existing VisitID
}

func (e *DuplicateVisitError) Error() string {
	return fmt.Sprintf("duplicate visit: person %s already has visit %s on %s",
		e.PersonID, e.Existing, e.Date)
}

func (e *DuplicateVisitError) Unwrap() error { return ErrDuplicateVisit }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input
// or a business rule the request broke.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateVisit) ||
		errors.Is(err, ErrPastDate) ||
		errors.Is(err, ErrInvalidHost) ||
		errors.Is(err, ErrIneligibleStanding) ||
		errors.Is(err, ErrAlreadySignedIn) ||
		errors.Is(err, ErrAlreadySignedOut) ||
		errors.Is(err, ErrNotSignedIn) ||
		errors.Is(err, ErrNotVisitDate) ||
		errors.Is(err, ErrVisitNotApproved) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrVisitAttended) ||
		errors.Is(err, ErrPersonHasVisits)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPersonNotFound) ||
		errors.Is(err, ErrVisitNotFound) ||
		errors.Is(err, ErrHostNotFound)
}
