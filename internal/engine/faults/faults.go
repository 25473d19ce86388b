// Package faults defines the error taxonomy shared by all plannerd services.
//
// Callers branch on error kind with errors.Is against the sentinel values,
// or errors.As against the typed errors when they need the structured
// fields. The HTTP layer maps each kind to a status code; everything not
// in the taxonomy is an internal error.
//
// An empty availability result is not an error and never surfaces here.
package faults

import (
	"errors"
	"fmt"
)

// Sentinel values for errors.Is checks. The typed errors below all match
// their sentinel, so callers can branch without knowing the concrete type.
var (
	// ErrValidation indicates rejected input: unknown IDs, invalid ranges,
	// malformed durations, or disallowed state transitions.
	ErrValidation = errors.New("validation failed")

	// ErrExternalUnavailable indicates an external collaborator (calendar,
	// classifier) could not be reached after the retry policy ran out.
	ErrExternalUnavailable = errors.New("external service unavailable")

	// ErrConflict indicates a concurrent or divergent mutation that needs
	// user resolution, such as both sides of a calendar link changing.
	ErrConflict = errors.New("conflict detected")

	// ErrStaleToken indicates a confirmation token that is expired,
	// unknown, or already consumed.
	ErrStaleToken = errors.New("stale token")
)

// ValidationError reports rejected input. Field names the offending
// input where one can be identified.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExternalUnavailable reports an external collaborator failure that
// survived the retry policy. Attempts is the number of tries made.
type ExternalUnavailable struct {
	Service  string
	Attempts int
	Err      error
}

func (e *ExternalUnavailable) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s unavailable after %d attempts: %v", e.Service, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalUnavailable) Is(target error) bool {
	return target == ErrExternalUnavailable
}

func (e *ExternalUnavailable) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an ExternalUnavailable for the named service.
func Unavailable(service string, attempts int, err error) *ExternalUnavailable {
	return &ExternalUnavailable{Service: service, Attempts: attempts, Err: err}
}

// ConflictDetected reports divergent state that needs user resolution.
// Resource identifies what conflicted (a link ID, an item ID).
type ConflictDetected struct {
	Resource string
	Detail   string
}

func (e *ConflictDetected) Error() string {
	return fmt.Sprintf("conflict detected on %s: %s", e.Resource, e.Detail)
}

func (e *ConflictDetected) Is(target error) bool {
	return target == ErrConflict
}

// Conflictf builds a ConflictDetected for the given resource.
func Conflictf(resource, format string, args ...any) *ConflictDetected {
	return &ConflictDetected{Resource: resource, Detail: fmt.Sprintf(format, args...)}
}

// StaleToken reports a confirmation token that can no longer be used.
// Reason is one of "expired", "consumed", or "unknown".
type StaleToken struct {
	Token  string
	Reason string
}

func (e *StaleToken) Error() string {
	return fmt.Sprintf("stale token %s: %s", e.Token, e.Reason)
}

func (e *StaleToken) Is(target error) bool {
	return target == ErrStaleToken
}

// Stale builds a StaleToken error.
func Stale(token, reason string) *StaleToken {
	return &StaleToken{Token: token, Reason: reason}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsUnavailable reports whether err is an external-unavailable failure.
func IsUnavailable(err error) bool { return errors.Is(err, ErrExternalUnavailable) }

// IsConflict reports whether err is a conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsStaleToken reports whether err is a stale-token failure.
func IsStaleToken(err error) bool { return errors.Is(err, ErrStaleToken) }
