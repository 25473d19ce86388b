package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := Validationf("duration", "must be positive, got %s", "-30m")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, IsValidation(err))
	assert.False(t, IsConflict(err))
	assert.Contains(t, err.Error(), "duration")
	assert.Contains(t, err.Error(), "-30m")

	// Wrapping preserves the kind
	wrapped := fmt.Errorf("create item: %w", err)
	assert.True(t, IsValidation(wrapped))

	var ve *ValidationError
	require.True(t, errors.As(wrapped, &ve))
	assert.Equal(t, "duration", ve.Field)
}

func TestValidationError_NoField(t *testing.T) {
	err := Validationf("", "unknown user")
	assert.Equal(t, "validation failed: unknown user", err.Error())
}

func TestExternalUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("calendar", 3, cause)

	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "calendar")
	assert.Contains(t, err.Error(), "3 attempts")

	// Unwrap exposes the cause
	assert.True(t, errors.Is(err, cause))

	var eu *ExternalUnavailable
	require.True(t, errors.As(err, &eu))
	assert.Equal(t, 3, eu.Attempts)
}

func TestExternalUnavailable_SingleAttempt(t *testing.T) {
	err := Unavailable("classifier", 1, errors.New("timeout"))
	assert.NotContains(t, err.Error(), "attempts")
}

func TestConflictDetected(t *testing.T) {
	err := Conflictf("link-42", "both sides changed since last sync")

	assert.True(t, IsConflict(err))
	assert.False(t, IsValidation(err))
	assert.Contains(t, err.Error(), "link-42")
}

func TestStaleToken(t *testing.T) {
	tests := []struct {
		reason string
	}{
		{"expired"},
		{"consumed"},
		{"unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			err := Stale("tok-1", tt.reason)
			assert.True(t, IsStaleToken(err))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestKindsAreDistinct(t *testing.T) {
	errs := []error{
		Validationf("f", "bad"),
		Unavailable("svc", 2, errors.New("down")),
		Conflictf("r", "diverged"),
		Stale("tok", "expired"),
	}
	preds := []func(error) bool{IsValidation, IsUnavailable, IsConflict, IsStaleToken}

	for i, err := range errs {
		for j, pred := range preds {
			assert.Equal(t, i == j, pred(err), "error %d against predicate %d", i, j)
		}
	}
}
