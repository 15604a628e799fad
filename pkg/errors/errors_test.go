package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewInternalError("failed to call next", errors.New("connection reset"))
	assert.Equal(t, "INTERNAL: failed to call next: connection reset", err.Error())

	err = NewNotFoundError("clinic 7 not found")
	assert.Equal(t, "NOT_FOUND: clinic 7 not found", err.Error())
}

func TestWithReason_DoesNotMutateOriginal(t *testing.T) {
	base := NewConflictError("clinic is full")
	withReason := base.WithReason(ReasonCapacityFull)

	assert.Empty(t, base.Reason)
	assert.Equal(t, ReasonCapacityFull, withReason.Reason)
	assert.Equal(t, ErrorTypeConflict, withReason.Type)
}

func TestReasonOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("tick: %w", Busy("queue:call-next:3"))

	assert.Equal(t, ReasonBusy, ReasonOf(err))
	assert.True(t, HasReason(err, ReasonBusy))
	assert.True(t, IsType(err, ErrorTypeConflict))
	assert.False(t, IsNotFound(err))
}

func TestReasonOf_PlainError(t *testing.T) {
	assert.Empty(t, ReasonOf(errors.New("boom")))
	assert.Empty(t, ReasonOf(nil))
}

func TestDefaultReasons(t *testing.T) {
	assert.Equal(t, ReasonNotFound, NewNotFoundError("x").Reason)
	assert.Equal(t, ReasonInvalidInput, NewValidationError("x").Reason)
	assert.Equal(t, ReasonDatabaseError, NewInternalError("x", nil).Reason)
}
