package calerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsSentinel(t *testing.T) {
	tests := []struct {
		kind     Kind
		sentinel error
		exit     int
	}{
		{KindMissingInputFile, ErrMissingInputFile, 4},
		{KindCornerDetectionFailure, ErrCornerDetectionFailure, 1},
		{KindInsufficientObservations, ErrInsufficientObservations, 2},
		{KindSolverDivergence, ErrSolverDivergence, 3},
		{KindDeviceUnavailable, ErrDeviceUnavailable, 1},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := New(tt.kind, "op", "detail", nil)
			wrapped := fmt.Errorf("outer: %w", err)

			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(wrapped))
			assert.Equal(t, tt.exit, ExitCode(wrapped))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindSolverDivergence, "solve", "rms=12.5", cause)

	assert.Equal(t, "solve: SolverDivergence: rms=12.5: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrInsufficientObservations)
}

func TestExitCodeUnclassified(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestNewf(t *testing.T) {
	err := Newf(KindInsufficientObservations, "calibrate", "%d usable of %d required", 2, 3)
	assert.Contains(t, err.Error(), "2 usable of 3 required")
}
