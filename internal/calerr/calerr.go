// Package calerr defines the error kinds surfaced by the calibration pipeline.
package calerr

import (
	"errors"
	"fmt"
)

// Kind classifies a calibration failure.
type Kind int

const (
	// KindUnknown is used for errors that carry no calibration-specific meaning.
	KindUnknown Kind = iota
	// KindMissingInputFile means a referenced image file does not exist.
	KindMissingInputFile
	// KindCornerDetectionFailure means the checkerboard grid was not found in an image.
	KindCornerDetectionFailure
	// KindInsufficientObservations means too few usable images remain for calibration.
	KindInsufficientObservations
	// KindSolverDivergence means the nonlinear solve failed or produced a degenerate model.
	KindSolverDivergence
	// KindDeviceUnavailable means a live frame source could not be opened.
	KindDeviceUnavailable
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrMissingInputFile         = errors.New("missing input file")
	ErrCornerDetectionFailure   = errors.New("corner detection failure")
	ErrInsufficientObservations = errors.New("insufficient observations")
	ErrSolverDivergence         = errors.New("solver divergence")
	ErrDeviceUnavailable        = errors.New("device unavailable")
)

func (k Kind) String() string {
	switch k {
	case KindMissingInputFile:
		return "MissingInputFile"
	case KindCornerDetectionFailure:
		return "CornerDetectionFailure"
	case KindInsufficientObservations:
		return "InsufficientObservations"
	case KindSolverDivergence:
		return "SolverDivergence"
	case KindDeviceUnavailable:
		return "DeviceUnavailable"
	default:
		return "Unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindMissingInputFile:
		return ErrMissingInputFile
	case KindCornerDetectionFailure:
		return ErrCornerDetectionFailure
	case KindInsufficientObservations:
		return ErrInsufficientObservations
	case KindSolverDivergence:
		return ErrSolverDivergence
	case KindDeviceUnavailable:
		return ErrDeviceUnavailable
	default:
		return nil
	}
}

// Error is a classified calibration error.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "load", "detect", "solve"
	Detail string // human readable diagnostic
	Err    error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New builds a classified error.
func New(kind Kind, op, detail string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: cause}
}

// Newf builds a classified error with a formatted detail and no cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// ExitCode maps an error to the process exit status used by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindInsufficientObservations:
		return 2
	case KindSolverDivergence:
		return 3
	case KindMissingInputFile:
		return 4
	default:
		return 1
	}
}
