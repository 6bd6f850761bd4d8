// Package board describes the physical checkerboard target and the
// observations made of it.
package board

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// MinDimension is the smallest number of inner corners accepted per grid side.
const MinDimension = 3

// Spec describes a checkerboard by its inner-corner grid and square size.
type Spec struct {
	Rows       int     `json:"rows" yaml:"rows"`
	Cols       int     `json:"cols" yaml:"cols"`
	SquareSize float64 `json:"square_size" yaml:"square_size"`
}

// Validate checks each field independently.
func (s Spec) Validate() error {
	var errs []error
	if s.Rows < MinDimension {
		errs = append(errs, fmt.Errorf("rows must be >= %d, got %d", MinDimension, s.Rows))
	}
	if s.Cols < MinDimension {
		errs = append(errs, fmt.Errorf("cols must be >= %d, got %d", MinDimension, s.Cols))
	}
	if !(s.SquareSize > 0) {
		errs = append(errs, fmt.Errorf("square size must be positive, got %g", s.SquareSize))
	}
	return errors.Join(errs...)
}

// Count returns the number of inner corners.
func (s Spec) Count() int { return s.Rows * s.Cols }

// ObjectPoints returns the 3D corner layout on the Z=0 plane in row-major
// order: index m*Cols+n holds (m*SquareSize, n*SquareSize, 0).
func (s Spec) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, s.Count())
	for m := range s.Rows {
		for n := range s.Cols {
			pts = append(pts, r3.Vector{X: float64(m) * s.SquareSize, Y: float64(n) * s.SquareSize})
		}
	}
	return pts
}

// String formats the spec as "RxC@size".
func (s Spec) String() string {
	return fmt.Sprintf("%dx%d@%g", s.Rows, s.Cols, s.SquareSize)
}

// Observation holds the detected corners of one image.
type Observation struct {
	ImageID int        `json:"image_id" yaml:"image_id"`
	Path    string     `json:"path,omitempty" yaml:"path,omitempty"`
	Corners []r2.Point `json:"corners,omitempty" yaml:"corners,omitempty"`
	Found   bool       `json:"found" yaml:"found"`
	Err     error      `json:"-" yaml:"-"`
	Width   int        `json:"width" yaml:"width"`
	Height  int        `json:"height" yaml:"height"`
}

// Usable reports whether the observation may be passed to the solver for
// the given board.
func (o Observation) Usable(s Spec) bool {
	return o.Found && len(o.Corners) == s.Count()
}

// CheckCorrespondence verifies that object and image point sets match in
// count; a mismatch excludes the image from calibration.
func CheckCorrespondence(object []r3.Vector, image []r2.Point) error {
	if len(object) == 0 {
		return errors.New("no object points")
	}
	if len(object) != len(image) {
		return fmt.Errorf("object/image point count mismatch: %d vs %d", len(object), len(image))
	}
	return nil
}
