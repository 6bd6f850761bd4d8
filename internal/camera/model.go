// Package camera implements the pinhole camera with Brown-Conrady lens
// distortion: projection of 3D points, inverse distortion of pixels and
// whole-image undistortion.
package camera

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Intrinsics holds the camera matrix parameters and the image size they
// were estimated for.
type Intrinsics struct {
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	Fx     float64 `json:"fx" yaml:"fx"`
	Fy     float64 `json:"fy" yaml:"fy"`
	Cx     float64 `json:"cx" yaml:"cx"`
	Cy     float64 `json:"cy" yaml:"cy"`
	Skew   float64 `json:"skew" yaml:"skew"`
}

// CheckValid reports whether the intrinsics describe a usable camera.
func (in Intrinsics) CheckValid() error {
	if in.Width < 0 || in.Height < 0 {
		return fmt.Errorf("invalid size (%d, %d)", in.Width, in.Height)
	}
	if !(in.Fx > 0) || !(in.Fy > 0) {
		return fmt.Errorf("focal lengths must be positive, got (%g, %g)", in.Fx, in.Fy)
	}
	for _, v := range []float64{in.Fx, in.Fy, in.Cx, in.Cy, in.Skew} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("intrinsics contain non-finite values")
		}
	}
	return nil
}

// Matrix returns the 3x3 camera matrix K.
func (in Intrinsics) Matrix() Mat3 {
	return Mat3{
		in.Fx, in.Skew, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	}
}

// Distortion holds the radial (K1..K6, rational when K4..K6 are set) and
// tangential (P1, P2) coefficients.
type Distortion struct {
	K1 float64 `json:"k1" yaml:"k1"`
	K2 float64 `json:"k2" yaml:"k2"`
	P1 float64 `json:"p1" yaml:"p1"`
	P2 float64 `json:"p2" yaml:"p2"`
	K3 float64 `json:"k3" yaml:"k3"`
	K4 float64 `json:"k4,omitempty" yaml:"k4,omitempty"`
	K5 float64 `json:"k5,omitempty" yaml:"k5,omitempty"`
	K6 float64 `json:"k6,omitempty" yaml:"k6,omitempty"`
}

// Coefficients returns the coefficients in OpenCV order. The rational
// terms are included only when requested.
func (d Distortion) Coefficients(rational bool) []float64 {
	if rational {
		return []float64{d.K1, d.K2, d.P1, d.P2, d.K3, d.K4, d.K5, d.K6}
	}
	return []float64{d.K1, d.K2, d.P1, d.P2, d.K3}
}

// DistortionFromCoefficients builds a Distortion from 5 or 8 values.
func DistortionFromCoefficients(c []float64) (Distortion, error) {
	switch len(c) {
	case 5:
		return Distortion{K1: c[0], K2: c[1], P1: c[2], P2: c[3], K3: c[4]}, nil
	case 8:
		return Distortion{K1: c[0], K2: c[1], P1: c[2], P2: c[3], K3: c[4], K4: c[5], K5: c[6], K6: c[7]}, nil
	default:
		return Distortion{}, fmt.Errorf("expected 5 or 8 distortion coefficients, got %d", len(c))
	}
}

// IsRational reports whether any denominator term is set.
func (d Distortion) IsRational() bool {
	return d.K4 != 0 || d.K5 != 0 || d.K6 != 0
}

// Apply distorts an ideal normalized image point.
func (d Distortion) Apply(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radial := 1 + d.K1*r2 + d.K2*r4 + d.K3*r6
	if d.IsRational() {
		radial /= 1 + d.K4*r2 + d.K5*r4 + d.K6*r6
	}
	xy := x * y
	xd := x*radial + 2*d.P1*xy + d.P2*(r2+2*x*x)
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*xy
	return xd, yd
}

// Model is a calibrated camera. It is immutable once produced and safe to
// share between goroutines.
type Model struct {
	Intrinsics Intrinsics `json:"intrinsics" yaml:"intrinsics"`
	Distortion Distortion `json:"distortion" yaml:"distortion"`
}

// CheckValid validates the model.
func (m Model) CheckValid() error {
	if err := m.Intrinsics.CheckValid(); err != nil {
		return fmt.Errorf("intrinsics: %w", err)
	}
	for _, c := range m.Distortion.Coefficients(true) {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return errors.New("distortion contains non-finite values")
		}
	}
	return nil
}

// Pose is a rigid transform from board coordinates into the camera frame:
// X_cam = R(Rotation) * X_board + Translation.
type Pose struct {
	Rotation    r3.Vector `json:"rvec" yaml:"rvec"`
	Translation r3.Vector `json:"tvec" yaml:"tvec"`
}

// Matrix returns the rotation matrix of the pose.
func (p Pose) Matrix() Mat3 { return RotationMatrix(p.Rotation) }

// Transform maps a board point into the camera frame.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return p.Matrix().MulVec(v).Add(p.Translation)
}

// Params flattens the pose into (rx, ry, rz, tx, ty, tz).
func (p Pose) Params() []float64 {
	return []float64{p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Translation.X, p.Translation.Y, p.Translation.Z}
}

// PoseFromParams is the inverse of Params.
func PoseFromParams(v []float64) Pose {
	return Pose{
		Rotation:    r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Translation: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
	}
}
