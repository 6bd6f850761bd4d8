// Package geometry holds the linear multi-view estimators shared by the
// calibration solver and the pose estimator: planar homographies, their
// decomposition into poses and the direct linear transform for 3D points.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate is returned when the point configuration does not
// determine a unique solution.
var ErrDegenerate = errors.New("degenerate point configuration")

// normalization returns the similarity that moves the centroid of pts to
// the origin and scales their mean distance to sqrt(2).
func normalization(pts []r2.Point) (camera.Mat3, bool) {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))
	var mean float64
	for _, p := range pts {
		mean += p.Sub(c).Norm()
	}
	mean /= float64(len(pts))
	if mean < 1e-12 {
		return camera.Mat3{}, false
	}
	s := math.Sqrt2 / mean
	return camera.Mat3{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}, true
}

// Homography estimates H with dst ~ H * src from at least four
// correspondences using the normalized DLT.
func Homography(src, dst []r2.Point) (camera.Mat3, error) {
	n := len(src)
	if n != len(dst) {
		return camera.Mat3{}, fmt.Errorf("homography: %d source vs %d destination points", n, len(dst))
	}
	if n < 4 {
		return camera.Mat3{}, fmt.Errorf("homography: need at least 4 points, got %d", n)
	}
	ts, ok1 := normalization(src)
	td, ok2 := normalization(dst)
	if !ok1 || !ok2 {
		return camera.Mat3{}, ErrDegenerate
	}

	rows := max(2*n, 9)
	a := mat.NewDense(rows, 9, nil)
	for i := range n {
		s := ApplyHomography(ts, src[i])
		d := ApplyHomography(td, dst[i])
		a.SetRow(2*i, []float64{-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y})
	}

	h, sv, err := nullVector(a)
	if err != nil {
		return camera.Mat3{}, fmt.Errorf("homography: %w", err)
	}
	// a second vanishing singular value means a family of solutions
	if len(sv) >= 8 && sv[7] < 1e-10*sv[0] {
		return camera.Mat3{}, ErrDegenerate
	}

	var hn camera.Mat3
	copy(hn[:], h)
	tdInv, ok := invert3(td)
	if !ok {
		return camera.Mat3{}, ErrDegenerate
	}
	out := tdInv.Mul(hn).Mul(ts)
	if math.Abs(out[8]) > 1e-15 {
		inv := 1 / out[8]
		for i := range out {
			out[i] *= inv
		}
	}
	return out, nil
}

// ApplyHomography maps p through h.
func ApplyHomography(h camera.Mat3, p r2.Point) r2.Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	return r2.Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// PoseFromHomography decomposes a homography between board-plane
// coordinates (X, Y) and normalized image coordinates into the pose of
// the board. The board is placed in front of the camera.
func PoseFromHomography(h camera.Mat3) (camera.Pose, error) {
	h1 := col(h, 0)
	h2 := col(h, 1)
	h3 := col(h, 2)
	n1, n2 := h1.Norm(), h2.Norm()
	if n1 < 1e-12 || n2 < 1e-12 {
		return camera.Pose{}, ErrDegenerate
	}
	lambda := 2 / (n1 + n2)
	if h3.Z < 0 {
		lambda = -lambda
	}
	r1 := h1.Mul(lambda)
	r2v := h2.Mul(lambda)
	r3v := r1.Cross(r2v)
	t := h3.Mul(lambda)

	approx := camera.Mat3{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	}
	rot, ok := camera.NearestRotation(approx)
	if !ok {
		return camera.Pose{}, ErrDegenerate
	}
	return camera.Pose{Rotation: camera.AxisAngle(rot), Translation: t}, nil
}

// nullVector returns the right singular vector of the smallest singular
// value of a together with the singular values in descending order.
func nullVector(a *mat.Dense) ([]float64, []float64, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, nil, errors.New("svd failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, c := v.Dims()
	return mat.Col(nil, c-1, &v), svd.Values(nil), nil
}

func invert3(m camera.Mat3) (camera.Mat3, bool) {
	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		return camera.Mat3{}, false
	}
	return camera.Mat3FromDense(&inv), true
}

func col(m camera.Mat3, c int) r3.Vector {
	return r3.Vector{X: m[c], Y: m[3+c], Z: m[6+c]}
}
