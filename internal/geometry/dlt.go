package geometry

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// OnBoardPlane reports whether every point lies on the Z=0 plane.
func OnBoardPlane(pts []r3.Vector) bool {
	var scale float64
	for _, p := range pts {
		scale = math.Max(scale, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	tol := 1e-9 * math.Max(scale, 1)
	for _, p := range pts {
		if math.Abs(p.Z) > tol {
			return false
		}
	}
	return true
}

// PlanarPose estimates the pose of Z=0 board points from their normalized
// (undistorted, K removed) image coordinates via a homography.
func PlanarPose(obj []r3.Vector, norm []r2.Point) (camera.Pose, error) {
	src := make([]r2.Point, len(obj))
	for i, p := range obj {
		src[i] = r2.Point{X: p.X, Y: p.Y}
	}
	h, err := Homography(src, norm)
	if err != nil {
		return camera.Pose{}, err
	}
	return PoseFromHomography(h)
}

// PoseDLT estimates the pose of arbitrary 3D points from at least six
// normalized image coordinates with the direct linear transform on
// [R|t], followed by projection of R onto SO(3).
func PoseDLT(obj []r3.Vector, norm []r2.Point) (camera.Pose, error) {
	n := len(obj)
	if n != len(norm) {
		return camera.Pose{}, fmt.Errorf("dlt: %d object vs %d image points", n, len(norm))
	}
	if n < 6 {
		return camera.Pose{}, fmt.Errorf("dlt: need at least 6 points, got %d", n)
	}

	// normalize the object points for conditioning
	var c r3.Vector
	for _, p := range obj {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(n))
	var mean float64
	for _, p := range obj {
		mean += p.Sub(c).Norm()
	}
	mean /= float64(n)
	if mean < 1e-12 {
		return camera.Pose{}, ErrDegenerate
	}
	s := math.Sqrt(3) / mean

	a := mat.NewDense(max(2*n, 12), 12, nil)
	for i := range n {
		q := obj[i].Sub(c).Mul(s)
		u, v := norm[i].X, norm[i].Y
		a.SetRow(2*i, []float64{q.X, q.Y, q.Z, 1, 0, 0, 0, 0, -u * q.X, -u * q.Y, -u * q.Z, -u})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, q.X, q.Y, q.Z, 1, -v * q.X, -v * q.Y, -v * q.Z, -v})
	}
	p, sv, err := nullVector(a)
	if err != nil {
		return camera.Pose{}, fmt.Errorf("dlt: %w", err)
	}
	if sv[10] < 1e-10*sv[0] {
		return camera.Pose{}, ErrDegenerate
	}

	// undo the normalization: P = P' * [sI, -s c; 0, 1]
	pn := mat.NewDense(3, 4, p)
	t := mat.NewDense(4, 4, []float64{
		s, 0, 0, -s * c.X,
		0, s, 0, -s * c.Y,
		0, 0, s, -s * c.Z,
		0, 0, 0, 1,
	})
	var full mat.Dense
	full.Mul(pn, t)

	var m camera.Mat3
	for r := range 3 {
		for k := range 3 {
			m[3*r+k] = full.At(r, k)
		}
	}
	trans := r3.Vector{X: full.At(0, 3), Y: full.At(1, 3), Z: full.At(2, 3)}
	if m.Det() < 0 {
		for i := range m {
			m[i] = -m[i]
		}
		trans = trans.Mul(-1)
	}

	var svd mat.SVD
	if !svd.Factorize(m.Dense(), mat.SVDNone) {
		return camera.Pose{}, ErrDegenerate
	}
	vals := svd.Values(nil)
	scale := (vals[0] + vals[1] + vals[2]) / 3
	if scale < 1e-12 {
		return camera.Pose{}, ErrDegenerate
	}
	for i := range m {
		m[i] /= scale
	}
	rot, ok := camera.NearestRotation(m)
	if !ok {
		return camera.Pose{}, ErrDegenerate
	}
	return camera.Pose{Rotation: camera.AxisAngle(rot), Translation: trans.Mul(1 / scale)}, nil
}
