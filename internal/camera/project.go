package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

const (
	undistortIterations = 20
	undistortTolerance  = 1e-12
	newtonIterations    = 5
)

// ToPixel maps a distorted normalized point through K.
func (in Intrinsics) ToPixel(x, y float64) r2.Point {
	return r2.Point{X: in.Fx*x + in.Skew*y + in.Cx, Y: in.Fy*y + in.Cy}
}

// ToNormalized maps a pixel through K^-1 without touching distortion.
func (in Intrinsics) ToNormalized(p r2.Point) (float64, float64) {
	y := (p.Y - in.Cy) / in.Fy
	x := (p.X - in.Cx - in.Skew*y) / in.Fx
	return x, y
}

// ProjectPoint projects one camera-frame point. ok is false for points at
// or behind the camera centre.
func (m Model) ProjectPoint(pc r3.Vector) (r2.Point, bool) {
	if pc.Z <= 1e-12 {
		return r2.Point{X: math.NaN(), Y: math.NaN()}, false
	}
	x, y := pc.X/pc.Z, pc.Y/pc.Z
	xd, yd := m.Distortion.Apply(x, y)
	return m.Intrinsics.ToPixel(xd, yd), true
}

// Project maps board points to image coordinates under pose.
func (m Model) Project(points []r3.Vector, pose Pose) []r2.Point {
	rot := pose.Matrix()
	out := make([]r2.Point, len(points))
	for i, p := range points {
		pc := rot.MulVec(p).Add(pose.Translation)
		out[i], _ = m.ProjectPoint(pc)
	}
	return out
}

// UndistortNormalized inverts the distortion for a distorted normalized
// point. The fixed-point iteration is followed by a few Newton steps.
func (d Distortion) UndistortNormalized(xd, yd float64) (float64, float64) {
	x, y := xd, yd
	for range undistortIterations {
		r2 := x*x + y*y
		r4 := r2 * r2
		r6 := r4 * r2
		icdist := 1 / (1 + d.K1*r2 + d.K2*r4 + d.K3*r6)
		if d.IsRational() {
			icdist *= 1 + d.K4*r2 + d.K5*r4 + d.K6*r6
		}
		if math.IsNaN(icdist) || math.IsInf(icdist, 0) {
			return xd, yd
		}
		dx := 2*d.P1*x*y + d.P2*(r2+2*x*x)
		dy := d.P1*(r2+2*y*y) + 2*d.P2*x*y
		nx := (xd - dx) * icdist
		ny := (yd - dy) * icdist
		if math.Abs(nx-x) < undistortTolerance && math.Abs(ny-y) < undistortTolerance {
			x, y = nx, ny
			break
		}
		x, y = nx, ny
	}

	// Newton-Raphson polish on F(x,y) = D(x,y) - (xd,yd)
	const h = 1e-7
	for range newtonIterations {
		fx, fy := d.Apply(x, y)
		ex, ey := fx-xd, fy-yd
		if math.Abs(ex) < undistortTolerance && math.Abs(ey) < undistortTolerance {
			break
		}
		ax, ay := d.Apply(x+h, y)
		bx, by := d.Apply(x, y+h)
		j00, j10 := (ax-fx)/h, (ay-fy)/h
		j01, j11 := (bx-fx)/h, (by-fy)/h
		det := j00*j11 - j01*j10
		if math.Abs(det) < 1e-15 {
			break
		}
		x -= (j11*ex - j01*ey) / det
		y -= (-j10*ex + j00*ey) / det
	}
	return x, y
}

// UndistortPoint maps a distorted pixel to ideal normalized coordinates.
func (m Model) UndistortPoint(p r2.Point) r2.Point {
	xd, yd := m.Intrinsics.ToNormalized(p)
	x, y := m.Distortion.UndistortNormalized(xd, yd)
	return r2.Point{X: x, Y: y}
}

// UndistortPixel maps a distorted pixel to where an ideal pinhole camera
// with the same K would have imaged it.
func (m Model) UndistortPixel(p r2.Point) r2.Point {
	n := m.UndistortPoint(p)
	return m.Intrinsics.ToPixel(n.X, n.Y)
}

// DistortPixel is the inverse of UndistortPixel.
func (m Model) DistortPixel(p r2.Point) r2.Point {
	x, y := m.Intrinsics.ToNormalized(p)
	xd, yd := m.Distortion.Apply(x, y)
	return m.Intrinsics.ToPixel(xd, yd)
}

// ReprojectionErrors returns the per-point pixel distance between observed
// points and the projection of object points under pose.
func (m Model) ReprojectionErrors(object []r3.Vector, observed []r2.Point, pose Pose) []float64 {
	proj := m.Project(object, pose)
	errs := make([]float64, len(proj))
	for i := range proj {
		errs[i] = proj[i].Sub(observed[i]).Norm()
	}
	return errs
}
