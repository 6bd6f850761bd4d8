package geometry

import (
	"testing"

	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridPoints(rows, cols int, size float64) []r3.Vector {
	var pts []r3.Vector
	for m := range rows {
		for n := range cols {
			pts = append(pts, r3.Vector{X: float64(m) * size, Y: float64(n) * size})
		}
	}
	return pts
}

func normalizedProjection(obj []r3.Vector, pose camera.Pose) []r2.Point {
	out := make([]r2.Point, len(obj))
	for i, p := range obj {
		c := pose.Transform(p)
		out[i] = r2.Point{X: c.X / c.Z, Y: c.Y / c.Z}
	}
	return out
}

func assertPoseNear(t *testing.T, want, got camera.Pose, tol float64) {
	t.Helper()
	a, b := want.Matrix(), got.Matrix()
	for i := range a {
		assert.InDelta(t, a[i], b[i], tol, "rotation entry %d", i)
	}
	assert.InDelta(t, want.Translation.X, got.Translation.X, tol*100)
	assert.InDelta(t, want.Translation.Y, got.Translation.Y, tol*100)
	assert.InDelta(t, want.Translation.Z, got.Translation.Z, tol*100)
}

func TestHomographyExact(t *testing.T) {
	h := camera.Mat3{1.2, 0.1, 30, -0.05, 0.9, 12, 1e-4, -2e-4, 1}
	src := []r2.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 80}, {X: 0, Y: 80}, {X: 50, Y: 40}}
	dst := make([]r2.Point, len(src))
	for i, p := range src {
		dst[i] = ApplyHomography(h, p)
	}

	got, err := Homography(src, dst)
	require.NoError(t, err)
	for i := range h {
		assert.InDelta(t, h[i], got[i], 1e-8)
	}
}

func TestHomographyErrors(t *testing.T) {
	_, err := Homography([]r2.Point{{}, {X: 1}, {Y: 1}}, []r2.Point{{}, {X: 1}, {Y: 1}})
	assert.ErrorContains(t, err, "at least 4")

	_, err = Homography(make([]r2.Point, 4), make([]r2.Point, 5))
	assert.Error(t, err)

	same := []r2.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}
	_, err = Homography(same, same)
	assert.ErrorIs(t, err, ErrDegenerate)

	line := []r2.Point{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}}
	_, err = Homography(line, line)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestPlanarPose(t *testing.T) {
	obj := gridPoints(4, 5, 25)
	want := camera.Pose{Rotation: r3.Vector{X: 2.9, Y: 0.3, Z: -0.2}, Translation: r3.Vector{X: -40, Y: 20, Z: 600}}

	got, err := PlanarPose(obj, normalizedProjection(obj, want))
	require.NoError(t, err)
	assertPoseNear(t, want, got, 1e-8)
}

func TestPoseDLTNonPlanar(t *testing.T) {
	obj := []r3.Vector{
		{X: 0, Y: 0, Z: 0}, {X: 100, Y: 0, Z: 10}, {X: 0, Y: 100, Z: -20},
		{X: 100, Y: 100, Z: 40}, {X: 50, Y: 20, Z: 80}, {X: 10, Y: 70, Z: 30},
		{X: 80, Y: 40, Z: -30}, {X: 30, Y: 90, Z: 60},
	}
	want := camera.Pose{Rotation: r3.Vector{X: 0.2, Y: -0.4, Z: 0.1}, Translation: r3.Vector{X: 10, Y: -5, Z: 500}}

	got, err := PoseDLT(obj, normalizedProjection(obj, want))
	require.NoError(t, err)
	assertPoseNear(t, want, got, 1e-8)

	_, err = PoseDLT(obj[:5], normalizedProjection(obj[:5], want))
	assert.ErrorContains(t, err, "at least 6")
}

func TestPoseDLTPlanarIsDegenerate(t *testing.T) {
	obj := gridPoints(3, 3, 10)
	pose := camera.Pose{Translation: r3.Vector{Z: 100}}
	_, err := PoseDLT(obj, normalizedProjection(obj, pose))
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestOnBoardPlane(t *testing.T) {
	assert.True(t, OnBoardPlane(gridPoints(3, 3, 25)))
	assert.False(t, OnBoardPlane([]r3.Vector{{X: 1}, {Y: 1}, {Z: 0.5}}))
}

// TestPlanarPose_RecoversRandomPoses verifies homography decomposition for
// boards seen from arbitrary front-facing poses.
func TestPlanarPose_RecoversRandomPoses(t *testing.T) {
	obj := gridPoints(5, 6, 20)
	properties := gopter.NewProperties(nil)

	properties.Property("planar pose matches the generating pose", prop.ForAll(
		func(rx, ry, rz, tx, ty, tz float64) bool {
			want := camera.Pose{
				Rotation:    camera.AxisAngle(camera.RotationMatrix(r3.Vector{X: rx, Y: ry, Z: rz}).Mul(camera.Mat3{0, 1, 0, 1, 0, 0, 0, 0, -1})),
				Translation: r3.Vector{X: tx, Y: ty, Z: tz},
			}
			got, err := PlanarPose(obj, normalizedProjection(obj, want))
			if err != nil {
				return false
			}
			a, b := want.Matrix(), got.Matrix()
			for i := range a {
				if d := a[i] - b[i]; d > 1e-6 || d < -1e-6 {
					return false
				}
			}
			return got.Translation.Sub(want.Translation).Norm() < 1e-4
		},
		gen.Float64Range(-0.6, 0.6),
		gen.Float64Range(-0.6, 0.6),
		gen.Float64Range(-3, 3),
		gen.Float64Range(-100, 100),
		gen.Float64Range(-100, 100),
		gen.Float64Range(300, 1500),
	))

	properties.TestingRun(t)
}
