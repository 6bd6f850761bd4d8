package camera

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel() Model {
	return Model{
		Intrinsics: Intrinsics{Width: 640, Height: 480, Fx: 800, Fy: 790, Cx: 320, Cy: 240},
		Distortion: Distortion{K1: -0.2, K2: 0.05, P1: 0.001, P2: -0.0005, K3: 0.01},
	}
}

func TestProjectPinhole(t *testing.T) {
	m := Model{Intrinsics: Intrinsics{Fx: 100, Fy: 100, Cx: 50, Cy: 40}}
	pose := Pose{Translation: r3.Vector{Z: 10}}

	pts := m.Project([]r3.Vector{{X: 0, Y: 0}, {X: 1, Y: 2}}, pose)

	require.Len(t, pts, 2)
	assert.InDelta(t, 50, pts[0].X, 1e-12)
	assert.InDelta(t, 40, pts[0].Y, 1e-12)
	assert.InDelta(t, 60, pts[1].X, 1e-12)
	assert.InDelta(t, 60, pts[1].Y, 1e-12)
}

func TestProjectBehindCamera(t *testing.T) {
	m := testModel()
	_, ok := m.ProjectPoint(r3.Vector{X: 1, Y: 1, Z: -1})
	assert.False(t, ok)
}

func TestProjectWithSkew(t *testing.T) {
	m := Model{Intrinsics: Intrinsics{Fx: 100, Fy: 100, Cx: 0, Cy: 0, Skew: 2}}
	p, ok := m.ProjectPoint(r3.Vector{X: 0, Y: 1, Z: 1})
	require.True(t, ok)
	assert.InDelta(t, 2, p.X, 1e-12)
	assert.InDelta(t, 100, p.Y, 1e-12)

	x, y := m.Intrinsics.ToNormalized(p)
	assert.InDelta(t, 0, x, 1e-12)
	assert.InDelta(t, 1, y, 1e-12)
}

func TestUndistortPixelInvertsDistortion(t *testing.T) {
	m := testModel()
	for _, p := range []r2.Point{{X: 10, Y: 10}, {X: 320, Y: 240}, {X: 630, Y: 470}, {X: 100, Y: 400}} {
		d := m.DistortPixel(p)
		back := m.UndistortPixel(d)
		assert.InDelta(t, p.X, back.X, 1e-6, "x for %v", p)
		assert.InDelta(t, p.Y, back.Y, 1e-6, "y for %v", p)
	}
}

func TestRationalDistortion(t *testing.T) {
	d := Distortion{K1: 0.1, K4: 0.05}
	assert.True(t, d.IsRational())

	xd, yd := d.Apply(0.3, -0.2)
	x, y := d.UndistortNormalized(xd, yd)
	assert.InDelta(t, 0.3, x, 1e-9)
	assert.InDelta(t, -0.2, y, 1e-9)

	coeffs := d.Coefficients(true)
	assert.Len(t, coeffs, 8)
	back, err := DistortionFromCoefficients(coeffs)
	require.NoError(t, err)
	assert.Equal(t, d, back)

	_, err = DistortionFromCoefficients([]float64{1, 2})
	assert.Error(t, err)
}

func TestRotationMatrixKnownAngles(t *testing.T) {
	r := RotationMatrix(r3.Vector{Z: math.Pi / 2})
	v := r.MulVec(r3.Vector{X: 1})
	assert.InDelta(t, 0, v.X, 1e-12)
	assert.InDelta(t, 1, v.Y, 1e-12)
	assert.InDelta(t, 1, r.Det(), 1e-12)

	assert.Equal(t, Identity3(), RotationMatrix(r3.Vector{}))
}

func TestAxisAngleNearPi(t *testing.T) {
	want := r3.Vector{X: 1, Y: 1, Z: 0}.Normalize().Mul(math.Pi - 1e-8)
	got := AxisAngle(RotationMatrix(want))

	// axis-angle is sign ambiguous at pi; compare rotation matrices
	a, b := RotationMatrix(want), RotationMatrix(got)
	for i := range a {
		assert.InDelta(t, a[i], b[i], 1e-6)
	}
}

func TestNearestRotation(t *testing.T) {
	r := RotationMatrix(r3.Vector{X: 0.3, Y: -0.2, Z: 0.1})
	noisy := r
	noisy[0] += 0.01
	noisy[4] -= 0.01

	fixed, ok := NearestRotation(noisy)
	require.True(t, ok)
	assert.InDelta(t, 1, fixed.Det(), 1e-9)
	prod := fixed.Mul(fixed.T())
	for i, want := range Identity3() {
		assert.InDelta(t, want, prod[i], 1e-9)
	}
}

func TestCheckValid(t *testing.T) {
	assert.NoError(t, testModel().CheckValid())

	bad := testModel()
	bad.Intrinsics.Fx = 0
	assert.Error(t, bad.CheckValid())

	bad = testModel()
	bad.Distortion.K2 = math.NaN()
	assert.Error(t, bad.CheckValid())
}

func TestUndistortImageIdentity(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	for y := range 12 {
		for x := range 16 {
			img.Set(x, y, color.NRGBA{uint8(x * 10), uint8(y * 10), 7, 255})
		}
	}
	m := Model{Intrinsics: Intrinsics{Fx: 20, Fy: 20, Cx: 8, Cy: 6}}

	out := m.UndistortImage(img)

	require.Equal(t, img.Bounds(), out.Bounds())
	assert.Equal(t, img.Pix, out.Pix)
}

func TestDistortionMapOutsideIsBlack(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	// strong barrel distortion pulls corner samples outside the source
	m := Model{
		Intrinsics: Intrinsics{Fx: 10, Fy: 10, Cx: 10, Cy: 10},
		Distortion: Distortion{K1: 2},
	}
	out := m.DistortionMap(20, 20).Apply(img)
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(10, 10))
}

func TestUndistorterReusesTables(t *testing.T) {
	u := NewUndistorter(testModel())
	first := u.Table(64, 48)
	assert.Same(t, first, u.Table(64, 48))
	assert.NotSame(t, first, u.Table(48, 64))

	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	want := testModel().UndistortImage(img)
	for range 2 {
		assert.Equal(t, want.Pix, u.Apply(img).Pix)
	}
	assert.Same(t, first, u.Table(64, 48))
	assert.Equal(t, testModel(), u.Model())
}

func TestSaveLoadModel(t *testing.T) {
	dir := t.TempDir()
	m := testModel()

	for _, name := range []string{"model.yaml", "model.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, SaveModel(path, m, 0.25, 10))
			loaded, err := LoadModel(path)
			require.NoError(t, err)
			assert.Equal(t, m, loaded)
		})
	}

	_, err := LoadModel(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDecodeModel(t *testing.T) {
	m, err := DecodeModel([]byte(`{"camera": {"intrinsics": {"width": 640, "height": 480, "fx": 800, "fy": 790, "cx": 320, "cy": 240}, "distortion": {"k1": -0.2, "k2": 0.05, "p1": 0.001, "p2": -0.0005, "k3": 0.01}}, "rms": 0.3}`))
	require.NoError(t, err)
	assert.Equal(t, testModel(), m)

	_, err = DecodeModel([]byte("camera:\n  intrinsics:\n    fx: 0\n"))
	assert.Error(t, err)
	_, err = DecodeModel([]byte("camera: [1, 2"))
	assert.Error(t, err)
}

func TestReprojectionErrors(t *testing.T) {
	m := testModel()
	pose := Pose{Rotation: r3.Vector{X: 0.1}, Translation: r3.Vector{Z: 500}}
	obj := []r3.Vector{{}, {X: 25}, {Y: 25}}
	img := m.Project(obj, pose)
	img[1] = img[1].Add(r2.Point{X: 3, Y: 4})

	errs := m.ReprojectionErrors(obj, img, pose)
	assert.InDelta(t, 0, errs[0], 1e-9)
	assert.InDelta(t, 5, errs[1], 1e-9)
	assert.InDelta(t, 0, errs[2], 1e-9)
}
