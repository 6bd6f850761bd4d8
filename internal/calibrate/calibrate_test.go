package calibrate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/geometry"
	"github.com/MeKo-Tech/checkercal/internal/synth"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBoard = board.Spec{Rows: 7, Cols: 10, SquareSize: 25}

// syntheticViews projects the board through model from n generated poses
// and perturbs the detections with Gaussian noise of sigma pixels.
func syntheticViews(t *testing.T, model camera.Model, n int, sigma float64) ([]View, []camera.Pose) {
	t.Helper()
	poses, err := synth.Poses(testBoard, model, n, synth.DefaultSceneConfig())
	require.NoError(t, err)
	corners := synth.GroundTruth(testBoard, model, poses)
	rng := rand.New(rand.NewPCG(3, 5))

	views := make([]View, n)
	for i := range n {
		img := make([]r2.Point, len(corners[i]))
		for k, p := range corners[i] {
			img[k] = r2.Point{X: p.X + sigma*rng.NormFloat64(), Y: p.Y + sigma*rng.NormFloat64()}
		}
		views[i] = View{ID: fmt.Sprint(i), Object: testBoard.ObjectPoints(), Image: img}
	}
	return views, poses
}

func homographies(t *testing.T, views []View) []camera.Mat3 {
	t.Helper()
	hs := make([]camera.Mat3, len(views))
	for i, v := range views {
		src := make([]r2.Point, len(v.Object))
		for k, p := range v.Object {
			src[k] = r2.Point{X: p.X, Y: p.Y}
		}
		h, err := geometry.Homography(src, v.Image)
		require.NoError(t, err)
		hs[i] = h
	}
	return hs
}

func newSolver(t *testing.T, cfg Config) *Solver {
	t.Helper()
	s, err := NewSolver(cfg)
	require.NoError(t, err)
	return s
}

func TestSolveRecoversSyntheticCamera(t *testing.T) {
	truth := synth.DefaultModel()
	views, poses := syntheticViews(t, truth, 10, 0.1)

	res, err := newSolver(t, DefaultConfig()).Solve(context.Background(), views, 640, 480)
	require.NoError(t, err)

	require.Len(t, res.Poses, 10)
	require.Len(t, res.PerView, 10)
	assert.Less(t, res.RMS, 1.0)
	assert.Less(t, res.Errors.Mean, 1.0)
	assert.Less(t, res.RMS, res.InitialRMS)

	in := res.Model.Intrinsics
	assert.InDelta(t, truth.Intrinsics.Fx, in.Fx, 8)
	assert.InDelta(t, truth.Intrinsics.Fy, in.Fy, 8)
	assert.InDelta(t, truth.Intrinsics.Cx, in.Cx, 5)
	assert.InDelta(t, truth.Intrinsics.Cy, in.Cy, 5)
	assert.Zero(t, in.Skew)
	assert.InDelta(t, truth.Distortion.K1, res.Model.Distortion.K1, 0.05)
	assert.Equal(t, 640, in.Width)
	assert.Equal(t, 480, in.Height)

	for i, p := range res.Poses {
		assert.InDelta(t, poses[i].Translation.Z, p.Translation.Z, 10, "view %d", i)
		assert.Equal(t, fmt.Sprint(i), res.PerView[i].ID)
		assert.Equal(t, testBoard.Count(), res.PerView[i].Points)
		assert.LessOrEqual(t, res.PerView[i].Median, res.PerView[i].Max)
	}
}

func TestSolveRationalModel(t *testing.T) {
	views, _ := syntheticViews(t, synth.DefaultModel(), 8, 0.05)
	cfg := DefaultConfig()
	cfg.RationalModel = true

	res, err := newSolver(t, cfg).Solve(context.Background(), views, 640, 480)
	require.NoError(t, err)
	assert.Less(t, res.RMS, 1.0)
	assert.Len(t, res.Poses, 8)
}

func TestSolveTooFewViews(t *testing.T) {
	views, _ := syntheticViews(t, synth.DefaultModel(), 2, 0)

	_, err := newSolver(t, DefaultConfig()).Solve(context.Background(), views, 640, 480)
	require.Error(t, err)
	assert.ErrorIs(t, err, calerr.ErrInsufficientObservations)
	assert.Equal(t, 2, calerr.ExitCode(err))

	_, err = newSolver(t, DefaultConfig()).Solve(context.Background(), nil, 640, 480)
	assert.ErrorIs(t, err, calerr.ErrInsufficientObservations)
}

func TestSolveParallelViewsDiverge(t *testing.T) {
	model := synth.DefaultModel()
	model.Distortion = camera.Distortion{}
	base, err := synth.Poses(testBoard, model, 1, synth.DefaultSceneConfig())
	require.NoError(t, err)

	var views []View
	for i, dx := range []float64{-20, 0, 20, 10} {
		pose := base[0]
		pose.Translation = pose.Translation.Add(r3.Vector{X: dx, Y: -dx / 2, Z: 10 * float64(i)})
		views = append(views, View{
			ID:     fmt.Sprint(i),
			Object: testBoard.ObjectPoints(),
			Image:  model.Project(testBoard.ObjectPoints(), pose),
		})
	}

	_, err = newSolver(t, DefaultConfig()).Solve(context.Background(), views, 640, 480)
	require.Error(t, err)
	assert.ErrorIs(t, err, calerr.ErrSolverDivergence)
	assert.Equal(t, 3, calerr.ExitCode(err))
}

func TestSolveRejectsMalformedViews(t *testing.T) {
	views, _ := syntheticViews(t, synth.DefaultModel(), 3, 0)
	s := newSolver(t, DefaultConfig())

	short := append([]View(nil), views...)
	short[1].Image = short[1].Image[:10]
	_, err := s.Solve(context.Background(), short, 640, 480)
	assert.ErrorContains(t, err, "object vs")

	lifted := append([]View(nil), views...)
	obj := append([]r3.Vector(nil), lifted[2].Object...)
	obj[5].Z = 3
	lifted[2].Object = obj
	_, err = s.Solve(context.Background(), lifted, 640, 480)
	assert.ErrorContains(t, err, "board plane")

	_, err = s.Solve(context.Background(), views, 0, 480)
	assert.ErrorContains(t, err, "image size")
}

func TestSolveHonoursCancellation(t *testing.T) {
	views, _ := syntheticViews(t, synth.DefaultModel(), 4, 0.1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSolver(t, DefaultConfig()).Solve(ctx, views, 640, 480)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestZhangIntrinsicsNoiseFree(t *testing.T) {
	model := synth.DefaultModel()
	model.Distortion = camera.Distortion{}
	views, _ := syntheticViews(t, model, 5, 0)

	in, err := zhangIntrinsics(homographies(t, views), 640, 480, false)
	require.NoError(t, err)
	assert.InDelta(t, model.Intrinsics.Fx, in.Fx, 1e-3)
	assert.InDelta(t, model.Intrinsics.Fy, in.Fy, 1e-3)
	assert.InDelta(t, model.Intrinsics.Cx, in.Cx, 1e-3)
	assert.InDelta(t, model.Intrinsics.Cy, in.Cy, 1e-3)
	assert.Zero(t, in.Skew)

	in, err = zhangIntrinsics(homographies(t, views), 640, 480, true)
	require.NoError(t, err)
	assert.InDelta(t, model.Intrinsics.Fx, in.Fx, 1e-3)
	assert.InDelta(t, 0, in.Skew, 1e-3)
}

func TestZhangIntrinsicsDegenerate(t *testing.T) {
	model := synth.DefaultModel()
	model.Distortion = camera.Distortion{}
	views, _ := syntheticViews(t, model, 1, 0)
	hs := homographies(t, views)

	_, err := zhangIntrinsics([]camera.Mat3{hs[0], hs[0], hs[0]}, 640, 480, false)
	assert.ErrorIs(t, err, geometry.ErrDegenerate)
}

func TestFallbackIntrinsicsCenteredCamera(t *testing.T) {
	model := synth.DefaultModel()
	model.Distortion = camera.Distortion{}
	model.Intrinsics.Fy = 780
	model.Intrinsics.Cx, model.Intrinsics.Cy = 319.5, 239.5
	views, _ := syntheticViews(t, model, 4, 0)

	in, err := fallbackIntrinsics(homographies(t, views), 640, 480)
	require.NoError(t, err)
	assert.InDelta(t, 800, in.Fx, 1e-4)
	assert.InDelta(t, 780, in.Fy, 1e-4)
	assert.Equal(t, 319.5, in.Cx)
	assert.Equal(t, 239.5, in.Cy)
}

func TestInitialPoseMatchesTruth(t *testing.T) {
	model := synth.DefaultModel()
	model.Distortion = camera.Distortion{}
	views, poses := syntheticViews(t, model, 3, 0)
	hs := homographies(t, views)

	for i, h := range hs {
		p, err := initialPose(h, model.Intrinsics)
		require.NoError(t, err)
		assert.InDelta(t, 0, p.Translation.Sub(poses[i].Translation).Norm(), 1e-6)
		got, want := p.Matrix(), poses[i].Matrix()
		for k := range got {
			assert.InDelta(t, want[k], got[k], 1e-8)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min views", func(c *Config) { c.MinViews = 1 }},
		{"skew needs three views", func(c *Config) { c.MinViews = 2; c.EstimateSkew = true }},
		{"iterations", func(c *Config) { c.MaxIterations = 0 }},
		{"max rms", func(c *Config) { c.MaxRMS = 0 }},
		{"view angle", func(c *Config) { c.MinViewAngle = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
			_, err := NewSolver(cfg)
			assert.Error(t, err)
		})
	}
}

func TestSummarize(t *testing.T) {
	s := summarize([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.InDelta(t, 2.5, s.Median, 1e-12)
	assert.InDelta(t, 4, s.Max, 1e-12)
	assert.InDelta(t, 2.7386, s.RMS, 1e-4)
	assert.LessOrEqual(t, s.P95, 4.0)

	assert.Equal(t, ErrorStats{}, summarize(nil))
}
