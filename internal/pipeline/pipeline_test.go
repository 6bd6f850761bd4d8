package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBoard = board.Spec{Rows: 7, Cols: 10, SquareSize: 25}

var testDataset = sync.OnceValues(func() (*synth.Dataset, error) {
	return synth.Generate(testBoard, synth.DefaultModel(), 10, synth.DefaultSceneConfig(), synth.DefaultRenderOptions())
})

func datasetInputs(t *testing.T, n int) Inputs {
	t.Helper()
	ds, err := testDataset()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(ds.Images), n)
	in := make(Inputs, n)
	for i := range n {
		in[i] = Input{Index: i, Path: fmt.Sprintf("%d.png", i), Image: ds.Images[i]}
	}
	return in
}

func blankImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 640, 480))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 128}), image.Point{}, draw.Src)
	return img
}

func newPipeline(t *testing.T, configure func(*Builder)) *Pipeline {
	t.Helper()
	b := NewBuilder().WithBoard(testBoard).WithParallelWorkers(4)
	if configure != nil {
		configure(b)
	}
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func TestRunCalibratesTenViews(t *testing.T) {
	var seen []State
	p := newPipeline(t, func(b *Builder) {
		b.WithListener(func(tr Transition) { seen = append(seen, tr.To) })
	})

	res, err := p.Run(context.Background(), datasetInputs(t, 10))
	require.NoError(t, err)
	require.NotNil(t, res.Calibration)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 10, res.Usable)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Calibration.Poses, 10)
	assert.Less(t, res.Calibration.RMS, 1.0)
	assert.Less(t, res.Calibration.Errors.Mean, 1.0)
	assert.Equal(t, 640, res.ImageWidth)
	assert.Equal(t, 480, res.ImageHeight)
	assert.Greater(t, res.Coverage, 0.1)
	assert.InDelta(t, 800, res.Calibration.Model.Intrinsics.Fx, 15)

	assert.Equal(t, []State{
		StateLoadingImages, StateDetectingCorners, StateCalibrating, StateVerifying, StateDone,
	}, seen)
	for _, stage := range []string{"load", "detect", "calibrate", "verify"} {
		assert.Contains(t, res.Timings, stage)
	}

	v := res.Verification
	require.NotNil(t, v)
	assert.Equal(t, 9, v.ImageID, "last image is the default reference")
	assert.Equal(t, testBoard.Count(), v.Inliers)
	assert.Less(t, v.RMS, 1.0)
	assert.NotNil(t, v.Images.Corners)
	assert.NotNil(t, v.Images.Axes)
	assert.NotNil(t, v.Images.Undistorted)
	assert.Nil(t, v.Images.Preview, "640x480 stays below the preview limit")
}

func TestRunTooFewImages(t *testing.T) {
	p := newPipeline(t, nil)
	res, err := p.Run(context.Background(), datasetInputs(t, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, calerr.ErrInsufficientObservations)
	assert.Equal(t, 2, calerr.ExitCode(err))
	assert.Equal(t, StateFailed, res.State)
	assert.Nil(t, res.Calibration)
	assert.Equal(t, 2, res.Usable)
	assert.NotContains(t, res.Timings, "verify")
}

func TestRunEmptyInput(t *testing.T) {
	p := newPipeline(t, nil)
	res, err := p.Run(context.Background(), Inputs{})
	assert.ErrorIs(t, err, calerr.ErrInsufficientObservations)
	assert.Equal(t, 0, res.Usable)
	assert.Equal(t, StateFailed, res.State)
}

func TestRunOneFailureStrictAborts(t *testing.T) {
	in := datasetInputs(t, 10)
	in[3].Image = blankImage()

	p := newPipeline(t, nil)
	res, err := p.Run(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, calerr.ErrInsufficientObservations)
	assert.ErrorIs(t, err, calerr.ErrCornerDetectionFailure)
	assert.Equal(t, 9, res.Usable)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0], "image 3")
	assert.Equal(t, StateFailed, res.State)
}

func TestRunOneFailureTolerantCalibrates(t *testing.T) {
	in := datasetInputs(t, 10)
	in[9].Image = blankImage()

	p := newPipeline(t, func(b *Builder) { b.WithPolicy(PolicyTolerant) })
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Usable)
	assert.Len(t, res.Calibration.Poses, 9)
	assert.Equal(t, StateDone, res.State)

	// the default reference (the last image) failed, so the last usable one is used
	require.NotNil(t, res.Verification)
	assert.Equal(t, 8, res.Verification.ImageID)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "verifying image 8")
}

func TestRunLoadErrorIsRecorded(t *testing.T) {
	in := datasetInputs(t, 4)
	in[1] = Input{Index: 1, Path: "1.png", Err: errors.New("corrupt file")}

	p := newPipeline(t, func(b *Builder) { b.WithPolicy(PolicyTolerant) })
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Usable)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0], "corrupt file")
}

type failingSource struct{ err error }

func (s failingSource) Load(context.Context) ([]Input, []string, error) {
	return nil, []string{"first file missing"}, s.err
}

func TestRunSourceFailure(t *testing.T) {
	missing := calerr.New(calerr.KindMissingInputFile, "load", "board.png", nil)
	p := newPipeline(t, nil)
	res, err := p.Run(context.Background(), failingSource{err: missing})
	require.Error(t, err)
	assert.Equal(t, 4, calerr.ExitCode(err))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, []string{"first file missing"}, res.Warnings)
}

func TestRunLiveTracking(t *testing.T) {
	var got camera.Model
	live := func(_ context.Context, m camera.Model) error {
		got = m
		return nil
	}
	p := newPipeline(t, func(b *Builder) { b.WithLive(live) })
	res, err := p.Run(context.Background(), datasetInputs(t, 5))
	require.NoError(t, err)
	assert.Equal(t, res.Calibration.Model, got)
	assert.Contains(t, res.Timings, "live")
}

func TestRunLiveDeviceUnavailableIsSkipped(t *testing.T) {
	live := func(context.Context, camera.Model) error {
		return calerr.New(calerr.KindDeviceUnavailable, "open", "http://camera.invalid", nil)
	}
	p := newPipeline(t, func(b *Builder) { b.WithLive(live) })
	res, err := p.Run(context.Background(), datasetInputs(t, 5))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.NotEmpty(t, res.Warnings)
}

func TestRunLiveErrorFails(t *testing.T) {
	live := func(context.Context, camera.Model) error { return errors.New("stream broke") }
	p := newPipeline(t, func(b *Builder) { b.WithLive(live) })
	res, err := p.Run(context.Background(), datasetInputs(t, 5))
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPipeline(t, nil)
	res, err := p.Run(ctx, datasetInputs(t, 4))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, res.State)
}

func TestDetectOneMarksFailures(t *testing.T) {
	p := newPipeline(t, nil)

	o := p.DetectOne(Input{Index: 7, Image: blankImage()})
	assert.False(t, o.Found)
	assert.ErrorIs(t, o.Err, calerr.ErrCornerDetectionFailure)
	assert.Equal(t, 640, o.Width)

	o = p.DetectOne(Input{Index: 8})
	assert.False(t, o.Found)
	assert.Error(t, o.Err)
}

func TestMarkSizeMismatches(t *testing.T) {
	obs := []board.Observation{
		{ImageID: 0, Found: false},
		{ImageID: 1, Found: true, Width: 640, Height: 480},
		{ImageID: 2, Found: true, Width: 800, Height: 600},
		{ImageID: 3, Found: true, Width: 640, Height: 480},
	}
	markSizeMismatches(obs)
	assert.True(t, obs[1].Found)
	assert.False(t, obs[2].Found)
	assert.ErrorContains(t, obs[2].Err, "800x600")
	assert.True(t, obs[3].Found)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Board.Rows = 2
	cfg.Policy = "lenient"
	cfg.ReferenceIndex = -3
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "rows")
	assert.ErrorContains(t, err, "lenient")
	assert.ErrorContains(t, err, "reference index")

	_, err = NewBuilder().WithConfig(cfg).Build()
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy(" Tolerant ")
	require.NoError(t, err)
	assert.Equal(t, PolicyTolerant, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}
