package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/calibrate"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/overlay"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

// Detect locates and refines the board corners in every input on the
// worker pool. Per-image failures are recorded on the observation; only
// cancellation fails the call. Observations are returned in input order.
func (p *Pipeline) Detect(ctx context.Context, inputs []Input) ([]board.Observation, error) {
	obs, _, err := parallelMap(ctx, inputs, p.cfg.Parallel,
		func(ctx context.Context, _ int, in Input) (board.Observation, error) {
			o := p.DetectOne(in)
			return o, o.Err
		})
	if err != nil {
		return nil, err
	}
	markSizeMismatches(obs)
	return obs, nil
}

// DetectOne runs detection and sub-pixel refinement on a single input.
func (p *Pipeline) DetectOne(in Input) board.Observation {
	o := board.Observation{ImageID: in.Index, Path: in.Path}
	if in.Err != nil {
		o.Err = in.Err
		return o
	}
	if in.Image == nil {
		o.Err = calerr.New(calerr.KindCornerDetectionFailure, "detect", "no image data", nil)
		return o
	}
	b := in.Image.Bounds()
	o.Width, o.Height = b.Dx(), b.Dy()

	coarse, err := p.Detector.Detect(in.Image, p.cfg.Board)
	if err != nil {
		o.Err = err
		return o
	}
	g := utils.NewGray(in.Image)
	o.Corners = p.Refiner.Refine(g, coarse)
	g.Release()
	o.Found = true
	return o
}

// markSizeMismatches rejects found observations whose image size differs
// from the first found one; all views share one camera model.
func markSizeMismatches(obs []board.Observation) {
	ref, ok := lo.Find(obs, func(o board.Observation) bool { return o.Found })
	if !ok {
		return
	}
	for i := range obs {
		o := &obs[i]
		if o.Found && (o.Width != ref.Width || o.Height != ref.Height) {
			o.Found = false
			o.Err = fmt.Errorf("image size %dx%d differs from %dx%d", o.Width, o.Height, ref.Width, ref.Height)
		}
	}
}

// failureError combines the errors of all unusable observations.
func failureError(spec board.Spec, obs []board.Observation) error {
	var errs error
	for _, o := range obs {
		if o.Usable(spec) {
			continue
		}
		err := o.Err
		if err == nil {
			err = calerr.New(calerr.KindCornerDetectionFailure, "detect", "incomplete grid", nil)
		}
		errs = multierr.Append(errs, fmt.Errorf("image %d: %w", o.ImageID, err))
	}
	return errs
}

// Calibrate applies the detection policy and, when enough views remain,
// solves for the camera model. Too few views is reported as
// InsufficientObservations without invoking the solver.
func (p *Pipeline) Calibrate(ctx context.Context, obs []board.Observation) (*calibrate.Result, error) {
	spec := p.cfg.Board
	usable := lo.Filter(obs, func(o board.Observation, _ int) bool { return o.Usable(spec) })
	failed := len(obs) - len(usable)
	failures := failureError(spec, obs)

	if p.cfg.Policy == PolicyStrict && failed > 0 {
		return nil, calerr.New(calerr.KindInsufficientObservations, "calibrate",
			fmt.Sprintf("%d of %d images unusable under strict policy (usable=%d)", failed, len(obs), len(usable)),
			failures)
	}
	if minViews := p.cfg.Calibration.MinViews; len(usable) < minViews {
		return nil, calerr.New(calerr.KindInsufficientObservations, "calibrate",
			fmt.Sprintf("usable=%d, need at least %d", len(usable), minViews), failures)
	}
	if failed > 0 {
		p.logger.Warn("Calibrating without failed images",
			"usable", len(usable), "failed", failed, "errors", len(multierr.Errors(failures)))
	}

	object := spec.ObjectPoints()
	views := lo.Map(usable, func(o board.Observation, _ int) calibrate.View {
		return calibrate.View{ID: fmt.Sprint(o.ImageID), Object: object, Image: o.Corners}
	})
	return p.Solver.Solve(ctx, views, usable[0].Width, usable[0].Height)
}

// Verify estimates a fresh pose for one observation with the fixed model
// and renders the verification images from its source image.
func (p *Pipeline) Verify(ctx context.Context, img image.Image, o board.Observation, model camera.Model) (*Verification, error) {
	if !o.Usable(p.cfg.Board) {
		return nil, fmt.Errorf("verify: image %d has no complete grid", o.ImageID)
	}
	if img == nil {
		return nil, errors.New("verify: nil image")
	}
	est, err := p.Estimator.Estimate(ctx, p.cfg.Board.ObjectPoints(), o.Corners, model)
	if err != nil {
		return nil, fmt.Errorf("verify image %d: %w", o.ImageID, err)
	}
	style := p.cfg.Style
	origin := o.Corners[0]
	axes, err := overlay.AxisEndpoints(model, est.Pose, style.AxisLength)
	if err != nil {
		return nil, fmt.Errorf("verify image %d: %w", o.ImageID, err)
	}
	v := &Verification{
		ImageID: o.ImageID,
		Path:    o.Path,
		Pose:    est.Pose,
		Inliers: len(est.Inliers),
		RMS:     est.RMS,
		Origin:  origin,
		Axes:    axes,
	}

	if v.Images.Corners, err = overlay.DrawCorners(img, o.Corners, p.cfg.Board, true, style); err != nil {
		return nil, fmt.Errorf("draw corners: %w", err)
	}
	axesImg, err := overlay.DrawAxes(img, origin, model, est.Pose, style)
	if err != nil {
		return nil, fmt.Errorf("draw axes: %w", err)
	}
	v.Images.Axes = axesImg
	v.Images.Undistorted = model.UndistortImage(img)

	preview, err := utils.PreviewImage(axesImg, p.cfg.PreviewMaxDim)
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	if preview != image.Image(axesImg) {
		v.Images.Preview = preview
	}
	p.logger.Info("Verification pose",
		"image", o.ImageID,
		"inliers", v.Inliers,
		"rms", v.RMS,
		"rvec", est.Pose.Rotation,
		"tvec", est.Pose.Translation)
	return v, nil
}
