package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/common"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/golang/geo/r2"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

// Source supplies the images of one run. Warnings describe non-fatal load
// problems, such as a missing first file.
type Source interface {
	Load(ctx context.Context) (inputs []Input, warnings []string, err error)
}

// Inputs is an in-memory Source.
type Inputs []Input

// Load returns the inputs unchanged.
func (in Inputs) Load(context.Context) ([]Input, []string, error) { return in, nil, nil }

// Run executes one full calibration. The returned Result is never nil and
// records how far the run got; err is set whenever the run ends in Failed.
func (p *Pipeline) Run(ctx context.Context, src Source) (*Result, error) {
	var listeners []Listener
	if p.cfg.Listener != nil {
		listeners = append(listeners, p.cfg.Listener)
	}
	m := NewMachine(p.logger, listeners...)
	stages := common.NewStages()
	memBefore := common.GetMemoryStats()
	res := &Result{Board: p.cfg.Board, Policy: p.cfg.Policy}
	defer func() {
		res.State = m.State()
		res.Timings = stages.Durations()
		p.logger.Debug("Run finished",
			"state", res.State.String(),
			"stages", stages.String(),
			"allocated_kb", common.GetMemoryStats().AllocatedSince(memBefore)/1024)
	}()

	fail := func(err error) (*Result, error) {
		_ = m.Fail(err.Error())
		return res, err
	}

	// loading
	if err := m.To(StateLoadingImages); err != nil {
		return fail(err)
	}
	stop := stages.Start("load")
	inputs, warnings, err := src.Load(ctx)
	stop()
	res.Warnings = append(res.Warnings, warnings...)
	if err != nil {
		return fail(fmt.Errorf("load images: %w", err))
	}
	for _, w := range warnings {
		p.logger.Warn("Input warning", "detail", w)
	}

	// detection
	if err := m.To(StateDetectingCorners); err != nil {
		return fail(err)
	}
	stop = stages.Start("detect")
	obs, err := p.Detect(ctx, inputs)
	stop()
	if err != nil {
		return fail(fmt.Errorf("detect corners: %w", err))
	}
	res.Observations = obs
	usable := res.UsableObservations()
	res.Usable = len(usable)
	res.Failures = lo.Map(multierr.Errors(failureError(p.cfg.Board, obs)), func(e error, _ int) string {
		return e.Error()
	})
	if len(usable) > 0 {
		res.ImageWidth, res.ImageHeight = usable[0].Width, usable[0].Height
		all := lo.FlatMap(usable, func(o board.Observation, _ int) []r2.Point { return o.Corners })
		res.Coverage = utils.CoverageFraction(all, res.ImageWidth, res.ImageHeight)
	}
	p.logger.Info("Corner detection done",
		"images", len(obs), "usable", res.Usable, "coverage", fmt.Sprintf("%.2f", res.Coverage))

	// calibration
	if err := m.To(StateCalibrating); err != nil {
		return fail(err)
	}
	stop = stages.Start("calibrate")
	cal, err := p.Calibrate(ctx, obs)
	stop()
	if err != nil {
		return fail(err)
	}
	res.Calibration = cal

	// verification
	if err := m.To(StateVerifying); err != nil {
		return fail(err)
	}
	stop = stages.Start("verify")
	ref, img, warn := p.reference(inputs, obs)
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
		p.logger.Warn("Reference image replaced", "detail", warn)
	}
	ver, err := p.Verify(ctx, img, ref, cal.Model)
	stop()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		res.Warnings = append(res.Warnings, err.Error())
		p.logger.Warn("Verification failed", "error", err)
	}
	res.Verification = ver

	// live tracking
	if p.cfg.Live != nil {
		if err := m.To(StateLiveTracking); err != nil {
			return fail(err)
		}
		stop = stages.Start("live")
		err := p.cfg.Live(ctx, cal.Model)
		stop()
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, calerr.ErrDeviceUnavailable):
			res.Warnings = append(res.Warnings, err.Error())
			p.logger.Warn("Live tracking skipped", "error", err)
		default:
			return fail(fmt.Errorf("live tracking: %w", err))
		}
	}

	if err := m.To(StateDone); err != nil {
		return fail(err)
	}
	return res, nil
}

// reference picks the verification observation. An unusable configured
// reference falls back to the last usable image with a warning.
func (p *Pipeline) reference(inputs []Input, obs []board.Observation) (board.Observation, image.Image, string) {
	imageOf := func(o board.Observation) image.Image {
		in, _ := lo.Find(inputs, func(in Input) bool { return in.Index == o.ImageID })
		return in.Image
	}
	want := p.cfg.ReferenceIndex
	var chosen board.Observation
	var ok bool
	if want < 0 {
		if len(obs) > 0 {
			chosen, ok = obs[len(obs)-1], true
		}
	} else {
		chosen, ok = lo.Find(obs, func(o board.Observation) bool { return o.ImageID == want })
	}
	if ok && chosen.Usable(p.cfg.Board) {
		return chosen, imageOf(chosen), ""
	}

	usable := lo.Filter(obs, func(o board.Observation, _ int) bool { return o.Usable(p.cfg.Board) })
	var fallback board.Observation
	if len(usable) > 0 {
		fallback = usable[len(usable)-1]
	}
	var warn string
	if ok {
		warn = fmt.Sprintf("reference image %d has no usable grid, verifying image %d instead", chosen.ImageID, fallback.ImageID)
	} else {
		warn = fmt.Sprintf("reference image %d not loaded, verifying image %d instead", want, fallback.ImageID)
	}
	return fallback, imageOf(fallback), warn
}
