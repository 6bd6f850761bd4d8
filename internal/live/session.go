package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/corners"
	"github.com/MeKo-Tech/checkercal/internal/pipeline"
	"github.com/MeKo-Tech/checkercal/internal/pose"
)

// NewTrackerFromConfig builds a tracker with components configured like
// the calibration pipeline.
func NewTrackerFromConfig(model camera.Model, pc pipeline.Config, refine bool) (*Tracker, error) {
	det, err := corners.NewDetector(pc.Detector)
	if err != nil {
		return nil, err
	}
	ref, err := corners.NewRefiner(pc.Refiner)
	if err != nil {
		return nil, err
	}
	est, err := pose.NewEstimator(pc.Pose)
	if err != nil {
		return nil, err
	}
	return NewTracker(model, pc.Board, det, ref, est, pc.Style, refine)
}

// Track opens cfg.Source and tracks until it ends, ctx is cancelled or
// cfg.MaxFrames is reached. Annotated frames go to cfg.OutputDir when set.
func Track(ctx context.Context, cfg Config, pc pipeline.Config, model camera.Model, extra Sink) (Stats, error) {
	tr, err := NewTrackerFromConfig(model, pc, cfg.Refine)
	if err != nil {
		return Stats{}, err
	}
	src, err := Open(ctx, cfg.Source, cfg.Options)
	if err != nil {
		return Stats{}, err
	}

	sink := extra
	if cfg.OutputDir != "" {
		dirSink, closeDir, err := DirSink(cfg.OutputDir)
		if err != nil {
			_ = src.Close()
			return Stats{}, err
		}
		defer func() { _ = closeDir() }()
		sink = chain(dirSink, extra)
	}
	st, err := tr.Run(ctx, src, cfg.MaxFrames, sink)
	if errors.Is(err, context.Canceled) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("track %s: %w", cfg.Source, err)
	}
	return st, nil
}

// Func adapts Track to the pipeline's optional live-tracking step.
func Func(cfg Config, pc pipeline.Config) pipeline.LiveFunc {
	return func(ctx context.Context, model camera.Model) error {
		_, err := Track(ctx, cfg, pc, model, nil)
		return err
	}
}

func chain(sinks ...Sink) Sink {
	return func(r FrameResult) error {
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s(r); err != nil {
				return err
			}
		}
		return nil
	}
}
