// Package pipeline orchestrates a calibration run: detection, refinement,
// the joint solve and the verification render, driven by a state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calibrate"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/corners"
	"github.com/MeKo-Tech/checkercal/internal/overlay"
	"github.com/MeKo-Tech/checkercal/internal/pose"
)

// LiveFunc runs the optional live-tracking step with the calibrated model.
// It blocks until ctx is cancelled or the frame source is exhausted.
type LiveFunc func(ctx context.Context, model camera.Model) error

// Config holds configuration for the calibration pipeline and its components.
type Config struct {
	Board          board.Spec
	Detector       corners.DetectorConfig
	Refiner        corners.RefinerConfig
	Calibration    calibrate.Config
	Pose           pose.Config
	Policy         Policy
	ReferenceIndex int // verification image; -1 selects the last one
	Style          overlay.Style
	PreviewMaxDim  int // previews are halved when a side exceeds this; 0 disables
	Parallel       ParallelConfig

	Live     LiveFunc // optional
	Listener Listener // optional
	Logger   *slog.Logger
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		Board:          board.Spec{Rows: 7, Cols: 10, SquareSize: 25},
		Detector:       corners.DefaultDetectorConfig(),
		Refiner:        corners.DefaultRefinerConfig(),
		Calibration:    calibrate.DefaultConfig(),
		Pose:           pose.DefaultConfig(),
		Policy:         PolicyStrict,
		ReferenceIndex: -1,
		Style:          overlay.DefaultStyle(),
		PreviewMaxDim:  1280,
		Parallel:       DefaultParallelConfig(),
	}
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Board.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("board: %w", err))
	}
	if err := c.Detector.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if err := c.Refiner.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("refiner: %w", err))
	}
	if err := c.Calibration.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("calibration: %w", err))
	}
	if err := c.Pose.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pose: %w", err))
	}
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		errs = append(errs, err)
	}
	if c.ReferenceIndex < -1 {
		errs = append(errs, fmt.Errorf("reference index must be >= -1, got %d", c.ReferenceIndex))
	}
	if c.PreviewMaxDim < 0 {
		errs = append(errs, fmt.Errorf("preview max dim must be >= 0, got %d", c.PreviewMaxDim))
	}
	return errors.Join(errs...)
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg Config
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithBoard sets the checkerboard geometry.
func (b *Builder) WithBoard(spec board.Spec) *Builder {
	b.cfg.Board = spec
	return b
}

// WithPolicy sets the detection failure policy.
func (b *Builder) WithPolicy(p Policy) *Builder {
	b.cfg.Policy = p
	return b
}

// WithMinViews sets the smallest number of usable images accepted.
func (b *Builder) WithMinViews(n int) *Builder {
	if n > 0 {
		b.cfg.Calibration.MinViews = n
	}
	return b
}

// WithRationalModel enables the k4..k6 distortion terms.
func (b *Builder) WithRationalModel(enabled bool) *Builder {
	b.cfg.Calibration.RationalModel = enabled
	return b
}

// WithReferenceIndex selects the verification image; -1 means the last.
func (b *Builder) WithReferenceIndex(i int) *Builder {
	b.cfg.ReferenceIndex = i
	return b
}

// WithDetectorConfig overrides the corner detector settings.
func (b *Builder) WithDetectorConfig(c corners.DetectorConfig) *Builder {
	b.cfg.Detector = c
	return b
}

// WithRefinerConfig overrides the sub-pixel refinement settings.
func (b *Builder) WithRefinerConfig(c corners.RefinerConfig) *Builder {
	b.cfg.Refiner = c
	return b
}

// WithCalibrationConfig overrides the solver settings.
func (b *Builder) WithCalibrationConfig(c calibrate.Config) *Builder {
	b.cfg.Calibration = c
	return b
}

// WithPoseConfig overrides the consensus pose settings.
func (b *Builder) WithPoseConfig(c pose.Config) *Builder {
	b.cfg.Pose = c
	return b
}

// WithStyle sets the overlay style.
func (b *Builder) WithStyle(s overlay.Style) *Builder {
	b.cfg.Style = s
	return b
}

// WithPreviewMaxDim sets the preview size limit.
func (b *Builder) WithPreviewMaxDim(n int) *Builder {
	if n >= 0 {
		b.cfg.PreviewMaxDim = n
	}
	return b
}

// WithParallelWorkers sets the number of detection workers.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithProgressCallback sets the detection progress callback.
func (b *Builder) WithProgressCallback(callback ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = callback
	return b
}

// WithLive enables the live-tracking step after verification.
func (b *Builder) WithLive(fn LiveFunc) *Builder {
	b.cfg.Live = fn
	return b
}

// WithListener registers a state transition listener.
func (b *Builder) WithListener(l Listener) *Builder {
	b.cfg.Listener = l
	return b
}

// WithLogger sets the logger used for run events.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.cfg.Logger = l
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration and creates the components.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.cfg)
}

// Pipeline wires together the detector, refiner, solver and pose estimator.
// One Pipeline may serve several runs; each run has its own state machine.
type Pipeline struct {
	cfg       Config
	Detector  *corners.Detector
	Refiner   *corners.Refiner
	Solver    *calibrate.Solver
	Estimator *pose.Estimator
	logger    *slog.Logger
}

// New creates a pipeline from cfg.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyStrict
	}
	det, err := corners.NewDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}
	ref, err := corners.NewRefiner(cfg.Refiner)
	if err != nil {
		return nil, err
	}
	solver, err := calibrate.NewSolver(cfg.Calibration)
	if err != nil {
		return nil, err
	}
	est, err := pose.NewEstimator(cfg.Pose)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		Detector:  det,
		Refiner:   ref,
		Solver:    solver,
		Estimator: est,
		logger:    logger,
	}, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }
