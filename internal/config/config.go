package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/batch"
	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calibrate"
	"github.com/MeKo-Tech/checkercal/internal/corners"
	"github.com/MeKo-Tech/checkercal/internal/live"
	"github.com/MeKo-Tech/checkercal/internal/pipeline"
	"github.com/MeKo-Tech/checkercal/internal/pose"
	"github.com/MeKo-Tech/checkercal/internal/server"
	"golang.org/x/text/language"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// DefaultConfig returns a configuration with the component defaults.
func DefaultConfig() Config {
	pc := pipeline.DefaultConfig()
	bc := batch.DefaultConfig()
	lc := live.DefaultConfig()
	return Config{
		LogLevel: "info",
		Board: BoardConfig{
			Rows:       pc.Board.Rows,
			Cols:       pc.Board.Cols,
			SquareSize: pc.Board.SquareSize,
		},
		Batch: BatchConfig{
			Dir:       bc.Dir,
			Pattern:   bc.Pattern,
			Extension: bc.Extension,
			MaxImages: bc.MaxImages,
		},
		Detector:    defaultDetectorConfig(),
		Subpix:      defaultSubpixConfig(),
		Calibration: defaultCalibrationConfig(),
		Pose:        defaultPoseConfig(),
		Verify: VerifyConfig{
			ReferenceIndex: pc.ReferenceIndex,
			AxisLength:     pc.Style.AxisLength,
			AxisWidth:      pc.Style.AxisWidth,
			XColor:         "#ff0000",
			YColor:         "#0000ff",
			ZColor:         "#00ff00",
			Labels:         pc.Style.Labels,
		},
		Output: OutputConfig{
			Format:        bc.Format,
			PreviewMaxDim: pc.PreviewMaxDim,
			Language:      bc.Language,
		},
		Pipeline: PipelineConfig{MaxWorkers: pc.Parallel.MaxWorkers},
		Live: LiveConfig{
			Refine:    lc.Refine,
			Extension: ".jpg",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
		},
	}
}

func defaultDetectorConfig() DetectorConfig {
	cfg := corners.DefaultDetectorConfig()
	return DetectorConfig{
		BlurSigma:         cfg.BlurSigma,
		ResponseThreshold: cfg.ResponseThreshold,
		NMSWindow:         cfg.NMSWindow,
		RingRadius:        cfg.RingRadius,
		MinContrast:       cfg.MinContrast,
		GrowTolerance:     cfg.GrowTolerance,
		MaxSeeds:          cfg.MaxSeeds,
	}
}

func defaultSubpixConfig() SubpixConfig {
	cfg := corners.DefaultRefinerConfig()
	return SubpixConfig{
		HalfWindow:    cfg.HalfWindow,
		MaxIterations: cfg.MaxIterations,
		Epsilon:       cfg.Epsilon,
		GradientSigma: cfg.GradientSigma,
	}
}

func defaultCalibrationConfig() CalibrationConfig {
	cfg := calibrate.DefaultConfig()
	return CalibrationConfig{
		Policy:        string(pipeline.PolicyStrict),
		MinViews:      cfg.MinViews,
		MaxIterations: cfg.MaxIterations,
		RationalModel: cfg.RationalModel,
		EstimateSkew:  cfg.EstimateSkew,
		MaxRMS:        cfg.MaxRMS,
		MinViewAngle:  cfg.MinViewAngle,
	}
}

func defaultPoseConfig() PoseConfig {
	cfg := pose.DefaultConfig()
	return PoseConfig{
		RansacIterations:      cfg.MaxIterations,
		ReprojectionThreshold: cfg.Threshold,
		Confidence:            cfg.Confidence,
		Seed:                  cfg.Seed,
		MinInliers:            cfg.MinInliers,
	}
}

// Validate validates the configuration and returns the first problem found.
// Component sections are checked by converting them and validating the
// resulting package configs.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if _, err := language.Parse(c.Output.Language); err != nil {
		return fmt.Errorf("invalid output language %q: %w", c.Output.Language, err)
	}
	if err := validateThreshold(c.Pose.Confidence, "pose.confidence"); err != nil {
		return err
	}
	if c.Output.PreviewMaxDim < 0 {
		return fmt.Errorf("invalid preview max dim: %d (must be >= 0)", c.Output.PreviewMaxDim)
	}
	if c.Live.MaxFrames < 0 {
		return fmt.Errorf("invalid live max frames: %d (must be >= 0)", c.Live.MaxFrames)
	}
	if c.Live.IntervalMS < 0 {
		return fmt.Errorf("invalid live interval: %d ms (must be >= 0)", c.Live.IntervalMS)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Pipeline.MaxWorkers < 0 {
		return fmt.Errorf("invalid parallel max workers: %d (must be >= 0)", c.Pipeline.MaxWorkers)
	}

	bc, err := c.ToBatchConfig()
	if err != nil {
		return err
	}
	return bc.Validate()
}

// ToPipelineConfig converts the config to the pipeline configuration. It
// fails only on unparsable overlay colors or policy names.
func (c *Config) ToPipelineConfig() (pipeline.Config, error) {
	policy, err := pipeline.ParsePolicy(c.Calibration.Policy)
	if err != nil {
		return pipeline.Config{}, err
	}
	pc := pipeline.DefaultConfig()
	pc.Board = board.Spec{Rows: c.Board.Rows, Cols: c.Board.Cols, SquareSize: c.Board.SquareSize}
	pc.Detector = c.toDetectorConfig()
	pc.Refiner = c.toRefinerConfig()
	pc.Calibration = c.toCalibrationConfig()
	pc.Pose = c.toPoseConfig()
	pc.Policy = policy
	pc.ReferenceIndex = c.Verify.ReferenceIndex
	pc.PreviewMaxDim = c.Output.PreviewMaxDim
	pc.Parallel.MaxWorkers = c.Pipeline.MaxWorkers

	style, err := pc.Style.WithColors(c.Verify.XColor, c.Verify.YColor, c.Verify.ZColor)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("verify: %w", err)
	}
	style.AxisLength = c.Verify.AxisLength
	style.AxisWidth = c.Verify.AxisWidth
	style.Labels = c.Verify.Labels
	pc.Style = style
	return pc, nil
}

func (c *Config) toDetectorConfig() corners.DetectorConfig {
	return corners.DetectorConfig{
		BlurSigma:         c.Detector.BlurSigma,
		ResponseThreshold: c.Detector.ResponseThreshold,
		NMSWindow:         c.Detector.NMSWindow,
		RingRadius:        c.Detector.RingRadius,
		MinContrast:       c.Detector.MinContrast,
		GrowTolerance:     c.Detector.GrowTolerance,
		MaxSeeds:          c.Detector.MaxSeeds,
	}
}

func (c *Config) toRefinerConfig() corners.RefinerConfig {
	return corners.RefinerConfig{
		HalfWindow:    c.Subpix.HalfWindow,
		MaxIterations: c.Subpix.MaxIterations,
		Epsilon:       c.Subpix.Epsilon,
		GradientSigma: c.Subpix.GradientSigma,
	}
}

func (c *Config) toCalibrationConfig() calibrate.Config {
	return calibrate.Config{
		MinViews:      c.Calibration.MinViews,
		MaxIterations: c.Calibration.MaxIterations,
		RationalModel: c.Calibration.RationalModel,
		EstimateSkew:  c.Calibration.EstimateSkew,
		MaxRMS:        c.Calibration.MaxRMS,
		MinViewAngle:  c.Calibration.MinViewAngle,
	}
}

func (c *Config) toPoseConfig() pose.Config {
	return pose.Config{
		Confidence:    c.Pose.Confidence,
		MaxIterations: c.Pose.RansacIterations,
		Threshold:     c.Pose.ReprojectionThreshold,
		Seed:          c.Pose.Seed,
		MinInliers:    c.Pose.MinInliers,
	}
}

// ToBatchConfig converts the config to the batch calibration configuration.
func (c *Config) ToBatchConfig() (batch.Config, error) {
	pc, err := c.ToPipelineConfig()
	if err != nil {
		return batch.Config{}, err
	}
	bc := batch.DefaultConfig()
	bc.Dir = c.Batch.Dir
	bc.Pattern = c.Batch.Pattern
	bc.Extension = c.Batch.Extension
	bc.MaxImages = c.Batch.MaxImages
	bc.Format = c.Output.Format
	bc.OutputFile = c.Output.File
	bc.ModelFile = c.Output.ModelFile
	bc.OverlayDir = c.Output.OverlayDir
	bc.Language = c.Output.Language
	bc.Pipeline = pc
	return bc, nil
}

// ToLiveConfig converts the live section.
func (c *Config) ToLiveConfig() live.Config {
	return live.Config{
		Source:    c.Live.Source,
		MaxFrames: c.Live.MaxFrames,
		Refine:    c.Live.Refine,
		OutputDir: c.Live.OutputDir,
		Options: live.SourceOptions{
			Extension: c.Live.Extension,
			Interval:  time.Duration(c.Live.IntervalMS) * time.Millisecond,
		},
	}
}

// ToServerConfig converts the server section together with the pipeline
// settings used by its handlers.
func (c *Config) ToServerConfig() (server.Config, error) {
	pc, err := c.ToPipelineConfig()
	if err != nil {
		return server.Config{}, err
	}
	rl := c.Server.RateLimit
	return server.Config{
		Host:        c.Server.Host,
		Port:        c.Server.Port,
		CORSOrigin:  c.Server.CORSOrigin,
		MaxUploadMB: int64(c.Server.MaxUploadMB),
		TimeoutSec:  c.Server.TimeoutSec,
		ModelFile:   c.Server.ModelFile,
		Pipeline:    pc,
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     int64(rl.MaxDataPerDayMB) * 1024 * 1024,
		},
	}, nil
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
