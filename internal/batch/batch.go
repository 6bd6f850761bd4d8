// Package batch runs calibration over images on disk: it discovers and
// loads the inputs, drives the pipeline and writes reports and artifacts.
package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/pipeline"
)

// Result holds the outcome of a batch calibration.
type Result struct {
	Pipeline *pipeline.Result
	Err      error // run error, nil on success
	Duration time.Duration
	Saved    []string // artifact files written
}

// Report summarizes the run.
func (r *Result) Report() *Report { return NewReport(r.Pipeline, r.Err) }

// FormatResults formats the report in the given format.
func (r *Result) FormatResults(format, lang string) (string, error) {
	return FormatReport(r.Report(), format, lang)
}

// SaveResults writes the formatted report to outputFile, or to w when no
// file is given.
func (r *Result) SaveResults(w io.Writer, format, lang, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format, lang)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	if outputFile == "" {
		_, err := io.WriteString(w, output)
		return err
	}
	if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if !quiet {
		_, _ = fmt.Fprintf(w, "Report written to %s\n", outputFile)
	}
	return nil
}

// buildPipeline creates the calibration pipeline from the batch config.
func buildPipeline(cfg *Config, progress pipeline.ProgressCallback, live pipeline.LiveFunc) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder().
		WithConfig(cfg.Pipeline).
		WithProgressCallback(progress)
	if live != nil {
		b = b.WithLive(live)
	}
	return b.Build()
}

// Run calibrates from the configured images. Artifacts (model file,
// verification images) are written even when the live step fails, as long
// as calibration succeeded. The returned error is the run error; Result is
// never nil.
func Run(ctx context.Context, cfg *Config, live pipeline.LiveFunc) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return &Result{Err: err}, fmt.Errorf("invalid batch config: %w", err)
	}

	var progress pipeline.ProgressCallback
	if cfg.ShowProgress && !cfg.Quiet {
		progress = pipeline.NewConsoleProgressCallback(cfg.progressWriter(), "Detecting: ").
			WithUpdateInterval(cfg.ProgressInterval)
	}
	pl, err := buildPipeline(cfg, progress, live)
	if err != nil {
		return &Result{Err: err}, fmt.Errorf("failed to build pipeline: %w", err)
	}

	start := time.Now()
	res, runErr := pl.Run(ctx, cfg.Source())
	out := &Result{Pipeline: res, Err: runErr, Duration: time.Since(start)}

	if res != nil && res.Calibration != nil {
		saved, err := saveArtifacts(cfg, res)
		out.Saved = saved
		if err != nil && runErr == nil {
			out.Err = err
			return out, err
		}
	}
	return out, runErr
}
