package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/corners"
	"github.com/MeKo-Tech/checkercal/internal/overlay"
	"github.com/MeKo-Tech/checkercal/internal/pose"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/golang/geo/r2"
)

// Config controls a tracking session.
type Config struct {
	Source    string
	MaxFrames int  // 0 means until the source ends
	Refine    bool // sub-pixel refinement per frame
	OutputDir string
	Options   SourceOptions
}

// DefaultConfig returns the default tracking configuration.
func DefaultConfig() Config {
	return Config{Refine: true}
}

// FrameResult is the outcome for one frame. Frames without a board carry
// Found=false and the unmodified image.
type FrameResult struct {
	Seq       int           `json:"seq"`
	Found     bool          `json:"found"`
	Pose      *camera.Pose  `json:"pose,omitempty"`
	Inliers   int           `json:"inliers,omitempty"`
	RMS       float64       `json:"rms,omitempty"`
	Origin    *r2.Point     `json:"origin,omitempty"`
	Axes      []r2.Point    `json:"axes,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	Error     string        `json:"error,omitempty"`
	Annotated image.Image   `json:"-"`
}

// Stats summarizes a tracking session.
type Stats struct {
	Frames  int
	Tracked int
	Elapsed time.Duration
}

// Sink consumes frame results in order. Returning an error stops the loop.
type Sink func(FrameResult) error

// Tracker detects the board and estimates its pose in single frames. It is
// safe for concurrent use; the model and components are read-only.
type Tracker struct {
	model     camera.Model
	spec      board.Spec
	detector  *corners.Detector
	refiner   *corners.Refiner
	estimator *pose.Estimator
	style     overlay.Style
	refine    bool
}

// NewTracker assembles a tracker. refiner may be nil when refinement is off.
func NewTracker(model camera.Model, spec board.Spec, det *corners.Detector, ref *corners.Refiner,
	est *pose.Estimator, style overlay.Style, refine bool,
) (*Tracker, error) {
	if err := model.CheckValid(); err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	if det == nil || est == nil {
		return nil, errors.New("tracker: detector and estimator are required")
	}
	if refine && ref == nil {
		return nil, errors.New("tracker: refinement requested without a refiner")
	}
	return &Tracker{
		model:     model,
		spec:      spec,
		detector:  det,
		refiner:   ref,
		estimator: est,
		style:     style,
		refine:    refine,
	}, nil
}

// Process solves one frame from scratch.
func (t *Tracker) Process(ctx context.Context, f Frame) FrameResult {
	start := time.Now()
	res := FrameResult{Seq: f.Seq, Annotated: f.Image}
	fail := func(err error) FrameResult {
		res.Error = err.Error()
		res.Latency = time.Since(start)
		return res
	}

	pts, err := t.detector.Detect(f.Image, t.spec)
	if err != nil {
		return fail(err)
	}
	if t.refine {
		g := utils.NewGray(f.Image)
		pts = t.refiner.Refine(g, pts)
		g.Release()
	}
	est, err := t.estimator.Estimate(ctx, t.spec.ObjectPoints(), pts, t.model)
	if err != nil {
		return fail(err)
	}
	ends, err := overlay.AxisEndpoints(t.model, est.Pose, t.style.AxisLength)
	if err != nil {
		return fail(err)
	}
	annotated, err := overlay.DrawAxes(f.Image, pts[0], t.model, est.Pose, t.style)
	if err != nil {
		return fail(err)
	}
	p, origin := est.Pose, pts[0]
	res.Found = true
	res.Pose = &p
	res.Inliers = len(est.Inliers)
	res.RMS = est.RMS
	res.Origin = &origin
	res.Axes = ends[:]
	res.Annotated = annotated
	res.Latency = time.Since(start)
	return res
}

// Run reads frames until the source ends, ctx is cancelled or maxFrames
// frames were handled, and always closes src. Cancellation is a normal
// stop and is returned as ctx.Err(). Frames that fail to decode are passed
// to sink as failed results and tracking continues.
func (t *Tracker) Run(ctx context.Context, src FrameSource, maxFrames int, sink Sink) (Stats, error) {
	defer func() { _ = src.Close() }()
	var st Stats
	start := time.Now()
	defer func() { st.Elapsed = time.Since(start) }()

	for maxFrames <= 0 || st.Frames < maxFrames {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		var r FrameResult
		var fe *FrameError
		switch {
		case errors.As(err, &fe):
			slog.Warn("Skipping undecodable frame", "seq", fe.Seq, "error", fe.Err)
			r = FrameResult{Seq: fe.Seq, Error: fe.Error()}
			f.Seq = fe.Seq
		case err != nil:
			st.Elapsed = time.Since(start)
			return st, err
		default:
			r = t.Process(ctx, f)
		}
		st.Frames++
		if r.Found {
			st.Tracked++
		}
		RecordFrame(r.Found)
		if sink != nil {
			if err := sink(r); err != nil {
				st.Elapsed = time.Since(start)
				return st, fmt.Errorf("frame %d: %w", f.Seq, err)
			}
		}
	}
	st.Elapsed = time.Since(start)
	slog.Info("Live tracking finished", "frames", st.Frames, "tracked", st.Tracked, "elapsed", st.Elapsed.Round(time.Millisecond))
	return st, nil
}

// DirSink writes every annotated frame to dir as <seq>.jpg and appends the
// pose to poses.jsonl.
func DirSink(dir string) (Sink, func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "poses.jsonl")) //nolint:gosec // G304: output dir is user supplied
	if err != nil {
		return nil, nil, fmt.Errorf("create pose log: %w", err)
	}
	enc := json.NewEncoder(f)
	sink := func(r FrameResult) error {
		if r.Annotated != nil {
			if err := utils.SaveImage(filepath.Join(dir, fmt.Sprintf("%d.jpg", r.Seq)), r.Annotated); err != nil {
				return err
			}
		}
		return enc.Encode(r)
	}
	return sink, f.Close, nil
}
