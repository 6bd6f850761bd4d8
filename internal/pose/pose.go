// Package pose estimates the pose of a known object in one image with a
// fixed camera model, robust to outlier correspondences.
package pose

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/geometry"
	"github.com/MeKo-Tech/checkercal/internal/lm"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// ErrNoConsensus is returned when no sample yields enough inliers.
var ErrNoConsensus = errors.New("no pose with enough inliers")

const behindCamera = 1e4

// Config controls the consensus sampling.
type Config struct {
	Confidence    float64 // probability of drawing one all-inlier sample
	MaxIterations int
	Threshold     float64 // inlier reprojection distance in pixels
	Seed          uint64
	MinInliers    int // zero means the minimal sample size
}

// DefaultConfig returns the default estimator configuration.
func DefaultConfig() Config {
	return Config{
		Confidence:    0.99,
		MaxIterations: 100,
		Threshold:     8,
		Seed:          1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Confidence <= 0 || c.Confidence >= 1 {
		errs = append(errs, fmt.Errorf("confidence must be in (0, 1), got %g", c.Confidence))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations))
	}
	if c.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("threshold must be positive, got %g", c.Threshold))
	}
	if c.MinInliers < 0 {
		errs = append(errs, fmt.Errorf("min inliers must not be negative, got %d", c.MinInliers))
	}
	return errors.Join(errs...)
}

// Result is an estimated pose with its supporting correspondences.
type Result struct {
	Pose       camera.Pose
	Inliers    []int // indices into the input points, ascending
	RMS        float64
	Iterations int // consensus samples drawn
}

// Estimator is stateless between calls and safe for concurrent use.
type Estimator struct {
	cfg Config
}

// NewEstimator validates cfg and builds an estimator.
func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pose config: %w", err)
	}
	return &Estimator{cfg: cfg}, nil
}

// Config returns the estimator configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Estimate recovers the pose mapping object into the camera frame from
// their distorted pixel observations. Board (Z=0) objects use four point
// samples, anything else six.
func (e *Estimator) Estimate(ctx context.Context, object []r3.Vector, image []r2.Point, model camera.Model) (*Result, error) {
	if len(object) != len(image) {
		return nil, fmt.Errorf("pose: %d object vs %d image points", len(object), len(image))
	}
	if err := model.CheckValid(); err != nil {
		return nil, fmt.Errorf("pose: invalid model: %w", err)
	}
	planar := geometry.OnBoardPlane(object)
	sample := 6
	if planar {
		sample = 4
	}
	if len(object) < sample {
		return nil, fmt.Errorf("pose: need at least %d points, got %d", sample, len(object))
	}
	minInliers := max(e.cfg.MinInliers, sample)

	norm := make([]r2.Point, len(image))
	for i, p := range image {
		norm[i] = model.UndistortPoint(p)
	}
	fit := func(idx []int) (camera.Pose, error) {
		obj := make([]r3.Vector, len(idx))
		pts := make([]r2.Point, len(idx))
		for k, i := range idx {
			obj[k], pts[k] = object[i], norm[i]
		}
		if planar {
			return geometry.PlanarPose(obj, pts)
		}
		return geometry.PoseDLT(obj, pts)
	}

	rng := rand.New(rand.NewPCG(e.cfg.Seed, 0x9e3779b97f4a7c15))
	var (
		best      []int
		bestErr   = math.Inf(1)
		bestPose  camera.Pose
		found     bool
		idx       = make([]int, sample)
		limit     = e.cfg.MaxIterations
		iteration int
	)
	for iteration = 0; iteration < limit; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		drawSample(rng, len(object), idx)
		candidate, err := fit(idx)
		if err != nil {
			continue
		}
		inliers, sum := e.inliers(model, candidate, object, image)
		if len(inliers) > len(best) || (len(inliers) == len(best) && sum < bestErr) {
			best, bestErr, bestPose, found = inliers, sum, candidate, true
			if len(best) == len(object) {
				iteration++
				break
			}
			limit = min(limit, adaptiveLimit(e.cfg.Confidence, float64(len(best))/float64(len(object)), sample, e.cfg.MaxIterations))
		}
	}
	if !found || len(best) < minInliers {
		return nil, fmt.Errorf("pose: %w (best %d of %d, need %d)", ErrNoConsensus, len(best), len(object), minInliers)
	}

	// linear re-fit on the consensus set, then nonlinear polish
	if p, err := fit(best); err == nil {
		bestPose = p
	}
	refined, err := e.refine(ctx, model, bestPose, object, image, best)
	if err != nil {
		return nil, err
	}
	inliers, _ := e.inliers(model, refined, object, image)
	if len(inliers) < minInliers {
		inliers = best
	}

	var sq float64
	errs := model.ReprojectionErrors(object, image, refined)
	for _, i := range inliers {
		sq += errs[i] * errs[i]
	}
	return &Result{
		Pose:       refined,
		Inliers:    inliers,
		RMS:        math.Sqrt(sq / float64(len(inliers))),
		Iterations: iteration,
	}, nil
}

// inliers returns the indices within the threshold and their summed error.
func (e *Estimator) inliers(model camera.Model, pose camera.Pose, object []r3.Vector, image []r2.Point) ([]int, float64) {
	var (
		out []int
		sum float64
	)
	rot := pose.Matrix()
	for i, obj := range object {
		px, ok := model.ProjectPoint(rot.MulVec(obj).Add(pose.Translation))
		if !ok {
			continue
		}
		if d := px.Sub(image[i]).Norm(); d < e.cfg.Threshold {
			out = append(out, i)
			sum += d
		}
	}
	return out, sum
}

func (e *Estimator) refine(ctx context.Context, model camera.Model, start camera.Pose, object []r3.Vector, image []r2.Point, idx []int) (camera.Pose, error) {
	residuals := func(p, r []float64) {
		pose := camera.PoseFromParams(p)
		rot := pose.Matrix()
		for k, i := range idx {
			px, ok := model.ProjectPoint(rot.MulVec(object[i]).Add(pose.Translation))
			if !ok {
				r[2*k], r[2*k+1] = behindCamera, behindCamera
				continue
			}
			r[2*k] = px.X - image[i].X
			r[2*k+1] = px.Y - image[i].Y
		}
	}
	settings := lm.DefaultSettings()
	settings.MaxIterations = 20
	res, err := lm.Minimize(ctx, lm.Problem{
		NumParams:    6,
		NumResiduals: 2 * len(idx),
		Residuals:    residuals,
	}, start.Params(), settings)
	if err != nil {
		if errors.Is(err, lm.ErrNonFinite) {
			return start, nil
		}
		return camera.Pose{}, fmt.Errorf("pose refine: %w", err)
	}
	return camera.PoseFromParams(res.Params), nil
}

// drawSample fills idx with distinct random indices below n.
func drawSample(rng *rand.Rand, n int, idx []int) {
	for k := range idx {
	retry:
		for {
			c := rng.IntN(n)
			for _, prev := range idx[:k] {
				if prev == c {
					continue retry
				}
			}
			idx[k] = c
			break
		}
	}
}

// adaptiveLimit is the number of samples needed to draw one all-inlier
// sample with the given confidence at inlier ratio w.
func adaptiveLimit(confidence, w float64, sample, ceiling int) int {
	pAll := math.Pow(w, float64(sample))
	if pAll >= 1 {
		return 1
	}
	if pAll <= 0 {
		return ceiling
	}
	n := math.Log(1-confidence) / math.Log(1-pAll)
	if math.IsNaN(n) || n > float64(ceiling) {
		return ceiling
	}
	return max(int(math.Ceil(n)), 1)
}
