// Package calibrate estimates a shared camera model and one pose per view
// from planar checkerboard observations.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/geometry"
	"github.com/MeKo-Tech/checkercal/internal/lm"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// behindCamera is the residual assigned to each coordinate of a point that
// lands behind the camera during the search.
const behindCamera = 1e4

// Config controls the solver.
type Config struct {
	MinViews      int
	MaxIterations int
	RationalModel bool    // estimate k4..k6 in addition to k1, k2, p1, p2, k3
	EstimateSkew  bool    // otherwise skew is fixed at zero
	MaxRMS        float64 // pixels; a non-converged solve above this fails
	MinViewAngle  float64 // radians between the most different board normals
}

// DefaultConfig returns the default solver configuration.
func DefaultConfig() Config {
	return Config{
		MinViews:      3,
		MaxIterations: 100,
		MaxRMS:        2.0,
		MinViewAngle:  0.05,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	minViews := 2
	if c.EstimateSkew {
		minViews = 3
	}
	if c.MinViews < minViews {
		return fmt.Errorf("min views must be at least %d, got %d", minViews, c.MinViews)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxRMS <= 0 {
		return fmt.Errorf("max rms must be positive, got %g", c.MaxRMS)
	}
	if c.MinViewAngle < 0 {
		return fmt.Errorf("min view angle must not be negative, got %g", c.MinViewAngle)
	}
	return nil
}

// View is one image's worth of board-to-pixel correspondences.
type View struct {
	ID     string
	Object []r3.Vector
	Image  []r2.Point
}

// Result is the outcome of a successful calibration.
type Result struct {
	Model      camera.Model
	Poses      []camera.Pose
	RMS        float64 // root mean square point error in pixels
	InitialRMS float64
	Errors     ErrorStats
	PerView    []ViewStats
	Iterations int
	Condition  float64 // condition number of the normal matrix at the solution
	Converged  bool
	Reason     string
	Init       string // "zhang" or "fallback"
}

// Solver runs the bundle adjustment.
type Solver struct {
	cfg Config
}

// NewSolver validates cfg and builds a solver.
func NewSolver(cfg Config) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration config: %w", err)
	}
	return &Solver{cfg: cfg}, nil
}

// Config returns the solver configuration.
func (s *Solver) Config() Config { return s.cfg }

// Solve jointly estimates the camera model and one pose per view for images
// of width x height pixels.
func (s *Solver) Solve(ctx context.Context, views []View, width, height int) (*Result, error) {
	const op = "calibrate"
	if len(views) < s.cfg.MinViews {
		return nil, calerr.Newf(calerr.KindInsufficientObservations, op,
			"%d usable views, need at least %d", len(views), s.cfg.MinViews)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%s: invalid image size %dx%d", op, width, height)
	}
	points := 0
	for _, v := range views {
		if len(v.Object) != len(v.Image) {
			return nil, fmt.Errorf("%s: view %s: %d object vs %d image points", op, v.ID, len(v.Object), len(v.Image))
		}
		if len(v.Object) < 4 {
			return nil, fmt.Errorf("%s: view %s: need at least 4 points, got %d", op, v.ID, len(v.Object))
		}
		if !geometry.OnBoardPlane(v.Object) {
			return nil, fmt.Errorf("%s: view %s: object points are not on the board plane", op, v.ID)
		}
		points += len(v.Object)
	}

	hs := make([]camera.Mat3, len(views))
	for i, v := range views {
		src := make([]r2.Point, len(v.Object))
		for k, p := range v.Object {
			src[k] = r2.Point{X: p.X, Y: p.Y}
		}
		h, err := geometry.Homography(src, v.Image)
		if err != nil {
			return nil, calerr.New(calerr.KindSolverDivergence, op, "homography of view "+v.ID, err)
		}
		hs[i] = h
	}

	method := "zhang"
	in, err := zhangIntrinsics(hs, width, height, s.cfg.EstimateSkew)
	if err != nil {
		slog.Debug("Closed-form intrinsics failed, using fallback", "error", err)
		method = "fallback"
		var ferr error
		in, ferr = fallbackIntrinsics(hs, width, height)
		if ferr != nil {
			return nil, calerr.New(calerr.KindSolverDivergence, op, "no initial intrinsics", errors.Join(err, ferr))
		}
	}

	poses := make([]camera.Pose, len(views))
	for i, h := range hs {
		p, err := initialPose(h, in)
		if err != nil {
			return nil, calerr.New(calerr.KindSolverDivergence, op, "initial pose of view "+views[i].ID, err)
		}
		poses[i] = p
	}
	if spread := normalSpread(poses); spread < s.cfg.MinViewAngle {
		return nil, calerr.Newf(calerr.KindSolverDivergence, op,
			"board orientations span only %.4f rad, need %.4f; views are near-parallel", spread, s.cfg.MinViewAngle)
	}

	slog.Debug("Initial estimate",
		"init", method, "fx", in.Fx, "fy", in.Fy, "cx", in.Cx, "cy", in.Cy, "views", len(views), "points", points)

	lay := layout{skew: s.cfg.EstimateSkew, rational: s.cfg.RationalModel, views: views, width: width, height: height}
	p0 := lay.pack(camera.Model{Intrinsics: in}, poses)
	settings := lm.DefaultSettings()
	settings.MaxIterations = s.cfg.MaxIterations
	settings.CostTol = 1e-10

	res, err := lm.Minimize(ctx, lm.Problem{
		NumParams:    len(p0),
		NumResiduals: 2 * points,
		Residuals:    lay.residuals,
		Normal:       lay.normal,
	}, p0, settings)
	if err != nil {
		if errors.Is(err, lm.ErrNonFinite) {
			return nil, calerr.New(calerr.KindSolverDivergence, op, "initial estimate", err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rms := lm.RMS(res.Cost, points)
	diag := fmt.Sprintf("rms=%.4f px condition=%.3g iterations=%d", rms, res.Condition, res.Iterations)
	if math.IsNaN(rms) || math.IsInf(rms, 0) || math.IsNaN(res.Condition) {
		return nil, calerr.New(calerr.KindSolverDivergence, op, diag, lm.ErrNonFinite)
	}
	model := lay.model(res.Params)
	if err := model.CheckValid(); err != nil {
		return nil, calerr.New(calerr.KindSolverDivergence, op, diag, err)
	}
	if !res.Converged && rms > s.cfg.MaxRMS {
		return nil, calerr.Newf(calerr.KindSolverDivergence, op, "%s: %s", res.Reason, diag)
	}

	out := &Result{
		Model:      model,
		Poses:      make([]camera.Pose, len(views)),
		RMS:        rms,
		InitialRMS: lm.RMS(res.InitialCost, points),
		PerView:    make([]ViewStats, len(views)),
		Iterations: res.Iterations,
		Condition:  res.Condition,
		Converged:  res.Converged,
		Reason:     res.Reason,
		Init:       method,
	}
	var all []float64
	for i, v := range views {
		out.Poses[i] = lay.pose(res.Params, i)
		errs := model.ReprojectionErrors(v.Object, v.Image, out.Poses[i])
		out.PerView[i] = ViewStats{ID: v.ID, Points: len(errs), ErrorStats: summarize(errs)}
		all = append(all, errs...)
	}
	out.Errors = summarize(all)

	slog.Info("Calibration solved",
		"views", len(views),
		"rms", rms,
		"initial_rms", out.InitialRMS,
		"iterations", res.Iterations,
		"converged", res.Converged,
		"condition", res.Condition)
	return out, nil
}

// normalSpread returns the largest angle between any two board normals.
func normalSpread(poses []camera.Pose) float64 {
	normals := make([]r3.Vector, len(poses))
	for i, p := range poses {
		normals[i] = p.Matrix().MulVec(r3.Vector{Z: 1})
	}
	var spread float64
	for i := range normals {
		for j := i + 1; j < len(normals); j++ {
			spread = math.Max(spread, float64(normals[i].Angle(normals[j])))
		}
	}
	return spread
}

// layout maps between the flat LM parameter vector and the camera model:
// [fx fy cx cy (skew) distortion... | rvec tvec per view].
type layout struct {
	skew, rational bool
	views          []View
	width, height  int
}

func (l layout) numDistortion() int {
	if l.rational {
		return 8
	}
	return 5
}

func (l layout) numShared() int {
	n := 4 + l.numDistortion()
	if l.skew {
		n++
	}
	return n
}

func (l layout) pack(m camera.Model, poses []camera.Pose) []float64 {
	p := []float64{m.Intrinsics.Fx, m.Intrinsics.Fy, m.Intrinsics.Cx, m.Intrinsics.Cy}
	if l.skew {
		p = append(p, m.Intrinsics.Skew)
	}
	p = append(p, m.Distortion.Coefficients(l.rational)...)
	for _, pose := range poses {
		p = append(p, pose.Params()...)
	}
	return p
}

func (l layout) model(p []float64) camera.Model {
	in := camera.Intrinsics{Width: l.width, Height: l.height, Fx: p[0], Fy: p[1], Cx: p[2], Cy: p[3]}
	k := 4
	if l.skew {
		in.Skew = p[k]
		k++
	}
	d, _ := camera.DistortionFromCoefficients(p[k : k+l.numDistortion()])
	return camera.Model{Intrinsics: in, Distortion: d}
}

func (l layout) pose(p []float64, view int) camera.Pose {
	off := l.numShared() + 6*view
	return camera.PoseFromParams(p[off : off+6])
}

// viewResiduals writes the reprojection residuals of one view into r.
func viewResiduals(m camera.Model, pose camera.Pose, v View, r []float64) {
	rot := pose.Matrix()
	for i, obj := range v.Object {
		pc := rot.MulVec(obj).Add(pose.Translation)
		px, ok := m.ProjectPoint(pc)
		if !ok {
			r[2*i], r[2*i+1] = behindCamera, behindCamera
			continue
		}
		r[2*i] = px.X - v.Image[i].X
		r[2*i+1] = px.Y - v.Image[i].Y
	}
}

func (l layout) residuals(p, r []float64) {
	m := l.model(p)
	off := 0
	for i, v := range l.views {
		n := 2 * len(v.Object)
		viewResiduals(m, l.pose(p, i), v, r[off:off+n])
		off += n
	}
}

// normal accumulates J^T J and J^T r view by view. Each view only touches
// the shared camera parameters and its own six pose parameters, so the
// dense Jacobian is never formed.
func (l layout) normal(p, r []float64, jtj *mat.Dense, g *mat.VecDense) {
	jtj.Zero()
	g.Zero()
	ns := l.numShared()
	local := make([]float64, ns+6)
	idx := make([]int, ns+6)
	for k := range ns {
		idx[k] = k
	}

	off := 0
	for vi, v := range l.views {
		n := 2 * len(v.Object)
		poseOff := ns + 6*vi
		copy(local, p[:ns])
		copy(local[ns:], p[poseOff:poseOff+6])
		for k := range 6 {
			idx[ns+k] = poseOff + k
		}

		f := func(q, out []float64) {
			viewResiduals(l.model(q), camera.PoseFromParams(q[ns:]), v, out)
		}
		jv := mat.NewDense(n, ns+6, nil)
		lm.NumericJacobian(f, local, jv)

		var block mat.Dense
		block.Mul(jv.T(), jv)
		var gv mat.VecDense
		gv.MulVec(jv.T(), mat.NewVecDense(n, r[off:off+n]))

		for a := range ns + 6 {
			ia := idx[a]
			g.SetVec(ia, g.AtVec(ia)+gv.AtVec(a))
			for b := range ns + 6 {
				ib := idx[b]
				jtj.Set(ia, ib, jtj.At(ia, ib)+block.At(a, b))
			}
		}
		off += n
	}
}
