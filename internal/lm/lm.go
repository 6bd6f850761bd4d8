// Package lm implements a damped Gauss-Newton (Levenberg-Marquardt)
// least-squares minimizer on top of gonum.
package lm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNonFinite is returned when the residual vector contains NaN or Inf.
var ErrNonFinite = errors.New("non-finite residuals")

// Problem describes a least-squares problem: minimize sum(r_i(p)^2).
type Problem struct {
	NumParams    int
	NumResiduals int
	// Residuals fills r (length NumResiduals) for parameters p.
	Residuals func(p, r []float64)
	// Jacobian fills j (NumResiduals x NumParams). When nil a central
	// difference Jacobian is used.
	Jacobian func(p []float64, j *mat.Dense)
	// Normal, when set, fills the normal matrix J^T J and the gradient
	// J^T r directly, for problems whose Jacobian is block sparse. It takes
	// precedence over Jacobian; r holds the residuals at p.
	Normal func(p, r []float64, jtj *mat.Dense, g *mat.VecDense)
}

// Settings controls termination.
type Settings struct {
	MaxIterations int
	InitialLambda float64 // relative to the largest diagonal entry of J^T J
	GradientTol   float64
	StepTol       float64
	CostTol       float64 // relative cost decrease below which iteration stops
}

// DefaultSettings mirrors common calibration defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations: 100,
		InitialLambda: 1e-3,
		GradientTol:   1e-12,
		StepTol:       1e-12,
		CostTol:       1e-12,
	}
}

// Result reports the outcome of Minimize.
type Result struct {
	Params      []float64
	Cost        float64 // sum of squared residuals
	InitialCost float64
	Iterations  int
	Converged   bool
	Reason      string
	Condition   float64 // 2-norm condition number of J^T J at the solution
}

// Minimize runs Levenberg-Marquardt from p0.
func Minimize(ctx context.Context, prob Problem, p0 []float64, s Settings) (*Result, error) {
	if prob.NumParams != len(p0) {
		return nil, fmt.Errorf("parameter count mismatch: %d vs %d", prob.NumParams, len(p0))
	}
	if prob.NumResiduals < prob.NumParams {
		return nil, fmt.Errorf("underdetermined problem: %d residuals for %d parameters", prob.NumResiduals, prob.NumParams)
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultSettings().MaxIterations
	}
	if s.InitialLambda <= 0 {
		s.InitialLambda = DefaultSettings().InitialLambda
	}
	normal := prob.Normal
	if normal == nil {
		jacobian := prob.Jacobian
		if jacobian == nil {
			jacobian = func(p []float64, j *mat.Dense) { NumericJacobian(prob.Residuals, p, j) }
		}
		j := mat.NewDense(prob.NumResiduals, prob.NumParams, nil)
		normal = func(p, r []float64, jtj *mat.Dense, g *mat.VecDense) {
			jacobian(p, j)
			jtj.Mul(j.T(), j)
			g.MulVec(j.T(), mat.NewVecDense(len(r), r))
		}
	}

	n, m := prob.NumParams, prob.NumResiduals
	p := append([]float64(nil), p0...)
	r := make([]float64, m)
	prob.Residuals(p, r)
	cost := floats.Dot(r, r)
	if !finite(cost) {
		return nil, ErrNonFinite
	}

	res := &Result{InitialCost: cost}
	jtj := mat.NewDense(n, n, nil)
	g := mat.NewVecDense(n, nil)
	aug := mat.NewDense(n, n, nil)
	var delta mat.VecDense
	pTry := make([]float64, n)
	rTry := make([]float64, m)
	lambda := -1.0

	for res.Iterations = 0; res.Iterations < s.MaxIterations; res.Iterations++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		normal(p, r, jtj, g)

		if mat.Norm(g, math.Inf(1)) < s.GradientTol {
			res.Converged, res.Reason = true, "gradient below tolerance"
			break
		}
		if lambda < 0 {
			maxDiag := 0.0
			for i := range n {
				maxDiag = math.Max(maxDiag, jtj.At(i, i))
			}
			lambda = s.InitialLambda * math.Max(maxDiag, 1)
		}

		improved := false
		for !improved {
			aug.Copy(jtj)
			for i := range n {
				aug.Set(i, i, jtj.At(i, i)+lambda*math.Max(jtj.At(i, i), 1e-12))
			}
			if err := delta.SolveVec(aug, g); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					lambda *= 10
					if lambda > 1e16 {
						break
					}
					continue
				}
			}
			for i := range n {
				pTry[i] = p[i] - delta.AtVec(i)
			}
			prob.Residuals(pTry, rTry)
			costTry := floats.Dot(rTry, rTry)

			if finite(costTry) && costTry < cost {
				improved = true
				stepNorm := mat.Norm(&delta, 2)
				relDrop := (cost - costTry) / math.Max(cost, 1e-300)
				copy(p, pTry)
				copy(r, rTry)
				cost = costTry
				lambda = math.Max(lambda/10, 1e-15)
				if relDrop < s.CostTol {
					res.Converged, res.Reason = true, "cost change below tolerance"
				} else if stepNorm < s.StepTol*(floats.Norm(p, 2)+s.StepTol) {
					res.Converged, res.Reason = true, "step below tolerance"
				}
			} else {
				lambda *= 10
				if lambda > 1e16 {
					break
				}
			}
		}
		if !improved {
			res.Converged, res.Reason = true, "no further decrease possible"
			break
		}
		if res.Converged {
			res.Iterations++
			break
		}
	}
	if !res.Converged {
		res.Reason = "iteration limit reached"
	}

	normal(p, r, jtj, g)
	res.Condition = mat.Cond(jtj, 2)
	res.Params = p
	res.Cost = cost
	return res, nil
}

// NumericJacobian fills j with central differences of f at p.
func NumericJacobian(f func(p, r []float64), p []float64, j *mat.Dense) {
	m, n := j.Dims()
	pp := append([]float64(nil), p...)
	rp := make([]float64, m)
	rm := make([]float64, m)
	for c := range n {
		h := 1e-6 * math.Max(math.Abs(p[c]), 1)
		pp[c] = p[c] + h
		f(pp, rp)
		pp[c] = p[c] - h
		f(pp, rm)
		pp[c] = p[c]
		for r := range m {
			j.Set(r, c, (rp[r]-rm[r])/(2*h))
		}
	}
}

// RMS converts a sum of squares over count residual pairs (2D points)
// into a root-mean-square point error.
func RMS(cost float64, points int) float64 {
	if points == 0 {
		return 0
	}
	return math.Sqrt(cost / float64(points))
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
