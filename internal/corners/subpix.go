package corners

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/golang/geo/r2"
)

// Refiner moves approximate corners to the point where the image gradient
// in the surrounding window is orthogonal to the offset from the corner.
//
// Gradients are taken on a Gaussian-smoothed copy of the pixels. On a
// sharp edge the central difference spans only a pixel or two, and the
// gradient-weighted centroid then depends on where the edge falls between
// pixel centers; smoothing makes the edge profile wide enough to be
// sampled without that phase error. Pixels are weighted with a biweight
// centered on the current estimate that vanishes at the window border, so
// the solution varies continuously as the estimate moves across pixels.
type Refiner struct {
	config RefinerConfig
	kernel []float64
}

// NewRefiner creates a refiner with the given configuration.
func NewRefiner(config RefinerConfig) (*Refiner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid refiner config: %w", err)
	}
	return &Refiner{config: config, kernel: gaussianKernel(config.GradientSigma)}, nil
}

// gaussianKernel returns a normalized kernel of radius ceil(3*sigma).
func gaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	rad := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*rad+1)
	var sum float64
	for i := range k {
		d := float64(i - rad)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// Config returns the refiner configuration.
func (r *Refiner) Config() RefinerConfig { return r.config }

// Refine returns refined copies of corners in the same order. The input
// slice is not modified.
func (r *Refiner) Refine(g *utils.Gray, corners []r2.Point) []r2.Point {
	out := make([]r2.Point, len(corners))
	for i, c := range corners {
		out[i] = r.refineOne(g, c)
	}
	return out
}

func (r *Refiner) refineOne(g *utils.Gray, start r2.Point) r2.Point {
	w := r.config.HalfWindow
	side := 2*w + 1
	eps2 := r.config.Epsilon * r.config.Epsilon
	maxIter := r.config.MaxIterations
	if maxIter <= 0 {
		maxIter = math.MaxInt
	}

	// patch holds smoothed pixels for offsets -w-1..w+1 around (cx, cy)
	// so central differences are defined over the whole window
	ps := side + 2
	rad := len(r.kernel) / 2
	rows := make([]float64, (ps+2*rad)*ps)
	patch := make([]float64, ps*ps)
	wx := make([]float64, side)
	wy := make([]float64, side)

	q := start
	cx, cy := math.MinInt, math.MinInt
	for iter := 0; iter < maxIter; iter++ {
		if x, y := int(math.Round(q.X)), int(math.Round(q.Y)); x != cx || y != cy {
			cx, cy = x, y
			r.smoothPatch(g, cx, cy, rows, patch)
		}
		fx, fy := q.X-float64(cx), q.Y-float64(cy)
		for k := range side {
			wx[k] = biweight((float64(k-w) - fx) / float64(w))
			wy[k] = biweight((float64(k-w) - fy) / float64(w))
		}

		var a, b, c, bb1, bb2 float64
		for i := range side {
			py := float64(i - w)
			for j := range side {
				m := wy[i] * wx[j]
				if m == 0 {
					continue
				}
				px := float64(j - w)
				k := (i+1)*ps + j + 1
				gx := patch[k+1] - patch[k-1]
				gy := patch[k+ps] - patch[k-ps]
				gxx, gxy, gyy := gx*gx*m, gx*gy*m, gy*gy*m
				a += gxx
				b += gxy
				c += gyy
				bb1 += gxx*px + gxy*py
				bb2 += gxy*px + gyy*py
			}
		}

		det := a*c - b*b
		if math.Abs(det) <= math.SmallestNonzeroFloat64*1e10 {
			break
		}
		next := r2.Point{
			X: float64(cx) + (c*bb1-b*bb2)/det,
			Y: float64(cy) + (a*bb2-b*bb1)/det,
		}
		d := next.Sub(q)
		q = next
		if math.IsNaN(q.X) || math.IsNaN(q.Y) || q.X < 0 || q.Y < 0 || q.X >= float64(g.W) || q.Y >= float64(g.H) {
			return start
		}
		if d.Dot(d) <= eps2 {
			break
		}
	}

	if math.Abs(q.X-start.X) > float64(w) || math.Abs(q.Y-start.Y) > float64(w) {
		return start
	}
	return q
}

// smoothPatch fills patch with the smoothed pixels of the ps x ps square
// centered on (cx, cy). rows is scratch space for the horizontal pass.
func (r *Refiner) smoothPatch(g *utils.Gray, cx, cy int, rows, patch []float64) {
	half := r.config.HalfWindow + 1
	ps := 2*half + 1
	rad := len(r.kernel) / 2
	for i := range ps + 2*rad {
		y := cy - half - rad + i
		for j := range ps {
			x := cx - half + j
			var s float64
			for t, kv := range r.kernel {
				s += kv * g.At(x+t-rad, y)
			}
			rows[i*ps+j] = s
		}
	}
	for i := range ps {
		for j := range ps {
			var s float64
			for t, kv := range r.kernel {
				s += kv * rows[(i+t)*ps+j]
			}
			patch[i*ps+j] = s
		}
	}
}

// biweight is (1-u^2)^2 on |u| < 1 and zero elsewhere.
func biweight(u float64) float64 {
	if u <= -1 || u >= 1 {
		return 0
	}
	v := 1 - u*u
	return v * v
}
