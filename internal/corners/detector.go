// Package corners finds the inner corners of a checkerboard and refines
// them to sub-pixel accuracy.
package corners

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"slices"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/mempool"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

const ringSamples = 16

// candidate is a saddle point that passed the X-corner test.
type candidate struct {
	P     r2.Point
	Score float64
}

// Detector locates checkerboard inner corners. It is safe for concurrent use.
type Detector struct {
	config DetectorConfig
}

// NewDetector creates a detector with the given configuration.
func NewDetector(config DetectorConfig) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	return &Detector{config: config}, nil
}

// Config returns the detector configuration.
func (d *Detector) Config() DetectorConfig { return d.config }

// Detect finds the Rows x Cols inner-corner grid of spec in img and returns
// the corners in row-major order matching spec.ObjectPoints. Positions are
// integer-accurate; use a Refiner for sub-pixel accuracy.
func (d *Detector) Detect(img image.Image, spec board.Spec) ([]r2.Point, error) {
	if img == nil {
		return nil, calerr.New(calerr.KindCornerDetectionFailure, "detect", "nil image", nil)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	g := utils.NewGrayBlurred(img, d.config.BlurSigma)
	defer g.Release()
	return d.DetectGray(g, spec)
}

// DetectGray runs detection on an already blurred luminance image.
func (d *Detector) DetectGray(g *utils.Gray, spec board.Spec) ([]r2.Point, error) {
	margin := int(math.Ceil(d.config.RingRadius)) + 1
	if g.W <= 2*margin+2 || g.H <= 2*margin+2 {
		return nil, calerr.Newf(calerr.KindCornerDetectionFailure, "detect", "image %dx%d too small", g.W, g.H)
	}

	cands := d.candidates(g, margin)
	need := spec.Count()
	slog.Debug("Corner candidates", "found", len(cands), "need", need, "board", spec.String())
	if len(cands) < need {
		return nil, calerr.Newf(calerr.KindCornerDetectionFailure, "detect",
			"found %d corner candidates, need %d", len(cands), need)
	}
	if limit := max(4*need, 400); len(cands) > limit {
		slices.SortFunc(cands, func(a, b candidate) int { return cmpDesc(a.Score, b.Score) })
		cands = cands[:limit]
	}

	pts := make([]r2.Point, len(cands))
	for i, c := range cands {
		pts[i] = c.P
	}
	for attempt, seed := range seedOrder(pts, d.config.MaxSeeds) {
		grid, ok := growGrid(pts, seed, d.config.GrowTolerance, spec)
		if !ok {
			continue
		}
		ordered, err := grid.ordered(spec)
		if err != nil {
			slog.Debug("Grid ordering failed", "seed", attempt, "error", err)
			continue
		}
		return ordered, nil
	}
	return nil, calerr.Newf(calerr.KindCornerDetectionFailure, "detect",
		"no complete %dx%d grid among %d candidates", spec.Rows, spec.Cols, len(cands))
}

// candidates returns local saddle maxima that look like X-corners.
func (d *Detector) candidates(g *utils.Gray, margin int) []candidate {
	s := saddleResponse(g)
	defer mempool.PutFloat64(s.RawMatrix().Data)
	maxResp := mat.Max(s)
	if maxResp <= 0 {
		return nil
	}
	thresh := d.config.ResponseThreshold * maxResp

	var out []candidate
	for _, c := range localMaxima(s, d.config.NMSWindow, thresh, margin) {
		if isXCorner(g, c.P, d.config.RingRadius, d.config.MinContrast) {
			out = append(out, c)
		}
	}
	return out
}

// saddleResponse computes Ixy^2 - Ixx*Iyy (the negated Hessian determinant)
// with central differences. Only positive values, i.e. saddle points, are
// kept.
func saddleResponse(g *utils.Gray) *mat.Dense {
	data := mempool.GetFloat64(g.W * g.H)
	clear(data)
	s := mat.NewDense(g.H, g.W, data)
	w, p := g.W, g.Pix
	for y := 1; y < g.H-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			c := p[i]
			ixx := p[i+1] - 2*c + p[i-1]
			iyy := p[i+w] - 2*c + p[i-w]
			ixy := (p[i+w+1] - p[i+w-1] - p[i-w+1] + p[i-w-1]) / 4
			if v := ixy*ixy - ixx*iyy; v > 0 {
				data[i] = v
			}
		}
	}
	return s
}

// localMaxima returns pixels above thresh that are the strict maximum of
// their (2*win+1)^2 neighbourhood. Ties resolve to the first pixel in
// row-major order.
func localMaxima(s *mat.Dense, win int, thresh float64, margin int) []candidate {
	raw := s.RawMatrix()
	h, w, stride := raw.Rows, raw.Cols, raw.Stride
	data := raw.Data

	var out []candidate
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			v := data[y*stride+x]
			if v <= thresh {
				continue
			}
			isMax := true
			for dy := -win; dy <= win && isMax; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -win; dx <= win; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w || (dx == 0 && dy == 0) {
						continue
					}
					n := data[yy*stride+xx]
					if n > v || (n == v && (dy < 0 || (dy == 0 && dx < 0))) {
						isMax = false
						break
					}
				}
			}
			if isMax {
				out = append(out, candidate{P: r2.Point{X: float64(x), Y: float64(y)}, Score: v})
			}
		}
	}
	return out
}

// isXCorner samples a circle around p and accepts points where the circle
// alternates dark/bright exactly four times with point-symmetric colors.
func isXCorner(g *utils.Gray, p r2.Point, radius, minContrast float64) bool {
	var vals [ringSamples]float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range ringSamples {
		a := 2 * math.Pi * float64(i) / ringSamples
		v := g.Sample(p.X+radius*math.Cos(a), p.Y+radius*math.Sin(a))
		vals[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < minContrast {
		return false
	}
	mid := (lo + hi) / 2

	var bright [ringSamples]bool
	for i, v := range vals {
		bright[i] = v > mid
	}

	transitions := 0
	start := -1
	for i := range ringSamples {
		if bright[i] != bright[(i+1)%ringSamples] {
			transitions++
			if start < 0 {
				start = (i + 1) % ringSamples
			}
		}
	}
	if transitions != 4 {
		return false
	}

	// every run of equal color must span at least two samples
	run := 0
	for k := range ringSamples {
		i := (start + k) % ringSamples
		run++
		if bright[i] != bright[(i+1)%ringSamples] {
			if run < 2 {
				return false
			}
			run = 0
		}
	}

	symmetric := 0
	for i := range ringSamples / 2 {
		if bright[i] == bright[i+ringSamples/2] {
			symmetric++
		}
	}
	return symmetric >= ringSamples/2-2
}

// seedOrder returns up to n candidate indices ordered by distance to the
// candidate centroid.
func seedOrder(pts []r2.Point, n int) []int {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	idx := make([]int, len(pts))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmpAsc(pts[a].Sub(c).Norm(), pts[b].Sub(c).Norm())
	})
	if len(idx) > n {
		idx = idx[:n]
	}
	return idx
}

func cmpAsc(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpDesc(a, b float64) int { return cmpAsc(b, a) }
