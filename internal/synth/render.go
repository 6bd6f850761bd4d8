// Package synth renders checkerboard views through a known camera model.
// The output serves as ground truth for tests and for the generate command.
package synth

import (
	"image"
	"math"
	"math/rand/v2"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// RenderOptions controls shading of rendered views.
type RenderOptions struct {
	Black       float64 // intensity of dark squares
	White       float64 // intensity of light squares and the paper margin
	Background  float64 // intensity outside the paper
	Margin      float64 // white paper border in squares
	Supersample int     // samples per pixel side for anti-aliasing
	Noise       float64 // Gaussian noise sigma in intensity units
	Seed        uint64
}

// DefaultRenderOptions returns options producing a clean, well-exposed board.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Black:       30,
		White:       225,
		Background:  110,
		Margin:      0.8,
		Supersample: 3,
	}
}

// Renderer draws views of a board through a fixed camera. The undistortion
// of every pixel corner is computed once and shared across views.
type Renderer struct {
	model camera.Model
	w, h  int
	rays  []float64 // normalized (x, y) at pixel corners, (w+1)*(h+1) pairs
}

// NewRenderer precomputes the ray lattice for model at its configured size.
func NewRenderer(model camera.Model) *Renderer {
	w, h := model.Intrinsics.Width, model.Intrinsics.Height
	r := &Renderer{model: model, w: w, h: h, rays: make([]float64, 2*(w+1)*(h+1))}
	for y := 0; y <= h; y++ {
		for x := 0; x <= w; x++ {
			n := model.UndistortPoint(pixelCorner(x, y))
			k := 2 * (y*(w+1) + x)
			r.rays[k], r.rays[k+1] = n.X, n.Y
		}
	}
	return r
}

// Model returns the camera the renderer was built for.
func (r *Renderer) Model() camera.Model { return r.model }

// ray interpolates the normalized ray at lattice position (u, v), where
// lattice (x, y) is the top-left corner of pixel (x, y).
func (r *Renderer) ray(u, v float64) (float64, float64) {
	x0, y0 := int(u), int(v)
	x0 = min(max(x0, 0), r.w-1)
	y0 = min(max(y0, 0), r.h-1)
	fx, fy := u-float64(x0), v-float64(y0)
	stride := r.w + 1
	k00 := 2 * (y0*stride + x0)
	k10 := k00 + 2
	k01 := k00 + 2*stride
	k11 := k01 + 2
	nx := bilerp(r.rays[k00], r.rays[k10], r.rays[k01], r.rays[k11], fx, fy)
	ny := bilerp(r.rays[k00+1], r.rays[k10+1], r.rays[k01+1], r.rays[k11+1], fx, fy)
	return nx, ny
}

// Render draws the board seen from pose as an 8-bit gray image.
func (r *Renderer) Render(spec board.Spec, pose camera.Pose, opts RenderOptions) *image.Gray {
	if opts.Supersample < 1 {
		opts.Supersample = 1
	}
	rt := pose.Matrix().T()
	rtT := rt.MulVec(pose.Translation)
	shade := shader(spec, opts)

	var rng *rand.Rand
	if opts.Noise > 0 {
		rng = rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5eed))
	}

	s := opts.Supersample
	inv := 1 / float64(s*s)
	img := image.NewGray(image.Rect(0, 0, r.w, r.h))
	for y := range r.h {
		for x := range r.w {
			var acc float64
			for sy := range s {
				v := float64(y) + (float64(sy)+0.5)/float64(s)
				for sx := range s {
					u := float64(x) + (float64(sx)+0.5)/float64(s)
					nx, ny := r.ray(u, v)
					acc += intersect(rt, rtT, nx, ny, shade, opts.Background)
				}
			}
			val := acc * inv
			if rng != nil {
				val += rng.NormFloat64() * opts.Noise
			}
			img.Pix[y*img.Stride+x] = uint8(math.Round(min(max(val, 0), 255)))
		}
	}
	return img
}

// intersect casts the normalized ray (nx, ny, 1) onto the board plane and
// returns the shade there.
func intersect(rt camera.Mat3, rtT r3.Vector, nx, ny float64, shade func(bx, by float64) float64, bg float64) float64 {
	d := rt.MulVec(r3.Vector{X: nx, Y: ny, Z: 1})
	if d.Z == 0 {
		return bg
	}
	lambda := rtT.Z / d.Z
	if lambda <= 0 {
		return bg
	}
	p := d.Mul(lambda).Sub(rtT)
	return shade(p.X, p.Y)
}

// shader returns the intensity at board-plane coordinates. Squares span
// [-size, Rows*size] x [-size, Cols*size] so that inner corners sit at
// multiples of size, with a dark square at the board origin corner.
func shader(spec board.Spec, opts RenderOptions) func(bx, by float64) float64 {
	size := spec.SquareSize
	margin := opts.Margin * size
	loX, hiX := -size, float64(spec.Rows)*size
	loY, hiY := -size, float64(spec.Cols)*size
	return func(bx, by float64) float64 {
		if bx >= loX && bx < hiX && by >= loY && by < hiY {
			a := int(math.Floor(bx/size)) + 1
			b := int(math.Floor(by/size)) + 1
			if (a+b)%2 == 0 {
				return opts.Black
			}
			return opts.White
		}
		if bx >= loX-margin && bx < hiX+margin && by >= loY-margin && by < hiY+margin {
			return opts.White
		}
		return opts.Background
	}
}

func pixelCorner(x, y int) r2.Point {
	return r2.Point{X: float64(x) - 0.5, Y: float64(y) - 0.5}
}

func bilerp(a, b, c, d, fx, fy float64) float64 {
	top := a + (b-a)*fx
	bottom := c + (d-c)*fx
	return top + (bottom-top)*fy
}
