package utils

import (
	"image"
	"math"

	"github.com/MeKo-Tech/checkercal/internal/mempool"
	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"
)

// Gray is a single-channel float image in row-major order with values in
// [0, 255]. Pixel centers sit at integer coordinates.
type Gray struct {
	W, H int
	Pix  []float64
}

// NewGray converts img to luminance.
func NewGray(img image.Image) *Gray {
	return fromNRGBA(imaging.Grayscale(img))
}

// NewGrayBlurred converts img to luminance and applies a Gaussian blur with
// the given sigma. A non-positive sigma disables blurring.
func NewGrayBlurred(img image.Image, sigma float64) *Gray {
	g := imaging.Grayscale(img)
	if sigma > 0 {
		g = imaging.Blur(g, sigma)
	}
	return fromNRGBA(g)
}

func fromNRGBA(src *image.NRGBA) *Gray {
	b := src.Bounds()
	g := &Gray{W: b.Dx(), H: b.Dy(), Pix: mempool.GetFloat64(b.Dx() * b.Dy())}
	for y := range g.H {
		row := src.Pix[y*src.Stride:]
		for x := range g.W {
			g.Pix[y*g.W+x] = float64(row[4*x])
		}
	}
	return g
}

// Release hands the pixel buffer back to the pool. g must not be used
// afterwards.
func (g *Gray) Release() {
	mempool.PutFloat64(g.Pix)
	g.Pix = nil
}

// At returns the pixel at (x, y) clamped to the image border.
func (g *Gray) At(x, y int) float64 {
	x = clampInt(x, 0, g.W-1)
	y = clampInt(y, 0, g.H-1)
	return g.Pix[y*g.W+x]
}

// Sample returns the bilinearly interpolated value at (x, y), clamped to
// the image border.
func (g *Gray) Sample(x, y float64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)

	a := g.At(ix, iy)
	b := g.At(ix+1, iy)
	c := g.At(ix, iy+1)
	d := g.At(ix+1, iy+1)
	top := a + (b-a)*fx
	bottom := c + (d-c)*fx
	return top + (bottom-top)*fy
}

// Inside reports whether (x, y) lies at least margin pixels from every border.
func (g *Gray) Inside(x, y, margin float64) bool {
	return x >= margin && y >= margin && x <= float64(g.W-1)-margin && y <= float64(g.H-1)-margin
}

// Matrix returns an H x W view sharing the pixel buffer.
func (g *Gray) Matrix() *mat.Dense {
	return mat.NewDense(g.H, g.W, g.Pix)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
