package camera

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
)

// RemapTable stores, for every destination pixel, the source coordinate to
// sample. Building it is the expensive part of undistortion, so it is kept
// and reused across frames of the same size.
type RemapTable struct {
	Width, Height int
	src           []float32 // interleaved x, y
}

// DistortionMap builds the table that undistorts images of the given size.
// The undistorted image keeps K as its camera matrix.
func (m Model) DistortionMap(width, height int) *RemapTable {
	t := &RemapTable{Width: width, Height: height, src: make([]float32, 2*width*height)}
	in := m.Intrinsics
	for y := range height {
		for x := range width {
			yn := (float64(y) - in.Cy) / in.Fy
			xn := (float64(x) - in.Cx - in.Skew*yn) / in.Fx
			xd, yd := m.Distortion.Apply(xn, yn)
			p := in.ToPixel(xd, yd)
			i := 2 * (y*width + x)
			t.src[i] = float32(p.X)
			t.src[i+1] = float32(p.Y)
		}
	}
	return t
}

// Source returns the source coordinate sampled for destination (x, y).
func (t *RemapTable) Source(x, y int) (float64, float64) {
	i := 2 * (y*t.Width + x)
	return float64(t.src[i]), float64(t.src[i+1])
}

// Apply remaps img through the table with bilinear sampling. Samples that
// fall outside the source are black.
func (t *RemapTable) Apply(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	out := image.NewNRGBA(image.Rect(0, 0, t.Width, t.Height))
	for y := range t.Height {
		for x := range t.Width {
			sx, sy := t.Source(x, y)
			c := bilinearSample(src, sx, sy)
			o := out.PixOffset(x, y)
			out.Pix[o], out.Pix[o+1], out.Pix[o+2], out.Pix[o+3] = c.R, c.G, c.B, c.A
		}
	}
	return out
}

// UndistortImage removes lens distortion from img. It builds a fresh table;
// use an Undistorter for repeated calls.
func (m Model) UndistortImage(img image.Image) *image.NRGBA {
	b := img.Bounds()
	return m.DistortionMap(b.Dx(), b.Dy()).Apply(img)
}

// Undistorter undistorts images with one model, keeping a remap table per
// image size. It is safe for concurrent use.
type Undistorter struct {
	model  Model
	mu     sync.Mutex
	tables map[image.Point]*RemapTable
}

// NewUndistorter creates an undistorter for m.
func NewUndistorter(m Model) *Undistorter {
	return &Undistorter{model: m, tables: make(map[image.Point]*RemapTable)}
}

// Model returns the model the tables are built from.
func (u *Undistorter) Model() Model { return u.model }

// Table returns the remap table for the size, building it on first use.
func (u *Undistorter) Table(width, height int) *RemapTable {
	key := image.Pt(width, height)
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.tables[key]
	if !ok {
		t = u.model.DistortionMap(width, height)
		u.tables[key] = t
	}
	return t
}

// Apply removes lens distortion from img.
func (u *Undistorter) Apply(img image.Image) *image.NRGBA {
	b := img.Bounds()
	return u.Table(b.Dx(), b.Dy()).Apply(img)
}

func bilinearSample(src *image.NRGBA, x, y float64) color.NRGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return color.NRGBA{0, 0, 0, 255}
	}
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)

	p00 := src.PixOffset(x0+b.Min.X, y0+b.Min.Y)
	p10 := src.PixOffset(x1+b.Min.X, y0+b.Min.Y)
	p01 := src.PixOffset(x0+b.Min.X, y1+b.Min.Y)
	p11 := src.PixOffset(x1+b.Min.X, y1+b.Min.Y)

	var out [4]uint8
	for c := range 4 {
		top := lerp(float64(src.Pix[p00+c]), float64(src.Pix[p10+c]), fx)
		bot := lerp(float64(src.Pix[p01+c]), float64(src.Pix[p11+c]), fx)
		out[c] = uint8(lerp(top, bot, fy) + 0.5)
	}
	return color.NRGBA{out[0], out[1], out[2], out[3]}
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
