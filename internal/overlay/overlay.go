// Package overlay renders verification drawings on top of images: the
// detected corner grid and the projected board coordinate axes.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font/basicfont"
)

// Style controls overlay appearance.
type Style struct {
	AxisLength   float64 // board units
	AxisWidth    float64 // pixels
	XColor       color.Color
	YColor       color.Color
	ZColor       color.Color
	CornerRadius float64
	Labels       bool
}

// DefaultStyle draws 30 unit axes, 5 px wide: X red, Y blue, Z green.
func DefaultStyle() Style {
	return Style{
		AxisLength:   30,
		AxisWidth:    5,
		XColor:       color.RGBA{R: 255, A: 255},
		YColor:       color.RGBA{B: 255, A: 255},
		ZColor:       color.RGBA{G: 255, A: 255},
		CornerRadius: 4,
		Labels:       true,
	}
}

// ParseColor parses "#rrggbb" or "#rgb".
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// WithColors returns a copy of s with the axis colors parsed from hex
// strings. Empty strings keep the current color.
func (s Style) WithColors(x, y, z string) (Style, error) {
	for _, c := range []struct {
		hex string
		dst *color.Color
	}{{x, &s.XColor}, {y, &s.YColor}, {z, &s.ZColor}} {
		if c.hex == "" {
			continue
		}
		parsed, err := ParseColor(c.hex)
		if err != nil {
			return s, err
		}
		*c.dst = parsed
	}
	return s, nil
}

// AxisEndpoints projects (L,0,0), (0,L,0) and (0,0,L) under pose.
func AxisEndpoints(model camera.Model, pose camera.Pose, length float64) ([3]r2.Point, error) {
	var out [3]r2.Point
	axes := []r3.Vector{{X: length}, {Y: length}, {Z: length}}
	for i, a := range axes {
		p, ok := model.ProjectPoint(pose.Transform(a))
		if !ok {
			return out, errors.New("axis endpoint behind the camera")
		}
		out[i] = p
	}
	return out, nil
}

// DrawAxes draws the board axes from origin, the detected first corner, to
// their projected endpoints.
func DrawAxes(img image.Image, origin r2.Point, model camera.Model, pose camera.Pose, style Style) (*image.RGBA, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	ends, err := AxisEndpoints(model, pose, style.AxisLength)
	if err != nil {
		return nil, err
	}
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(style.AxisWidth)
	dc.SetLineCapRound()
	colors := []color.Color{style.XColor, style.YColor, style.ZColor}
	for i, end := range ends {
		dc.SetColor(colors[i])
		dc.DrawLine(origin.X, origin.Y, end.X, end.Y)
		dc.Stroke()
	}
	if style.Labels {
		dc.SetFontFace(basicfont.Face7x13)
		for i, name := range []string{"X", "Y", "Z"} {
			dc.SetColor(colors[i])
			dc.DrawStringAnchored(name, ends[i].X, ends[i].Y, 0.5, -0.5)
		}
	}
	return toRGBA(dc), nil
}

// RowColor returns the color used for one grid row.
func RowColor(row, rows int) color.Color {
	h := 0.0
	if rows > 1 {
		h = 300 * float64(row) / float64(rows-1)
	}
	r, g, b := colorful.Hsv(h, 1, 1).RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// DrawCorners marks the corners. A found grid is drawn row by row in
// distinct colors and joined in order; otherwise every corner is drawn as
// a red circle.
func DrawCorners(img image.Image, corners []r2.Point, spec board.Spec, found bool, style Style) (*image.RGBA, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)
	if !found || len(corners) != spec.Count() {
		dc.SetColor(color.RGBA{R: 255, A: 255})
		for _, p := range corners {
			dc.DrawCircle(p.X, p.Y, style.CornerRadius)
			dc.Stroke()
		}
		return toRGBA(dc), nil
	}

	for row := range spec.Rows {
		dc.SetColor(RowColor(row, spec.Rows))
		for col := range spec.Cols {
			i := row*spec.Cols + col
			p := corners[i]
			dc.DrawCircle(p.X, p.Y, style.CornerRadius)
			dc.Stroke()
			if i > 0 {
				prev := corners[i-1]
				dc.DrawLine(prev.X, prev.Y, p.X, p.Y)
				dc.Stroke()
			}
		}
	}
	if style.Labels {
		dc.SetFontFace(basicfont.Face7x13)
		dc.SetColor(RowColor(0, spec.Rows))
		dc.DrawStringAnchored("0", corners[0].X-style.CornerRadius, corners[0].Y-style.CornerRadius, 1, 0)
	}
	return toRGBA(dc), nil
}

func toRGBA(dc *gg.Context) *image.RGBA {
	if rgba, ok := dc.Image().(*image.RGBA); ok {
		return rgba
	}
	src := dc.Image()
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, src.At(x, y))
		}
	}
	return out
}
