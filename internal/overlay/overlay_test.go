package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/synth"
	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBoard = board.Spec{Rows: 4, Cols: 5, SquareSize: 30}

func whiteImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

func pixel(img *image.RGBA, p r2.Point) color.RGBA {
	return img.RGBAAt(int(p.X), int(p.Y))
}

func TestDrawAxes(t *testing.T) {
	model := synth.DefaultModel()
	model.Distortion = camera.Distortion{}
	pose := synth.FrontalPose(testBoard, 500)
	origin := model.Project(testBoard.ObjectPoints(), pose)[0]
	src := whiteImage(640, 480)

	style := DefaultStyle()
	style.Labels = false
	out, err := DrawAxes(src, origin, model, pose, style)
	require.NoError(t, err)
	require.Equal(t, src.Bounds(), out.Bounds())

	ends, err := AxisEndpoints(model, pose, style.AxisLength)
	require.NoError(t, err)

	mid := origin.Add(ends[0]).Mul(0.5)
	c := pixel(out, mid)
	assert.Greater(t, c.R, uint8(200))
	assert.Less(t, c.G, uint8(60))
	assert.Less(t, c.B, uint8(60))

	mid = origin.Add(ends[1]).Mul(0.5)
	c = pixel(out, mid)
	assert.Greater(t, c.B, uint8(200))
	assert.Less(t, c.R, uint8(60))

	// source is untouched
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, src.RGBAAt(int(mid.X), int(mid.Y)))

	_, err = DrawAxes(nil, origin, model, pose, style)
	assert.Error(t, err)
}

func TestAxisEndpointsFrontal(t *testing.T) {
	model := synth.DefaultModel()
	model.Distortion = camera.Distortion{}
	pose := synth.FrontalPose(testBoard, 500)
	origin := model.Project(testBoard.ObjectPoints(), pose)[0]

	ends, err := AxisEndpoints(model, pose, 30)
	require.NoError(t, err)
	// board X runs down the image, Y to the right, 30 units at 500 = 48 px
	assert.InDelta(t, 48, ends[0].Y-origin.Y, 1e-9)
	assert.InDelta(t, 0, ends[0].X-origin.X, 1e-9)
	assert.InDelta(t, 48, ends[1].X-origin.X, 1e-9)

	behind := camera.Pose{Translation: pose.Translation}
	behind.Translation.Z = -10
	_, err = AxisEndpoints(model, behind, 30)
	assert.Error(t, err)
}

func TestDrawCorners(t *testing.T) {
	model := synth.DefaultModel()
	model.Distortion = camera.Distortion{}
	pose := synth.FrontalPose(testBoard, 500)
	corners := model.Project(testBoard.ObjectPoints(), pose)
	src := whiteImage(640, 480)
	style := DefaultStyle()
	style.Labels = false

	out, err := DrawCorners(src, corners, testBoard, true, style)
	require.NoError(t, err)
	// the join between the first two corners carries the first row color
	mid := corners[0].Add(corners[1]).Mul(0.5)
	c := pixel(out, mid)
	assert.Greater(t, c.R, uint8(200))
	assert.Less(t, c.G, uint8(60))
	assert.Less(t, c.B, uint8(60))

	failed, err := DrawCorners(src, corners[:3], testBoard, false, style)
	require.NoError(t, err)
	edge := corners[1].Add(r2.Point{X: style.CornerRadius})
	c = pixel(failed, edge)
	assert.Greater(t, c.R, uint8(200))
	assert.Less(t, c.G, uint8(100))
	// no joins when the grid was not found
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, pixel(failed, mid))
}

func TestRowColorSpansHues(t *testing.T) {
	assert.Equal(t, color.Color(color.RGBA{R: 255, A: 255}), RowColor(0, 5))
	assert.NotEqual(t, RowColor(0, 5), RowColor(4, 5))
	assert.Equal(t, RowColor(0, 1), RowColor(0, 1))
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#00ff80")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 255, B: 128, A: 255}, c)

	_, err = ParseColor("green")
	assert.Error(t, err)

	s, err := DefaultStyle().WithColors("#ffffff", "", "#000000")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, s.XColor)
	assert.Equal(t, DefaultStyle().YColor, s.YColor)
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, s.ZColor)

	_, err = DefaultStyle().WithColors("", "#zz", "")
	assert.Error(t, err)
}
