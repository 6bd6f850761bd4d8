package utils

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
)

func TestConvexHull(t *testing.T) {
	pts := []r2.Point{
		{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 3}, {X: 0, Y: 3},
		{X: 2, Y: 1}, {X: 1, Y: 2}, {X: 4, Y: 0},
	}
	hull := ConvexHull(pts)
	assert.Len(t, hull, 4)
	assert.InDelta(t, 12, PolygonArea(hull), 1e-12)

	assert.Len(t, ConvexHull([]r2.Point{{X: 1, Y: 1}}), 1)
	assert.Empty(t, ConvexHull(nil))
}

func TestConvexHullCollinear(t *testing.T) {
	hull := ConvexHull([]r2.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}})
	assert.Zero(t, PolygonArea(hull))
}

func TestCoverageFraction(t *testing.T) {
	pts := []r2.Point{{X: 0, Y: 0}, {X: 50, Y: 0}, {X: 50, Y: 50}, {X: 0, Y: 50}, {X: 25, Y: 25}}
	assert.InDelta(t, 0.25, CoverageFraction(pts, 100, 100), 1e-12)
	assert.Zero(t, CoverageFraction(pts, 0, 100))
}

func TestBoundingBox(t *testing.T) {
	b := BoundingBox([]r2.Point{{X: 3, Y: -1}, {X: -2, Y: 5}, {X: 0, Y: 0}})
	assert.Equal(t, -2.0, b.X.Lo)
	assert.Equal(t, 3.0, b.X.Hi)
	assert.Equal(t, -1.0, b.Y.Lo)
	assert.Equal(t, 5.0, b.Y.Hi)
}
