package utils

import (
	"math"
	"slices"

	"github.com/golang/geo/r2"
)

// ConvexHull computes the convex hull of a set of points using the
// monotone chain algorithm. Returns the hull in CCW order without
// duplicating the first point at the end.
func ConvexHull(pts []r2.Point) []r2.Point {
	p := slices.Clone(pts)
	slices.SortFunc(p, func(a, b r2.Point) int {
		if a.X != b.X {
			return cmpFloat(a.X, b.X)
		}
		return cmpFloat(a.Y, b.Y)
	})
	p = slices.Compact(p)
	if len(p) <= 2 {
		return p
	}

	hull := make([]r2.Point, 0, 2*len(p))
	for _, pt := range p {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	lower := len(hull) + 1
	for i := len(p) - 2; i >= 0; i-- {
		pt := p[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	return hull[:len(hull)-1]
}

// PolygonArea returns the unsigned shoelace area of a closed polygon.
func PolygonArea(poly []r2.Point) float64 {
	if len(poly) < 3 {
		return 0
	}
	var a float64
	for i := range poly {
		j := (i + 1) % len(poly)
		a += poly[i].Cross(poly[j])
	}
	return math.Abs(a) / 2
}

// CoverageFraction returns the share of a w x h image covered by the convex
// hull of pts.
func CoverageFraction(pts []r2.Point, w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	return PolygonArea(ConvexHull(pts)) / float64(w*h)
}

// BoundingBox returns the axis-aligned bounds of pts.
func BoundingBox(pts []r2.Point) r2.Rect {
	return r2.RectFromPoints(pts...)
}

func cross(o, a, b r2.Point) float64 {
	return a.Sub(o).Cross(b.Sub(o))
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
