package corners

import (
	"errors"
	"math"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/golang/geo/r2"
)

// cell is an integer lattice coordinate relative to the seed corner.
type cell struct{ i, j int }

func (c cell) add(o cell) cell { return cell{c.i + o.i, c.j + o.j} }
func (c cell) sub(o cell) cell { return cell{c.i - o.i, c.j - o.j} }

var lattice4 = [...]cell{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// grid is a partially filled lattice of corner positions.
type grid struct {
	pos                    map[cell]r2.Point
	minI, maxI, minJ, maxJ int
}

func newGrid() *grid { return &grid{pos: make(map[cell]r2.Point)} }

func (g *grid) set(c cell, p r2.Point) {
	if len(g.pos) == 0 {
		g.minI, g.maxI, g.minJ, g.maxJ = c.i, c.i, c.j, c.j
	}
	g.pos[c] = p
	g.minI, g.maxI = min(g.minI, c.i), max(g.maxI, c.i)
	g.minJ, g.maxJ = min(g.minJ, c.j), max(g.maxJ, c.j)
}

func (g *grid) has(c cell) bool {
	_, ok := g.pos[c]
	return ok
}

func (g *grid) extent() (int, int) { return g.maxI - g.minI + 1, g.maxJ - g.minJ + 1 }

// step estimates the image displacement from c to c+d using the nearest
// already placed neighbours, falling back to the seed basis.
func (g *grid) step(c, d cell, u, v r2.Point) r2.Point {
	p := g.pos[c]
	if back := c.sub(d); g.has(back) {
		return p.Sub(g.pos[back])
	}
	side := cell{d.j, d.i}
	for _, o := range [...]cell{side, {-side.i, -side.j}} {
		a, b := c.add(o), c.add(o).add(d)
		if g.has(a) && g.has(b) {
			return g.pos[b].Sub(g.pos[a])
		}
	}
	return u.Mul(float64(d.i)).Add(v.Mul(float64(d.j)))
}

// growGrid grows a lattice outward from pts[seed] by predicting each
// neighbour position and snapping to the nearest free candidate. It reports
// false when the seed has no usable basis or the lattice cannot match spec.
func growGrid(pts []r2.Point, seed int, tol float64, spec board.Spec) (*grid, bool) {
	u, ui, v, vi, ok := seedBasis(pts, seed)
	if !ok {
		return nil, false
	}
	longest := max(spec.Rows, spec.Cols)

	used := make([]bool, len(pts))
	g := newGrid()
	for _, s := range []struct {
		c   cell
		idx int
	}{{cell{0, 0}, seed}, {cell{1, 0}, ui}, {cell{0, 1}, vi}} {
		g.set(s.c, pts[s.idx])
		used[s.idx] = true
	}

	queue := []cell{{0, 0}, {1, 0}, {0, 1}}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, d := range lattice4 {
			nc := c.add(d)
			if g.has(nc) {
				continue
			}
			st := g.step(c, d, u, v)
			pred := g.pos[c].Add(st)
			k := nearestFree(pts, used, pred, tol*st.Norm())
			if k < 0 {
				continue
			}
			g.set(nc, pts[k])
			used[k] = true
			queue = append(queue, nc)
			if ni, nj := g.extent(); ni > longest || nj > longest {
				return nil, false
			}
		}
	}

	ni, nj := g.extent()
	if len(g.pos) != ni*nj || len(g.pos) != spec.Count() {
		return nil, false
	}
	if !(ni == spec.Cols && nj == spec.Rows) && !(ni == spec.Rows && nj == spec.Cols) {
		return nil, false
	}
	return g, true
}

// seedBasis picks the nearest neighbour of the seed as the first lattice
// direction and the nearest roughly perpendicular neighbour as the second.
func seedBasis(pts []r2.Point, seed int) (u r2.Point, ui int, v r2.Point, vi int, ok bool) {
	p := pts[seed]
	ui, vi = -1, -1
	best := math.Inf(1)
	for k, q := range pts {
		if k == seed {
			continue
		}
		if d := q.Sub(p).Norm(); d > 0 && d < best {
			best, ui = d, k
		}
	}
	if ui < 0 {
		return u, ui, v, vi, false
	}
	u = pts[ui].Sub(p)

	best = math.Inf(1)
	for k, q := range pts {
		if k == seed || k == ui {
			continue
		}
		w := q.Sub(p)
		n := w.Norm()
		if n == 0 || n > 2.5*u.Norm() {
			continue
		}
		if math.Abs(u.Dot(w))/(u.Norm()*n) >= 0.8 {
			continue
		}
		if n < best {
			best, vi = n, k
		}
	}
	if vi < 0 {
		return u, ui, v, vi, false
	}
	return u, ui, pts[vi].Sub(p), vi, true
}

func nearestFree(pts []r2.Point, used []bool, pred r2.Point, radius float64) int {
	best, bi := radius, -1
	for k, q := range pts {
		if used[k] {
			continue
		}
		if d := q.Sub(pred).Norm(); d <= best {
			best, bi = d, k
		}
	}
	return bi
}

// meanStep averages the image displacement between lattice neighbours
// along axis e.
func (g *grid) meanStep(e cell) r2.Point {
	var sum r2.Point
	n := 0
	for c, p := range g.pos {
		if q, ok := g.pos[c.add(e)]; ok {
			sum = sum.Add(q.Sub(p))
			n++
		}
	}
	if n == 0 {
		return r2.Point{}
	}
	return sum.Mul(1 / float64(n))
}

// ordered flattens the lattice into board order. The fast index follows the
// lattice axis with Cols corners (the more horizontal one for square
// boards), the slow axis is oriented so that fast x slow is positive in
// image coordinates, and of the two remaining 180 degree variants the one
// whose first corner has the smaller x+y wins.
func (g *grid) ordered(spec board.Spec) ([]r2.Point, error) {
	ni, nj := g.extent()
	ui, vj := g.meanStep(cell{1, 0}), g.meanStep(cell{0, 1})
	if ui.Norm() == 0 || vj.Norm() == 0 {
		return nil, errors.New("degenerate lattice")
	}

	fastIsI := ni == spec.Cols
	if ni == nj {
		fastIsI = math.Abs(ui.X)/ui.Norm() >= math.Abs(vj.X)/vj.Norm()
	}
	fast, slow := vj, ui
	if fastIsI {
		fast, slow = ui, vj
	}
	z := fast.Cross(slow)
	if math.Abs(z) < 1e-9*fast.Norm()*slow.Norm() {
		return nil, errors.New("collinear lattice axes")
	}
	slowSign := 1
	if z < 0 {
		slowSign = -1
	}

	at := func(r, c, fs, ss int) r2.Point {
		var f, s int
		if fastIsI {
			f, s = pick(g.minI, g.maxI, c, fs), pick(g.minJ, g.maxJ, r, ss)
			return g.pos[cell{f, s}]
		}
		f, s = pick(g.minJ, g.maxJ, c, fs), pick(g.minI, g.maxI, r, ss)
		return g.pos[cell{s, f}]
	}

	fs, ss := 1, slowSign
	a, b := at(0, 0, fs, ss), at(0, 0, -fs, -ss)
	if b.X+b.Y < a.X+a.Y {
		fs, ss = -fs, -ss
	}

	out := make([]r2.Point, 0, spec.Count())
	for r := range spec.Rows {
		for c := range spec.Cols {
			out = append(out, at(r, c, fs, ss))
		}
	}
	return out, nil
}

// pick walks k steps from lo when sign is positive, else from hi.
func pick(lo, hi, k, sign int) int {
	if sign > 0 {
		return lo + k
	}
	return hi - k
}
