package calibrate

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/geometry"
	"gonum.org/v1/gonum/mat"
)

var errNotPositiveDefinite = errors.New("image of the absolute conic is not positive definite")

// conditioner maps pixels to roughly unit range around the image center.
func conditioner(width, height int) camera.Mat3 {
	s := 2 / float64(width+height)
	return camera.Mat3{
		s, 0, -s * float64(width) / 2,
		0, s, -s * float64(height) / 2,
		0, 0, 1,
	}
}

// zhangRow builds v_ij from columns i and j of h.
func zhangRow(h camera.Mat3, i, j int) []float64 {
	hi := [3]float64{h[i], h[3+i], h[6+i]}
	hj := [3]float64{h[j], h[3+j], h[6+j]}
	return []float64{
		hi[0] * hj[0],
		hi[0]*hj[1] + hi[1]*hj[0],
		hi[1] * hj[1],
		hi[2]*hj[0] + hi[0]*hj[2],
		hi[2]*hj[1] + hi[1]*hj[2],
		hi[2] * hj[2],
	}
}

// zhangIntrinsics solves the closed-form intrinsic estimate from per-view
// homographies (board plane to pixels). Skew is constrained to zero unless
// estimateSkew is set. It returns geometry.ErrDegenerate when the views do
// not constrain the camera, e.g. when all boards are parallel.
func zhangIntrinsics(hs []camera.Mat3, width, height int, estimateSkew bool) (camera.Intrinsics, error) {
	n := conditioner(width, height)
	rows := 2 * len(hs)
	if !estimateSkew {
		rows++
	}
	v := mat.NewDense(max(rows, 6), 6, nil)
	for k, h := range hs {
		hn := n.Mul(h)
		a, b := zhangRow(hn, 0, 0), zhangRow(hn, 1, 1)
		for i := range a {
			a[i] -= b[i]
		}
		v.SetRow(2*k, unit(zhangRow(hn, 0, 1)))
		v.SetRow(2*k+1, unit(a))
	}
	if !estimateSkew {
		v.SetRow(2*len(hs), []float64{0, 1, 0, 0, 0, 0})
	}

	var svd mat.SVD
	if !svd.Factorize(v, mat.SVDFull) {
		return camera.Intrinsics{}, errors.New("zhang: svd failed")
	}
	sv := svd.Values(nil)
	if sv[4] < 1e-9*sv[0] {
		return camera.Intrinsics{}, fmt.Errorf("zhang: %w", geometry.ErrDegenerate)
	}
	var vt mat.Dense
	svd.VTo(&vt)
	b := mat.Col(nil, 5, &vt)
	if b[0] < 0 {
		for i := range b {
			b[i] = -b[i]
		}
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]

	den := b11*b22 - b12*b12
	if b11 <= 0 || den <= 0 {
		return camera.Intrinsics{}, errNotPositiveDefinite
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	if lambda/b11 <= 0 {
		return camera.Intrinsics{}, errNotPositiveDefinite
	}
	alpha := math.Sqrt(lambda / b11)
	beta := math.Sqrt(lambda * b11 / den)
	gamma := -b12 * alpha * alpha * beta / lambda
	u0 := gamma*v0/beta - b13*alpha*alpha/lambda

	kn := camera.Mat3{alpha, gamma, u0, 0, beta, v0, 0, 0, 1}
	nInv, ok := inverse(n)
	if !ok {
		return camera.Intrinsics{}, errors.New("zhang: singular conditioner")
	}
	k := nInv.Mul(kn)
	in := camera.Intrinsics{
		Width: width, Height: height,
		Fx: k[0], Fy: k[4], Cx: k[2], Cy: k[5], Skew: k[1],
	}
	if !estimateSkew {
		in.Skew = 0
	}
	if err := in.CheckValid(); err != nil {
		return camera.Intrinsics{}, fmt.Errorf("zhang: %w", err)
	}
	return in, nil
}

// fallbackIntrinsics fixes the principal point at the image center and
// fits the two focal lengths to the orthogonality constraints of all
// homographies in the least-squares sense.
func fallbackIntrinsics(hs []camera.Mat3, width, height int) (camera.Intrinsics, error) {
	cx, cy := float64(width-1)/2, float64(height-1)/2
	shift := camera.Mat3{1, 0, -cx, 0, 1, -cy, 0, 0, 1}

	a := mat.NewDense(2*len(hs), 2, nil)
	rhs := mat.NewVecDense(2*len(hs), nil)
	for k, h := range hs {
		hc := shift.Mul(h)
		h11, h12 := hc[0], hc[1]
		h21, h22 := hc[3], hc[4]
		h31, h32 := hc[6], hc[7]
		// normalize the row pair so every view weighs the same
		s := 1 / math.Max(math.Hypot(h11*h12, h21*h22)+math.Hypot(h11*h11-h12*h12, h21*h21-h22*h22), 1e-300)
		a.SetRow(2*k, []float64{h11 * h12 * s, h21 * h22 * s})
		rhs.SetVec(2*k, -h31*h32*s)
		a.SetRow(2*k+1, []float64{(h11*h11 - h12*h12) * s, (h21*h21 - h22*h22) * s})
		rhs.SetVec(2*k+1, -(h31*h31-h32*h32)*s)
	}
	var x mat.VecDense
	if err := x.SolveVec(a, rhs); err != nil {
		return camera.Intrinsics{}, fmt.Errorf("focal fit: %w", err)
	}
	ia, ib := x.AtVec(0), x.AtVec(1)
	if ia <= 0 || ib <= 0 {
		return camera.Intrinsics{}, fmt.Errorf("focal fit: %w", errNotPositiveDefinite)
	}
	in := camera.Intrinsics{
		Width: width, Height: height,
		Fx: 1 / math.Sqrt(ia), Fy: 1 / math.Sqrt(ib),
		Cx: cx, Cy: cy,
	}
	if err := in.CheckValid(); err != nil {
		return camera.Intrinsics{}, fmt.Errorf("focal fit: %w", err)
	}
	return in, nil
}

// initialPose decomposes the pixel homography of one view given K.
func initialPose(h camera.Mat3, in camera.Intrinsics) (camera.Pose, error) {
	kInv, ok := inverse(in.Matrix())
	if !ok {
		return camera.Pose{}, geometry.ErrDegenerate
	}
	return geometry.PoseFromHomography(kInv.Mul(h))
}

// unit scales a constraint row to unit length so that every view carries
// the same weight.
func unit(row []float64) []float64 {
	var n float64
	for _, x := range row {
		n += x * x
	}
	if n = math.Sqrt(n); n > 0 {
		for i := range row {
			row[i] /= n
		}
	}
	return row
}

func inverse(m camera.Mat3) (camera.Mat3, bool) {
	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		return camera.Mat3{}, false
	}
	return camera.Mat3FromDense(&inv), true
}
