package camera

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Mat3 is a row-major 3x3 matrix.
type Mat3 [9]float64

// Identity3 returns the identity matrix.
func Identity3() Mat3 { return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1} }

// At returns element (r, c).
func (m Mat3) At(r, c int) float64 { return m[3*r+c] }

// MulVec returns m*v.
func (m Mat3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// Mul returns m*o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for r := range 3 {
		for c := range 3 {
			out[3*r+c] = m[3*r]*o[c] + m[3*r+1]*o[3+c] + m[3*r+2]*o[6+c]
		}
	}
	return out
}

// T returns the transpose.
func (m Mat3) T() Mat3 {
	return Mat3{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}
}

// Det returns the determinant.
func (m Mat3) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Dense converts to a gonum matrix.
func (m Mat3) Dense() *mat.Dense {
	d := make([]float64, 9)
	copy(d, m[:])
	return mat.NewDense(3, 3, d)
}

// Mat3FromDense copies a 3x3 gonum matrix.
func Mat3FromDense(d mat.Matrix) Mat3 {
	var m Mat3
	for r := range 3 {
		for c := range 3 {
			m[3*r+c] = d.At(r, c)
		}
	}
	return m
}

// RotationMatrix converts an axis-angle vector to a rotation matrix.
func RotationMatrix(rvec r3.Vector) Mat3 {
	theta := rvec.Norm()
	if theta < 1e-12 {
		// first order expansion I + [r]x
		return Mat3{
			1, -rvec.Z, rvec.Y,
			rvec.Z, 1, -rvec.X,
			-rvec.Y, rvec.X, 1,
		}
	}
	k := rvec.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return Mat3{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	}
}

// AxisAngle converts a rotation matrix to an axis-angle vector with angle in [0, pi].
func AxisAngle(m Mat3) r3.Vector {
	cosT := (m[0] + m[4] + m[8] - 1) / 2
	cosT = math.Max(-1, math.Min(1, cosT))
	theta := math.Acos(cosT)
	w := r3.Vector{X: m[7] - m[5], Y: m[2] - m[6], Z: m[3] - m[1]}

	switch {
	case theta < 1e-9:
		return w.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// near pi the skew part vanishes; recover the axis from the symmetric part
		xx := math.Sqrt(math.Max(0, (m[0]+1)/2))
		yy := math.Sqrt(math.Max(0, (m[4]+1)/2))
		zz := math.Sqrt(math.Max(0, (m[8]+1)/2))
		axis := r3.Vector{X: xx, Y: yy, Z: zz}
		switch {
		case xx >= yy && xx >= zz:
			axis.Y = math.Copysign(yy, m[1]+m[3])
			axis.Z = math.Copysign(zz, m[2]+m[6])
		case yy >= zz:
			axis.X = math.Copysign(xx, m[1]+m[3])
			axis.Z = math.Copysign(zz, m[5]+m[7])
		default:
			axis.X = math.Copysign(xx, m[2]+m[6])
			axis.Y = math.Copysign(yy, m[5]+m[7])
		}
		return axis.Normalize().Mul(theta)
	default:
		return w.Mul(theta / (2 * math.Sin(theta)))
	}
}

// NearestRotation projects an arbitrary 3x3 matrix onto SO(3) using SVD.
func NearestRotation(m Mat3) (Mat3, bool) {
	var svd mat.SVD
	if !svd.Factorize(m.Dense(), mat.SVDFull) {
		return Identity3(), false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&u, v.T())
	out := Mat3FromDense(&r)
	if out.Det() < 0 {
		// flip the axis of the smallest singular value
		for i := range 3 {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
		out = Mat3FromDense(&r)
	}
	return out, true
}
