// Package rotations converts between quaternions, angle-axis vectors and rotation
// matrices, and draws uniformly distributed random rotations and directions.
//
// Quaternions are gonum quat.Number values with Real as the scalar part. Angle-axis
// vectors are r3.Vec values whose direction is the rotation axis and whose length is
// the rotation angle in radians.
package rotations

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Epsilon below which an angle-axis vector is treated as the identity rotation.
const Epsilon = 1e-6

// Matrix3 is a row-major 3x3 rotation matrix.
type Matrix3 [3][3]float64

// Identity returns the identity quaternion.
func Identity() quat.Number {
	return quat.Number{Real: 1}
}

// QMultiply returns the Hamilton product q0*q1, i.e. the rotation q1 followed by q0.
func QMultiply(q0, q1 quat.Number) quat.Number {
	return quat.Mul(q0, q1)
}

// AA2Q converts an angle-axis vector to a unit quaternion.
func AA2Q(p r3.Vec) quat.Number {
	theta := r3.Norm(p)
	if theta < Epsilon {
		return Identity()
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{
		Real: math.Cos(theta / 2),
		Imag: s * p.X,
		Jmag: s * p.Y,
		Kmag: s * p.Z,
	}
}

// Q2AA converts a quaternion to an angle-axis vector with angle in [0, pi].
// Non-unit input is normalized first.
func Q2AA(q quat.Number) r3.Vec {
	if n := quat.Abs(q); n > 0 && math.Abs(n-1) > 1e-12 {
		q = quat.Scale(1/n, q)
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	if q.Real > 1 {
		q.Real = 1
	}
	theta := 2 * math.Acos(q.Real)
	s := math.Sqrt(1 - q.Real*q.Real)
	v := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	if s < Epsilon {
		// small angle: sin(theta/2) ~ theta/2
		return r3.Scale(2, v)
	}
	return r3.Scale(theta/s, v)
}

// Q2MX converts a unit quaternion to a rotation matrix.
func Q2MX(q quat.Number) Matrix3 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Matrix3{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// MX2Q converts a rotation matrix to a unit quaternion with non-negative scalar part.
func MX2Q(m Matrix3) quat.Number {
	var q quat.Number
	tr := m[0][0] + m[1][1] + m[2][2]
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{
			Real: s / 4,
			Imag: (m[2][1] - m[1][2]) / s,
			Jmag: (m[0][2] - m[2][0]) / s,
			Kmag: (m[1][0] - m[0][1]) / s,
		}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := 2 * math.Sqrt(1+m[0][0]-m[1][1]-m[2][2])
		q = quat.Number{
			Real: (m[2][1] - m[1][2]) / s,
			Imag: s / 4,
			Jmag: (m[0][1] + m[1][0]) / s,
			Kmag: (m[0][2] + m[2][0]) / s,
		}
	case m[1][1] > m[2][2]:
		s := 2 * math.Sqrt(1+m[1][1]-m[0][0]-m[2][2])
		q = quat.Number{
			Real: (m[0][2] - m[2][0]) / s,
			Imag: (m[0][1] + m[1][0]) / s,
			Jmag: s / 4,
			Kmag: (m[1][2] + m[2][1]) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m[2][2]-m[0][0]-m[1][1])
		q = quat.Number{
			Real: (m[1][0] - m[0][1]) / s,
			Imag: (m[0][2] + m[2][0]) / s,
			Jmag: (m[1][2] + m[2][1]) / s,
			Kmag: s / 4,
		}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// AA2MX converts an angle-axis vector to a rotation matrix.
func AA2MX(p r3.Vec) Matrix3 {
	return Q2MX(AA2Q(p))
}

// MX2AA converts a rotation matrix to an angle-axis vector.
func MX2AA(m Matrix3) r3.Vec {
	return Q2AA(MX2Q(m))
}

// RotateAA composes two angle-axis rotations: the result rotates by p1 and then by p2.
func RotateAA(p1, p2 r3.Vec) r3.Vec {
	return Q2AA(QMultiply(AA2Q(p2), AA2Q(p1)))
}

// Apply rotates v by m.
func (m Matrix3) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Mul returns the matrix product m*n.
func (m Matrix3) Mul(n Matrix3) Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				r[i][j] += m[i][k] * n[k][j]
			}
		}
	}
	return r
}

// QSlerp interpolates along the shortest great arc between unit quaternions a and b.
// t = 0 returns a and t = 1 returns b (or -b, which is the same rotation).
func QSlerp(a, b quat.Number, t float64) quat.Number {
	cos := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if cos < 0 {
		b = quat.Scale(-1, b)
		cos = -cos
	}
	if cos > 0.9995 {
		q := quat.Add(quat.Scale(1-t, a), quat.Scale(t, b))
		return quat.Scale(1/quat.Abs(q), q)
	}
	theta := math.Acos(cos)
	sin := math.Sin(theta)
	return quat.Add(
		quat.Scale(math.Sin((1-t)*theta)/sin, a),
		quat.Scale(math.Sin(t*theta)/sin, b),
	)
}

// AAAt reads the angle-axis vector stored at x[3*i:3*i+3].
func AAAt(x []float64, i int) r3.Vec {
	return r3.Vec{X: x[3*i], Y: x[3*i+1], Z: x[3*i+2]}
}

// SetAA writes p to x[3*i:3*i+3].
func SetAA(x []float64, i int, p r3.Vec) {
	x[3*i], x[3*i+1], x[3*i+2] = p.X, p.Y, p.Z
}
