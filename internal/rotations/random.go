package rotations

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RandomQ returns a unit quaternion uniformly distributed over SO(3) (Shoemake's method).
func RandomQ(rng *rand.Rand) quat.Number {
	u1, u2, u3 := rng.Float64(), rng.Float64(), rng.Float64()
	a := math.Sqrt(1 - u1)
	b := math.Sqrt(u1)
	q := quat.Number{
		Real: a * math.Sin(2*math.Pi*u2),
		Imag: a * math.Cos(2*math.Pi*u2),
		Jmag: b * math.Sin(2*math.Pi*u3),
		Kmag: b * math.Cos(2*math.Pi*u3),
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// RandomAA returns a uniformly distributed random rotation as an angle-axis vector.
func RandomAA(rng *rand.Rand) r3.Vec {
	return Q2AA(RandomQ(rng))
}

// SmallRandomAA returns a random rotation with angle at most maxAngle. The angle is drawn
// with density proportional to sin^2(theta/2), the Haar measure restricted to the ball,
// and the axis is uniform on the sphere.
func SmallRandomAA(rng *rand.Rand, maxAngle float64) r3.Vec {
	if maxAngle >= math.Pi {
		return RandomAA(rng)
	}
	envelope := math.Pow(math.Sin(maxAngle/2), 2)
	var theta float64
	for {
		theta = maxAngle * rng.Float64()
		if rng.Float64()*envelope <= math.Pow(math.Sin(theta/2), 2) {
			break
		}
	}
	return r3.Scale(theta, VecRandom(rng))
}

// TakestepAA perturbs the orientation p by a small random rotation of at most maxAngle.
func TakestepAA(rng *rand.Rand, p r3.Vec, maxAngle float64) r3.Vec {
	return RotateAA(p, SmallRandomAA(rng, maxAngle))
}

// VecRandom returns a unit 3-vector uniformly distributed on the sphere.
func VecRandom(rng *rand.Rand) r3.Vec {
	u := 2*rng.Float64() - 1
	phi := 2 * math.Pi * rng.Float64()
	s := math.Sqrt(1 - u*u)
	return r3.Vec{X: s * math.Cos(phi), Y: s * math.Sin(phi), Z: u}
}

// VecRandomNDim returns a unit vector uniformly distributed on the (n-1)-sphere.
// Components are drawn from an isotropic Gaussian and normalized.
func VecRandomNDim(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for {
		var norm2 float64
		for i := range v {
			v[i] = rng.NormFloat64()
			norm2 += v[i] * v[i]
		}
		if norm2 > 1e-20 {
			inv := 1 / math.Sqrt(norm2)
			for i := range v {
				v[i] *= inv
			}
			return v
		}
	}
}
