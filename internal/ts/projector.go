package ts

import "math"

// Projector removes zero-curvature directions (rigid translations and rotations) from
// v in place, given the configuration x they are evaluated at.
type Projector interface {
	Project(v, x []float64)
}

// NoProjection disables zero-mode removal for systems without continuous symmetries.
type NoProjection struct{}

// Project does nothing
func (NoProjection) Project([]float64, []float64) {}

// OrthogOpt projects out the three translations and three rotations about the centre
// of mass of a 3-D Cartesian cluster laid out as x0,y0,z0,x1,...
type OrthogOpt struct{}

// Project removes the rigid-body components from v. Vectors whose length is not a
// multiple of three, or that describe a single atom, are left unchanged.
func (OrthogOpt) Project(v, x []float64) {
	natoms := len(x) / 3
	if len(x)%3 != 0 || natoms < 2 || len(v) != len(x) {
		return
	}

	var com [3]float64
	for i := 0; i < natoms; i++ {
		for k := 0; k < 3; k++ {
			com[k] += x[3*i+k]
		}
	}
	for k := range com {
		com[k] /= float64(natoms)
	}

	basis := make([][]float64, 0, 6)
	for k := 0; k < 3; k++ {
		t := make([]float64, len(x))
		for i := 0; i < natoms; i++ {
			t[3*i+k] = 1
		}
		basis = append(basis, t)
	}
	// rotation about axis k moves atom i along e_k x r_i
	for k := 0; k < 3; k++ {
		r := make([]float64, len(x))
		for i := 0; i < natoms; i++ {
			rx := x[3*i] - com[0]
			ry := x[3*i+1] - com[1]
			rz := x[3*i+2] - com[2]
			switch k {
			case 0:
				r[3*i+1], r[3*i+2] = -rz, ry
			case 1:
				r[3*i], r[3*i+2] = rz, -rx
			case 2:
				r[3*i], r[3*i+1] = -ry, rx
			}
		}
		basis = append(basis, r)
	}

	ortho := gramSchmidt(basis)
	for _, b := range ortho {
		c := dot(v, b)
		for j := range v {
			v[j] -= c * b[j]
		}
	}
}

// gramSchmidt orthonormalizes vs, dropping vectors that are (nearly) linearly dependent
func gramSchmidt(vs [][]float64) [][]float64 {
	out := make([][]float64, 0, len(vs))
	for _, v := range vs {
		w := append([]float64(nil), v...)
		for _, b := range out {
			c := dot(w, b)
			for j := range w {
				w[j] -= c * b[j]
			}
		}
		n := math.Sqrt(dot(w, w))
		if n < 1e-10 {
			continue
		}
		for j := range w {
			w[j] /= n
		}
		out = append(out, w)
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// normalize scales v to unit length in place and returns its previous length
func normalize(v []float64) float64 {
	n := math.Sqrt(dot(v, v))
	if n == 0 {
		return 0
	}
	for i := range v {
		v[i] /= n
	}
	return n
}
