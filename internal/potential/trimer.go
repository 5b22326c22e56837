package potential

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Trimer is a toy system of three particles on a line.
// The outer pair separation d = x3 - x1 sits in a symmetric double well and the
// remaining two modes are harmonic with stiffness K:
//
//	E = (d^2 - 1)^2 + K/4 (x1 + x3)^2 + K/2 x2^2
//
// Swapping the outer particles maps one minimum onto the other, so the surface has two
// mirror-image minima at d = ±1 (E = 0) joined by a first-order saddle at the
// origin (E = 1) whose unstable mode is (-1, 0, 1)/sqrt(2) with eigenvalue -8.
type Trimer struct {
	K float64
}

// NewTrimer returns the toy trimer with K = 2
func NewTrimer() *Trimer {
	return &Trimer{K: 2}
}

// Energy returns the trimer energy
func (p *Trimer) Energy(x []float64) float64 {
	d := x[2] - x[0]
	s := x[0] + x[2]
	w := d*d - 1
	return w*w + p.K/4*s*s + p.K/2*x[1]*x[1]
}

// EnergyGradient returns the trimer energy and gradient
func (p *Trimer) EnergyGradient(x []float64) (float64, []float64) {
	d := x[2] - x[0]
	s := x[0] + x[2]
	w := d*d - 1
	dd := 4 * d * w
	grad := []float64{
		-dd + p.K/2*s,
		p.K * x[1],
		dd + p.K/2*s,
	}
	return w*w + p.K/4*s*s + p.K/2*x[1]*x[1], grad
}

// Hessian returns the analytic second-derivative matrix at x
func (p *Trimer) Hessian(x []float64) *mat.SymDense {
	d := x[2] - x[0]
	c := 12*d*d - 4
	h := mat.NewSymDense(3, nil)
	h.SetSym(0, 0, c+p.K/2)
	h.SetSym(2, 2, c+p.K/2)
	h.SetSym(0, 2, -c+p.K/2)
	h.SetSym(1, 1, p.K)
	return h
}

// Minima returns the two mirror-image minima
func (p *Trimer) Minima() [2][]float64 {
	return [2][]float64{
		{0.5, 0, -0.5},
		{-0.5, 0, 0.5},
	}
}

// MinimumEnergy is the energy of both minima
func (p *Trimer) MinimumEnergy() float64 { return 0 }

// Saddle returns the transition state, its energy and its unstable mode
func (p *Trimer) Saddle() (x []float64, energy float64, mode []float64) {
	return []float64{0, 0, 0}, 1, []float64{-1 / math.Sqrt2, 0, 1 / math.Sqrt2}
}
