package potential

import "math"

// Potential evaluates the energy landscape of a coordinate vector.
// Implementations must be pure functions of the coordinates: repeated calls with
// the same input return the same result and no hidden state is mutated.
type Potential interface {
	// Energy returns the energy at x
	Energy(x []float64) float64

	// EnergyGradient returns the energy at x and a freshly allocated gradient
	// of the same length as x
	EnergyGradient(x []float64) (float64, []float64)
}

// Counter wraps a Potential and counts evaluations.
// It is not safe for concurrent use.
type Counter struct {
	Potential
	Energies  int
	Gradients int
}

// NewCounter wraps p in an evaluation counter
func NewCounter(p Potential) *Counter {
	return &Counter{Potential: p}
}

// Energy counts and forwards an energy evaluation
func (c *Counter) Energy(x []float64) float64 {
	c.Energies++
	return c.Potential.Energy(x)
}

// EnergyGradient counts and forwards an energy+gradient evaluation
func (c *Counter) EnergyGradient(x []float64) (float64, []float64) {
	c.Gradients++
	return c.Potential.EnergyGradient(x)
}

// RMS returns the root-mean-square of g, i.e. |g|/sqrt(len(g))
func RMS(g []float64) float64 {
	if len(g) == 0 {
		return 0
	}
	return Norm(g) / math.Sqrt(float64(len(g)))
}

// Norm returns the Euclidean norm of v
func Norm(v []float64) float64 {
	return math.Sqrt(Dot(v, v))
}

// Dot returns the inner product of a and b
func Dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
