package potential

// LJ is a Lennard-Jones cluster: V(r) = 4 eps ((sig/r)^12 - (sig/r)^6) summed over pairs.
// Coordinates are laid out as x0,y0,z0,x1,y1,z1,...
type LJ struct {
	Eps   float64
	Sigma float64
}

// NewLJ returns a Lennard-Jones potential in reduced units
func NewLJ() *LJ {
	return &LJ{Eps: 1, Sigma: 1}
}

// Energy returns the total pair energy
func (p *LJ) Energy(x []float64) float64 {
	natoms := len(x) / 3
	sig6 := pow6(p.Sigma)
	var e float64
	for i := 0; i < natoms; i++ {
		for j := 0; j < i; j++ {
			r2 := dist2(x, i, j)
			ir6 := sig6 / (r2 * r2 * r2)
			e += 4 * p.Eps * (ir6*ir6 - ir6)
		}
	}
	return e
}

// EnergyGradient returns the total pair energy and its gradient
func (p *LJ) EnergyGradient(x []float64) (float64, []float64) {
	natoms := len(x) / 3
	grad := make([]float64, len(x))
	sig6 := pow6(p.Sigma)
	var e float64
	for i := 0; i < natoms; i++ {
		for j := 0; j < i; j++ {
			r2 := dist2(x, i, j)
			ir2 := 1 / r2
			ir6 := sig6 * ir2 * ir2 * ir2
			e += 4 * p.Eps * (ir6*ir6 - ir6)
			// (dV/dr)/r
			g := -4 * p.Eps * (12*ir6*ir6 - 6*ir6) * ir2
			for k := 0; k < 3; k++ {
				dr := x[3*i+k] - x[3*j+k]
				grad[3*i+k] += g * dr
				grad[3*j+k] -= g * dr
			}
		}
	}
	return e, grad
}

func dist2(x []float64, i, j int) float64 {
	var r2 float64
	for k := 0; k < 3; k++ {
		d := x[3*i+k] - x[3*j+k]
		r2 += d * d
	}
	return r2
}

func pow6(v float64) float64 {
	v2 := v * v
	return v2 * v2 * v2
}
