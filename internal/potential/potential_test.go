package potential

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func checkGradient(t *testing.T, p Potential, x []float64) {
	t.Helper()

	e, g := p.EnergyGradient(x)
	if math.Abs(e-p.Energy(x)) > 1e-12 {
		t.Fatalf("EnergyGradient energy %v differs from Energy %v", e, p.Energy(x))
	}
	num := NumericalGradient(p, x, 1e-6)
	for i := range g {
		if math.Abs(g[i]-num[i]) > 1e-5*math.Max(1, math.Abs(num[i])) {
			t.Errorf("grad[%d] = %v, numerical %v", i, g[i], num[i])
		}
	}
}

func TestLJGradient(t *testing.T) {
	x := []float64{
		0, 0, 0,
		1.1, 0, 0,
		0.5, 0.9, 0.1,
		0.4, 0.3, 1.0,
	}
	checkGradient(t, NewLJ(), x)
}

func TestLJDimerMinimum(t *testing.T) {
	r := math.Pow(2, 1.0/6.0)
	x := []float64{0, 0, 0, r, 0, 0}
	e, g := NewLJ().EnergyGradient(x)
	if math.Abs(e+1) > 1e-12 {
		t.Errorf("dimer energy at r_min = %v, want -1", e)
	}
	if RMS(g) > 1e-10 {
		t.Errorf("dimer gradient at r_min = %v, want 0", g)
	}
}

func TestTrimerGradient(t *testing.T) {
	for _, x := range [][]float64{
		{0.3, -0.2, 0.1},
		{-0.7, 0.4, 0.9},
		{0, 0, 0},
	} {
		checkGradient(t, NewTrimer(), x)
	}
}

func TestTrimerStationaryPoints(t *testing.T) {
	p := NewTrimer()

	for _, m := range p.Minima() {
		e, g := p.EnergyGradient(m)
		if math.Abs(e-p.MinimumEnergy()) > 1e-12 || RMS(g) > 1e-12 {
			t.Errorf("minimum %v: energy %v grad %v", m, e, g)
		}
	}

	xs, es, mode := p.Saddle()
	e, g := p.EnergyGradient(xs)
	if e != es || RMS(g) != 0 {
		t.Errorf("saddle: energy %v grad %v", e, g)
	}

	val, vec, err := LowestEigen(p.Hessian(xs), 1e-8)
	if err != nil {
		t.Fatalf("LowestEigen failed: %v", err)
	}
	if math.Abs(val+8) > 1e-10 {
		t.Errorf("saddle eigenvalue = %v, want -8", val)
	}
	if math.Abs(math.Abs(Dot(vec, mode))-1) > 1e-10 {
		t.Errorf("saddle mode = %v, want ±%v", vec, mode)
	}
}

func TestTrimerHessianMatchesNumerical(t *testing.T) {
	p := NewTrimer()
	x := []float64{0.2, -0.1, 0.6}

	h := p.Hessian(x)
	num := NumericalHessian(p, x, 1e-5)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(h.At(i, j)-num.At(i, j)) > 1e-5 {
				t.Errorf("H[%d][%d] = %v, numerical %v", i, j, h.At(i, j), num.At(i, j))
			}
		}
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter(NewTrimer())
	x := []float64{0.1, 0.2, 0.3}
	c.Energy(x)
	c.Energy(x)
	c.EnergyGradient(x)

	if c.Energies != 2 || c.Gradients != 1 {
		t.Errorf("counts = (%d, %d), want (2, 1)", c.Energies, c.Gradients)
	}
}

func TestRigidLJGradient(t *testing.T) {
	x := []float64{
		0, 0, 0,
		0.2, 0.3, 1.4,
		0.3, -0.2, 0.5,
		1.1, 0.4, -0.7,
	}
	checkGradient(t, NewLJDimer(), x)
}

func TestRigidLJIgnoresIntramolecularPairs(t *testing.T) {
	p := NewRigidLJ([]r3.Vec{{X: -0.5}, {X: 0.5}, {Y: 0.9}})
	e, g := p.EnergyGradient([]float64{1, 2, 3, 0.4, -0.1, 0.8})
	if math.Abs(e) > 1e-12 {
		t.Errorf("single molecule energy = %v, want 0", e)
	}
	if RMS(g) > 1e-6 {
		t.Errorf("single molecule gradient = %v, want 0", g)
	}
}

func TestRigidLJTranslationInvariant(t *testing.T) {
	p := NewLJDimer()
	x := []float64{0, 0, 0, 0.2, 0.3, 1.4, 0.3, -0.2, 0.5, 1.1, 0.4, -0.7}
	shifted := append([]float64(nil), x...)
	for i := 0; i < 6; i++ {
		shifted[i] += 0.7
	}
	if math.Abs(p.Energy(x)-p.Energy(shifted)) > 1e-12 {
		t.Errorf("energy changed under translation: %v vs %v", p.Energy(x), p.Energy(shifted))
	}
	if got := len(p.SitePositions(x)); got != 12 {
		t.Errorf("got %d site coordinates, want 12", got)
	}
}
