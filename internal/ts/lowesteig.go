// Package ts locates first-order saddle points (transition states) by eigenvector
// following: the lowest-curvature direction is estimated from finite differences of
// the gradient, the configuration is stepped uphill along it and relaxed in the
// orthogonal subspace.
package ts

import (
	"math/rand"

	"github.com/cwbudde/landscape/internal/opt"
	"github.com/cwbudde/landscape/internal/potential"
	"github.com/cwbudde/landscape/internal/rotations"
)

// LowestEigConfig configures the lowest-eigenvector search
type LowestEigConfig struct {
	// Tol is the rms tolerance on the curvature gradient
	Tol float64 `json:"tol"`

	MaxSteps int `json:"max_steps"`

	// Dx is the finite-difference displacement
	Dx float64 `json:"dx"`

	// MaxStep clamps a single update of the trial vector
	MaxStep float64 `json:"max_step"`

	// Projector defaults to OrthogOpt; use NoProjection{} to disable
	Projector Projector `json:"-"`

	// Minimizer defaults to the in-house LBFGS
	Minimizer opt.Minimizer `json:"-"`
}

// DefaultLowestEigConfig returns the lowest-eigenvector search defaults
func DefaultLowestEigConfig() LowestEigConfig {
	return LowestEigConfig{
		Tol:      1e-6,
		MaxSteps: 500,
		Dx:       1e-3,
		MaxStep:  0.1,
	}
}

// EigResult is the outcome of a lowest-eigenvector search
type EigResult struct {
	Eigenvalue  float64
	Eigenvector []float64

	// H0 is the curvature minimizer's inverse-Hessian hint for the next call
	H0 float64

	Success bool
	NFev    int
	RMS     float64
}

func (r EigResult) clone() EigResult {
	r.Eigenvector = append([]float64(nil), r.Eigenvector...)
	return r
}

// curvature evaluates the finite-difference curvature along unit vectors at a fixed anchor
type curvature struct {
	pot       potential.Potential
	anchor    []float64
	dx        float64
	projector Projector
}

// energyGradient returns the curvature along v and its gradient with respect to v
func (c *curvature) energyGradient(vin []float64) (float64, []float64) {
	v := append([]float64(nil), vin...)
	normalize(v)
	c.projector.Project(v, c.anchor)
	normalize(v)

	n := len(v)
	xp := make([]float64, n)
	xm := make([]float64, n)
	for i := range v {
		xp[i] = c.anchor[i] + c.dx*v[i]
		xm[i] = c.anchor[i] - c.dx*v[i]
	}
	_, gp := c.pot.EnergyGradient(xp)
	_, gm := c.pot.EnergyGradient(xm)

	diff := make([]float64, n)
	for i := range diff {
		diff[i] = gp[i] - gm[i]
	}
	curv := dot(diff, v) / (2 * c.dx)

	grad := make([]float64, n)
	for i := range grad {
		grad[i] = diff[i]/c.dx - 2*curv*v[i]
	}
	c.projector.Project(grad, c.anchor)
	gpar := dot(grad, v)
	for i := range grad {
		grad[i] -= gpar * v[i]
	}
	return curv, grad
}

// FindLowestEigenvector estimates the lowest eigenvalue and unit eigenvector of the
// Hessian of pot at x. The search starts from v0, or from a random unit vector when
// v0 is nil, and h0 warm-starts the curvature minimizer when positive.
func FindLowestEigenvector(x []float64, pot potential.Potential, v0 []float64, h0 float64, cfg LowestEigConfig, rng *rand.Rand) EigResult {
	projector := cfg.Projector
	if projector == nil {
		projector = OrthogOpt{}
	}
	minimizer := cfg.Minimizer
	if minimizer == nil {
		minimizer = &opt.LBFGS{}
	}

	var v []float64
	if v0 != nil {
		v = append([]float64(nil), v0...)
	} else {
		v = rotations.VecRandomNDim(rng, len(x))
	}
	projector.Project(v, x)
	if normalize(v) == 0 {
		v = rotations.VecRandomNDim(rng, len(x))
	}

	c := &curvature{
		pot:       pot,
		anchor:    append([]float64(nil), x...),
		dx:        cfg.Dx,
		projector: projector,
	}
	opts := opt.DefaultOptions()
	opts.Tol = cfg.Tol
	opts.MaxSteps = cfg.MaxSteps
	opts.MaxStep = cfg.MaxStep
	opts.H0 = h0

	res := minimizer.Minimize(v, c.energyGradient, opts)

	vec := append([]float64(nil), res.X...)
	normalize(vec)
	projector.Project(vec, x)
	normalize(vec)

	return EigResult{
		Eigenvalue:  res.Energy,
		Eigenvector: vec,
		H0:          res.H0,
		Success:     res.Success,
		NFev:        2 * res.NFev,
		RMS:         res.RMS,
	}
}
