// Package step provides step takers for the Monte Carlo engine: random displacements,
// adaptive step size control, rigid-body moves and stall-triggered reseeding.
package step

import (
	"math/rand"

	"github.com/cwbudde/landscape/internal/mc"
)

// Scalable is a step taker whose magnitude can be tuned
type Scalable interface {
	mc.StepTaker
	Scale(factor float64)
}

// Sized is a scalable step whose magnitude is saved with checkpoints
type Sized interface {
	Scalable
	Size() float64
	SetSize(size float64)
}

// RandomDisplacement moves every coordinate by a uniform amount in [-Stepsize, Stepsize]
type RandomDisplacement struct {
	Stepsize float64
	rng      *rand.Rand
}

// NewRandomDisplacement creates a uniform displacement step
func NewRandomDisplacement(stepsize float64, rng *rand.Rand) *RandomDisplacement {
	return &RandomDisplacement{Stepsize: stepsize, rng: rng}
}

// TakeStep displaces x in place
func (r *RandomDisplacement) TakeStep(x []float64, _ mc.StepContext) {
	for i := range x {
		x[i] += r.Stepsize * (2*r.rng.Float64() - 1)
	}
}

// UpdateStep does nothing
func (r *RandomDisplacement) UpdateStep(bool, mc.StepContext) {}

// Scale multiplies the step size
func (r *RandomDisplacement) Scale(factor float64) {
	r.Stepsize *= factor
}

// Size returns the step size
func (r *RandomDisplacement) Size() float64 { return r.Stepsize }

// SetSize replaces the step size
func (r *RandomDisplacement) SetSize(size float64) { r.Stepsize = size }
