// Package mc implements a Monte Carlo engine over an energy landscape and the basin
// hopping driver that accepts or rejects on quenched (locally minimized) energies.
package mc

import (
	"math"
	"math/rand"
)

// StepContext exposes read-only engine state to step takers and validity checks.
type StepContext interface {
	// StepNum is the number of completed steps
	StepNum() int
	// NAccepted is the number of accepted steps
	NAccepted() int
	// Temperature is the engine temperature
	Temperature() float64
	// Energy is the Markov-state energy
	Energy() float64
	// TrialEnergy is the energy of the most recent trial
	TrialEnergy() float64
	// Accepted reports whether the most recent trial was accepted
	Accepted() bool
}

// StepTaker perturbs coordinates in place and may adapt to the acceptance history.
type StepTaker interface {
	TakeStep(x []float64, ctx StepContext)
	UpdateStep(accepted bool, ctx StepContext)
}

// AcceptTest decides whether a trial replaces the Markov state.
type AcceptTest interface {
	Accept(eOld, eNew float64, xOld, xNew []float64) bool
}

// AcceptFunc adapts a function to AcceptTest
type AcceptFunc func(eOld, eNew float64, xOld, xNew []float64) bool

// Accept calls f
func (f AcceptFunc) Accept(eOld, eNew float64, xOld, xNew []float64) bool {
	return f(eOld, eNew, xOld, xNew)
}

// ConfCheck validates a trial before the acceptance test. Returning false rejects the trial.
type ConfCheck func(energy float64, x []float64, ctx StepContext) bool

// Observer is called after every step with the Markov energy and coordinates, after
// the acceptance update, and the acceptance outcome. Coordinates are a private copy.
type Observer func(energy float64, x []float64, accepted bool)

// Storage receives (energy, coordinates) pairs in step order. Implementations shared by
// several engines must serialize Insert themselves.
type Storage interface {
	Insert(energy float64, x []float64) error
}

// StorageFunc adapts a function to Storage
type StorageFunc func(energy float64, x []float64) error

// Insert calls f
func (f StorageFunc) Insert(energy float64, x []float64) error {
	return f(energy, x)
}

// Metropolis accepts downhill moves and uphill moves with probability exp(-dE/T).
type Metropolis struct {
	Temperature float64
	Rand        *rand.Rand
}

// NewMetropolis returns a Metropolis test at temperature t
func NewMetropolis(t float64, rng *rand.Rand) *Metropolis {
	return &Metropolis{Temperature: t, Rand: rng}
}

// Accept applies the Metropolis criterion
func (m *Metropolis) Accept(eOld, eNew float64, _, _ []float64) bool {
	dE := eNew - eOld
	if dE <= 0 {
		return true
	}
	if m.Temperature <= 0 {
		return false
	}
	return m.Rand.Float64() < math.Exp(-dE/m.Temperature)
}
