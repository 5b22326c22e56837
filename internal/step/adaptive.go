package step

import (
	"log/slog"

	"github.com/cwbudde/landscape/internal/mc"
)

// AdaptiveConfig tunes a wrapped step toward a target acceptance ratio
type AdaptiveConfig struct {
	// Target acceptance ratio
	Target float64 `json:"target" yaml:"target"`

	// Factor multiplies the step size when too few steps are accepted, and divides
	// it when too many are
	Factor float64 `json:"factor" yaml:"factor"`

	// Frequency is the number of steps per adjustment block
	Frequency int `json:"frequency" yaml:"frequency"`

	// LastStep stops adaptation after this many steps; 0 adapts forever
	LastStep int `json:"last_step" yaml:"last_step"`
}

// DefaultAdaptiveConfig returns the adaptive step defaults
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Target:    0.5,
		Factor:    0.9,
		Frequency: 100,
	}
}

// AdaptiveStepsize rescales a wrapped step every Frequency steps
type AdaptiveStepsize struct {
	step   Scalable
	config AdaptiveConfig

	nsteps    int
	naccepted int
	total     int
}

// NewAdaptiveStepsize wraps step
func NewAdaptiveStepsize(step Scalable, config AdaptiveConfig) *AdaptiveStepsize {
	return &AdaptiveStepsize{step: step, config: config}
}

// TakeStep delegates to the wrapped step
func (a *AdaptiveStepsize) TakeStep(x []float64, ctx mc.StepContext) {
	a.step.TakeStep(x, ctx)
}

// UpdateStep records the outcome and adjusts the step at the end of each block
func (a *AdaptiveStepsize) UpdateStep(accepted bool, ctx mc.StepContext) {
	a.step.UpdateStep(accepted, ctx)
	a.nsteps++
	a.total++
	if accepted {
		a.naccepted++
	}
	if a.config.LastStep > 0 && a.total > a.config.LastStep {
		return
	}
	if a.config.Frequency > 0 && a.nsteps >= a.config.Frequency {
		a.adjust()
	}
}

func (a *AdaptiveStepsize) adjust() {
	ratio := float64(a.naccepted) / float64(a.nsteps)
	factor := a.config.Factor
	if ratio > a.config.Target {
		factor = 1 / factor
	}
	a.step.Scale(factor)
	slog.Debug("Adjusted step size", "acceptance_ratio", ratio, "target", a.config.Target, "factor", factor)
	a.nsteps = 0
	a.naccepted = 0
}

// Scale forwards to the wrapped step
func (a *AdaptiveStepsize) Scale(factor float64) {
	a.step.Scale(factor)
}
