package mc

import (
	"github.com/cwbudde/landscape/internal/opt"
	"github.com/cwbudde/landscape/internal/potential"
)

// BasinHoppingConfig configures a basin hopping driver
type BasinHoppingConfig struct {
	Config

	// Minimizer defaults to the in-house LBFGS
	Minimizer opt.Minimizer
	Quench    opt.Options
}

// DefaultBasinHoppingConfig returns the basin hopping defaults
func DefaultBasinHoppingConfig() BasinHoppingConfig {
	return BasinHoppingConfig{
		Config: DefaultConfig(),
		Quench: opt.DefaultOptions(),
	}
}

// NewBasinHopping creates an engine that quenches every trial before the validity checks
// and acceptance test. The initial configuration is quenched immediately and reported to
// storage and observers as the first state. Quenches that exhaust their budget are still
// used; register QuenchConverged to reject them.
func NewBasinHopping(x0 []float64, pot potential.Potential, stepTaker StepTaker, cfg BasinHoppingConfig) *Engine {
	minimizer := cfg.Minimizer
	if minimizer == nil {
		minimizer = &opt.LBFGS{}
	}
	quench := cfg.Quench

	e := newEngine(x0, pot, stepTaker, cfg.Config)
	e.label = "Quench"
	e.evaluate = func(x []float64) Trial {
		res := minimizer.Minimize(x, pot.EnergyGradient, quench)
		return Trial{
			X:       res.X,
			Energy:  res.Energy,
			RMS:     res.RMS,
			NFev:    res.NFev,
			Success: res.Success,
		}
	}

	first := e.evaluate(e.coords)
	e.coords = append([]float64(nil), first.X...)
	e.energy = first.Energy
	e.trial = first
	e.accepted = true
	e.print()

	if cfg.StoreInitial {
		e.store(e.energy, e.coords)
	}
	for _, obs := range e.observers {
		obs(e.energy, e.Coords(), true)
	}
	return e
}

// QuenchConverged returns a ConfCheck rejecting trials whose quench did not converge.
// Register it with e.AddConfCheck.
func QuenchConverged(e *Engine) ConfCheck {
	return func(float64, []float64, StepContext) bool {
		return e.trial.Success
	}
}
