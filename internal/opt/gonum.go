package opt

import (
	"log/slog"

	"gonum.org/v1/gonum/optimize"
)

// Gonum adapts gonum/optimize methods to the Minimizer interface.
// Method is one of "gonum-lbfgs", "bfgs", "cg" or "gd". Options.MaxStep, MaxErise and
// RelativeEnergy are not supported by gonum line searches and are ignored.
type Gonum struct {
	Method string
}

func (m *Gonum) method(opts Options) optimize.Method {
	switch m.Method {
	case "bfgs":
		return &optimize.BFGS{}
	case "cg":
		return &optimize.CG{}
	case "gd":
		return &optimize.GradientDescent{}
	default:
		return &optimize.LBFGS{Store: opts.M}
	}
}

// Minimize runs the configured gonum method from x0
func (m *Gonum) Minimize(x0 []float64, fn GradientFunc, opts Options) Result {
	var (
		nfev  int
		lastX []float64
		lastE float64
		lastG []float64
	)
	// gonum asks for Func and Grad separately at the same location
	eval := func(x []float64) (float64, []float64) {
		if lastX != nil && equal(lastX, x) {
			return lastE, lastG
		}
		lastE, lastG = fn(x)
		lastX = append(lastX[:0], x...)
		nfev++
		return lastE, lastG
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			e, _ := eval(x)
			return e
		},
		Grad: func(grad, x []float64) {
			_, g := eval(x)
			copy(grad, g)
		},
	}

	// the infinity norm bounds the rms from above
	settings := &optimize.Settings{
		MajorIterations:   opts.MaxSteps,
		GradientThreshold: opts.Tol,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-14, Iterations: 200},
	}

	result, err := optimize.Minimize(problem, x0, settings, m.method(opts))
	if err != nil {
		slog.Debug("gonum minimizer stopped", "method", m.Method, "error", err)
	}

	x := append([]float64(nil), x0...)
	steps := 0
	if result != nil {
		x = append(x[:0], result.Location.X...)
		steps = result.Stats.MajorIterations
	} else if lastX != nil {
		x = append(x[:0], lastX...)
	}

	e, g := eval(x)
	rms := RMS(g)
	return Result{
		X:       x,
		Energy:  e,
		Grad:    append([]float64(nil), g...),
		RMS:     rms,
		NFev:    nfev,
		NSteps:  steps,
		Success: rms < opts.Tol,
		H0:      opts.H0,
	}
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
