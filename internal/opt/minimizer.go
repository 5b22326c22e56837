// Package opt provides local minimizers used to quench trial configurations and to
// drive the curvature and tangent-space searches, plus a bounded population search.
package opt

import (
	"fmt"
	"math"
)

// GradientFunc returns the value and a freshly allocated gradient at x.
type GradientFunc func(x []float64) (float64, []float64)

// Options controls a single minimization.
type Options struct {
	// Tol is the rms-gradient tolerance, |g|/sqrt(len(g))
	Tol float64 `json:"tol"`

	// MaxSteps bounds the number of iterations
	MaxSteps int `json:"max_steps"`

	// MaxStep clamps the Euclidean length of a single step
	MaxStep float64 `json:"max_step"`

	// M is the number of correction pairs kept by LBFGS
	M int `json:"m"`

	// H0 is the initial inverse-Hessian diagonal; 0 uses the default. The final
	// estimate is returned in Result.H0 so callers can warm-start the next call.
	H0 float64 `json:"h0"`

	// MaxErise is the largest energy rise accepted without backtracking
	MaxErise float64 `json:"max_erise"`

	// RelativeEnergy compares energy rises relative to |E|
	RelativeEnergy bool `json:"relative_energy"`
}

// DefaultOptions returns the quench defaults
func DefaultOptions() Options {
	return Options{
		Tol:      1e-5,
		MaxSteps: 10000,
		MaxStep:  0.1,
		M:        4,
		H0:       0.1,
		MaxErise: 1e-4,
	}
}

// Result is the outcome of a minimization. Energy and Grad always belong to X.
type Result struct {
	X       []float64
	Energy  float64
	Grad    []float64
	RMS     float64
	NFev    int
	NSteps  int
	Success bool

	// H0 is the inverse-Hessian diagonal estimate at termination
	H0 float64
}

// Minimizer drives x0 toward a local minimum of fn.
// Non-convergence is reported through Result.Success, never as a panic or error.
type Minimizer interface {
	Minimize(x0 []float64, fn GradientFunc, opts Options) Result
}

// MinimizerFunc adapts a function to the Minimizer interface
type MinimizerFunc func(x0 []float64, fn GradientFunc, opts Options) Result

// Minimize calls f
func (f MinimizerFunc) Minimize(x0 []float64, fn GradientFunc, opts Options) Result {
	return f(x0, fn, opts)
}

// New returns the minimizer registered under name.
// "lbfgs" is the in-house LBFGS; "gonum-lbfgs", "bfgs", "cg" and "gd" use gonum/optimize.
func New(name string) (Minimizer, error) {
	switch name {
	case "", "lbfgs":
		return &LBFGS{}, nil
	case "gonum-lbfgs", "bfgs", "cg", "gd":
		return &Gonum{Method: name}, nil
	default:
		return nil, fmt.Errorf("unknown minimizer %q", name)
	}
}

// Names lists the accepted minimizer names
func Names() []string {
	return []string{"lbfgs", "gonum-lbfgs", "bfgs", "cg", "gd"}
}

// RMS returns |g|/sqrt(len(g))
func RMS(g []float64) float64 {
	if len(g) == 0 {
		return 0
	}
	return math.Sqrt(dot(g, g) / float64(len(g)))
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
