package opt

import "math"

const maxBacktracks = 10

// LBFGS is a limited-memory quasi-Newton minimizer with a maximum step length and
// energy-rise backtracking instead of a Wolfe line search.
type LBFGS struct{}

type lbfgsMemory struct {
	s, y [][]float64
	rho  []float64
	m    int
}

func (mem *lbfgsMemory) push(s, y []float64, ys float64) {
	if len(mem.s) == mem.m {
		mem.s = mem.s[1:]
		mem.y = mem.y[1:]
		mem.rho = mem.rho[1:]
	}
	mem.s = append(mem.s, s)
	mem.y = append(mem.y, y)
	mem.rho = append(mem.rho, 1/ys)
}

func (mem *lbfgsMemory) reset() {
	mem.s, mem.y, mem.rho = nil, nil, nil
}

// direction returns -H*g by the two-loop recursion
func (mem *lbfgsMemory) direction(g []float64, h0 float64) []float64 {
	k := len(mem.s)
	q := append([]float64(nil), g...)
	alpha := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		alpha[i] = mem.rho[i] * dot(mem.s[i], q)
		for j := range q {
			q[j] -= alpha[i] * mem.y[i][j]
		}
	}
	for j := range q {
		q[j] *= h0
	}
	for i := 0; i < k; i++ {
		beta := mem.rho[i] * dot(mem.y[i], q)
		for j := range q {
			q[j] += mem.s[i][j] * (alpha[i] - beta)
		}
	}
	for j := range q {
		q[j] = -q[j]
	}
	return q
}

// Minimize runs LBFGS from x0
func (l *LBFGS) Minimize(x0 []float64, fn GradientFunc, opts Options) Result {
	defaults := DefaultOptions()
	if opts.M <= 0 {
		opts.M = defaults.M
	}
	if opts.MaxStep <= 0 {
		opts.MaxStep = defaults.MaxStep
	}
	h0 := opts.H0
	if h0 <= 0 {
		h0 = defaults.H0
	}

	x := append([]float64(nil), x0...)
	e, g := fn(x)
	res := Result{NFev: 1}
	mem := &lbfgsMemory{m: opts.M}

	for res.NSteps < opts.MaxSteps {
		if RMS(g) < opts.Tol {
			break
		}

		d := mem.direction(g, h0)
		if dot(d, g) > 0 {
			// uphill: the curvature model is unusable
			for j := range d {
				d[j] = -d[j]
			}
			mem.reset()
		}
		scale := 1.0
		if n := math.Sqrt(dot(d, d)); n > opts.MaxStep {
			scale = opts.MaxStep / n
		}

		xnew := make([]float64, len(x))
		var enew float64
		var gnew []float64
		accepted := false
		for i := 0; i < maxBacktracks; i++ {
			for j := range x {
				xnew[j] = x[j] + scale*d[j]
			}
			enew, gnew = fn(xnew)
			res.NFev++
			if energyRiseOK(e, enew, opts) {
				accepted = true
				break
			}
			scale /= 2
		}
		if !accepted {
			// take the smallest step anyway and start the model over
			mem.reset()
		}

		s := make([]float64, len(x))
		y := make([]float64, len(x))
		for j := range x {
			s[j] = xnew[j] - x[j]
			y[j] = gnew[j] - g[j]
		}
		if ys := dot(y, s); ys > 1e-16 {
			mem.push(s, y, ys)
			h0 = ys / dot(y, y)
		}

		x, e, g = xnew, enew, gnew
		res.NSteps++
	}

	res.X = x
	res.Energy = e
	res.Grad = g
	res.RMS = RMS(g)
	res.Success = res.RMS < opts.Tol
	res.H0 = h0
	return res
}

func energyRiseOK(e, enew float64, opts Options) bool {
	de := enew - e
	if opts.RelativeEnergy {
		denom := math.Abs(e)
		if denom == 0 {
			denom = 1e-100
		}
		de /= denom
	}
	return de <= opts.MaxErise
}
