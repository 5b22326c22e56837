package ts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/landscape/internal/opt"
	"github.com/cwbudde/landscape/internal/potential"
)

// State is the phase of a refinement
type State int

const (
	Searching State = iota
	Stepped
	TangentMinimized
	Converged
	Failed
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Stepped:
		return "stepped"
	case TangentMinimized:
		return "tangent-minimized"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText
func (s *State) UnmarshalText(text []byte) error {
	for st := Searching; st <= Failed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown refinement state %q", text)
}

// EventFunc is called after every iteration with the current energy, coordinates and rms gradient
type EventFunc func(energy float64, x []float64, rms float64)

// RefineConfig configures a transition-state refinement
type RefineConfig struct {
	// Tol is the rms-gradient tolerance, |g|/sqrt(N/3)
	Tol float64 `json:"tol"`

	MaxIter int `json:"max_iter"`

	// NFailMax caps consecutive unconverged eigenvector searches
	NFailMax int `json:"nfail_max"`

	// MaxUphillStep clamps the step along the eigenvector
	MaxUphillStep float64 `json:"max_uphill_step"`

	// StepFactor shrinks MaxUphillStep once per rollback
	StepFactor float64 `json:"step_factor"`

	// DemandNegativeInitial fails the run when the first eigenvalue is not negative
	DemandNegativeInitial bool `json:"demand_negative_initial"`

	// NNegativeMax caps consecutive rollbacks; 0 means max(10, MaxIter/5)
	NNegativeMax int `json:"nnegative_max"`

	// tangent-space minimization budgets and tolerances
	TangentStepsUnconverged int     `json:"tangent_steps_unconverged"`
	TangentStepsConverged   int     `json:"tangent_steps_converged"`
	TangentTol              float64 `json:"tangent_tol"`
	TangentMaxStep          float64 `json:"tangent_max_step"`

	// OverlapThreshold is the eigenvector overlap above which the larger tangent budget is used
	OverlapThreshold float64 `json:"overlap_threshold"`

	// UseGradPar selects the tangent budget from |g.v| < GradParTol instead of the overlap
	UseGradPar bool    `json:"use_gradpar"`
	GradParTol float64 `json:"gradpar_tol"`

	Eig LowestEigConfig `json:"eig"`

	// Minimizer for the tangent space; defaults to the in-house LBFGS
	Minimizer opt.Minimizer `json:"-"`

	Event          EventFunc    `json:"-"`
	PrintFrequency int          `json:"print_frequency"`
	Logger         *slog.Logger `json:"-"`
	Seed           int64        `json:"seed"`
}

// DefaultRefineConfig returns the refinement defaults
func DefaultRefineConfig() RefineConfig {
	return RefineConfig{
		Tol:                     1e-4,
		MaxIter:                 100,
		NFailMax:                5,
		MaxUphillStep:           0.1,
		StepFactor:              0.1,
		DemandNegativeInitial:   true,
		TangentStepsUnconverged: 10,
		TangentStepsConverged:   100,
		TangentMaxStep:          0.1,
		OverlapThreshold:        0.999,
		Eig:                     DefaultLowestEigConfig(),
		PrintFrequency:          1,
		Seed:                    1,
	}
}

// Result is the outcome of a refinement
type Result struct {
	X           []float64 `json:"x"`
	Energy      float64   `json:"energy"`
	Grad        []float64 `json:"grad"`
	Eigenvalue  float64   `json:"eigenvalue"`
	Eigenvector []float64 `json:"eigenvector"`
	RMS         float64   `json:"rms"`
	NIter       int       `json:"niter"`
	NFev        int       `json:"nfev"`
	State       State     `json:"state"`
	Messages    []string  `json:"messages,omitempty"`

	// Success requires a negative eigenvalue, rms below tolerance and an unexhausted budget
	Success bool `json:"success"`
}

// snapshot is the last known good refiner state
type snapshot struct {
	x      []float64
	energy float64
	grad   []float64
	eig    EigResult
	reduce int

	overlap   float64
	h0Tangent float64
}

func (s snapshot) clone() snapshot {
	s.x = append([]float64(nil), s.x...)
	s.grad = append([]float64(nil), s.grad...)
	s.eig = s.eig.clone()
	return s
}

// Refiner converges a configuration onto a nearby first-order saddle point.
// A Refiner is used for a single refinement and is not safe for concurrent use.
type Refiner struct {
	pot       potential.Potential
	cfg       RefineConfig
	logger    *slog.Logger
	minimizer opt.Minimizer
	rng       *rand.Rand

	x      []float64
	energy float64
	grad   []float64
	rms    float64

	eig     EigResult
	saved   snapshot
	overlap float64

	// h0Tangent warm-starts the tangent-space minimizer; 0 uses its default
	h0Tangent float64

	reduce    int
	nnegative int
	nfail     int
	nfev      int

	state     State
	converged bool
	messages  []string

	// searchEig is replaced in tests
	searchEig func(x, v0 []float64, h0 float64) EigResult
}

// NewRefiner prepares a refinement from x0. v0 seeds the first eigenvector search and may be nil.
func NewRefiner(x0 []float64, pot potential.Potential, v0 []float64, cfg RefineConfig) *Refiner {
	if cfg.TangentTol <= 0 {
		cfg.TangentTol = 0.2 * cfg.Tol
	}
	if cfg.GradParTol <= 0 {
		cfg.GradParTol = cfg.Tol
	}
	if cfg.NNegativeMax <= 0 {
		cfg.NNegativeMax = max(10, cfg.MaxIter/5)
	}

	r := &Refiner{
		pot:       pot,
		cfg:       cfg,
		logger:    cfg.Logger,
		minimizer: cfg.Minimizer,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		x:         append([]float64(nil), x0...),
		state:     Searching,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.minimizer == nil {
		r.minimizer = &opt.LBFGS{}
	}
	if v0 != nil {
		r.eig.Eigenvector = append([]float64(nil), v0...)
		normalize(r.eig.Eigenvector)
	}
	r.searchEig = func(x, v0 []float64, h0 float64) EigResult {
		return FindLowestEigenvector(x, r.pot, v0, h0, r.cfg.Eig, r.rng)
	}
	r.energy, r.grad = pot.EnergyGradient(r.x)
	r.nfev++
	r.rms = r.scaledRMS(r.grad)
	return r
}

// Run refines until convergence, failure or the iteration budget
func (r *Refiner) Run() Result {
	res, _ := r.RunContext(context.Background())
	return res
}

// RunContext is Run with cancellation checked between iterations. A cancelled run
// reports the partial result and ctx.Err().
func (r *Refiner) RunContext(ctx context.Context) (Result, error) {
	niter := 0
	for i := 0; i < r.cfg.MaxIter; i++ {
		if err := ctx.Err(); err != nil {
			r.state = Failed
			r.message("cancelled after %d iterations", niter)
			return r.result(niter), err
		}
		niter = i + 1
		if done := r.iterate(i); done {
			break
		}
	}

	if r.state != Converged && r.state != Failed {
		r.state = Failed
		r.message("iteration budget of %d exhausted", r.cfg.MaxIter)
	} else if r.state == Converged && niter == r.cfg.MaxIter {
		r.message("converged on the final allowed iteration")
	}

	// report the curvature at the final coordinates
	final := r.searchEig(r.x, r.eig.Eigenvector, r.eig.H0)
	r.nfev += final.NFev
	r.eig = final

	return r.result(niter), nil
}

// iterate runs one iteration and reports whether the refinement has terminated
func (r *Refiner) iterate(i int) bool {
	// eigenvector refresh
	r.state = Searching
	prev := r.eig.Eigenvector
	eig := r.searchEig(r.x, prev, r.eig.H0)
	r.nfev += eig.NFev
	r.overlap = 0
	if prev != nil {
		r.overlap = dot(prev, eig.Eigenvector)
	}
	if eig.Success {
		r.nfail = 0
	} else {
		r.nfail++
	}
	r.eig = eig

	if i == 0 && eig.Eigenvalue >= 0 {
		r.message("initial eigenvalue %g is not negative", eig.Eigenvalue)
		if r.cfg.DemandNegativeInitial {
			r.state = Failed
			return true
		}
	}

	// checkpoint or roll back
	if i == 0 || eig.Eigenvalue <= 0 {
		r.reduce = 0
		r.nnegative = 0
		r.saved = snapshot{
			x:      r.x,
			energy: r.energy,
			grad:   r.grad,
			eig:    r.eig,
			reduce: r.reduce,

			overlap:   r.overlap,
			h0Tangent: r.h0Tangent,
		}.clone()
	} else {
		r.nnegative++
		if r.nnegative > r.cfg.NNegativeMax {
			r.message("eigenvalue stayed positive for %d iterations", r.nnegative)
			r.state = Failed
			return true
		}
		saved := r.saved.clone()
		r.x, r.energy, r.grad, r.eig = saved.x, saved.energy, saved.grad, saved.eig
		r.overlap, r.h0Tangent = saved.overlap, saved.h0Tangent
		r.reduce++
		r.logger.Debug("Eigenvalue turned positive, rolling back",
			"iteration", i,
			"eigenvalue", eig.Eigenvalue,
			"reduce", r.reduce,
		)
	}

	// uphill step
	r.state = Stepped
	v := r.eig.Eigenvector
	force := dot(r.grad, v)
	h := r.uphillStep(force)
	for j := range r.x {
		r.x[j] += h * v[j]
	}

	// tangent-space minimization
	r.state = TangentMinimized
	tangent := r.minimizeTangent(force)
	r.x = tangent.X
	r.nfev += tangent.NFev

	// convergence check
	r.energy, r.grad = r.pot.EnergyGradient(r.x)
	r.nfev++
	r.rms = r.scaledRMS(r.grad)

	if r.cfg.Event != nil {
		r.cfg.Event(r.energy, append([]float64(nil), r.x...), r.rms)
	}
	if r.cfg.PrintFrequency > 0 && i%r.cfg.PrintFrequency == 0 {
		r.logger.Info("findTransitionState",
			"iteration", i,
			"energy", r.energy,
			"rms", r.rms,
			"eigenvalue", r.eig.Eigenvalue,
			"overlap", r.overlap,
			"uphill_step", h,
			"tangent_steps", tangent.NSteps,
		)
	}

	if r.rms < r.cfg.Tol {
		r.state = Converged
		r.converged = true
		return true
	}
	if r.nfail > r.cfg.NFailMax {
		r.message("lowest eigenvector search failed %d times in a row", r.nfail)
		r.state = Failed
		return true
	}
	return false
}

// uphillStep returns the signed step length along the eigenvector for directional force f
func (r *Refiner) uphillStep(f float64) float64 {
	maxStep := r.cfg.MaxUphillStep * math.Pow(r.cfg.StepFactor, float64(r.reduce))
	lambda := r.eig.Eigenvalue
	var h float64
	if lambda == 0 {
		h = math.Copysign(maxStep, f)
	} else {
		h = 2 * f / (math.Abs(lambda) * (1 + math.Sqrt(1+4*f*f/(lambda*lambda))))
	}
	if math.Abs(h) > maxStep {
		h = math.Copysign(maxStep, h)
	}
	return h
}

// minimizeTangent relaxes the coordinates orthogonally to the current eigenvector
func (r *Refiner) minimizeTangent(force float64) opt.Result {
	v := r.eig.Eigenvector
	fn := func(x []float64) (float64, []float64) {
		e, g := r.pot.EnergyGradient(x)
		gpar := dot(g, v)
		for j := range g {
			g[j] -= gpar * v[j]
		}
		return e, g
	}

	opts := opt.DefaultOptions()
	opts.Tol = r.cfg.TangentTol
	opts.MaxStep = r.cfg.TangentMaxStep * math.Pow(r.cfg.StepFactor, float64(r.reduce))
	opts.MaxSteps = r.tangentSteps(force)
	if r.h0Tangent > 0 {
		opts.H0 = r.h0Tangent
	}
	res := r.minimizer.Minimize(r.x, fn, opts)
	if res.H0 > 0 {
		r.h0Tangent = res.H0
	}
	return res
}

// tangentSteps picks the tangent budget: small while the eigenvector is still moving
func (r *Refiner) tangentSteps(force float64) int {
	trusted := math.Abs(r.overlap) > r.cfg.OverlapThreshold
	if r.cfg.UseGradPar {
		trusted = math.Abs(force) < r.cfg.GradParTol
	}
	if trusted {
		return r.cfg.TangentStepsConverged
	}
	return r.cfg.TangentStepsUnconverged
}

func (r *Refiner) scaledRMS(g []float64) float64 {
	n := float64(len(g)) / 3
	if n < 1 {
		n = 1
	}
	return math.Sqrt(dot(g, g)) / math.Sqrt(n)
}

func (r *Refiner) message(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.messages = append(r.messages, msg)
	r.logger.Info("findTransitionState", "message", msg)
}

func (r *Refiner) result(niter int) Result {
	return Result{
		X:           append([]float64(nil), r.x...),
		Energy:      r.energy,
		Grad:        append([]float64(nil), r.grad...),
		Eigenvalue:  r.eig.Eigenvalue,
		Eigenvector: append([]float64(nil), r.eig.Eigenvector...),
		RMS:         r.rms,
		NIter:       niter,
		NFev:        r.nfev,
		State:       r.state,
		Messages:    append([]string(nil), r.messages...),
		Success:     r.converged && r.eig.Eigenvalue < 0 && r.rms < r.cfg.Tol,
	}
}

// State returns the current phase
func (r *Refiner) State() State { return r.state }

// FindTransitionState refines x0 with the given configuration
func FindTransitionState(x0 []float64, pot potential.Potential, v0 []float64, cfg RefineConfig) Result {
	return NewRefiner(x0, pot, v0, cfg).Run()
}
