package step

import (
	"log/slog"
	"math/rand"

	"github.com/cwbudde/landscape/internal/mc"
	"github.com/cwbudde/landscape/internal/opt"
	"github.com/cwbudde/landscape/internal/potential"
)

// Reseeding takes the normal step until the chain stalls, then takes the reseed step once.
type Reseeding struct {
	step     mc.StepTaker
	reseed   mc.StepTaker
	tracker  *StallTracker
	stalled  bool
	reseeded bool
	count    int
}

// NewReseeding groups a normal step with a reseed step
func NewReseeding(step, reseed mc.StepTaker, config StallConfig) *Reseeding {
	return &Reseeding{
		step:    step,
		reseed:  reseed,
		tracker: NewStallTracker(config),
	}
}

// TakeStep takes the reseed step if the chain has stalled, otherwise the normal step
func (r *Reseeding) TakeStep(x []float64, ctx mc.StepContext) {
	r.reseeded = r.stalled
	if !r.stalled {
		r.step.TakeStep(x, ctx)
		return
	}
	r.stalled = false
	r.tracker.Reset()
	r.count++
	r.reseed.TakeStep(x, ctx)
}

// UpdateStep updates the stall tracker and forwards the outcome to the step that was taken
func (r *Reseeding) UpdateStep(accepted bool, ctx mc.StepContext) {
	if r.reseeded {
		r.reseed.UpdateStep(accepted, ctx)
	} else {
		r.step.UpdateStep(accepted, ctx)
	}

	// the Markov state is replaced after this call
	energy := ctx.Energy()
	if accepted {
		energy = ctx.TrialEnergy()
	}
	r.stalled = r.tracker.Update(energy)
}

// Reseeded reports whether the most recent step was a reseed
func (r *Reseeding) Reseeded() bool { return r.reseeded }

// Count returns the number of reseeds taken
func (r *Reseeding) Count() int { return r.count }

// Scale forwards to the normal step when it is scalable
func (r *Reseeding) Scale(factor float64) {
	if s, ok := r.step.(Scalable); ok {
		s.Scale(factor)
	}
}

// AcceptReseeds wraps an acceptance test so that reseed steps are always accepted
func AcceptReseeds(r *Reseeding, test mc.AcceptTest) mc.AcceptTest {
	return mc.AcceptFunc(func(eOld, eNew float64, xOld, xNew []float64) bool {
		if r.Reseeded() {
			return true
		}
		return test.Accept(eOld, eNew, xOld, xNew)
	})
}

// MayflyReseed replaces the coordinates with the best point a mayfly search finds in a
// box of half-width Radius around them.
type MayflyReseed struct {
	pot      potential.Potential
	Radius   float64
	maxIters int
	popSize  int
	seed     int64
	fallback *RandomDisplacement
	calls    int64
}

// NewMayflyReseed creates a mayfly reseed step
func NewMayflyReseed(pot potential.Potential, radius float64, maxIters, popSize int, rng *rand.Rand) *MayflyReseed {
	return &MayflyReseed{
		pot:      pot,
		Radius:   radius,
		maxIters: maxIters,
		popSize:  popSize,
		seed:     rng.Int63(),
		fallback: NewRandomDisplacement(radius, rng),
	}
}

// TakeStep searches offsets in [-Radius, Radius]^n and applies the best one
func (m *MayflyReseed) TakeStep(x []float64, ctx mc.StepContext) {
	base := append([]float64(nil), x...)
	trial := make([]float64, len(x))
	eval := func(d []float64) float64 {
		for i := range base {
			trial[i] = base[i] + d[i]
		}
		return m.pot.Energy(trial)
	}

	m.calls++
	searcher := opt.NewMayfly(m.maxIters, m.popSize, m.seed+m.calls)
	best, energy, err := searcher.Search(eval, -m.Radius, m.Radius, len(x))
	if err != nil {
		slog.Warn("Mayfly reseed failed, using random displacement", "error", err)
		m.fallback.TakeStep(x, ctx)
		return
	}
	for i := range x {
		x[i] = base[i] + best[i]
	}
	slog.Debug("Mayfly reseed", "energy", energy)
}

// UpdateStep does nothing
func (m *MayflyReseed) UpdateStep(bool, mc.StepContext) {}

// MCReseed runs a short high-temperature Monte Carlo chain from the current coordinates
// and continues from where it ends.
type MCReseed struct {
	pot         potential.Potential
	Temperature float64
	Steps       int
	step        mc.StepTaker
	rng         *rand.Rand
}

// NewMCReseed creates a Monte Carlo reseed step using uniform displacements of stepsize
func NewMCReseed(pot potential.Potential, temperature float64, steps int, stepsize float64, rng *rand.Rand) *MCReseed {
	return &MCReseed{
		pot:         pot,
		Temperature: temperature,
		Steps:       steps,
		step:        NewRandomDisplacement(stepsize, rng),
		rng:         rng,
	}
}

// TakeStep replaces x with the final state of the inner chain
func (m *MCReseed) TakeStep(x []float64, _ mc.StepContext) {
	cfg := mc.DefaultConfig()
	cfg.Temperature = m.Temperature
	cfg.PrintFrequency = 0
	cfg.StoreInitial = false
	cfg.Seed = m.rng.Int63()

	inner := mc.New(x, m.pot, m.step, cfg)
	inner.Run(m.Steps)
	copy(x, inner.Coords())
	slog.Debug("Monte Carlo reseed", "energy", inner.Energy(), "accepted", inner.NAccepted(), "steps", m.Steps)
}

// UpdateStep does nothing
func (m *MCReseed) UpdateStep(bool, mc.StepContext) {}
