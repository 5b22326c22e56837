package explore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/landscape/internal/config"
	"github.com/cwbudde/landscape/internal/mc"
	"github.com/cwbudde/landscape/internal/metrics"
	"github.com/cwbudde/landscape/internal/opt"
	"github.com/cwbudde/landscape/internal/store"
	"github.com/cwbudde/landscape/internal/system"
	"github.com/cwbudde/landscape/internal/ts"
)

// RunWalkers runs basin-hopping.walkers independent walkers concurrently. They share
// opts.Sink through a mutex and nothing else. Results are ordered by walker id; on
// cancellation the partial results are returned with the context error.
func RunWalkers(ctx context.Context, cfg config.RunConfig, jobID string, opts Options) ([]WalkerResult, error) {
	sys, err := system.New(cfg.System.Name, cfg.System.NAtoms)
	if err != nil {
		return nil, err
	}
	if opts.Sink != nil {
		opts.Sink = store.NewSyncSink(opts.Sink)
	}

	n := cfg.BasinHopping.Walkers
	walkers := make([]*Walker, n)
	for i := range walkers {
		w, err := NewWalker(cfg, sys, i, WalkerJobID(jobID, i, n), nil, opts)
		if err != nil {
			for _, built := range walkers[:i] {
				built.Close()
			}
			return nil, fmt.Errorf("failed to create walker %d: %w", i, err)
		}
		if n > 1 {
			w.run = jobID
		}
		walkers[i] = w
	}

	results := make([]WalkerResult, n)
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range walkers {
		g.Go(func() error {
			res, err := w.Run(gctx, cfg.BasinHopping.Steps)
			results[i] = res
			return err
		})
	}
	return results, g.Wait()
}

// Best returns the result with the lowest energy
func Best(results []WalkerResult) (WalkerResult, bool) {
	best := -1
	for i, r := range results {
		if len(r.LowestCoords) == 0 {
			continue
		}
		if best < 0 || r.LowestEnergy < results[best].LowestEnergy {
			best = i
		}
	}
	if best < 0 {
		return WalkerResult{}, false
	}
	return results[best], true
}

// Resume continues the walker saved in cp. The system, its size, the seed and the
// step budget come from the checkpoint; the rest of cfg applies as given. extra > 0
// runs that many more steps instead of finishing the original budget.
func Resume(ctx context.Context, cfg config.RunConfig, cp *store.Checkpoint, extra int, opts Options) (WalkerResult, error) {
	if err := cp.Validate(); err != nil {
		return WalkerResult{}, fmt.Errorf("invalid checkpoint: %w", err)
	}

	cfg.System.Name = cp.Config.System
	cfg.System.NAtoms = cp.Config.NAtoms
	cfg.System.Seed = cp.Config.Seed
	cfg.BasinHopping.Steps = cp.Config.Steps
	cfg.Storage.CheckpointEvery = cp.Config.CheckpointEvery

	sys, err := system.New(cfg.System.Name, cfg.System.NAtoms)
	if err != nil {
		return WalkerResult{}, err
	}
	if err := cp.IsCompatible(cfg.JobConfig(sys.NDim())); err != nil {
		return WalkerResult{}, err
	}

	bh, err := cfg.BasinHoppingConfig(0)
	if err != nil {
		return WalkerResult{}, fmt.Errorf("failed to configure basin hopping: %w", err)
	}
	// a fresh stream rather than a replay of the one before the checkpoint
	bh.Seed = cp.Config.Seed + int64(cp.StepNum)

	w, err := newWalker(cfg, sys, bh, 0, cp.JobID, cp.Coords, opts, false)
	if err != nil {
		return WalkerResult{}, err
	}
	w.engine.Restore(mc.State{
		Coords:    cp.Coords,
		Energy:    cp.Energy,
		StepNum:   cp.StepNum,
		NAccepted: cp.NAccepted,
	})
	if cp.Stepsize > 0 {
		w.baseStep.SetSize(cp.Stepsize)
	}
	w.run = cp.Run
	if len(cp.LowestCoords) > 0 {
		w.lowestEnergy = cp.LowestEnergy
		w.lowestCoords = append([]float64(nil), cp.LowestCoords...)
	} else {
		w.lowestEnergy = cp.Energy
		w.lowestCoords = append([]float64(nil), cp.Coords...)
	}

	total := cp.Config.Steps
	if extra > 0 {
		total = cp.StepNum + extra
	}
	w.logger.Info("Resuming walker", "from_step", cp.StepNum, "to_step", total, "energy", cp.Energy)
	return w.Run(ctx, total)
}

// connectDisplacement is the distance along the eigenvector from a transition state to
// the start of each connecting quench
const connectDisplacement = 0.1

// RefineOptions connects a refinement to its collaborators. Every field is optional.
type RefineOptions struct {
	// Database receives the transition state if the refinement succeeds
	Database *store.Database

	// Connect quenches off both sides of a found transition state and records the
	// minima it connects
	Connect bool

	Metrics *metrics.Recorder
	Event   ts.EventFunc
	Logger  *slog.Logger
}

// RefineResult is a refinement with its catalogue entries
type RefineResult struct {
	ts.Result

	TransitionState *store.TransitionState `json:"transitionState,omitempty"`
	Minima          []store.Minimum        `json:"minima,omitempty"`
}

// Refine converges x0 onto a transition state of sys. v0 seeds the eigenvector search
// and may be nil. An unsuccessful refinement is not an error; errors are cancellation
// and storage failures.
func Refine(ctx context.Context, cfg config.RunConfig, sys *system.System, x0, v0 []float64, opts RefineOptions) (RefineResult, error) {
	if len(x0) != sys.NDim() {
		return RefineResult{}, fmt.Errorf("guess has %d coordinates, %s needs %d", len(x0), sys.Name, sys.NDim())
	}
	if v0 != nil && len(v0) != len(x0) {
		return RefineResult{}, fmt.Errorf("initial eigenvector has %d coordinates, guess has %d", len(v0), len(x0))
	}

	rcfg, err := cfg.RefineConfig()
	if err != nil {
		return RefineResult{}, fmt.Errorf("failed to configure refinement: %w", err)
	}
	rcfg.Eig.Projector = sys.Projector
	rcfg.Event = opts.Event
	rcfg.Logger = opts.Logger

	res, err := ts.NewRefiner(x0, sys.Potential, v0, rcfg).RunContext(ctx)
	out := RefineResult{Result: res}
	if opts.Metrics != nil {
		opts.Metrics.Refinement(res)
	}
	if err != nil {
		return out, err
	}
	if !res.Success || opts.Database == nil {
		return out, nil
	}

	tsRec := &store.TransitionState{
		Energy:      res.Energy,
		Coords:      res.X,
		Eigenvalue:  res.Eigenvalue,
		Eigenvector: res.Eigenvector,
	}
	if opts.Connect {
		minima, err := connect(cfg, sys, res, opts.Database)
		if err != nil {
			return out, err
		}
		out.Minima = minima
		tsRec.Minimum1 = &minima[0].ID
		tsRec.Minimum2 = &minima[1].ID
	}
	if err := opts.Database.AddTransitionState(tsRec); err != nil {
		return out, err
	}
	out.TransitionState = tsRec
	return out, nil
}

// connect quenches from both sides of a transition state and catalogues the two minima
func connect(cfg config.RunConfig, sys *system.System, res ts.Result, db *store.Database) ([]store.Minimum, error) {
	minima := make([]store.Minimum, 0, 2)
	for _, sign := range []float64{1, -1} {
		x := make([]float64, len(res.X))
		for i := range x {
			x[i] = res.X[i] + sign*connectDisplacement*res.Eigenvector[i]
		}
		q, err := Quench(cfg, sys, x)
		if err != nil {
			return nil, err
		}
		if !q.Success || math.IsNaN(q.Energy) {
			return nil, errors.New("failed to quench off the transition state")
		}
		m, _, err := db.AddMinimum(q.Energy, q.X)
		if err != nil {
			return nil, err
		}
		minima = append(minima, m)
	}
	return minima, nil
}

// Quench minimizes x0 with the configured minimizer
func Quench(cfg config.RunConfig, sys *system.System, x0 []float64) (opt.Result, error) {
	minimizer, err := cfg.Minimizer()
	if err != nil {
		return opt.Result{}, err
	}
	return minimizer.Minimize(x0, sys.Potential.EnergyGradient, cfg.QuenchOptions()), nil
}
