// Package explore assembles basin hopping walkers and transition-state refinements
// from a run configuration, and connects them to storage, traces and metrics.
package explore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/cwbudde/landscape/internal/config"
	"github.com/cwbudde/landscape/internal/mc"
	"github.com/cwbudde/landscape/internal/metrics"
	"github.com/cwbudde/landscape/internal/step"
	"github.com/cwbudde/landscape/internal/store"
	"github.com/cwbudde/landscape/internal/system"
)

// reseed parameters not exposed in the run configuration
const (
	reseedMCTemperatureFactor = 10
	reseedMCSteps             = 50
	reseedMayflyIters         = 50
	reseedMayflyPop           = 20
)

// Progress is reported after every step of a walker
type Progress struct {
	Walker       int       `json:"walker"`
	JobID        string    `json:"jobId"`
	StepNum      int       `json:"stepnum"`
	NAccepted    int       `json:"naccepted"`
	Energy       float64   `json:"energy"`
	LowestEnergy float64   `json:"lowestEnergy"`
	Timestamp    time.Time `json:"timestamp"`
}

// Options connects walkers to their collaborators. Every field is optional.
type Options struct {
	// Sink receives quenched minima. RunWalkers serializes it across walkers.
	Sink store.Inserter

	// Checkpoints receives the Markov state every storage.checkpoint_every steps and at the end
	Checkpoints store.Store

	// Metrics records step and quench statistics
	Metrics *metrics.Recorder

	// Progress is called after every step from the walker's goroutine
	Progress func(Progress)

	Logger *slog.Logger
}

// WalkerResult summarizes a finished walker
type WalkerResult struct {
	Walker       int       `json:"walker"`
	JobID        string    `json:"jobId"`
	Final        mc.State  `json:"final"`
	LowestEnergy float64   `json:"lowestEnergy"`
	LowestCoords []float64 `json:"lowestCoords"`
	Stepsize     float64   `json:"stepsize"`
	Reseeds      int       `json:"reseeds"`
}

// Walker is one basin hopping chain with its step takers, trace and checkpoints
type Walker struct {
	ID    int
	JobID string

	cfg    config.RunConfig
	sys    *system.System
	engine *mc.Engine
	opts   Options
	logger *slog.Logger

	baseStep     step.Sized
	reseeding    *step.Reseeding
	trace        *store.TraceWriter
	traceErr     error

	lowestEnergy float64
	lowestCoords []float64

	// run is the parent job of a walker in a multi-walker job
	run string
}

// WalkerJobID names the artifacts of walker id within a job
func WalkerJobID(jobID string, id, walkers int) string {
	if walkers <= 1 {
		return jobID
	}
	return fmt.Sprintf("%s-w%d", jobID, id)
}

// NewWalker builds a walker starting from x0, or from a random configuration when x0 is nil
func NewWalker(cfg config.RunConfig, sys *system.System, id int, jobID string, x0 []float64, opts Options) (*Walker, error) {
	bh, err := cfg.BasinHoppingConfig(id)
	if err != nil {
		return nil, fmt.Errorf("failed to configure basin hopping: %w", err)
	}
	return newWalker(cfg, sys, bh, id, jobID, x0, opts, true)
}

func newWalker(cfg config.RunConfig, sys *system.System, bh mc.BasinHoppingConfig, id int, jobID string, x0 []float64, opts Options, storeInitial bool) (*Walker, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("walker", id, "job_id", jobID)

	rng := rand.New(rand.NewSource(bh.Seed))
	if x0 == nil {
		x0 = sys.RandomConfiguration(rng)
	}
	if len(x0) != sys.NDim() {
		return nil, fmt.Errorf("starting configuration has %d coordinates, %s needs %d", len(x0), sys.Name, sys.NDim())
	}

	stepsize := cfg.BasinHopping.Stepsize
	if stepsize <= 0 {
		stepsize = sys.Stepsize
	}

	w := &Walker{
		ID:           id,
		JobID:        jobID,
		cfg:          cfg,
		sys:          sys,
		opts:         opts,
		logger:       logger,
		lowestEnergy: math.Inf(1),
	}
	w.baseStep = step.NewRandomDisplacement(stepsize, rng)
	if sys.RigidBodies {
		rotate := sys.MaxRotation * stepsize / sys.Stepsize
		w.baseStep = step.NewRigidBodyStep(sys.NAtoms, stepsize, rotate, rng)
	}

	var taker mc.StepTaker = w.baseStep
	if cfg.BasinHopping.Adaptive.Enabled {
		taker = step.NewAdaptiveStepsize(w.baseStep, cfg.AdaptiveConfig())
	}
	if cfg.BasinHopping.Reseed.Enabled {
		w.reseeding = step.NewReseeding(taker, w.reseedStep(rng, stepsize), cfg.StallConfig())
		taker = w.reseeding
		bh.AcceptTest = step.AcceptReseeds(w.reseeding, mc.NewMetropolis(bh.Temperature, rng))
	}

	if opts.Sink != nil {
		bh.Storage = opts.Sink
	}
	bh.StoreInitial = storeInitial
	bh.Logger = logger
	bh.Observers = append(bh.Observers, w.trackLowest)

	if cfg.Storage.Trace {
		tw, err := store.NewTraceWriter(cfg.Storage.DataDir, jobID, !storeInitial)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		w.trace = tw
	}

	w.engine = mc.NewBasinHopping(x0, sys.Potential, taker, bh)
	w.engine.AddObserver(w.observe)
	if opts.Metrics != nil {
		w.engine.AddObserver(opts.Metrics.Observer(id, w.engine))
	}
	return w, nil
}

func (w *Walker) reseedStep(rng *rand.Rand, stepsize float64) mc.StepTaker {
	if w.cfg.BasinHopping.Reseed.Method == "mayfly" {
		return step.NewMayflyReseed(w.sys.Potential, 2*stepsize, reseedMayflyIters, reseedMayflyPop, rng)
	}
	t := reseedMCTemperatureFactor * max(w.cfg.BasinHopping.Temperature, 0.1)
	return step.NewMCReseed(w.sys.Potential, t, reseedMCSteps, stepsize, rng)
}

func (w *Walker) trackLowest(energy float64, x []float64, accepted bool) {
	if accepted && energy < w.lowestEnergy {
		w.lowestEnergy = energy
		w.lowestCoords = append([]float64(nil), x...)
	}
}

// observe writes the trace, saves periodic checkpoints and reports progress
func (w *Walker) observe(markovEnergy float64, _ []float64, accepted bool) {
	if w.trace != nil && w.traceErr == nil {
		trial := w.engine.LastTrial()
		w.traceErr = w.trace.Write(store.TraceEntry{
			Step:         w.engine.StepNum(),
			Energy:       trial.Energy,
			MarkovEnergy: markovEnergy,
			Accepted:     accepted,
			Timestamp:    time.Now(),
			Coords:       trial.X,
		})
		if w.traceErr != nil {
			w.logger.Warn("Failed to write trace, disabling", "error", w.traceErr)
		}
	}

	every := w.cfg.Storage.CheckpointEvery
	if w.opts.Checkpoints != nil && every > 0 && w.engine.StepNum()%every == 0 {
		if err := w.SaveCheckpoint(); err != nil {
			w.logger.Error("Failed to save checkpoint", "error", err)
		}
	}

	if w.opts.Progress != nil {
		w.opts.Progress(Progress{
			Walker:       w.ID,
			JobID:        w.JobID,
			StepNum:      w.engine.StepNum(),
			NAccepted:    w.engine.NAccepted(),
			Energy:       w.engine.Energy(),
			LowestEnergy: w.lowestEnergy,
			Timestamp:    time.Now(),
		})
	}
}

// Engine returns the underlying basin hopping engine
func (w *Walker) Engine() *mc.Engine { return w.engine }

// Checkpoint returns the current Markov state as a checkpoint
func (w *Walker) Checkpoint() *store.Checkpoint {
	s := w.engine.State()
	cp := store.NewCheckpoint(w.JobID, s.Coords, s.Energy, s.StepNum, s.NAccepted, w.cfg.JobConfig(w.sys.NDim()))
	cp.Stepsize = w.baseStep.Size()
	cp.Run = w.run
	if w.lowestCoords != nil {
		cp.LowestEnergy = w.lowestEnergy
		cp.LowestCoords = append([]float64(nil), w.lowestCoords...)
	}
	return cp
}

// SaveCheckpoint writes the current Markov state to the checkpoint store
func (w *Walker) SaveCheckpoint() error {
	if w.opts.Checkpoints == nil {
		return nil
	}
	cp := w.Checkpoint()
	if err := w.opts.Checkpoints.SaveCheckpoint(w.JobID, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	w.logger.Debug("Checkpoint saved", "step", cp.StepNum, "energy", cp.Energy)
	return nil
}

// Run takes steps until the engine has made total steps or ctx is cancelled. A final
// checkpoint is saved either way.
func (w *Walker) Run(ctx context.Context, total int) (WalkerResult, error) {
	remaining := total - w.engine.StepNum()
	w.logger.Info("Starting walker", "steps", remaining, "energy", w.engine.Energy())

	runErr := w.engine.RunContext(ctx, max(remaining, 0))

	if err := w.SaveCheckpoint(); err != nil {
		w.logger.Error("Failed to save final checkpoint", "error", err)
	}
	if err := w.Close(); err != nil {
		w.logger.Warn("Failed to close trace", "error", err)
	}

	res := w.Result()
	if runErr != nil {
		w.logger.Info("Walker cancelled", "step", res.Final.StepNum)
		return res, runErr
	}
	w.logger.Info("Walker finished",
		"steps", res.Final.StepNum,
		"accepted", res.Final.NAccepted,
		"lowest_energy", res.LowestEnergy,
		"reseeds", res.Reseeds,
	)
	return res, nil
}

// Result summarizes the walker so far
func (w *Walker) Result() WalkerResult {
	res := WalkerResult{
		Walker:       w.ID,
		JobID:        w.JobID,
		Final:        w.engine.State(),
		LowestEnergy: w.lowestEnergy,
		LowestCoords: append([]float64(nil), w.lowestCoords...),
		Stepsize:     w.baseStep.Size(),
	}
	if w.reseeding != nil {
		res.Reseeds = w.reseeding.Count()
	}
	return res
}

// Close flushes and closes the trace
func (w *Walker) Close() error {
	if w.trace == nil {
		return nil
	}
	err := w.trace.Close()
	w.trace = nil
	return err
}
