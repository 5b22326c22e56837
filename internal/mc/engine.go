package mc

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/landscape/internal/potential"
)

// Config configures a Monte Carlo engine
type Config struct {
	Temperature float64

	// AcceptTest defaults to Metropolis at Temperature
	AcceptTest AcceptTest

	ConfChecks []ConfCheck
	Observers  []Observer
	Storage    Storage

	// InsertRejected also sends rejected trials to Storage
	InsertRejected bool

	// PrintFrequency logs every n-th step; 0 disables step lines
	PrintFrequency int

	// StoreInitial sends the initial state to Storage at construction
	StoreInitial bool

	Seed   int64
	Logger *slog.Logger
}

// DefaultConfig returns the Monte Carlo defaults
func DefaultConfig() Config {
	return Config{
		Temperature:    1.0,
		PrintFrequency: 1,
		StoreInitial:   true,
		Seed:           1,
	}
}

// Trial is the evaluated outcome of a perturbation
type Trial struct {
	X      []float64
	Energy float64

	// quench diagnostics; zero for plain Monte Carlo
	RMS     float64
	NFev    int
	Success bool
}

// State is a restorable snapshot of the Markov chain
type State struct {
	Coords    []float64 `json:"coords"`
	Energy    float64   `json:"energy"`
	StepNum   int       `json:"stepnum"`
	NAccepted int       `json:"naccepted"`
}

type trialFunc func(x []float64) Trial

// Engine runs a Monte Carlo chain. It is not safe for concurrent use; independent
// engines share nothing but a caller-supplied Storage.
type Engine struct {
	pot       potential.Potential
	stepTaker StepTaker
	evaluate  trialFunc
	label     string

	temperature    float64
	acceptTest     AcceptTest
	confChecks     []ConfCheck
	observers      []Observer
	storage        Storage
	insertRejected bool
	printFrequency int
	logger         *slog.Logger
	rng            *rand.Rand

	coords    []float64
	energy    float64
	trial     Trial
	accepted  bool
	stepNum   int
	nAccepted int
}

func newEngine(x0 []float64, pot potential.Potential, stepTaker StepTaker, cfg Config) *Engine {
	e := &Engine{
		pot:            pot,
		stepTaker:      stepTaker,
		temperature:    cfg.Temperature,
		acceptTest:     cfg.AcceptTest,
		confChecks:     append([]ConfCheck(nil), cfg.ConfChecks...),
		observers:      append([]Observer(nil), cfg.Observers...),
		storage:        cfg.Storage,
		insertRejected: cfg.InsertRejected,
		printFrequency: cfg.PrintFrequency,
		logger:         cfg.Logger,
		rng:            rand.New(rand.NewSource(cfg.Seed)),
		coords:         append([]float64(nil), x0...),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.acceptTest == nil {
		e.acceptTest = NewMetropolis(cfg.Temperature, e.rng)
	}
	return e
}

// New creates a plain Monte Carlo engine that accepts on raw energies
func New(x0 []float64, pot potential.Potential, stepTaker StepTaker, cfg Config) *Engine {
	e := newEngine(x0, pot, stepTaker, cfg)
	e.label = "MC step"
	e.evaluate = func(x []float64) Trial {
		return Trial{X: x, Energy: pot.Energy(x), Success: true}
	}
	e.energy = pot.Energy(e.coords)
	e.trial = Trial{X: e.Coords(), Energy: e.energy, Success: true}
	if cfg.StoreInitial {
		e.store(e.energy, e.coords)
	}
	return e
}

// Run performs exactly n steps
func (e *Engine) Run(n int) {
	_ = e.RunContext(context.Background(), n)
}

// RunContext performs n steps, stopping early between steps when ctx is done
func (e *Engine) RunContext(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.Step()
	}
	return nil
}

// Step performs one Monte Carlo step
func (e *Engine) Step() {
	x := append([]float64(nil), e.coords...)
	e.stepTaker.TakeStep(x, e)

	e.trial = e.evaluate(x)

	ok := true
	for _, check := range e.confChecks {
		if !check(e.trial.Energy, e.trial.X, e) {
			ok = false
		}
	}
	accepted := false
	if ok {
		accepted = e.acceptTest.Accept(e.energy, e.trial.Energy, e.coords, e.trial.X)
	}
	e.accepted = accepted
	e.stepNum++

	e.print()
	e.stepTaker.UpdateStep(accepted, e)

	if accepted || e.insertRejected {
		e.store(e.trial.Energy, e.trial.X)
	}
	if accepted {
		e.coords = append([]float64(nil), e.trial.X...)
		e.energy = e.trial.Energy
		e.nAccepted++
	}

	for _, obs := range e.observers {
		obs(e.energy, e.Coords(), accepted)
	}
}

func (e *Engine) print() {
	if e.printFrequency <= 0 || e.stepNum%e.printFrequency != 0 {
		return
	}
	if e.label == "Quench" {
		e.logger.Info(e.label,
			"step", e.stepNum,
			"energy", e.trial.Energy,
			"nfev", e.trial.NFev,
			"rms", e.trial.RMS,
			"markov_energy", e.energy,
			"accepted", e.accepted)
		return
	}
	e.logger.Info(e.label,
		"step", e.stepNum,
		"energy", e.trial.Energy,
		"markov_energy", e.energy,
		"accepted", e.accepted)
}

func (e *Engine) store(energy float64, x []float64) {
	if e.storage == nil {
		return
	}
	if err := e.storage.Insert(energy, append([]float64(nil), x...)); err != nil {
		e.logger.Warn("failed to store configuration", "step", e.stepNum, "energy", energy, "error", err)
	}
}

// SetPrinting changes the step-line frequency; 0 disables
func (e *Engine) SetPrinting(frequency int) {
	e.printFrequency = frequency
}

// AddObserver registers an observer called after every subsequent step
func (e *Engine) AddObserver(obs Observer) {
	e.observers = append(e.observers, obs)
}

// AddConfCheck registers a validity check run on every subsequent trial
func (e *Engine) AddConfCheck(check ConfCheck) {
	e.confChecks = append(e.confChecks, check)
}

// Coords returns a copy of the Markov coordinates
func (e *Engine) Coords() []float64 {
	return append([]float64(nil), e.coords...)
}

// Potential returns the energy function of the chain
func (e *Engine) Potential() potential.Potential { return e.pot }

// Energy returns the Markov energy
func (e *Engine) Energy() float64 { return e.energy }

// StepNum returns the number of completed steps
func (e *Engine) StepNum() int { return e.stepNum }

// NAccepted returns the number of accepted steps
func (e *Engine) NAccepted() int { return e.nAccepted }

// Temperature returns the engine temperature
func (e *Engine) Temperature() float64 { return e.temperature }

// TrialEnergy returns the energy of the most recent trial
func (e *Engine) TrialEnergy() float64 { return e.trial.Energy }

// Accepted reports whether the most recent trial was accepted
func (e *Engine) Accepted() bool { return e.accepted }

// LastTrial returns the most recent trial
func (e *Engine) LastTrial() Trial {
	t := e.trial
	t.X = append([]float64(nil), t.X...)
	return t
}

// State returns a snapshot of the Markov chain
func (e *Engine) State() State {
	return State{
		Coords:    e.Coords(),
		Energy:    e.energy,
		StepNum:   e.stepNum,
		NAccepted: e.nAccepted,
	}
}

// Restore replaces the Markov chain with s. The energy is taken from s unchanged, so
// s must come from State on an engine over the same potential.
func (e *Engine) Restore(s State) {
	e.coords = append([]float64(nil), s.Coords...)
	e.energy = s.Energy
	e.stepNum = s.StepNum
	e.nAccepted = s.NAccepted
}
