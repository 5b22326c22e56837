package mc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/landscape/internal/potential"
)

// displace is a uniform random displacement that records its outcomes
type displace struct {
	rng      *rand.Rand
	size     float64
	outcomes []bool
	steps    []int
}

func newDisplace(size float64, seed int64) *displace {
	return &displace{rng: rand.New(rand.NewSource(seed)), size: size}
}

func (d *displace) TakeStep(x []float64, ctx StepContext) {
	d.steps = append(d.steps, ctx.StepNum())
	for i := range x {
		x[i] += d.size * (2*d.rng.Float64() - 1)
	}
}

func (d *displace) UpdateStep(accepted bool, _ StepContext) {
	d.outcomes = append(d.outcomes, accepted)
}

type record struct {
	energies []float64
	coords   [][]float64
}

func (r *record) Insert(e float64, x []float64) error {
	r.energies = append(r.energies, e)
	r.coords = append(r.coords, x)
	return nil
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.PrintFrequency = 0
	return cfg
}

func TestMetropolisProbability(t *testing.T) {
	m := NewMetropolis(1.0, rand.New(rand.NewSource(3)))

	assert.True(t, m.Accept(1, 0.5, nil, nil))
	assert.True(t, m.Accept(1, 1, nil, nil))

	const n = 40000
	accepted := 0
	for i := 0; i < n; i++ {
		if m.Accept(0, 0.5, nil, nil) {
			accepted++
		}
	}
	assert.InDelta(t, math.Exp(-0.5), float64(accepted)/n, 0.015)

	cold := NewMetropolis(0, rand.New(rand.NewSource(3)))
	assert.False(t, cold.Accept(0, 1e-12, nil, nil))
	assert.True(t, cold.Accept(0, -1e-12, nil, nil))
}

func TestEngineCounters(t *testing.T) {
	pot := potential.NewTrimer()
	step := newDisplace(0.3, 1)
	e := New([]float64{0.4, 0.1, -0.6}, pot, step, quietConfig())

	e.Run(50)
	assert.Equal(t, 50, e.StepNum())
	assert.LessOrEqual(t, e.NAccepted(), 50)
	assert.Len(t, step.outcomes, 50)

	e.Run(7)
	assert.Equal(t, 57, e.StepNum())

	// step takers see the count of completed steps
	for i, s := range step.steps {
		assert.Equal(t, i, s)
	}
}

func TestAcceptedEnergiesMatchPotential(t *testing.T) {
	pot := potential.NewTrimer()
	store := &record{}
	cfg := DefaultBasinHoppingConfig()
	cfg.PrintFrequency = 0
	cfg.Storage = store

	var observed int
	cfg.Observers = []Observer{func(energy float64, x []float64, accepted bool) {
		if accepted {
			observed++
			assert.InDelta(t, pot.Energy(x), energy, 1e-12)
		}
	}}

	e := NewBasinHopping([]float64{0.9, 0.3, -0.2}, pot, newDisplace(0.5, 2), cfg)
	e.Run(30)

	require.Len(t, store.energies, e.NAccepted()+1)
	assert.Equal(t, e.NAccepted()+1, observed)
	for i := range store.energies {
		assert.InDelta(t, pot.Energy(store.coords[i]), store.energies[i], 1e-12)
	}
	assert.InDelta(t, pot.Energy(e.Coords()), e.Energy(), 1e-12)
}

func TestForcedRejectLeavesMarkovState(t *testing.T) {
	pot := potential.NewTrimer()
	x0 := pot.Minima()[0]
	cfg := quietConfig()
	cfg.Temperature = 0

	e := New(x0, pot, newDisplace(0.05, 4), cfg)
	e.Run(40)

	assert.Equal(t, 0, e.NAccepted())
	assert.Equal(t, x0, e.Coords())
	assert.Equal(t, 0.0, e.Energy())
}

func TestForcedRejectBasinHopping(t *testing.T) {
	pot := potential.NewTrimer()
	cfg := DefaultBasinHoppingConfig()
	cfg.PrintFrequency = 0
	cfg.AcceptTest = AcceptFunc(func(eOld, eNew float64, _, _ []float64) bool { return false })

	e := NewBasinHopping([]float64{0.7, 0.2, -0.1}, pot, newDisplace(0.4, 5), cfg)
	initial := e.Coords()
	initialEnergy := e.Energy()
	e.Run(20)

	assert.Equal(t, 0, e.NAccepted())
	assert.Equal(t, initial, e.Coords())
	assert.Equal(t, initialEnergy, e.Energy())
}

func TestObserverSeesMarkovStateOnReject(t *testing.T) {
	pot := potential.NewTrimer()
	x0 := pot.Minima()[0]
	cfg := quietConfig()
	cfg.AcceptTest = AcceptFunc(func(_, _ float64, _, _ []float64) bool { return false })

	var energies []float64
	var coords [][]float64
	cfg.Observers = []Observer{func(energy float64, x []float64, accepted bool) {
		assert.False(t, accepted)
		energies = append(energies, energy)
		coords = append(coords, x)
	}}

	e := New(x0, pot, newDisplace(0.3, 8), cfg)
	e.Run(3)

	require.Len(t, energies, 3)
	for i := range energies {
		assert.Equal(t, e.Energy(), energies[i])
		assert.Equal(t, x0, coords[i])
	}
	// the trial itself moved away from the minimum
	assert.NotEqual(t, x0, e.LastTrial().X)
}

func TestStepLinesAreOneBased(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultBasinHoppingConfig()
	cfg.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	e := NewBasinHopping([]float64{0.7, 0.2, -0.1}, potential.NewTrimer(), newDisplace(0.4, 9), cfg)
	e.Run(2)

	var steps []int
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line struct {
			Msg  string `json:"msg"`
			Step int    `json:"step"`
		}
		require.NoError(t, dec.Decode(&line))
		if line.Msg == "Quench" {
			steps = append(steps, line.Step)
		}
	}
	// the initial quench is logged as step 0
	assert.Equal(t, []int{0, 1, 2}, steps)
}

func TestConfChecksRunInOrderAndReject(t *testing.T) {
	pot := potential.NewTrimer()
	var calls []string
	cfg := quietConfig()
	cfg.AcceptTest = AcceptFunc(func(_, _ float64, _, _ []float64) bool {
		t.Fatal("acceptance test must be skipped when a check fails")
		return true
	})
	cfg.ConfChecks = []ConfCheck{
		func(float64, []float64, StepContext) bool { calls = append(calls, "a"); return false },
		func(float64, []float64, StepContext) bool { calls = append(calls, "b"); return true },
	}

	e := New([]float64{0.5, 0, -0.5}, pot, newDisplace(0.1, 6), cfg)
	e.Run(2)

	assert.Equal(t, []string{"a", "b", "a", "b"}, calls)
	assert.Equal(t, 0, e.NAccepted())
}

func TestInsertRejected(t *testing.T) {
	pot := potential.NewTrimer()
	store := &record{}
	cfg := quietConfig()
	cfg.Temperature = 0
	cfg.Storage = store
	cfg.InsertRejected = true

	e := New(pot.Minima()[1], pot, newDisplace(0.05, 7), cfg)
	e.Run(5)

	// initial state plus every trial
	assert.Len(t, store.energies, 6)
	assert.Equal(t, 0, e.NAccepted())
}

func TestObserverListCopied(t *testing.T) {
	pot := potential.NewTrimer()
	var a, b int
	observers := []Observer{func(float64, []float64, bool) { a++ }}
	cfg := quietConfig()
	cfg.Observers = observers

	e := New([]float64{0.5, 0, -0.5}, pot, newDisplace(0.1, 8), cfg)
	observers[0] = func(float64, []float64, bool) { b++ }
	e.Run(3)

	assert.Equal(t, 3, a)
	assert.Equal(t, 0, b)

	e.AddObserver(func(float64, []float64, bool) { b++ })
	e.Run(2)
	assert.Equal(t, 5, a)
	assert.Equal(t, 2, b)
}

func TestObserverCannotMutateMarkovState(t *testing.T) {
	pot := potential.NewTrimer()
	cfg := quietConfig()
	cfg.Temperature = 1e6
	cfg.Observers = []Observer{func(_ float64, x []float64, _ bool) {
		for i := range x {
			x[i] = 99
		}
	}}

	e := New([]float64{0.5, 0, -0.5}, pot, newDisplace(0.1, 9), cfg)
	e.Run(3)
	for _, v := range e.Coords() {
		assert.NotEqual(t, 99.0, v)
	}
}

func TestRunContextCancelled(t *testing.T) {
	pot := potential.NewTrimer()
	e := New([]float64{0.5, 0, -0.5}, pot, newDisplace(0.1, 10), quietConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.RunContext(ctx, 10)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, e.StepNum())
}

func TestStateRestore(t *testing.T) {
	pot := potential.NewTrimer()
	e := New([]float64{0.3, 0.2, -0.4}, pot, newDisplace(0.2, 11), quietConfig())
	e.Run(10)
	s := e.State()

	other := New([]float64{0, 0, 0}, pot, newDisplace(0.2, 12), quietConfig())
	other.Restore(s)

	assert.Equal(t, s.Coords, other.Coords())
	assert.Equal(t, s.Energy, other.Energy())
	assert.Equal(t, 10, other.StepNum())
	assert.Equal(t, e.NAccepted(), other.NAccepted())
}

func TestBasinHoppingFindsTrimerMinimum(t *testing.T) {
	pot := potential.NewTrimer()
	rng := rand.New(rand.NewSource(42))
	x0 := make([]float64, 3)
	for i := range x0 {
		x0[i] = 4*rng.Float64() - 2
	}

	cfg := DefaultBasinHoppingConfig()
	cfg.PrintFrequency = 0
	cfg.Temperature = 1.0

	best := math.Inf(1)
	cfg.Observers = []Observer{func(energy float64, _ []float64, _ bool) {
		best = math.Min(best, energy)
	}}

	e := NewBasinHopping(x0, pot, newDisplace(0.5, 13), cfg)
	e.Run(100)

	assert.Equal(t, 100, e.StepNum())
	assert.InDelta(t, pot.MinimumEnergy(), best, 1e-3)
	assert.InDelta(t, pot.MinimumEnergy(), e.Energy(), 1e-3)
}

func TestQuenchConvergedCheck(t *testing.T) {
	pot := potential.NewTrimer()
	cfg := DefaultBasinHoppingConfig()
	cfg.PrintFrequency = 0
	cfg.Quench.MaxSteps = 1

	e := NewBasinHopping([]float64{1.5, 0.8, -1.2}, pot, newDisplace(0.5, 14), cfg)
	e.AddConfCheck(QuenchConverged(e))
	e.Run(5)

	assert.Equal(t, 0, e.NAccepted())
}
