package step

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cwbudde/landscape/internal/mc"
	"github.com/cwbudde/landscape/internal/potential"
	"github.com/cwbudde/landscape/internal/rotations"
)

// fakeContext is a StepContext with settable fields
type fakeContext struct {
	step        int
	energy      float64
	trialEnergy float64
	accepted    bool
}

func (f *fakeContext) StepNum() int         { return f.step }
func (f *fakeContext) NAccepted() int       { return 0 }
func (f *fakeContext) Temperature() float64 { return 1 }
func (f *fakeContext) Energy() float64      { return f.energy }
func (f *fakeContext) TrialEnergy() float64 { return f.trialEnergy }
func (f *fakeContext) Accepted() bool       { return f.accepted }

// counting records calls
type counting struct {
	steps   int
	updates int
	scale   float64
}

func (c *counting) TakeStep([]float64, mc.StepContext) { c.steps++ }
func (c *counting) UpdateStep(bool, mc.StepContext)    { c.updates++ }
func (c *counting) Scale(f float64)                    { c.scale *= f }

func TestRandomDisplacementBounded(t *testing.T) {
	step := NewRandomDisplacement(0.2, rand.New(rand.NewSource(1)))
	x := make([]float64, 30)
	step.TakeStep(x, &fakeContext{})

	moved := false
	for _, v := range x {
		assert.LessOrEqual(t, math.Abs(v), 0.2)
		if v != 0 {
			moved = true
		}
	}
	assert.True(t, moved)

	step.Scale(0.5)
	assert.InDelta(t, 0.1, step.Stepsize, 1e-15)
}

func TestAdaptiveStepsize(t *testing.T) {
	inner := &counting{scale: 1}
	cfg := AdaptiveConfig{Target: 0.5, Factor: 0.9, Frequency: 4}
	a := NewAdaptiveStepsize(inner, cfg)
	ctx := &fakeContext{}

	// all accepted: grow
	for i := 0; i < 4; i++ {
		a.UpdateStep(true, ctx)
	}
	assert.InDelta(t, 1/0.9, inner.scale, 1e-12)

	// none accepted: shrink back
	for i := 0; i < 4; i++ {
		a.UpdateStep(false, ctx)
	}
	assert.InDelta(t, 1, inner.scale, 1e-12)

	// below target: shrink
	for _, acc := range []bool{true, false, false, false} {
		a.UpdateStep(acc, ctx)
	}
	assert.InDelta(t, 0.9, inner.scale, 1e-12)
	assert.Equal(t, 12, inner.updates)
}

func TestAdaptiveStepsizeLastStep(t *testing.T) {
	inner := &counting{scale: 1}
	a := NewAdaptiveStepsize(inner, AdaptiveConfig{Target: 0.5, Factor: 0.9, Frequency: 2, LastStep: 2})
	ctx := &fakeContext{}
	for i := 0; i < 10; i++ {
		a.UpdateStep(false, ctx)
	}
	assert.InDelta(t, 0.9, inner.scale, 1e-12)
}

func TestRigidBodyStep(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const nmol = 3
	x := make([]float64, 6*nmol)
	for i := 3 * nmol; i < len(x); i++ {
		x[i] = 0.3
	}
	before := append([]float64(nil), x...)

	step := NewRigidBodyStep(nmol, 0.1, 0.2, rng)
	step.TakeStep(x, &fakeContext{})

	for i := 0; i < 3*nmol; i++ {
		assert.LessOrEqual(t, math.Abs(x[i]-before[i]), 0.1)
	}
	for i := 0; i < nmol; i++ {
		p0 := rotations.AAAt(before[3*nmol:], i)
		p1 := rotations.AAAt(x[3*nmol:], i)
		rel := rotations.QMultiply(rotations.AA2Q(p1), quat.Conj(rotations.AA2Q(p0)))
		assert.LessOrEqual(t, r3.Norm(rotations.Q2AA(rel)), 0.2+1e-9)
	}

	step.Scale(0.5)
	assert.InDelta(t, 0.05, step.Translate, 1e-15)
	assert.InDelta(t, 0.1, step.Rotate, 1e-15)

	var sized Sized = step
	sized.SetSize(0.1)
	assert.InDelta(t, 0.1, sized.Size(), 1e-15)
	assert.InDelta(t, 0.2, step.Rotate, 1e-15)
}

func TestStallTracker(t *testing.T) {
	s := NewStallTracker(StallConfig{MaxNoImprove: 3, Accuracy: 0.01})

	assert.False(t, s.Update(-1))
	assert.False(t, s.Update(-1.005)) // below accuracy
	assert.False(t, s.Update(-1.5))
	assert.Equal(t, 0, s.StaleCount())
	assert.Equal(t, -1.5, s.Lowest())

	assert.False(t, s.Update(-1.5))
	assert.False(t, s.Update(-1.2))
	assert.True(t, s.Update(-1.499))

	s.Reset()
	assert.Equal(t, 0, s.StaleCount())
	assert.True(t, math.IsInf(s.Lowest(), 1))
}

func TestReseedingSwitchesAfterStall(t *testing.T) {
	normal := &counting{scale: 1}
	reseed := &counting{scale: 1}
	r := NewReseeding(normal, reseed, StallConfig{MaxNoImprove: 2, Accuracy: 1e-6})
	ctx := &fakeContext{energy: -1}
	x := []float64{0}

	// first update initializes the lowest energy, then two stale steps
	for i := 0; i < 3; i++ {
		r.TakeStep(x, ctx)
		r.UpdateStep(false, ctx)
	}
	assert.Equal(t, 3, normal.steps)
	assert.Equal(t, 0, reseed.steps)

	r.TakeStep(x, ctx)
	assert.True(t, r.Reseeded())
	assert.Equal(t, 1, reseed.steps)
	assert.Equal(t, 1, r.Count())
	r.UpdateStep(true, ctx)
	assert.Equal(t, 1, reseed.updates)

	r.TakeStep(x, ctx)
	assert.False(t, r.Reseeded())
	assert.Equal(t, 4, normal.steps)
}

func TestReseedingImprovementResetsStall(t *testing.T) {
	normal := &counting{scale: 1}
	reseed := &counting{scale: 1}
	r := NewReseeding(normal, reseed, StallConfig{MaxNoImprove: 2, Accuracy: 1e-6})
	ctx := &fakeContext{energy: -1}
	x := []float64{0}

	for i := 0; i < 10; i++ {
		ctx.trialEnergy = ctx.energy - 1
		r.TakeStep(x, ctx)
		r.UpdateStep(true, ctx)
		ctx.energy = ctx.trialEnergy
	}
	assert.Equal(t, 0, reseed.steps)
}

func TestAcceptReseeds(t *testing.T) {
	r := NewReseeding(&counting{}, &counting{}, StallConfig{MaxNoImprove: 1})
	never := mc.AcceptFunc(func(_, _ float64, _, _ []float64) bool { return false })
	test := AcceptReseeds(r, never)

	assert.False(t, test.Accept(0, 1, nil, nil))
	r.reseeded = true
	assert.True(t, test.Accept(0, 1, nil, nil))
}

func TestMCReseedMovesCoordinates(t *testing.T) {
	pot := potential.NewTrimer()
	rng := rand.New(rand.NewSource(3))
	step := NewMCReseed(pot, 10, 50, 0.3, rng)

	x := pot.Minima()[0]
	before := append([]float64(nil), x...)
	step.TakeStep(x, &fakeContext{})

	assert.NotEqual(t, before, x)
}

func TestMayflyReseedLowersEnergy(t *testing.T) {
	pot := potential.NewTrimer()
	rng := rand.New(rand.NewSource(4))
	step := NewMayflyReseed(pot, 1.0, 60, 20, rng)

	x := []float64{1.5, 0.8, -1.5}
	before := pot.Energy(x)
	step.TakeStep(x, &fakeContext{})

	require.Len(t, x, 3)
	assert.Less(t, pot.Energy(x), before)
}

func TestBasinHoppingWithAdaptiveReseeding(t *testing.T) {
	pot := potential.NewTrimer()
	rng := rand.New(rand.NewSource(5))

	displace := NewAdaptiveStepsize(NewRandomDisplacement(0.5, rng), AdaptiveConfig{Target: 0.5, Factor: 0.9, Frequency: 10})
	group := NewReseeding(displace, NewMCReseed(pot, 5, 20, 0.5, rng), StallConfig{MaxNoImprove: 15, Accuracy: 1e-4})

	cfg := mc.DefaultBasinHoppingConfig()
	cfg.PrintFrequency = 0
	cfg.AcceptTest = AcceptReseeds(group, mc.NewMetropolis(1, rng))

	e := mc.NewBasinHopping([]float64{1, 1, 1}, pot, group, cfg)
	e.Run(60)

	assert.Equal(t, 60, e.StepNum())
	assert.Greater(t, group.Count(), 0)
	assert.InDelta(t, 0, e.Energy(), 1e-3)
}
