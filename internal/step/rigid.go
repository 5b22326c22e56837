package step

import (
	"math/rand"

	"github.com/cwbudde/landscape/internal/mc"
	"github.com/cwbudde/landscape/internal/rotations"
)

// RigidBodyStep moves rigid bodies whose coordinates are laid out as 3*NMol centre
// positions followed by 3*NMol angle-axis orientations.
type RigidBodyStep struct {
	NMol      int
	Translate float64
	Rotate    float64
	rng       *rand.Rand
}

// NewRigidBodyStep creates a rigid-body step with the given translation and maximum rotation angle
func NewRigidBodyStep(nmol int, translate, rotate float64, rng *rand.Rand) *RigidBodyStep {
	return &RigidBodyStep{NMol: nmol, Translate: translate, Rotate: rotate, rng: rng}
}

// TakeStep translates every centre uniformly and rotates every body by a small random rotation
func (r *RigidBodyStep) TakeStep(x []float64, _ mc.StepContext) {
	for i := 0; i < 3*r.NMol; i++ {
		x[i] += r.Translate * (2*r.rng.Float64() - 1)
	}
	orientations := x[3*r.NMol:]
	for i := 0; i < r.NMol; i++ {
		p := rotations.AAAt(orientations, i)
		rotations.SetAA(orientations, i, rotations.TakestepAA(r.rng, p, r.Rotate))
	}
}

// UpdateStep does nothing
func (r *RigidBodyStep) UpdateStep(bool, mc.StepContext) {}

// Scale multiplies both the translation and the rotation magnitude
func (r *RigidBodyStep) Scale(factor float64) {
	r.Translate *= factor
	r.Rotate *= factor
}

// Size returns the translation magnitude
func (r *RigidBodyStep) Size() float64 { return r.Translate }

// SetSize sets the translation magnitude and scales the rotation by the same ratio
func (r *RigidBodyStep) SetSize(size float64) {
	if r.Translate > 0 {
		r.Rotate *= size / r.Translate
	}
	r.Translate = size
}
