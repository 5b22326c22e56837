// Package system maps system names to a potential and the pieces needed to explore it.
package system

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/cwbudde/landscape/internal/potential"
	"github.com/cwbudde/landscape/internal/rotations"
	"github.com/cwbudde/landscape/internal/ts"
)

// Name identifies a system
type Name string

const (
	NameLJ      Name = "lj"
	NameTrimer  Name = "trimer"
	NameLJDimer Name = "lj-dimer"
)

// ErrUnknownSystem is returned when the name does not match a known system.
var ErrUnknownSystem = errors.New("unknown system")

// System is a potential together with its coordinate layout
type System struct {
	Name Name

	// NAtoms counts molecules for rigid-body systems
	NAtoms    int
	Potential potential.Potential

	// RigidBodies is true when coordinates are centres followed by angle-axis vectors
	RigidBodies bool

	// MaxRotation is the default rotation angle of a rigid-body step
	MaxRotation float64

	// Projector removes zero modes from eigenvector trial vectors
	Projector ts.Projector

	// Stepsize is the default random displacement
	Stepsize float64

	ndim   int
	random func(rng *rand.Rand) []float64
}

// NDim returns the length of a coordinate vector
func (s *System) NDim() int { return s.ndim }

// RandomConfiguration draws a starting configuration
func (s *System) RandomConfiguration(rng *rand.Rand) []float64 {
	return s.random(rng)
}

// Normalize maps arbitrary user input to a canonical system name.
func Normalize(name string) Name {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "lj", "lennard-jones":
		return NameLJ
	case "trimer", "toy":
		return NameTrimer
	case "lj-dimer", "dimer", "dimers":
		return NameLJDimer
	default:
		return Name(name)
	}
}

// Names returns the systems understood by New.
func Names() []Name {
	return []Name{NameLJ, NameTrimer, NameLJDimer}
}

// New constructs the named system. natoms is ignored for fixed-size systems.
func New(name string, natoms int) (*System, error) {
	switch Normalize(name) {
	case NameLJ:
		if natoms < 2 {
			return nil, fmt.Errorf("lj needs at least 2 atoms, got %d", natoms)
		}
		return newLJ(natoms), nil
	case NameTrimer:
		return newTrimer(), nil
	case NameLJDimer:
		if natoms < 2 {
			return nil, fmt.Errorf("lj-dimer needs at least 2 molecules, got %d", natoms)
		}
		return newLJDimer(natoms), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSystem, name)
	}
}

func newLJ(natoms int) *System {
	// box edge keeping the random cluster near liquid density
	box := 1.5 * math.Cbrt(float64(natoms))
	return &System{
		Name:      NameLJ,
		NAtoms:    natoms,
		Potential: potential.NewLJ(),
		Projector: ts.OrthogOpt{},
		Stepsize:  0.4,
		ndim:      3 * natoms,
		random: func(rng *rand.Rand) []float64 {
			return randomCluster(rng, natoms, box, 0.9)
		},
	}
}

// randomCluster places atoms uniformly in a cube, redrawing any atom closer than
// minDist to one already placed.
func randomCluster(rng *rand.Rand, natoms int, box, minDist float64) []float64 {
	minDist2 := minDist * minDist
	x := make([]float64, 3*natoms)
	for i := 0; i < natoms; i++ {
		for attempt := 0; ; attempt++ {
			for k := 0; k < 3; k++ {
				x[3*i+k] = (rng.Float64() - 0.5) * box
			}
			if attempt >= 1000 || !overlaps(x, i, minDist2) {
				break
			}
		}
	}
	return x
}

func overlaps(x []float64, i int, minDist2 float64) bool {
	for j := 0; j < i; j++ {
		var r2 float64
		for k := 0; k < 3; k++ {
			d := x[3*i+k] - x[3*j+k]
			r2 += d * d
		}
		if r2 < minDist2 {
			return true
		}
	}
	return false
}

func newTrimer() *System {
	return &System{
		Name:   NameTrimer,
		NAtoms: 3,
		// three 1-D coordinates, not one atom in 3-D
		Potential: potential.NewTrimer(),
		Projector: ts.NoProjection{},
		Stepsize:  0.5,
		ndim:      3,
		random: func(rng *rand.Rand) []float64 {
			x := make([]float64, 3)
			for i := range x {
				x[i] = 2*rng.Float64() - 1
			}
			return x
		},
	}
}

func newLJDimer(nmol int) *System {
	box := 2.2 * math.Cbrt(float64(nmol))
	return &System{
		Name:        NameLJDimer,
		NAtoms:      nmol,
		Potential:   potential.NewLJDimer(),
		Projector:   ts.NoProjection{},
		Stepsize:    0.4,
		RigidBodies: true,
		MaxRotation: 0.5,
		ndim:        6 * nmol,
		random: func(rng *rand.Rand) []float64 {
			x := make([]float64, 6*nmol)
			copy(x, randomCluster(rng, nmol, box, 1.5))
			for i := 0; i < nmol; i++ {
				rotations.SetAA(x[3*nmol:], i, rotations.RandomAA(rng))
			}
			return x
		},
	}
}
