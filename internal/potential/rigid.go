package potential

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cwbudde/landscape/internal/rotations"
)

// orientation derivatives are central differences of the rotation matrix
const aaStep = 1e-5

// RigidLJ is a cluster of identical rigid molecules whose sites interact through a
// Lennard-Jones potential. Coordinates are 3*NMol centre positions followed by 3*NMol
// angle-axis orientations. Pairs within one molecule do not contribute.
type RigidLJ struct {
	LJ    *LJ
	Sites []r3.Vec

	intra float64
}

// NewRigidLJ returns a rigid-molecule potential with the given body-frame sites
func NewRigidLJ(sites []r3.Vec) *RigidLJ {
	p := &RigidLJ{LJ: NewLJ(), Sites: append([]r3.Vec(nil), sites...)}
	p.intra = p.LJ.Energy(p.sitePositions(make([]float64, 6)))
	return p
}

// NewLJDimer returns rigid dimers with two sites one sigma apart
func NewLJDimer() *RigidLJ {
	return NewRigidLJ([]r3.Vec{{X: -0.5}, {X: 0.5}})
}

// NMol returns the number of molecules described by x
func (p *RigidLJ) NMol(x []float64) int { return len(x) / 6 }

// Energy returns the intermolecular site-site energy
func (p *RigidLJ) Energy(x []float64) float64 {
	return p.LJ.Energy(p.sitePositions(x)) - float64(p.NMol(x))*p.intra
}

// EnergyGradient returns the energy and its gradient with respect to centres and
// angle-axis vectors. Intramolecular forces are central and cancel in both parts.
func (p *RigidLJ) EnergyGradient(x []float64) (float64, []float64) {
	nmol := p.NMol(x)
	pos := p.sitePositions(x)
	e, gsite := p.LJ.EnergyGradient(pos)
	e -= float64(nmol) * p.intra

	grad := make([]float64, len(x))
	orient := x[3*nmol:]
	ns := len(p.Sites)
	for i := 0; i < nmol; i++ {
		aa := rotations.AAAt(orient, i)
		var dR [3]rotations.Matrix3
		for k := 0; k < 3; k++ {
			d := r3.Vec{}
			switch k {
			case 0:
				d.X = aaStep
			case 1:
				d.Y = aaStep
			case 2:
				d.Z = aaStep
			}
			plus := rotations.AA2MX(r3.Add(aa, d))
			minus := rotations.AA2MX(r3.Sub(aa, d))
			for a := 0; a < 3; a++ {
				for b := 0; b < 3; b++ {
					dR[k][a][b] = (plus[a][b] - minus[a][b]) / (2 * aaStep)
				}
			}
		}

		for s, site := range p.Sites {
			j := 3 * (i*ns + s)
			g := r3.Vec{X: gsite[j], Y: gsite[j+1], Z: gsite[j+2]}
			grad[3*i] += g.X
			grad[3*i+1] += g.Y
			grad[3*i+2] += g.Z
			for k := 0; k < 3; k++ {
				grad[3*nmol+3*i+k] += r3.Dot(g, dR[k].Apply(site))
			}
		}
	}
	return e, grad
}

// SitePositions returns the Cartesian site coordinates of every molecule
func (p *RigidLJ) SitePositions(x []float64) []float64 {
	return p.sitePositions(x)
}

func (p *RigidLJ) sitePositions(x []float64) []float64 {
	nmol := p.NMol(x)
	ns := len(p.Sites)
	pos := make([]float64, 3*nmol*ns)
	orient := x[3*nmol:]
	for i := 0; i < nmol; i++ {
		m := rotations.AA2MX(rotations.AAAt(orient, i))
		c := r3.Vec{X: x[3*i], Y: x[3*i+1], Z: x[3*i+2]}
		for s, site := range p.Sites {
			r := r3.Add(c, m.Apply(site))
			j := 3 * (i*ns + s)
			pos[j], pos[j+1], pos[j+2] = r.X, r.Y, r.Z
		}
	}
	return pos
}
