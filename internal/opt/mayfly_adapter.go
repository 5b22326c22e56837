package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// Searcher is a derivative-free global search over a box [lower, upper]^dim
type Searcher interface {
	Search(eval func([]float64) float64, lower, upper float64, dim int) ([]float64, float64, error)
}

// MayflyAdapter wraps the mayfly population optimizer
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// minPopulation is the smallest population mayfly accepts
const minPopulation = 20

// NewMayfly creates a mayfly search with the given iteration budget, population size and seed
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	if popSize < minPopulation {
		popSize = minPopulation
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Search minimizes eval over [lower, upper]^dim
func (m *MayflyAdapter) Search(eval func([]float64) float64, lower, upper float64, dim int) ([]float64, float64, error) {
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower
	config.UpperBound = upper
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to run mayfly search: %w", err)
	}

	best := append([]float64(nil), result.GlobalBest.Position...)
	return best, result.GlobalBest.Cost, nil
}
